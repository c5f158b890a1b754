// Package collab runs the per-document realtime broadcast channel. Saves
// push whole snapshots; receivers overwrite local state with whatever
// arrives last. Presence and cross-instance fan-out go through Redis when
// one is configured; without it the hub is a single-process broadcaster.
package collab

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
)

var upgrader = websocket.Upgrader{
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  1 << 20,
	WriteBufferSize: 1 << 20,
}

type member struct {
	conn *websocket.Conn
	user string
	send chan Message
}

// envelope wraps messages relayed through Redis so an instance can skip its
// own publications.
type envelope struct {
	Instance string  `json:"instance"`
	Room     string  `json:"room"`
	Message  Message `json:"message"`
}

type Hub struct {
	rdb        *redis.Client
	instanceID string

	mu     sync.Mutex
	rooms  map[string]map[*member]struct{}
	cancel map[string]func()
	closed bool
}

// NewHub creates the hub. rdb may be nil; presence and fan-out then stay
// in-process.
func NewHub(rdb *redis.Client) *Hub {
	return &Hub{
		rdb:        rdb,
		instanceID: uuid.NewString(),
		rooms:      make(map[string]map[*member]struct{}),
		cancel:     make(map[string]func()),
	}
}

// HandleWS upgrades the request and joins the addressed room. The caller
// must pass either articleId or shareToken, plus a user identity.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	articleID := r.URL.Query().Get("articleId")
	shareToken := r.URL.Query().Get("shareToken")
	user := r.URL.Query().Get("user")
	if articleID == "" && shareToken == "" {
		http.Error(w, "articleId or shareToken required", http.StatusBadRequest)
		return
	}
	if user == "" {
		http.Error(w, "user required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("collab: upgrade failed: %v", err)
		return
	}

	room := RoomKey(articleID, shareToken)
	m := &member{conn: conn, user: user, send: make(chan Message, 16)}
	h.join(r.Context(), room, m)
	defer h.leave(room, m)

	go func() {
		for msg := range m.send {
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		}
	}()

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		if msg.Type != TypeContent {
			continue
		}
		msg.From = user
		h.deliver(room, msg, m)
		h.publish(r.Context(), room, msg)
	}
}

// BroadcastContent pushes a snapshot into a room on behalf of a server-side
// save (HTTP update path), so websocket peers see it the same way they see
// a peer's save.
func (h *Hub) BroadcastContent(room string, snap Snapshot, from string) {
	msg := Message{
		Type:       TypeContent,
		Title:      snap.Title,
		Content:    snap.Content,
		References: snap.References,
		From:       from,
	}
	h.deliver(room, msg, nil)
	h.publish(context.Background(), room, msg)
}

// Presence returns the identities currently in a room.
func (h *Hub) Presence(ctx context.Context, room string) []string {
	if h.rdb != nil {
		users, err := h.rdb.SMembers(ctx, "presence:"+room).Result()
		if err == nil {
			return users
		}
		log.Printf("collab: presence read failed, using local members: %v", err)
	}
	return h.localUsers(room)
}

func (h *Hub) join(ctx context.Context, room string, m *member) {
	h.mu.Lock()
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*member]struct{})
		h.rooms[room] = members
		h.subscribeLocked(room)
	}
	members[m] = struct{}{}
	h.mu.Unlock()

	if h.rdb != nil {
		if err := h.rdb.SAdd(ctx, "presence:"+room, m.user).Err(); err != nil {
			log.Printf("collab: presence add failed: %v", err)
		}
	}
	h.broadcastPresence(ctx, room)
}

func (h *Hub) leave(room string, m *member) {
	h.mu.Lock()
	if members, ok := h.rooms[room]; ok {
		if _, present := members[m]; present {
			delete(members, m)
			close(m.send)
		}
		if len(members) == 0 {
			delete(h.rooms, room)
			if cancel, ok := h.cancel[room]; ok {
				cancel()
				delete(h.cancel, room)
			}
		}
	}
	h.mu.Unlock()
	_ = m.conn.Close()

	ctx := context.Background()
	if h.rdb != nil {
		if err := h.rdb.SRem(ctx, "presence:"+room, m.user).Err(); err != nil {
			log.Printf("collab: presence remove failed: %v", err)
		}
	}
	h.broadcastPresence(ctx, room)
}

// deliver fans a message out to every local room member except the sender.
func (h *Hub) deliver(room string, msg Message, sender *member) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for m := range h.rooms[room] {
		if m == sender {
			continue
		}
		select {
		case m.send <- msg:
		default:
			// Slow consumer; drop rather than block the room.
		}
	}
}

func (h *Hub) broadcastPresence(ctx context.Context, room string) {
	msg := Message{Type: TypePresence, Users: h.Presence(ctx, room)}
	h.deliver(room, msg, nil)
	h.publish(ctx, room, msg)
}

func (h *Hub) publish(ctx context.Context, room string, msg Message) {
	if h.rdb == nil {
		return
	}
	payload, err := json.Marshal(envelope{Instance: h.instanceID, Room: room, Message: msg})
	if err != nil {
		return
	}
	if err := h.rdb.Publish(ctx, "collab:"+room, payload).Err(); err != nil {
		log.Printf("collab: publish failed: %v", err)
	}
}

// subscribeLocked bridges messages published by other instances into this
// one. Caller holds h.mu.
func (h *Hub) subscribeLocked(room string) {
	if h.rdb == nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel[room] = cancel
	sub := h.rdb.Subscribe(ctx, "collab:"+room)

	go func() {
		defer func() { _ = sub.Close() }()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-ch:
				if !ok {
					return
				}
				var env envelope
				if err := json.Unmarshal([]byte(raw.Payload), &env); err != nil {
					continue
				}
				if env.Instance == h.instanceID {
					continue
				}
				h.deliver(env.Room, env.Message, nil)
			}
		}
	}()
}

func (h *Hub) localUsers(room string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	users := make([]string, 0, len(h.rooms[room]))
	for m := range h.rooms[room] {
		users = append(users, m.user)
	}
	return users
}

// Close tears down every room. Members' connections close, which unblocks
// their read loops.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for room, members := range h.rooms {
		for m := range members {
			close(m.send)
			_ = m.conn.Close()
		}
		delete(h.rooms, room)
		if cancel, ok := h.cancel[room]; ok {
			cancel()
			delete(h.cancel, room)
		}
	}
}
