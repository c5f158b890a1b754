package collab

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
)

func dialRoom(t *testing.T, server *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "?" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s failed: %v", query, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	return msg
}

// readUntil skips messages until one of the wanted type arrives.
func readUntil(t *testing.T, conn *websocket.Conn, msgType string) Message {
	t.Helper()
	for i := 0; i < 10; i++ {
		msg := readMessage(t, conn)
		if msg.Type == msgType {
			return msg
		}
	}
	t.Fatalf("no %s message received", msgType)
	return Message{}
}

func TestRoomKey(t *testing.T) {
	if got := RoomKey("art1", ""); got != "article:art1" {
		t.Errorf("RoomKey = %q", got)
	}
	if got := RoomKey("", "tok1"); got != "share:tok1" {
		t.Errorf("RoomKey = %q", got)
	}
	// The id wins when both are present.
	if got := RoomKey("art1", "tok1"); got != "article:art1" {
		t.Errorf("RoomKey = %q", got)
	}
}

func TestHandleWSRejectsMissingParams(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Close()
	server := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer server.Close()

	for _, query := range []string{"user=an", "articleId=art1"} {
		url := "ws" + strings.TrimPrefix(server.URL, "http") + "?" + query
		_, resp, err := websocket.DefaultDialer.Dial(url, nil)
		if err == nil {
			t.Errorf("dial with %q should fail", query)
			continue
		}
		if resp == nil || resp.StatusCode != 400 {
			t.Errorf("query %q: expected 400, got %+v", query, resp)
		}
	}
}

func TestContentFanOutToOtherMembers(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Close()
	server := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer server.Close()

	an := dialRoom(t, server, "articleId=art1&user=an")
	readUntil(t, an, TypePresence)

	binh := dialRoom(t, server, "articleId=art1&user=binh")
	readUntil(t, binh, TypePresence)

	err := binh.WriteJSON(Message{
		Type:       TypeContent,
		Title:      "Shared doc",
		Content:    "<p>binh's words</p>",
		References: json.RawMessage("[]"),
	})
	if err != nil {
		t.Fatalf("write failed: %v", err)
	}

	msg := readUntil(t, an, TypeContent)
	if msg.Content != "<p>binh's words</p>" {
		t.Errorf("content = %q", msg.Content)
	}
	if msg.From != "binh" {
		t.Errorf("from = %q, want binh (server stamps the sender)", msg.From)
	}
}

func TestSenderDoesNotEchoOwnContent(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Close()
	server := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer server.Close()

	an := dialRoom(t, server, "articleId=art1&user=an")
	readUntil(t, an, TypePresence)

	if err := an.WriteJSON(Message{Type: TypeContent, Content: "<p>mine</p>"}); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	_ = an.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	var msg Message
	for {
		if err := an.ReadJSON(&msg); err != nil {
			return // timed out without an echo
		}
		if msg.Type == TypeContent {
			t.Fatal("sender received its own content message")
		}
	}
}

func TestRoomsAreIsolated(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Close()
	server := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer server.Close()

	an := dialRoom(t, server, "articleId=art1&user=an")
	readUntil(t, an, TypePresence)
	other := dialRoom(t, server, "articleId=art2&user=chi")
	readUntil(t, other, TypePresence)

	if err := other.WriteJSON(Message{Type: TypeContent, Content: "<p>other room</p>"}); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	_ = an.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	var msg Message
	for {
		if err := an.ReadJSON(&msg); err != nil {
			return
		}
		if msg.Type == TypeContent {
			t.Fatal("content crossed rooms")
		}
	}
}

func TestBroadcastContentReachesMembers(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Close()
	server := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer server.Close()

	an := dialRoom(t, server, "shareToken=tok1&user=an")
	readUntil(t, an, TypePresence)

	hub.BroadcastContent("share:tok1", Snapshot{
		Title:   "Saved",
		Content: "<p>server save</p>",
	}, "binh")

	msg := readUntil(t, an, TypeContent)
	if msg.Content != "<p>server save</p>" || msg.From != "binh" {
		t.Errorf("msg = %+v", msg)
	}
}

func TestPresenceThroughRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	hub := NewHub(rdb)
	defer hub.Close()
	server := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer server.Close()

	an := dialRoom(t, server, "articleId=art1&user=an")
	presence := readUntil(t, an, TypePresence)
	if len(presence.Users) != 1 || presence.Users[0] != "an" {
		t.Errorf("presence = %v, want [an]", presence.Users)
	}

	binh := dialRoom(t, server, "articleId=art1&user=binh")
	readUntil(t, binh, TypePresence)

	// The presence set lives in Redis, visible to any instance.
	members, err := mr.SMembers("presence:article:art1")
	if err != nil {
		t.Fatalf("SMembers failed: %v", err)
	}
	if len(members) != 2 {
		t.Errorf("members = %v, want an and binh", members)
	}

	_ = binh.Close()
	deadline := time.Now().Add(2 * time.Second)
	for {
		members, _ = mr.SMembers("presence:article:art1")
		if len(members) == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("presence not cleared on leave: %v", members)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
