package collab

import "encoding/json"

// Message is the wire format for the per-document channel. Type "content"
// carries a full snapshot (never a diff); type "presence" carries the
// verbatim list of identities currently viewing the document.
type Message struct {
	Type       string          `json:"type"`
	Title      string          `json:"title,omitempty"`
	Content    string          `json:"content,omitempty"`
	References json.RawMessage `json:"references,omitempty"`
	Users      []string        `json:"users,omitempty"`
	From       string          `json:"from,omitempty"`
}

const (
	TypeContent  = "content"
	TypePresence = "presence"
)

// Snapshot is the full document state pushed on every save.
type Snapshot struct {
	Title      string
	Content    string
	References json.RawMessage
}

// RoomKey addresses a channel by document id, or by share token when the
// document is open anonymously through a share link.
func RoomKey(articleID, shareToken string) string {
	if articleID != "" {
		return "article:" + articleID
	}
	return "share:" + shareToken
}
