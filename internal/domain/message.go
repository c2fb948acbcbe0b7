package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// ProvisionalIDPrefix marks ids synthesized locally before the backing
// store has confirmed the row.
const ProvisionalIDPrefix = "local-"

// SystemAuthor is the reserved handle for engine-generated messages.
const SystemAuthor = "system"

// Message is a chat message as exchanged with the transport. IsOwn is
// derived by the engine from the local participant handle and never
// crosses the wire.
type Message struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	UserID    string    `json:"user_id"`
	RoomID    string    `json:"room_id"`
	IsHost    bool      `json:"is_host,omitempty"`
	HostName  string    `json:"host_name,omitempty"`
	Mentions  []string  `json:"mentions,omitempty"`

	IsOwn bool `json:"-"`
}

// OwnedBy reports whether the message was authored by the given handle.
func (m Message) OwnedBy(handle string) bool {
	return handle != "" && m.UserID == handle
}

// NewProvisionalID returns a fresh unconfirmed message/reaction id.
func NewProvisionalID() string {
	return ProvisionalIDPrefix + uuid.New().String()
}

// IsProvisionalID reports whether id was synthesized locally.
func IsProvisionalID(id string) bool {
	return strings.HasPrefix(id, ProvisionalIDPrefix)
}
