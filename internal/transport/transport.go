package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"ephemeral_chat/internal/domain"
)

// Table names one of the three room-scoped collections. The names are
// the wire-level table identifiers.
type Table string

const (
	TableMessages         Table = "messages"
	TableReactions        Table = "reactions"
	TableMessageReactions Table = "message_reactions"
)

// Event is one newly inserted row observed on a change feed. Exactly
// one row field is non-nil, matching Table. The protocol carries no
// update or delete events.
type Event struct {
	Table           Table
	Message         *domain.Message
	Reaction        *domain.RoomReaction
	MessageReaction *domain.MessageReaction
}

// Adapter is the uniform surface over the backing store. Queries
// return rows for one room ordered by timestamp ascending. Inserts
// assign id and timestamp when absent and return the confirmed row
// synchronously. Subscribe delivers remote-origin inserts only; rows
// written through the same adapter instance are not echoed back. The
// returned disposer must be invoked exactly once.
type Adapter interface {
	Degraded() bool

	QueryMessages(ctx context.Context, roomID string) ([]domain.Message, error)
	QueryReactions(ctx context.Context, roomID string) ([]domain.RoomReaction, error)
	QueryMessageReactions(ctx context.Context, roomID string) ([]domain.MessageReaction, error)

	InsertMessage(ctx context.Context, msg domain.Message) (domain.Message, error)
	InsertReaction(ctx context.Context, reaction domain.RoomReaction) (domain.RoomReaction, error)
	InsertMessageReaction(ctx context.Context, reaction domain.MessageReaction) (domain.MessageReaction, error)

	Subscribe(ctx context.Context, table Table, roomID string, onInsert func(Event)) (func(), error)
}

// envelope wraps a row for the change feed. Origin is the writing
// adapter's instance id, used for echo suppression.
type envelope struct {
	Origin string          `json:"origin"`
	RoomID string          `json:"room_id"`
	Row    json.RawMessage `json:"row"`
}

func newClientID() string {
	return uuid.New().String()
}

// confirmMessage fills in the authoritative id and timestamp for a row
// about to be written. Provisional ids never reach the store.
func confirmMessage(m domain.Message) domain.Message {
	if m.ID == "" || domain.IsProvisionalID(m.ID) {
		m.ID = uuid.New().String()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}
	return m
}

func confirmReaction(r domain.RoomReaction) domain.RoomReaction {
	if r.ID == "" || domain.IsProvisionalID(r.ID) {
		r.ID = uuid.New().String()
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now().UTC()
	}
	r.Type = domain.NormalizeReactionType(r.Type)
	return r
}

func confirmMessageReaction(r domain.MessageReaction) domain.MessageReaction {
	if r.ID == "" || domain.IsProvisionalID(r.ID) {
		r.ID = uuid.New().String()
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now().UTC()
	}
	r.Type = domain.NormalizeReactionType(r.Type)
	return r
}

// decodeRow validates a raw feed row into its typed form. Untyped rows
// never cross into the engine.
func decodeRow(table Table, raw []byte) (Event, error) {
	switch table {
	case TableMessages:
		var m domain.Message
		if err := json.Unmarshal(raw, &m); err != nil {
			return Event{}, fmt.Errorf("decode message row: %w", err)
		}
		if m.ID == "" {
			return Event{}, fmt.Errorf("message row missing id")
		}
		return Event{Table: table, Message: &m}, nil
	case TableReactions:
		var r domain.RoomReaction
		if err := json.Unmarshal(raw, &r); err != nil {
			return Event{}, fmt.Errorf("decode reaction row: %w", err)
		}
		if r.ID == "" {
			return Event{}, fmt.Errorf("reaction row missing id")
		}
		r.Type = domain.NormalizeReactionType(r.Type)
		if !r.Type.Valid() {
			return Event{}, fmt.Errorf("reaction row has unknown type %q", r.Type)
		}
		return Event{Table: table, Reaction: &r}, nil
	case TableMessageReactions:
		var r domain.MessageReaction
		if err := json.Unmarshal(raw, &r); err != nil {
			return Event{}, fmt.Errorf("decode message reaction row: %w", err)
		}
		if r.ID == "" {
			return Event{}, fmt.Errorf("message reaction row missing id")
		}
		r.Type = domain.NormalizeReactionType(r.Type)
		if !r.Type.Valid() {
			return Event{}, fmt.Errorf("message reaction row has unknown type %q", r.Type)
		}
		return Event{Table: table, MessageReaction: &r}, nil
	}
	return Event{}, fmt.Errorf("unknown table %q", table)
}
