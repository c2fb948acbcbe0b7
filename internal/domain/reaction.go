package domain

import "time"

// ReactionType is the closed set of reaction kinds.
type ReactionType string

const (
	ReactionLike     ReactionType = "like"
	ReactionIdea     ReactionType = "idea"
	ReactionQuestion ReactionType = "question"
	ReactionConfused ReactionType = "confused"
)

// Valid reports whether t is one of the known reaction types.
func (t ReactionType) Valid() bool {
	switch t {
	case ReactionLike, ReactionIdea, ReactionQuestion, ReactionConfused:
		return true
	}
	return false
}

// NormalizeReactionType maps a missing type to "like". Rows written by
// an earlier schema version carried no type at all.
func NormalizeReactionType(t ReactionType) ReactionType {
	if t == "" {
		return ReactionLike
	}
	return t
}

// RoomReaction is an anonymous room-wide sentiment signal. It carries
// no author attribution.
type RoomReaction struct {
	ID        string       `json:"id"`
	Type      ReactionType `json:"type"`
	Timestamp time.Time    `json:"timestamp"`
	RoomID    string       `json:"room_id"`
}

// MessageReaction is a participant's reaction to a single message.
// MessageID may reference a message still in flight; the engine is
// deliberately lenient about unknown targets.
type MessageReaction struct {
	ID        string       `json:"id"`
	MessageID string       `json:"message_id"`
	UserID    string       `json:"user_id"`
	RoomID    string       `json:"room_id"`
	Timestamp time.Time    `json:"timestamp"`
	Type      ReactionType `json:"type,omitempty"`
}
