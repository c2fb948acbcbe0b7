package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"ephemeral_chat/internal/domain"
	"ephemeral_chat/internal/transport"
	errs "ephemeral_chat/pkg/errors"
	"ephemeral_chat/pkg/logger"
)

// EventKind classifies how a row entered a collection.
type EventKind string

const (
	KindHydrated  EventKind = "hydrated"
	KindLocal     EventKind = "local"
	KindRemote    EventKind = "remote"
	KindConfirmed EventKind = "confirmed"
)

// Event is delivered to Watch callbacks after every accepted change.
type Event struct {
	Table transport.Table `json:"table"`
	Kind  EventKind       `json:"kind"`
}

// SendOptions carries the optional attributes of an outgoing message.
type SendOptions struct {
	// Author overrides the engine's local handle; used by the gateway
	// when relaying on behalf of a remote participant.
	Author     string
	Mentions   []string
	IsFromHost bool
	HostName   string
}

// Engine reconciles optimistic local writes, confirmed writes, and the
// remote change feed into three append-only collections for a single
// room. Collections are owned exclusively by the engine; consumers get
// copied snapshots. Every collection entry has a unique id, and merges
// of already-seen ids are no-ops.
type Engine struct {
	roomID      string
	localHandle string
	tr          transport.Adapter
	log         logger.Logger

	mu               sync.Mutex
	started          bool
	closed           bool
	messages         []domain.Message
	reactions        []domain.RoomReaction
	messageReactions []domain.MessageReaction
	pending          map[string]struct{}
	unsubs           []func()
	watchers         map[int]func(Event)
	nextWatcherID    int
}

func New(roomID, localHandle string, tr transport.Adapter, log logger.Logger) *Engine {
	return &Engine{
		roomID:      roomID,
		localHandle: localHandle,
		tr:          tr,
		log:         log,
		pending:     make(map[string]struct{}),
		watchers:    make(map[int]func(Event)),
	}
}

func (e *Engine) RoomID() string      { return e.roomID }
func (e *Engine) LocalHandle() string { return e.localHandle }
func (e *Engine) Degraded() bool      { return e.tr.Degraded() }

// Start hydrates the three collections and opens the change feed
// subscriptions. In degraded mode it seeds a single non-persisted
// system message and opens nothing. A failed hydration query leaves
// that collection empty until the feed catches up; it never blocks the
// other collections or the subscriptions.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return errs.ErrEngineClosed
	}
	if e.started {
		e.mu.Unlock()
		return errs.ErrEngineStarted
	}
	e.started = true
	e.mu.Unlock()

	if e.tr.Degraded() {
		e.log.Warn("transport not configured, room runs in degraded mode", "room_id", e.roomID)
		e.mergeMessage(domain.Message{
			ID:        domain.NewProvisionalID(),
			Text:      "Chat backend is not configured. Messages are visible on this device only.",
			Timestamp: time.Now().UTC(),
			UserID:    domain.SystemAuthor,
			RoomID:    e.roomID,
		}, KindHydrated)
		return nil
	}

	if msgs, err := e.tr.QueryMessages(ctx, e.roomID); err != nil {
		e.log.Warn("message hydration failed, starting empty", "room_id", e.roomID, "error", err)
	} else {
		for _, m := range msgs {
			e.mergeMessage(m, KindHydrated)
		}
	}
	if reactions, err := e.tr.QueryReactions(ctx, e.roomID); err != nil {
		e.log.Warn("reaction hydration failed, starting empty", "room_id", e.roomID, "error", err)
	} else {
		for _, r := range reactions {
			e.mergeReaction(r, KindHydrated)
		}
	}
	if reactions, err := e.tr.QueryMessageReactions(ctx, e.roomID); err != nil {
		e.log.Warn("message reaction hydration failed, starting empty", "room_id", e.roomID, "error", err)
	} else {
		for _, r := range reactions {
			e.mergeMessageReaction(r, KindHydrated)
		}
	}

	if err := ctx.Err(); err != nil {
		e.Close()
		return fmt.Errorf("room start canceled: %w", err)
	}

	e.subscribe(ctx, transport.TableMessages)
	e.subscribe(ctx, transport.TableReactions)
	e.subscribe(ctx, transport.TableMessageReactions)
	return nil
}

// subscribe opens one feed. A subscription failure degrades freshness
// for that table only and is not fatal.
func (e *Engine) subscribe(ctx context.Context, table transport.Table) {
	unsub, err := e.tr.Subscribe(ctx, table, e.roomID, e.onFeedEvent)
	if err != nil {
		e.log.Error("feed subscription failed", "table", table, "room_id", e.roomID, "error", err)
		return
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		unsub()
		return
	}
	e.unsubs = append(e.unsubs, unsub)
	e.mu.Unlock()
}

func (e *Engine) onFeedEvent(ev transport.Event) {
	switch {
	case ev.Message != nil:
		e.mergeMessage(*ev.Message, KindRemote)
	case ev.Reaction != nil:
		e.mergeReaction(*ev.Reaction, KindRemote)
	case ev.MessageReaction != nil:
		e.mergeMessageReaction(*ev.MessageReaction, KindRemote)
	}
}

// Close releases all feed subscriptions and marks the engine dead.
// Feed events or hydration stragglers arriving afterwards are
// discarded. Safe to call more than once.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	unsubs := e.unsubs
	e.unsubs = nil
	e.watchers = nil
	e.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
}

// SendMessage appends an optimistic copy with a provisional id, then
// submits the row. The confirmed row retires the provisional entry in
// place; on failure the optimistic copy stays visible and the error is
// returned. Text must be non-empty after trimming.
func (e *Engine) SendMessage(ctx context.Context, text string, opts SendOptions) (domain.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.Message{}, errs.ErrEmptyMessage
	}
	author := opts.Author
	if author == "" {
		author = e.localHandle
	}

	msg := domain.Message{
		ID:        domain.NewProvisionalID(),
		Text:      text,
		Timestamp: time.Now().UTC(),
		UserID:    author,
		RoomID:    e.roomID,
		IsHost:    opts.IsFromHost,
		HostName:  opts.HostName,
		Mentions:  opts.Mentions,
	}
	if err := e.appendLocalMessage(msg); err != nil {
		return domain.Message{}, err
	}

	confirmed, err := e.tr.InsertMessage(ctx, msg)
	if err != nil {
		e.clearPending(msg.ID)
		e.log.Error("message send failed, keeping optimistic copy", "room_id", e.roomID, "error", err)
		return msg, fmt.Errorf("send message: %w", err)
	}
	return e.retireMessage(msg.ID, confirmed), nil
}

// AddReaction records an anonymous room-wide reaction.
func (e *Engine) AddReaction(ctx context.Context, typ domain.ReactionType) (domain.RoomReaction, error) {
	typ = domain.NormalizeReactionType(typ)
	if !typ.Valid() {
		return domain.RoomReaction{}, errs.ErrInvalidReactionType
	}

	reaction := domain.RoomReaction{
		ID:        domain.NewProvisionalID(),
		Type:      typ,
		Timestamp: time.Now().UTC(),
		RoomID:    e.roomID,
	}
	if err := e.appendLocalReaction(reaction); err != nil {
		return domain.RoomReaction{}, err
	}

	confirmed, err := e.tr.InsertReaction(ctx, reaction)
	if err != nil {
		e.clearPending(reaction.ID)
		e.log.Error("reaction send failed, keeping optimistic copy", "room_id", e.roomID, "error", err)
		return reaction, fmt.Errorf("add reaction: %w", err)
	}
	return e.retireReaction(reaction.ID, confirmed), nil
}

// AddMessageReaction records a reaction to a message. The target id is
// not required to be known locally: the referenced message may still
// be in flight on another feed. Multiple reactions per participant per
// message are permitted; uniqueness is by id only. An empty author
// defaults to the engine's local handle.
func (e *Engine) AddMessageReaction(ctx context.Context, messageID string, typ domain.ReactionType, author string) (domain.MessageReaction, error) {
	typ = domain.NormalizeReactionType(typ)
	if !typ.Valid() {
		return domain.MessageReaction{}, errs.ErrInvalidReactionType
	}
	if author == "" {
		author = e.localHandle
	}

	reaction := domain.MessageReaction{
		ID:        domain.NewProvisionalID(),
		MessageID: messageID,
		UserID:    author,
		RoomID:    e.roomID,
		Timestamp: time.Now().UTC(),
		Type:      typ,
	}
	if err := e.appendLocalMessageReaction(reaction); err != nil {
		return domain.MessageReaction{}, err
	}

	confirmed, err := e.tr.InsertMessageReaction(ctx, reaction)
	if err != nil {
		e.clearPending(reaction.ID)
		e.log.Error("message reaction send failed, keeping optimistic copy", "room_id", e.roomID, "error", err)
		return reaction, fmt.Errorf("add message reaction: %w", err)
	}
	return e.retireMessageReaction(reaction.ID, confirmed), nil
}

// Messages returns a snapshot of the message collection in
// presentation order.
func (e *Engine) Messages() []domain.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]domain.Message, len(e.messages))
	copy(out, e.messages)
	return out
}

// Reactions returns a snapshot of the room reaction collection.
func (e *Engine) Reactions() []domain.RoomReaction {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]domain.RoomReaction, len(e.reactions))
	copy(out, e.reactions)
	return out
}

// MessageReactions returns a snapshot of the message reaction
// collection.
func (e *Engine) MessageReactions() []domain.MessageReaction {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]domain.MessageReaction, len(e.messageReactions))
	copy(out, e.messageReactions)
	return out
}

// Watch registers a callback invoked after every accepted change. The
// returned disposer unregisters it.
func (e *Engine) Watch(fn func(Event)) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return func() {}
	}
	id := e.nextWatcherID
	e.nextWatcherID++
	e.watchers[id] = fn
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.watchers, id)
	}
}
