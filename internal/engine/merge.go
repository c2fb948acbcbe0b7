package engine

import (
	"ephemeral_chat/internal/domain"
	"ephemeral_chat/internal/transport"
	errs "ephemeral_chat/pkg/errors"
)

// mergeMessage applies the merge algorithm: an id already present is
// an idempotent no-op, anything else appends. Collections are never
// re-sorted; hydration delivered rows in timestamp order and feed
// events arrive causally after hydration.
func (e *Engine) mergeMessage(m domain.Message, kind EventKind) bool {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return false
	}
	for _, existing := range e.messages {
		if existing.ID == m.ID {
			e.mu.Unlock()
			return false
		}
	}
	m.IsOwn = m.OwnedBy(e.localHandle)
	e.messages = append(e.messages, m)
	watchers := e.watchersLocked()
	e.mu.Unlock()

	e.notify(watchers, Event{Table: transport.TableMessages, Kind: kind})
	return true
}

func (e *Engine) mergeReaction(r domain.RoomReaction, kind EventKind) bool {
	r.Type = domain.NormalizeReactionType(r.Type)

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return false
	}
	for _, existing := range e.reactions {
		if existing.ID == r.ID {
			e.mu.Unlock()
			return false
		}
	}
	e.reactions = append(e.reactions, r)
	watchers := e.watchersLocked()
	e.mu.Unlock()

	e.notify(watchers, Event{Table: transport.TableReactions, Kind: kind})
	return true
}

// mergeMessageReaction never checks that the target message exists;
// cross-table ordering is not guaranteed and the message may arrive
// after its reaction.
func (e *Engine) mergeMessageReaction(r domain.MessageReaction, kind EventKind) bool {
	r.Type = domain.NormalizeReactionType(r.Type)

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return false
	}
	for _, existing := range e.messageReactions {
		if existing.ID == r.ID {
			e.mu.Unlock()
			return false
		}
	}
	e.messageReactions = append(e.messageReactions, r)
	watchers := e.watchersLocked()
	e.mu.Unlock()

	e.notify(watchers, Event{Table: transport.TableMessageReactions, Kind: kind})
	return true
}

func (e *Engine) appendLocalMessage(m domain.Message) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return errs.ErrEngineClosed
	}
	m.IsOwn = m.OwnedBy(e.localHandle)
	e.messages = append(e.messages, m)
	e.pending[m.ID] = struct{}{}
	watchers := e.watchersLocked()
	e.mu.Unlock()

	e.notify(watchers, Event{Table: transport.TableMessages, Kind: KindLocal})
	return nil
}

func (e *Engine) appendLocalReaction(r domain.RoomReaction) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return errs.ErrEngineClosed
	}
	e.reactions = append(e.reactions, r)
	e.pending[r.ID] = struct{}{}
	watchers := e.watchersLocked()
	e.mu.Unlock()

	e.notify(watchers, Event{Table: transport.TableReactions, Kind: KindLocal})
	return nil
}

func (e *Engine) appendLocalMessageReaction(r domain.MessageReaction) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return errs.ErrEngineClosed
	}
	e.messageReactions = append(e.messageReactions, r)
	e.pending[r.ID] = struct{}{}
	watchers := e.watchersLocked()
	e.mu.Unlock()

	e.notify(watchers, Event{Table: transport.TableMessageReactions, Kind: KindLocal})
	return nil
}

// retireMessage swaps a pending provisional entry for its confirmed
// row, preserving its position. The provisional id is gone afterwards,
// so a feed echo of the confirmed id deduplicates normally.
func (e *Engine) retireMessage(provisionalID string, confirmed domain.Message) domain.Message {
	confirmed.IsOwn = confirmed.OwnedBy(e.localHandle)

	e.mu.Lock()
	delete(e.pending, provisionalID)
	if e.closed {
		e.mu.Unlock()
		return confirmed
	}
	for i := range e.messages {
		if e.messages[i].ID == provisionalID {
			e.messages[i] = confirmed
			watchers := e.watchersLocked()
			e.mu.Unlock()
			e.notify(watchers, Event{Table: transport.TableMessages, Kind: KindConfirmed})
			return confirmed
		}
	}
	e.mu.Unlock()

	// Provisional entry not found (already retired or replaced);
	// normal merge keeps the confirmed row from being lost.
	e.mergeMessage(confirmed, KindConfirmed)
	return confirmed
}

func (e *Engine) retireReaction(provisionalID string, confirmed domain.RoomReaction) domain.RoomReaction {
	e.mu.Lock()
	delete(e.pending, provisionalID)
	if e.closed {
		e.mu.Unlock()
		return confirmed
	}
	for i := range e.reactions {
		if e.reactions[i].ID == provisionalID {
			e.reactions[i] = confirmed
			watchers := e.watchersLocked()
			e.mu.Unlock()
			e.notify(watchers, Event{Table: transport.TableReactions, Kind: KindConfirmed})
			return confirmed
		}
	}
	e.mu.Unlock()

	e.mergeReaction(confirmed, KindConfirmed)
	return confirmed
}

func (e *Engine) retireMessageReaction(provisionalID string, confirmed domain.MessageReaction) domain.MessageReaction {
	e.mu.Lock()
	delete(e.pending, provisionalID)
	if e.closed {
		e.mu.Unlock()
		return confirmed
	}
	for i := range e.messageReactions {
		if e.messageReactions[i].ID == provisionalID {
			e.messageReactions[i] = confirmed
			watchers := e.watchersLocked()
			e.mu.Unlock()
			e.notify(watchers, Event{Table: transport.TableMessageReactions, Kind: KindConfirmed})
			return confirmed
		}
	}
	e.mu.Unlock()

	e.mergeMessageReaction(confirmed, KindConfirmed)
	return confirmed
}

func (e *Engine) clearPending(id string) {
	e.mu.Lock()
	delete(e.pending, id)
	e.mu.Unlock()
}

// PendingCount reports how many optimistic writes still await
// confirmation.
func (e *Engine) PendingCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

func (e *Engine) watchersLocked() []func(Event) {
	if len(e.watchers) == 0 {
		return nil
	}
	out := make([]func(Event), 0, len(e.watchers))
	for _, fn := range e.watchers {
		out = append(out, fn)
	}
	return out
}

func (e *Engine) notify(watchers []func(Event), ev Event) {
	for _, fn := range watchers {
		fn(ev)
	}
}
