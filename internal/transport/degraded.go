package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"ephemeral_chat/internal/domain"
	"ephemeral_chat/pkg/logger"
)

const shadowFileName = "chat_store.json"

// DegradedStore is the explicit in-memory backend for degraded mode.
// Construct one per process and hand it to NewDegraded; there is no
// package-level store. When a state directory is given, the tables are
// shadowed to a JSON file: read once at construction, written after
// every insert. A failing shadow write is logged once and the store
// continues volatile-only.
type DegradedStore struct {
	mu   sync.Mutex
	path string
	log  logger.Logger
	data shadowData
}

type shadowData struct {
	Messages         []domain.Message         `json:"messages"`
	Reactions        []domain.RoomReaction    `json:"reactions"`
	MessageReactions []domain.MessageReaction `json:"message_reactions"`
}

func NewDegradedStore(stateDir string, log logger.Logger) *DegradedStore {
	s := &DegradedStore{log: log}
	if stateDir == "" {
		return s
	}
	s.path = filepath.Join(stateDir, shadowFileName)
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn("degraded store shadow unreadable, starting empty", "path", s.path, "error", err)
		}
		return s
	}
	if err := json.Unmarshal(raw, &s.data); err != nil {
		log.Warn("degraded store shadow corrupt, starting empty", "path", s.path, "error", err)
		s.data = shadowData{}
	}
	return s
}

func (s *DegradedStore) persistLocked() {
	if s.path == "" {
		return
	}
	raw, err := json.Marshal(s.data)
	if err != nil {
		s.log.Error("degraded store serialization failed", "error", err)
		return
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err == nil {
		err = os.WriteFile(s.path, raw, 0o600)
	}
	if err != nil {
		s.log.Warn("degraded store is now volatile, shadow write failed", "path", s.path, "error", err)
		s.path = ""
	}
}

// DegradedAdapter serves the Adapter interface from a DegradedStore.
// There are no remote peers, so the change feed never produces events.
type DegradedAdapter struct {
	store *DegradedStore
}

func NewDegraded(store *DegradedStore) *DegradedAdapter {
	return &DegradedAdapter{store: store}
}

func (a *DegradedAdapter) Degraded() bool { return true }

func (a *DegradedAdapter) QueryMessages(_ context.Context, roomID string) ([]domain.Message, error) {
	a.store.mu.Lock()
	defer a.store.mu.Unlock()

	var out []domain.Message
	for _, m := range a.store.data.Messages {
		if m.RoomID == roomID {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (a *DegradedAdapter) QueryReactions(_ context.Context, roomID string) ([]domain.RoomReaction, error) {
	a.store.mu.Lock()
	defer a.store.mu.Unlock()

	var out []domain.RoomReaction
	for _, r := range a.store.data.Reactions {
		if r.RoomID == roomID {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (a *DegradedAdapter) QueryMessageReactions(_ context.Context, roomID string) ([]domain.MessageReaction, error) {
	a.store.mu.Lock()
	defer a.store.mu.Unlock()

	var out []domain.MessageReaction
	for _, r := range a.store.data.MessageReactions {
		if r.RoomID == roomID {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (a *DegradedAdapter) InsertMessage(_ context.Context, msg domain.Message) (domain.Message, error) {
	if msg.RoomID == "" {
		return domain.Message{}, fmt.Errorf("message insert requires a room id")
	}
	msg = confirmMessage(msg)

	a.store.mu.Lock()
	defer a.store.mu.Unlock()
	a.store.data.Messages = append(a.store.data.Messages, msg)
	a.store.persistLocked()
	return msg, nil
}

func (a *DegradedAdapter) InsertReaction(_ context.Context, reaction domain.RoomReaction) (domain.RoomReaction, error) {
	if reaction.RoomID == "" {
		return domain.RoomReaction{}, fmt.Errorf("reaction insert requires a room id")
	}
	reaction = confirmReaction(reaction)

	a.store.mu.Lock()
	defer a.store.mu.Unlock()
	a.store.data.Reactions = append(a.store.data.Reactions, reaction)
	a.store.persistLocked()
	return reaction, nil
}

func (a *DegradedAdapter) InsertMessageReaction(_ context.Context, reaction domain.MessageReaction) (domain.MessageReaction, error) {
	if reaction.RoomID == "" {
		return domain.MessageReaction{}, fmt.Errorf("message reaction insert requires a room id")
	}
	reaction = confirmMessageReaction(reaction)

	a.store.mu.Lock()
	defer a.store.mu.Unlock()
	a.store.data.MessageReactions = append(a.store.data.MessageReactions, reaction)
	a.store.persistLocked()
	return reaction, nil
}

func (a *DegradedAdapter) Subscribe(_ context.Context, _ Table, _ string, _ func(Event)) (func(), error) {
	return func() {}, nil
}
