package service

import (
	"context"
	"fmt"
	"sync"

	"ephemeral_chat/internal/domain"
	"ephemeral_chat/internal/engine"
	"ephemeral_chat/internal/transport"
	errs "ephemeral_chat/pkg/errors"
	"ephemeral_chat/pkg/logger"
)

// ChatService keeps at most one running room engine per room id and
// routes writes to it. Engines hydrate lazily on first access and are
// torn down through CloseRoom/Close, so no two live subscriptions for
// the same table and room ever coexist.
type ChatService interface {
	Room(ctx context.Context, roomID string) (*engine.Engine, error)
	Send(ctx context.Context, roomID, author, text string, opts engine.SendOptions) (domain.Message, error)
	React(ctx context.Context, roomID string, typ domain.ReactionType) (domain.RoomReaction, error)
	ReactToMessage(ctx context.Context, roomID, messageID, author string, typ domain.ReactionType) (domain.MessageReaction, error)
	CloseRoom(roomID string)
	Close()
}

type chatService struct {
	tr          transport.Adapter
	localHandle string
	log         logger.Logger

	mu     sync.Mutex
	rooms  map[string]*engine.Engine
	closed bool
}

func NewChatService(tr transport.Adapter, localHandle string, log logger.Logger) ChatService {
	return &chatService{
		tr:          tr,
		localHandle: localHandle,
		log:         log,
		rooms:       make(map[string]*engine.Engine),
	}
}

func (s *chatService) Room(ctx context.Context, roomID string) (*engine.Engine, error) {
	if roomID == "" {
		return nil, errs.ErrRoomNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errs.ErrServiceClosed
	}
	if e, ok := s.rooms[roomID]; ok {
		return e, nil
	}

	e := engine.New(roomID, s.localHandle, s.tr, s.log)
	if err := e.Start(ctx); err != nil {
		e.Close()
		return nil, fmt.Errorf("start room %s: %w", roomID, err)
	}
	s.rooms[roomID] = e
	s.log.Info("room engine started", "room_id", roomID, "degraded", e.Degraded())
	return e, nil
}

func (s *chatService) Send(ctx context.Context, roomID, author, text string, opts engine.SendOptions) (domain.Message, error) {
	e, err := s.Room(ctx, roomID)
	if err != nil {
		return domain.Message{}, err
	}
	opts.Author = author
	return e.SendMessage(ctx, text, opts)
}

func (s *chatService) React(ctx context.Context, roomID string, typ domain.ReactionType) (domain.RoomReaction, error) {
	e, err := s.Room(ctx, roomID)
	if err != nil {
		return domain.RoomReaction{}, err
	}
	return e.AddReaction(ctx, typ)
}

func (s *chatService) ReactToMessage(ctx context.Context, roomID, messageID, author string, typ domain.ReactionType) (domain.MessageReaction, error) {
	e, err := s.Room(ctx, roomID)
	if err != nil {
		return domain.MessageReaction{}, err
	}
	return e.AddMessageReaction(ctx, messageID, typ, author)
}

// CloseRoom releases the room's engine. The next access starts a
// fresh one.
func (s *chatService) CloseRoom(roomID string) {
	s.mu.Lock()
	e, ok := s.rooms[roomID]
	delete(s.rooms, roomID)
	s.mu.Unlock()

	if ok {
		e.Close()
		s.log.Info("room engine closed", "room_id", roomID)
	}
}

// Close tears down every engine. The service refuses further work.
func (s *chatService) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	rooms := s.rooms
	s.rooms = nil
	s.mu.Unlock()

	for _, e := range rooms {
		e.Close()
	}
}
