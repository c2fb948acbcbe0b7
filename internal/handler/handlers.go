package handler

import (
	"ephemeral_chat/internal/config"
	"ephemeral_chat/internal/service"
	"ephemeral_chat/pkg/logger"
)

type Handlers struct {
	Chat      *ChatHandler
	WebSocket *WebSocketHandler
	Health    *HealthHandler
}

func NewHandlers(services service.ChatService, cfg *config.Config, log logger.Logger) *Handlers {
	return &Handlers{
		Chat:      NewChatHandler(services, log),
		WebSocket: NewWebSocketHandler(services, log),
		Health:    NewHealthHandler(cfg.Mode()),
	}
}
