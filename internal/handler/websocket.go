package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"ephemeral_chat/internal/domain"
	"ephemeral_chat/internal/engine"
	"ephemeral_chat/internal/middleware"
	"ephemeral_chat/internal/service"
	"ephemeral_chat/pkg/logger"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // TODO: restrict origins once the frontend host is pinned down
	},
}

type WebSocketHandler struct {
	chatService service.ChatService
	log         logger.Logger
}

func NewWebSocketHandler(chatService service.ChatService, log logger.Logger) *WebSocketHandler {
	return &WebSocketHandler{chatService: chatService, log: log}
}

type wsFrame struct {
	Type             string                   `json:"type"` // snapshot | event
	Messages         []messageResponse        `json:"messages,omitempty"`
	Reactions        []domain.RoomReaction    `json:"reactions,omitempty"`
	MessageReactions []domain.MessageReaction `json:"message_reactions,omitempty"`
	Event            *engine.Event            `json:"event,omitempty"`
}

// HandleChat streams the room's engine events to one client: a full
// snapshot on connect, then one event frame per accepted merge. The
// client re-reads the REST collections on events it cares about.
func (h *WebSocketHandler) HandleChat(c *gin.Context) {
	roomID := c.Param("id")
	viewer := c.GetString(middleware.ContextParticipantKey)

	e, err := h.chatService.Room(c.Request.Context(), roomID)
	if err != nil {
		h.log.Error("websocket room load failed", "room_id", roomID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "room unavailable"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error("websocket upgrade failed", "room_id", roomID, "error", err)
		return
	}
	defer conn.Close()

	// A slow consumer loses event frames, never state: the snapshot
	// endpoints stay authoritative.
	events := make(chan engine.Event, 64)
	unwatch := e.Watch(func(ev engine.Event) {
		select {
		case events <- ev:
		default:
			h.log.Warn("websocket event dropped, slow consumer", "room_id", roomID)
		}
	})
	defer unwatch()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	messages := e.Messages()
	snapshot := wsFrame{
		Type:             "snapshot",
		Messages:         make([]messageResponse, 0, len(messages)),
		Reactions:        e.Reactions(),
		MessageReactions: e.MessageReactions(),
	}
	for _, m := range messages {
		snapshot.Messages = append(snapshot.Messages, toMessageResponse(m, viewer))
	}
	if err := conn.WriteJSON(snapshot); err != nil {
		h.log.Error("websocket snapshot write failed", "room_id", roomID, "error", err)
		return
	}

	for {
		select {
		case <-done:
			return
		case ev := <-events:
			if err := conn.WriteJSON(wsFrame{Type: "event", Event: &ev}); err != nil {
				h.log.Error("websocket event write failed", "room_id", roomID, "error", err)
				return
			}
		}
	}
}
