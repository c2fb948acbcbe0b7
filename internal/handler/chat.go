package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"ephemeral_chat/internal/domain"
	"ephemeral_chat/internal/engine"
	"ephemeral_chat/internal/mention"
	"ephemeral_chat/internal/middleware"
	"ephemeral_chat/internal/service"
	errs "ephemeral_chat/pkg/errors"
	"ephemeral_chat/pkg/logger"
)

type ChatHandler struct {
	chatService service.ChatService
	log         logger.Logger
}

func NewChatHandler(chatService service.ChatService, log logger.Logger) *ChatHandler {
	return &ChatHandler{chatService: chatService, log: log}
}

type messageResponse struct {
	ID         string    `json:"id"`
	Text       string    `json:"text"`
	Timestamp  time.Time `json:"timestamp"`
	UserID     string    `json:"user_id"`
	RoomID     string    `json:"room_id"`
	IsHost     bool      `json:"is_host,omitempty"`
	HostName   string    `json:"host_name,omitempty"`
	Mentions   []string  `json:"mentions,omitempty"`
	IsOwn      bool      `json:"is_own"`
	MentionsMe bool      `json:"mentions_me"`
	Pending    bool      `json:"pending,omitempty"`
}

func toMessageResponse(m domain.Message, viewer string) messageResponse {
	return messageResponse{
		ID:         m.ID,
		Text:       m.Text,
		Timestamp:  m.Timestamp,
		UserID:     m.UserID,
		RoomID:     m.RoomID,
		IsHost:     m.IsHost,
		HostName:   m.HostName,
		Mentions:   m.Mentions,
		IsOwn:      m.OwnedBy(viewer),
		MentionsMe: mention.AddressedTo(m, viewer),
		Pending:    domain.IsProvisionalID(m.ID),
	}
}

type sendMessageRequest struct {
	Text       string   `json:"text" binding:"required"`
	Mentions   []string `json:"mentions"`
	IsFromHost bool     `json:"is_from_host"`
	HostName   string   `json:"host_name"`
}

type reactionRequest struct {
	Type domain.ReactionType `json:"type" binding:"required"`
}

// GetMessages returns the room's message collection in presentation
// order, annotated for the requesting viewer.
func (h *ChatHandler) GetMessages(c *gin.Context) {
	roomID := c.Param("id")
	viewer := c.GetString(middleware.ContextParticipantKey)

	e, err := h.chatService.Room(c.Request.Context(), roomID)
	if err != nil {
		h.fail(c, "load room", err)
		return
	}

	messages := e.Messages()
	out := make([]messageResponse, 0, len(messages))
	for _, m := range messages {
		out = append(out, toMessageResponse(m, viewer))
	}
	c.JSON(http.StatusOK, gin.H{"messages": out})
}

// GetHandles returns the addressable handles for mention autocomplete.
func (h *ChatHandler) GetHandles(c *gin.Context) {
	roomID := c.Param("id")
	viewer := c.GetString(middleware.ContextParticipantKey)

	e, err := h.chatService.Room(c.Request.Context(), roomID)
	if err != nil {
		h.fail(c, "load room", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"handles": mention.Handles(e.Messages(), viewer)})
}

func (h *ChatHandler) SendMessage(c *gin.Context) {
	roomID := c.Param("id")
	viewer := c.GetString(middleware.ContextParticipantKey)

	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": errs.ErrEmptyMessage.Error()})
		return
	}

	opts := engine.SendOptions{
		Mentions:   req.Mentions,
		IsFromHost: req.IsFromHost,
		HostName:   req.HostName,
	}
	msg, err := h.chatService.Send(c.Request.Context(), roomID, viewer, req.Text, opts)
	if err != nil {
		// The optimistic copy is already in the collection; report
		// the failed confirmation but hand the caller its message.
		h.log.Error("send failed", "room_id", roomID, "error", err)
		c.JSON(http.StatusAccepted, gin.H{"message": toMessageResponse(msg, viewer), "warning": "delivery unconfirmed"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": toMessageResponse(msg, viewer)})
}

func (h *ChatHandler) GetReactions(c *gin.Context) {
	roomID := c.Param("id")

	e, err := h.chatService.Room(c.Request.Context(), roomID)
	if err != nil {
		h.fail(c, "load room", err)
		return
	}

	reactions := e.Reactions()
	counts := make(map[domain.ReactionType]int)
	for _, r := range reactions {
		counts[r.Type]++
	}
	c.JSON(http.StatusOK, gin.H{"reactions": reactions, "counts": counts})
}

func (h *ChatHandler) AddReaction(c *gin.Context) {
	roomID := c.Param("id")

	var req reactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	reaction, err := h.chatService.React(c.Request.Context(), roomID, req.Type)
	if err != nil {
		h.fail(c, "add reaction", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"reaction": reaction})
}

func (h *ChatHandler) GetMessageReactions(c *gin.Context) {
	roomID := c.Param("id")

	e, err := h.chatService.Room(c.Request.Context(), roomID)
	if err != nil {
		h.fail(c, "load room", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message_reactions": e.MessageReactions()})
}

func (h *ChatHandler) AddMessageReaction(c *gin.Context) {
	roomID := c.Param("id")
	messageID := c.Param("messageId")
	viewer := c.GetString(middleware.ContextParticipantKey)

	var req reactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	reaction, err := h.chatService.ReactToMessage(c.Request.Context(), roomID, messageID, viewer, req.Type)
	if err != nil {
		h.fail(c, "add message reaction", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"reaction": reaction})
}

func (h *ChatHandler) fail(c *gin.Context, op string, err error) {
	h.log.Error(op+" failed", "room_id", c.Param("id"), "error", err)
	c.JSON(errs.HTTPStatusFromError(err), gin.H{"error": err.Error()})
}
