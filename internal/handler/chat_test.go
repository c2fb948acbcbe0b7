package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ephemeral_chat/internal/middleware"
	"ephemeral_chat/internal/service"
	"ephemeral_chat/internal/transport"
	"ephemeral_chat/pkg/logger"
)

func chatRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := transport.NewDegradedStore("", logger.NewNop())
	svc := service.NewChatService(transport.NewDegraded(store), "gateway", logger.NewNop())
	t.Cleanup(svc.Close)

	h := NewChatHandler(svc, logger.NewNop())
	r := gin.New()
	r.Use(middleware.Participant())
	r.GET("/rooms/:id/chat/messages", h.GetMessages)
	r.POST("/rooms/:id/chat/messages", h.SendMessage)
	r.GET("/rooms/:id/chat/handles", h.GetHandles)
	r.GET("/rooms/:id/reactions", h.GetReactions)
	r.POST("/rooms/:id/reactions", h.AddReaction)
	r.POST("/rooms/:id/chat/messages/:messageId/reactions", h.AddMessageReaction)
	return r
}

func doJSON(r *gin.Engine, method, path, body, participant string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if participant != "" {
		req.Header.Set("X-Participant-ID", participant)
	}
	r.ServeHTTP(w, req)
	return w
}

func TestSendAndGetMessages(t *testing.T) {
	r := chatRouter(t)
	viewer := uuid.New().String()

	w := doJSON(r, http.MethodPost, "/rooms/A/chat/messages", `{"text":"hello","mentions":["H2"]}`, viewer)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = doJSON(r, http.MethodGet, "/rooms/A/chat/messages", "", viewer)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Messages []messageResponse `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	// Degraded rooms open with the system notice, then our message.
	require.Len(t, resp.Messages, 2)
	last := resp.Messages[1]
	assert.Equal(t, "hello", last.Text)
	assert.True(t, last.IsOwn)
	assert.Equal(t, viewer, last.UserID)
}

func TestGetMessages_ViewerAnnotations(t *testing.T) {
	r := chatRouter(t)
	author := uuid.New().String()
	mentioned := uuid.New().String()
	stranger := uuid.New().String()

	w := doJSON(r, http.MethodPost, "/rooms/A/chat/messages", `{"text":"ping","mentions":["`+mentioned+`"]}`, author)
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(r, http.MethodGet, "/rooms/A/chat/messages", "", mentioned)
	var asMentioned struct {
		Messages []messageResponse `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &asMentioned))
	assert.True(t, asMentioned.Messages[1].MentionsMe)
	assert.False(t, asMentioned.Messages[1].IsOwn)

	w = doJSON(r, http.MethodGet, "/rooms/A/chat/messages", "", stranger)
	var asStranger struct {
		Messages []messageResponse `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &asStranger))
	assert.False(t, asStranger.Messages[1].MentionsMe)
}

func TestSendMessage_RejectsBlankText(t *testing.T) {
	r := chatRouter(t)

	w := doJSON(r, http.MethodPost, "/rooms/A/chat/messages", `{"text":"   "}`, uuid.New().String())
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReactions_RoundTrip(t *testing.T) {
	r := chatRouter(t)
	viewer := uuid.New().String()

	w := doJSON(r, http.MethodPost, "/rooms/A/reactions", `{"type":"idea"}`, viewer)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = doJSON(r, http.MethodPost, "/rooms/A/reactions", `{"type":"sparkles"}`, viewer)
	assert.Equal(t, http.StatusBadRequest, w.Code, "unknown type rejected")

	w = doJSON(r, http.MethodGet, "/rooms/A/reactions", "", viewer)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Counts map[string]int `json:"counts"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Counts["idea"])
}

func TestAddMessageReaction(t *testing.T) {
	r := chatRouter(t)
	viewer := uuid.New().String()

	// Target not required to exist locally; it may be in flight.
	w := doJSON(r, http.MethodPost, "/rooms/A/chat/messages/m-unseen/reactions", `{"type":"question"}`, viewer)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp struct {
		Reaction struct {
			MessageID string `json:"message_id"`
			UserID    string `json:"user_id"`
		} `json:"reaction"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "m-unseen", resp.Reaction.MessageID)
	assert.Equal(t, viewer, resp.Reaction.UserID)
}

func TestGetHandles(t *testing.T) {
	r := chatRouter(t)
	author := uuid.New().String()
	viewer := uuid.New().String()

	w := doJSON(r, http.MethodPost, "/rooms/A/chat/messages", `{"text":"hi","host_name":"Alice","is_from_host":true}`, author)
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(r, http.MethodGet, "/rooms/A/chat/handles", "", viewer)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Handles []string `json:"handles"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Contains(t, resp.Handles, author)
	assert.Contains(t, resp.Handles, "Alice")
	assert.Contains(t, resp.Handles, viewer)
	assert.NotContains(t, resp.Handles, "system")
}
