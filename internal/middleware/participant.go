package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ContextParticipantKey is where the participant handle lives in the
// gin context.
const ContextParticipantKey = "participant_id"

// participantHeader carries the opaque participant handle allocated by
// the client's identity provider. Invalid or missing values get a
// fresh handle, echoed back so the client can persist it.
const participantHeader = "X-Participant-ID"

func Participant() gin.HandlerFunc {
	return func(c *gin.Context) {
		participantID := c.GetHeader(participantHeader)

		if participantID != "" {
			if _, err := uuid.Parse(participantID); err != nil {
				participantID = ""
			}
		}
		if participantID == "" {
			participantID = uuid.New().String()
		}

		c.Set(ContextParticipantKey, participantID)
		c.Header(participantHeader, participantID)
		c.Next()
	}
}
