package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"ephemeral_chat/pkg/logger"
)

// RateLimitMiddleware throttles write endpoints per client IP using a
// redis counter with a rolling window. Without a redis client it is a
// no-op; degraded and postgres deployments keep working unthrottled.
type RateLimitMiddleware struct {
	rdb    *redis.Client
	limit  int
	window time.Duration
	log    logger.Logger
}

func NewRateLimitMiddleware(rdb *redis.Client, limit int, window time.Duration, log logger.Logger) *RateLimitMiddleware {
	return &RateLimitMiddleware{rdb: rdb, limit: limit, window: window, log: log}
}

func (m *RateLimitMiddleware) Limit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m.rdb == nil {
			c.Next()
			return
		}

		key := "chat:ratelimit:" + c.ClientIP()
		count, err := m.rdb.Incr(c.Request.Context(), key).Result()
		if err != nil {
			// Throttling is best-effort; never block chat on a redis
			// hiccup.
			m.log.Warn("rate limit check failed", "error", err)
			c.Next()
			return
		}
		if count == 1 {
			if err := m.rdb.Expire(c.Request.Context(), key, m.window).Err(); err != nil {
				m.log.Warn("rate limit window not set", "error", err)
			}
		}

		if count > int64(m.limit) {
			c.Header("X-RateLimit-Limit", strconv.Itoa(m.limit))
			c.Header("X-RateLimit-Remaining", "0")
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			c.Abort()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(m.limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(m.limit-int(count)))
		c.Next()
	}
}
