package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/storychain-backend/internal/logger"
)

// TriggerMiddleware guards the internal sweep endpoints, which are hit by
// the cron runner rather than end users.
type TriggerMiddleware struct {
	log    *logger.Logger
	secret string
}

func NewTriggerMiddleware(log *logger.Logger, secret string) *TriggerMiddleware {
	return &TriggerMiddleware{
		log:    log.With("middleware", "TriggerMiddleware"),
		secret: secret,
	}
}

func (tm *TriggerMiddleware) RequireTriggerSecret() gin.HandlerFunc {
	return func(c *gin.Context) {
		if tm.secret == "" {
			tm.log.Warn("TRIGGER_SECRET not configured, rejecting sweep request")
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "sweeps are not configured"})
			return
		}
		provided := c.GetHeader("X-Trigger-Secret")
		if subtle.ConstantTimeCompare([]byte(provided), []byte(tm.secret)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid trigger secret"})
			return
		}
		c.Next()
	}
}
