package middleware

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/ukschat/ukschat/internal/ratelimit"
	"gorm.io/gorm"
)

// RateLimit enforces the per-plan request limit for authenticated users.
// Limiter failures let the request through.
func RateLimit(db *gorm.DB, manager *ratelimit.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := UserID(c)
		if manager == nil || userID == 0 {
			c.Next()
			return
		}
		ctx := c.Request.Context()

		decision, errResolve := ratelimit.ResolveLimit(ctx, db, userID, manager.DefaultLimit())
		if errResolve != nil {
			log.WithError(errResolve).Warn("ratelimit: resolve limit failed")
			c.Next()
			return
		}
		key := ratelimit.KeyForDecision(userID, decision)
		if key == "" {
			c.Next()
			return
		}

		result, errAllow := manager.Allow(ctx, key, decision.Limit)
		if errAllow != nil {
			log.WithError(errAllow).Warn("ratelimit: allow failed")
			c.Next()
			return
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		if !result.Allowed {
			resetSeconds := int(math.Ceil(time.Until(result.Reset).Seconds()))
			if resetSeconds < 0 {
				resetSeconds = 0
			}
			c.Header("Retry-After", strconv.Itoa(resetSeconds))
			AbortWithError(c, http.StatusTooManyRequests, "Rate limit exceeded. Please slow down.")
			return
		}
		c.Next()
	}
}
