package middleware

import (
	"math"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/charlesng35/sectionlock/pkg/errors"
	"github.com/charlesng35/sectionlock/pkg/logger"
	"github.com/charlesng35/sectionlock/pkg/metrics"
	"github.com/charlesng35/sectionlock/pkg/response"
)

// RateLimit caps requests per (scope, client IP, route) within a fixed window.
// A non-positive maxRequests or window disables the limit. When the store fails
// the request is let through.
func RateLimit(store RateStore, scope string, maxRequests int, window time.Duration) gin.HandlerFunc {
	if store == nil || maxRequests <= 0 || window <= 0 {
		return func(c *gin.Context) { c.Next() }
	}

	log := logger.WithModule("ratelimit")

	return func(c *gin.Context) {
		key := scope + "|" + c.ClientIP() + "|" + c.FullPath()

		count, ttl, err := store.Increment(c.Request.Context(), key, window)
		if err != nil {
			log.Warn("rate limit store unavailable", zap.String("scope", scope), zap.Error(err))
			c.Next()
			return
		}

		resetIn := strconv.Itoa(int(math.Ceil(ttl.Seconds())))
		c.Header("X-RateLimit-Limit", strconv.Itoa(maxRequests))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(max(0, maxRequests-count)))
		c.Header("X-RateLimit-Reset", resetIn)

		if count > maxRequests {
			metrics.RateLimited.WithLabelValues(scope).Inc()
			c.Header("Retry-After", resetIn)
			response.Error(c, errors.ErrRateLimit)
			c.Abort()
			return
		}

		c.Next()
	}
}
