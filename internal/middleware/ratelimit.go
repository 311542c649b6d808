package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/cosmicwatch/neowatch/internal/cache"
	"github.com/cosmicwatch/neowatch/pkg/errors"
	"github.com/cosmicwatch/neowatch/pkg/logger"
	"github.com/cosmicwatch/neowatch/pkg/response"
)

// RateLimit limits requests per client IP within a fixed window. Every route
// behind the middleware draws from the same budget. A nil store falls back to
// a process-local counter. Store failures let the request through.
func RateLimit(store RateStore, maxRequests int, window time.Duration) gin.HandlerFunc {
	if maxRequests <= 0 || window <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	if store == nil {
		store = NewRateStore(cache.NewMemoryStore(nil))
	}
	log := logger.WithModule("ratelimit")

	return func(c *gin.Context) {
		key := "ip:" + c.ClientIP()

		count, resetIn, err := store.Increment(c.Request.Context(), key, window)
		if err != nil {
			log.Warn("rate limit store failed", zap.String("key", key), zap.Error(err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(maxRequests))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(max(0, maxRequests-count)))
		c.Header("X-RateLimit-Reset", strconv.Itoa(int(resetIn.Seconds())))

		if count > maxRequests {
			c.Header("Retry-After", strconv.Itoa(max(1, int(resetIn.Seconds()))))
			response.Error(c, errors.ErrRateLimit)
			c.Abort()
			return
		}

		c.Next()
	}
}
