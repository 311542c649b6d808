package middleware

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/cosmicwatch/neowatch/pkg/logger"
)

// Logger writes a concise structured access log for each request. Probe and
// scrape paths are logged at debug level.
func Logger(quietPrefixes ...string) gin.HandlerFunc {
	if len(quietPrefixes) == 0 {
		quietPrefixes = []string{"/health", "/metrics"}
	}

	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		status := c.Writer.Status()
		level := zapcore.InfoLevel
		switch {
		case status >= 500:
			level = zapcore.ErrorLevel
		case hasAnyPrefix(path, quietPrefixes):
			level = zapcore.DebugLevel
		}

		log := logger.WithModule("http")
		if ce := log.Check(level, "request"); ce != nil {
			ce.Write(
				zap.String("method", method),
				zap.String("path", path),
				zap.String("route", c.FullPath()),
				zap.Int("status", status),
				zap.Duration("duration", time.Since(start)),
				zap.String("client_ip", c.ClientIP()),
				zap.String("user_id", c.GetString(CtxUserIDKey)),
			)
		}
	}
}

func hasAnyPrefix(path string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}
