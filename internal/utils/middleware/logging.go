package middleware

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/todoflow/server/internal/shared/logger"
	"github.com/todoflow/server/internal/utils/requestctx"
)

// Logging writes one access log line per request. 5xx responses log at
// error and 4xx at warn. Handlers can pick up the request scoped logger with
// logger.FromContext.
func Logging(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		url := *c.Request.URL

		scoped := log
		if id := requestctx.RequestID(c.Request.Context()); id != "" {
			scoped = log.With("request_id", id)
		}
		c.Request = c.Request.WithContext(logger.ContextWithLogger(c.Request.Context(), scoped))

		c.Next()

		status := c.Writer.Status()
		attrs := []any{
			"status", status,
			"method", c.Request.Method,
			"path", url.Path,
			"latency_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
		}
		optional := map[string]string{
			"query":      url.RawQuery,
			"user_agent": c.Request.UserAgent(),
			"user_id":    requestctx.UserID(c.Request.Context()),
			"errors":     c.Errors.String(),
		}
		for _, k := range []string{"query", "user_agent", "user_id", "errors"} {
			if v := optional[k]; v != "" {
				attrs = append(attrs, k, v)
			}
		}

		level := slog.LevelInfo
		if status >= 500 {
			level = slog.LevelError
		} else if status >= 400 {
			level = slog.LevelWarn
		}
		scoped.Log(c.Request.Context(), level, "http request", attrs...)
	}
}
