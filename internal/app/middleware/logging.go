package middleware

import (
	"time"

	"persistenceai/pkg/logger"

	"github.com/gin-gonic/gin"
)

func LoggingMiddleware(l logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		fields := []logger.Field{
			{Key: "path", Value: path},
			{Key: "route", Value: c.FullPath()},
			{Key: "query", Value: query},
			{Key: "method", Value: c.Request.Method},
			{Key: "status", Value: c.Writer.Status()},
			{Key: "latency", Value: time.Since(start)},
			{Key: "request_id", Value: c.GetString(RequestIDKey)},
		}
		if len(c.Errors) > 0 {
			fields = append(fields, logger.Field{Key: "errors", Value: c.Errors.String()})
		}

		// Probes and scrapes are noisy.
		if path == "/healthz" || path == "/readyz" || path == "/metrics" {
			l.Debug(c.Request.Context(), "request completed", fields...)
			return
		}
		l.Info(c.Request.Context(), "request completed", fields...)
	}
}
