package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Logging emits one structured line per request, correlated with the otel
// trace when one is recording.
func Logging() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		}
		if span := trace.SpanContextFromContext(c.Request.Context()); span.IsValid() {
			fields = append(fields, zap.String("trace_id", span.TraceID().String()))
		}

		if c.Writer.Status() >= 500 {
			zap.L().Error("http request", fields...)
			return
		}
		zap.L().Info("http request", fields...)
	}
}
