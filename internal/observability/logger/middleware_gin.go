package logger

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/payflow/pkg/telemetry/correlation"
	"go.uber.org/zap"
)

// GinMiddleware assigns a request id and logs each request once it completes.
// ErrorClassifier, when set, maps the last handler error to a (type, code) pair.
func GinMiddleware(base *zap.Logger, classify func(err error) (string, string)) gin.HandlerFunc {
	if base == nil {
		base = zap.NewNop()
	}
	base = base.Named("http")

	return func(c *gin.Context) {
		start := time.Now()
		ctx, requestID := correlation.EnsureRequestID(c.Request.Context(), c.GetHeader(correlation.HeaderRequestID))
		c.Request = c.Request.WithContext(ctx)
		c.Header(correlation.HeaderRequestID, requestID)

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		}
		if lastErr := c.Errors.Last(); lastErr != nil && classify != nil {
			errType, errCode := classify(lastErr.Err)
			fields = append(fields, zap.String("error_type", errType), zap.String("error_code", errCode))
		}

		log := WithContext(c.Request.Context(), base)
		switch {
		case status >= 500:
			log.Error("http.request", fields...)
		case status >= 400:
			log.Warn("http.request", fields...)
		default:
			log.Info("http.request", fields...)
		}
	}
}
