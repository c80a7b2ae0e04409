// README: Request logging middleware (logrus, with trace ids when a span is active).
package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"
)

const loggerKey = "logger"

func Logging(base logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		fields := logrus.Fields{
			"method": c.Request.Method,
			"path":   c.Request.URL.Path,
		}
		if sc := trace.SpanFromContext(c.Request.Context()).SpanContext(); sc.IsValid() {
			fields["trace_id"] = sc.TraceID().String()
			fields["span_id"] = sc.SpanID().String()
		}
		entry := base.WithFields(fields)
		c.Set(loggerKey, entry)

		c.Next()

		entry = entry.WithFields(logrus.Fields{
			"status":     c.Writer.Status(),
			"latency_ms": time.Since(start).Milliseconds(),
			"uid":        CallerUID(c),
		})
		if last := c.Errors.Last(); last != nil {
			entry = entry.WithError(last.Err)
		}
		switch {
		case c.Writer.Status() >= 500:
			if len(c.Errors) > 1 {
				entry = entry.WithField("errors", c.Errors.String())
			}
			entry.Error("request completed")
		case len(c.Errors) > 0:
			entry.WithField("errors", c.Errors.String()).Warn("request completed")
		default:
			entry.Info("request completed")
		}
	}
}

// Logger returns the request-scoped logger set by Logging, or fallback.
func Logger(c *gin.Context, fallback logrus.FieldLogger) logrus.FieldLogger {
	if v, ok := c.Get(loggerKey); ok {
		if l, ok := v.(logrus.FieldLogger); ok {
			return l
		}
	}
	return fallback
}
