// README: Prometheus request counter and latency histogram, labelled by route template.
package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"campuspool/internal/o11y"
)

// Metrics records request count and latency labelled by route template, not raw path.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		o11y.HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		o11y.HTTPRequestDuration.WithLabelValues(c.Request.Method, path, status).Observe(time.Since(start).Seconds())
	}
}
