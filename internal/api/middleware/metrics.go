package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/open-apime/apime-gateway/internal/metrics"
)

// Metrics alimenta os contadores HTTP usando a rota registrada como label.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		metrics.HTTPRequests.WithLabelValues(c.Request.Method, route, status).Inc()
		metrics.HTTPDuration.WithLabelValues(c.Request.Method, route, status).Observe(time.Since(start).Seconds())
	}
}
