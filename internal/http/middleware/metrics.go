package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"ridecore/internal/observability"
)

// Metrics records request counts and latency by matched route.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		observability.HTTPRequestsTotal.
			WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		observability.HTTPRequestDuration.
			WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}
