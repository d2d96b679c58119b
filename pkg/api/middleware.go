package api

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/neuroinsight/neuroinsight/pkg/log"
	"github.com/neuroinsight/neuroinsight/pkg/metrics"
)

// requestLogger emits one structured line per request and feeds the API
// metrics
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		elapsed := time.Since(start)

		status := c.Writer.Status()
		metrics.APIRequestsTotal.WithLabelValues(c.Request.Method, strconv.Itoa(status)).Inc()
		metrics.APIRequestDuration.WithLabelValues(c.Request.Method).Observe(elapsed.Seconds())

		event := log.WithComponent("api").Info()
		if status >= 500 {
			event = log.WithComponent("api").Error()
		} else if status >= 400 {
			event = log.WithComponent("api").Warn()
		}
		event.
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", status).
			Dur("elapsed", elapsed).
			Msg("request")
	}
}
