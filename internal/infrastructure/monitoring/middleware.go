package monitoring

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// Middleware creates a Gin middleware for metrics collection
func Middleware(metrics *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		// Route pattern keeps label cardinality bounded
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		c.Next()

		metrics.RecordHTTPRequest(c.Request.Method, path, strconv.Itoa(c.Writer.Status()), time.Since(start))
	}
}

// Timer measures a skeleton command
type Timer struct {
	start   time.Time
	metrics *Metrics
	cmd     string
}

// NewTimer creates a new timer
func NewTimer(metrics *Metrics, cmd string) *Timer {
	return &Timer{
		start:   time.Now(),
		metrics: metrics,
		cmd:     cmd,
	}
}

// Stop stops the timer and records the duration
func (t *Timer) Stop(status string) {
	t.metrics.RecordCommand(t.cmd, status, time.Since(t.start))
}
