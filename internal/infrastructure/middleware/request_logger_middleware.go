package middleware

import (
	"time"

	"lenslink/pkg/logger"

	"github.com/gin-gonic/gin"
)

// RequestLoggerMiddleware logs each HTTP request with context fields.
func RequestLoggerMiddleware(cl *logger.ContextLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		cl.LogRequest(
			c.Request.Context(),
			c.Request.Method,
			c.Request.URL.Path,
			c.Writer.Status(),
			time.Since(start).Milliseconds(),
		)
	}
}
