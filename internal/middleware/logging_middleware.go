// internal/middleware/logging_middleware.go
package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"adc-service/internal/utils"
)

// LoggingMiddleware logs one line per request once the handler returns.
// Unmatched routes are logged by their raw path.
func LoggingMiddleware(logger *utils.ServiceLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		logger.LogAPIRequest(
			c.GetString("request_id"),
			c.Request.Method,
			path,
			c.ClientIP(),
			c.Writer.Status(),
			time.Since(startTime),
			c.Writer.Size(),
		)
	}
}
