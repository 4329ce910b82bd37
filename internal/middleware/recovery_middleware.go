// internal/middleware/recovery_middleware.go
package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"adc-service/internal/utils"
)

// RecoveryMiddleware turns a handler panic into a 500 carrying the request id
func RecoveryMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logger.Error("Panic recovered",
			zap.String("request_id", c.GetString("request_id")),
			zap.Any("panic", recovered),
			zap.String("path", c.Request.URL.Path),
			zap.String("method", c.Request.Method),
			zap.Stack("stacktrace"),
		)

		utils.CodedErrorResponse(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error", nil)
		c.Abort()
	})
}
