// internal/middleware/cors_middleware.go
package middleware

import (
	"slices"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"adc-service/internal/config"
)

// CORSMiddleware creates CORS middleware
func CORSMiddleware(config *config.ServerConfig) gin.HandlerFunc {
	corsConfig := cors.DefaultConfig()

	if len(config.AllowedOrigins) > 0 && !slices.Contains(config.AllowedOrigins, "*") {
		corsConfig.AllowOrigins = config.AllowedOrigins
		corsConfig.AllowCredentials = true
	} else {
		corsConfig.AllowAllOrigins = true
	}

	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", RequestIDHeader, "X-Requested-With"}
	corsConfig.ExposeHeaders = []string{"Content-Length", RequestIDHeader}

	return cors.New(corsConfig)
}
