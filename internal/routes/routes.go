// internal/routes/routes.go
package routes

import (
	"context"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"adc-service/internal/config"
	"adc-service/internal/database"
	"adc-service/internal/events"
	"adc-service/internal/handler"
	"adc-service/internal/middleware"
	"adc-service/internal/service"
	"adc-service/internal/utils"
)

// Router holds all dependencies for routing
type Router struct {
	config        *config.Config
	logger        *zap.Logger
	db            *database.DB
	deviceService *service.DeviceService
	wsHandler     *handler.WebSocketHandler
}

// NewRouter creates a new router instance. db may be nil when the database
// is disabled.
func NewRouter(
	config *config.Config,
	logger *zap.Logger,
	db *database.DB,
	deviceService *service.DeviceService,
	eventBus *events.EventBus,
) *Router {
	return &Router{
		config:        config,
		logger:        logger,
		db:            db,
		deviceService: deviceService,
		wsHandler:     handler.NewWebSocketHandler(deviceService, eventBus, logger),
	}
}

// RunEventStream forwards bus events to WebSocket clients until ctx is done
func (r *Router) RunEventStream(ctx context.Context) {
	r.wsHandler.Run(ctx)
}

// SetupRouter creates and configures the Gin router
func (r *Router) SetupRouter() *gin.Engine {
	if r.config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	} else if r.config.App.Environment == "test" {
		gin.SetMode(gin.TestMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()

	r.addMiddleware(router)
	r.addRoutes(router)

	return router
}

// addMiddleware adds middleware to the router
func (r *Router) addMiddleware(router *gin.Engine) {
	router.Use(middleware.RecoveryMiddleware(r.logger))
	router.Use(middleware.RequestIDMiddleware())

	serviceLogger := utils.NewServiceLogger(r.logger, "http-server")
	router.Use(middleware.LoggingMiddleware(serviceLogger))

	router.Use(middleware.CORSMiddleware(&r.config.Server))

	r.logger.Debug("Middleware configured")
}

// addRoutes sets up all application routes
func (r *Router) addRoutes(router *gin.Engine) {
	healthHandler := handler.NewHealthHandler(r.db, r.deviceService, r.config, r.logger)
	deviceHandler := handler.NewDeviceHandler(r.deviceService, r.logger)
	acquisitionHandler := handler.NewAcquisitionHandler(r.deviceService, r.logger)

	// Health check routes
	healthHandler.RegisterRoutes(router)

	// API v1 routes
	apiV1 := router.Group("/api/v1")
	deviceHandler.RegisterRoutes(apiV1)
	acquisitionHandler.RegisterRoutes(apiV1)

	// WebSocket routes
	r.wsHandler.RegisterRoutes(router.Group("/ws"))

	r.logger.Info("All routes configured successfully")
}
