// internal/handler/health_handler.go
package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"adc-service/internal/config"
	"adc-service/internal/database"
	"adc-service/internal/service"
	"adc-service/internal/utils"
)

// HealthHandler handles health check requests. db is nil when acquisition
// history is kept in memory.
type HealthHandler struct {
	db            *database.DB
	deviceService *service.DeviceService
	config        *config.Config
	startedAt     time.Time
	logger        *utils.ServiceLogger
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(db *database.DB, deviceService *service.DeviceService, config *config.Config, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		db:            db,
		deviceService: deviceService,
		config:        config,
		startedAt:     time.Now(),
		logger:        utils.NewServiceLogger(logger, "health-handler"),
	}
}

// RegisterRoutes registers health check routes
func (h *HealthHandler) RegisterRoutes(router gin.IRoutes) {
	router.GET("/health", h.HealthCheck)
	router.GET("/health/db", h.DatabaseHealthCheck)
	router.GET("/ready", h.ReadinessCheck)
	router.GET("/live", h.LivenessCheck)
}

// HealthCheck reports database connectivity and the last known state of
// every instrument. Instruments are not contacted.
// @Summary Service health
// @Tags Health
// @Produce json
// @Success 200 {object} HealthResponse
// @Failure 503 {object} HealthResponse
// @Router /health [get]
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	health := &HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Service:   h.config.App.Name,
		Version:   h.config.App.Version,
		Uptime:    time.Since(h.startedAt).Round(time.Second).String(),
		Checks:    make(map[string]CheckResult),
	}

	if h.db == nil {
		health.Checks["database"] = CheckResult{Status: "disabled", Message: "History kept in memory"}
	} else if dbErr := h.db.HealthCheck(); dbErr != nil {
		health.Status = "unhealthy"
		health.Checks["database"] = CheckResult{
			Status:  "unhealthy",
			Message: dbErr.Error(),
		}
	} else {
		stats := h.db.GetStats()
		health.Checks["database"] = CheckResult{
			Status:  "healthy",
			Message: "Database connection OK",
			Data: map[string]interface{}{
				"open_connections": stats.OpenConnections,
				"in_use":           stats.InUse,
				"idle":             stats.Idle,
			},
		}
	}

	devices := make(map[string]interface{})
	for _, d := range h.deviceService.ListDevices() {
		devices[d.ID] = string(d.Status)
	}
	health.Checks["devices"] = CheckResult{Status: "healthy", Data: devices}

	statusCode := http.StatusOK
	if health.Status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, health)
}

// DatabaseHealthCheck checks database connectivity
// @Summary Database health
// @Tags Health
// @Produce json
// @Success 200 {object} utils.APIResponse
// @Failure 503 {object} utils.APIResponse
// @Router /health/db [get]
func (h *HealthHandler) DatabaseHealthCheck(c *gin.Context) {
	if h.db == nil {
		utils.SuccessResponse(c, http.StatusOK, "Database disabled", gin.H{"status": "disabled"})
		return
	}

	startTime := time.Now()
	if err := h.db.HealthCheck(); err != nil {
		h.logger.Error("Database health check failed", zap.Error(err))
		utils.ErrorResponse(c, http.StatusServiceUnavailable, "Database unhealthy", err)
		return
	}

	stats := h.db.GetStats()
	response := gin.H{
		"status":           "healthy",
		"response_time_ms": time.Since(startTime).Milliseconds(),
		"stats": gin.H{
			"open_connections":    stats.OpenConnections,
			"in_use":              stats.InUse,
			"idle":                stats.Idle,
			"wait_count":          stats.WaitCount,
			"wait_duration":       stats.WaitDuration,
			"max_lifetime_closed": stats.MaxLifetimeClosed,
		},
	}

	utils.SuccessResponse(c, http.StatusOK, "Database is healthy", response)
}

// ReadinessCheck for Kubernetes readiness probe
// @Summary Readiness
// @Tags Health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 503 {object} map[string]interface{}
// @Router /ready [get]
func (h *HealthHandler) ReadinessCheck(c *gin.Context) {
	if h.db != nil {
		if err := h.db.HealthCheck(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "not ready",
				"reason": "database not available",
			})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "ready",
		"timestamp": time.Now(),
	})
}

// LivenessCheck for Kubernetes liveness probe
// @Summary Liveness
// @Tags Health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /live [get]
func (h *HealthHandler) LivenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "alive",
		"timestamp": time.Now(),
	})
}

// HealthResponse represents health check response
type HealthResponse struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Service   string                 `json:"service"`
	Version   string                 `json:"version"`
	Uptime    string                 `json:"uptime"`
	Checks    map[string]CheckResult `json:"checks"`
}

// CheckResult represents individual check result
type CheckResult struct {
	Status  string                 `json:"status"`
	Message string                 `json:"message,omitempty"`
	Data    map[string]interface{} `json:"data,omitempty"`
}
