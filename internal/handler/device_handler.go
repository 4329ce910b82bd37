// internal/handler/device_handler.go
package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"adc-service/internal/service"
	"adc-service/internal/utils"
	"adc-service/pkg/driver"
)

// DeviceHandler handles device-related HTTP requests
type DeviceHandler struct {
	deviceService *service.DeviceService
	logger        *utils.ServiceLogger
}

// NewDeviceHandler creates a new device handler
func NewDeviceHandler(deviceService *service.DeviceService, logger *zap.Logger) *DeviceHandler {
	return &DeviceHandler{
		deviceService: deviceService,
		logger:        utils.NewServiceLogger(logger, "device-handler"),
	}
}

// RegisterRoutes registers device-related routes
func (h *DeviceHandler) RegisterRoutes(router *gin.RouterGroup) {
	devices := router.Group("/devices")
	{
		devices.GET("", h.ListDevices)

		device := devices.Group("/:device_id")
		{
			device.GET("", h.GetDevice)
			device.GET("/info", h.GetInfo)
			device.GET("/lan", h.GetLANConfig)
			device.PUT("/lan", h.SetLANConfig)
			device.PUT("/mode", h.SetMode)
			device.POST("/reboot", h.Reboot)
			device.POST("/stop", h.Stop)
			device.GET("/operations", h.ListOperations)
		}
	}
}

// SetLANRequest is the body of PUT /devices/:device_id/lan
type SetLANRequest struct {
	IP      string `json:"ip" binding:"required"`
	Netmask string `json:"netmask" binding:"required"`
	Gateway string `json:"gateway" binding:"required"`
	Port    int    `json:"port"`
	DHCP    bool   `json:"dhcp"`
}

// SetModeRequest is the body of PUT /devices/:device_id/mode
type SetModeRequest struct {
	Channels  int   `json:"channels" binding:"required"`
	IEPEFlags uint8 `json:"iepe_flags"`
}

// ListDevices lists configured instruments with their last known state
// @Summary List devices
// @Tags Devices
// @Produce json
// @Success 200 {object} utils.APIResponse{data=[]model.Device}
// @Router /devices [get]
func (h *DeviceHandler) ListDevices(c *gin.Context) {
	devices := h.deviceService.ListDevices()
	utils.SuccessResponse(c, http.StatusOK, "Devices retrieved successfully", gin.H{
		"devices": devices,
		"total":   len(devices),
	})
}

// GetDevice returns one instrument without contacting it
// @Summary Get device
// @Tags Devices
// @Produce json
// @Param device_id path string true "Device ID"
// @Success 200 {object} utils.APIResponse{data=model.Device}
// @Failure 404 {object} utils.APIResponse
// @Router /devices/{device_id} [get]
func (h *DeviceHandler) GetDevice(c *gin.Context) {
	device, err := h.deviceService.GetDevice(c.Param("device_id"))
	if err != nil {
		respondError(c, "Device not found", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Device retrieved successfully", device)
}

// GetInfo queries the identity block
// @Summary Read device information
// @Tags Devices
// @Produce json
// @Param device_id path string true "Device ID"
// @Success 200 {object} utils.APIResponse{data=driver.DeviceInfo}
// @Failure 409 {object} utils.APIResponse "Device busy"
// @Failure 503 {object} utils.APIResponse "Device unreachable"
// @Router /devices/{device_id}/info [get]
func (h *DeviceHandler) GetInfo(c *gin.Context) {
	info, err := h.deviceService.GetInfo(c.Request.Context(), c.Param("device_id"), requestID(c))
	if err != nil {
		h.logger.Warn("GET_INFO failed", zap.String("device_id", c.Param("device_id")), zap.Error(err))
		respondError(c, "Failed to read device information", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Device information retrieved", info)
}

// GetLANConfig reads the network configuration
// @Summary Read LAN configuration
// @Tags Devices
// @Produce json
// @Param device_id path string true "Device ID"
// @Success 200 {object} utils.APIResponse{data=driver.LANConfig}
// @Router /devices/{device_id}/lan [get]
func (h *DeviceHandler) GetLANConfig(c *gin.Context) {
	lan, err := h.deviceService.GetLANConfig(c.Request.Context(), c.Param("device_id"), requestID(c))
	if err != nil {
		h.logger.Warn("GET_LAN failed", zap.String("device_id", c.Param("device_id")), zap.Error(err))
		respondError(c, "Failed to read LAN configuration", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "LAN configuration retrieved", lan)
}

// SetLANConfig writes the network configuration
// @Summary Write LAN configuration
// @Tags Devices
// @Accept json
// @Produce json
// @Param device_id path string true "Device ID"
// @Param request body SetLANRequest true "LAN configuration"
// @Success 200 {object} utils.APIResponse
// @Failure 400 {object} utils.APIResponse
// @Router /devices/{device_id}/lan [put]
func (h *DeviceHandler) SetLANConfig(c *gin.Context) {
	var req SetLANRequest
	if !bindJSON(c, &req) {
		return
	}

	lan := driver.LANConfig{
		IP:      req.IP,
		Netmask: req.Netmask,
		Gateway: req.Gateway,
		Port:    req.Port,
		DHCP:    req.DHCP,
	}
	if err := h.deviceService.SetLANConfig(c.Request.Context(), c.Param("device_id"), lan, requestID(c)); err != nil {
		respondError(c, "Failed to write LAN configuration", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "LAN configuration updated", lan)
}

// SetMode selects the channel count and IEPE excitation
// @Summary Set acquisition mode
// @Tags Devices
// @Accept json
// @Produce json
// @Param device_id path string true "Device ID"
// @Param request body SetModeRequest true "Mode"
// @Success 200 {object} utils.APIResponse
// @Failure 400 {object} utils.APIResponse
// @Router /devices/{device_id}/mode [put]
func (h *DeviceHandler) SetMode(c *gin.Context) {
	var req SetModeRequest
	if !bindJSON(c, &req) {
		return
	}

	mode := driver.ModeConfig{Channels: req.Channels, IEPEFlags: req.IEPEFlags}
	if err := h.deviceService.SetMode(c.Request.Context(), c.Param("device_id"), mode, requestID(c)); err != nil {
		respondError(c, "Failed to set mode", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Mode updated", mode)
}

// Reboot restarts the instrument
// @Summary Reboot device
// @Tags Devices
// @Produce json
// @Param device_id path string true "Device ID"
// @Success 202 {object} utils.APIResponse
// @Router /devices/{device_id}/reboot [post]
func (h *DeviceHandler) Reboot(c *gin.Context) {
	deviceID := c.Param("device_id")
	if err := h.deviceService.Reboot(c.Request.Context(), deviceID, requestID(c)); err != nil {
		respondError(c, "Failed to reboot device", err)
		return
	}
	h.logger.Info("Device reboot requested", zap.String("device_id", deviceID))
	utils.SuccessResponse(c, http.StatusAccepted, "Reboot acknowledged", gin.H{"device_id": deviceID})
}

// Stop sends ADC_OFF to an idle instrument, e.g. one left streaming by
// another client
// @Summary Stop streaming
// @Tags Devices
// @Produce json
// @Param device_id path string true "Device ID"
// @Success 200 {object} utils.APIResponse
// @Router /devices/{device_id}/stop [post]
func (h *DeviceHandler) Stop(c *gin.Context) {
	deviceID := c.Param("device_id")
	if err := h.deviceService.StopDevice(c.Request.Context(), deviceID, requestID(c)); err != nil {
		respondError(c, "Failed to stop device", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Streaming stopped", gin.H{"device_id": deviceID})
}

// ListOperations returns the device's most recent command history
// @Summary List device operations
// @Tags Devices
// @Produce json
// @Param device_id path string true "Device ID"
// @Param limit query int false "Maximum records" default(50)
// @Success 200 {object} utils.APIResponse{data=[]model.DeviceOperation}
// @Router /devices/{device_id}/operations [get]
func (h *DeviceHandler) ListOperations(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		l, err := strconv.Atoi(raw)
		if err != nil || l < 0 {
			utils.ErrorResponse(c, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		limit = l
	}

	operations, err := h.deviceService.ListOperations(c.Request.Context(), c.Param("device_id"), limit)
	if err != nil {
		respondError(c, "Failed to list operations", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Operations retrieved successfully", gin.H{
		"operations": operations,
		"total":      len(operations),
	})
}
