// internal/handler/acquisition_handler.go
package handler

import (
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"adc-service/internal/model"
	"adc-service/internal/repository"
	"adc-service/internal/service"
	"adc-service/internal/utils"
)

// AcquisitionHandler handles capture requests
type AcquisitionHandler struct {
	deviceService *service.DeviceService
	logger        *utils.ServiceLogger
}

// NewAcquisitionHandler creates a new acquisition handler
func NewAcquisitionHandler(deviceService *service.DeviceService, logger *zap.Logger) *AcquisitionHandler {
	return &AcquisitionHandler{
		deviceService: deviceService,
		logger:        utils.NewServiceLogger(logger, "acquisition-handler"),
	}
}

// RegisterRoutes registers acquisition routes
func (h *AcquisitionHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.POST("/devices/:device_id/acquisitions", h.StartAcquisition)

	acquisitions := router.Group("/acquisitions")
	{
		acquisitions.GET("", h.ListAcquisitions)
		acquisitions.GET("/:acquisition_id", h.GetAcquisition)
		acquisitions.GET("/:acquisition_id/data", h.DownloadAcquisition)
		acquisitions.POST("/:acquisition_id/cancel", h.CancelAcquisition)
		acquisitions.DELETE("/:acquisition_id", h.CancelAcquisition)
	}
}

// StartAcquisitionRequest is the body of POST /devices/:device_id/acquisitions.
// Exactly one of frames or duration_ms is required.
type StartAcquisitionRequest struct {
	Frames     int `json:"frames"`
	DurationMs int `json:"duration_ms"`
	Channels   int `json:"channels" binding:"required"`
	SampleRate int `json:"sample_rate"`
	DeadlineMs int `json:"deadline_ms"`
}

func (r *StartAcquisitionRequest) toServiceRequest() service.AcquisitionRequest {
	return service.AcquisitionRequest{
		Frames:     r.Frames,
		Duration:   time.Duration(r.DurationMs) * time.Millisecond,
		Channels:   r.Channels,
		SampleRate: r.SampleRate,
		Deadline:   time.Duration(r.DeadlineMs) * time.Millisecond,
	}
}

// StartAcquisition starts a capture in the background
// @Summary Start acquisition
// @Description Starts a bounded capture. Progress is streamed on /ws/events.
// @Tags Acquisitions
// @Accept json
// @Produce json
// @Param device_id path string true "Device ID"
// @Param request body StartAcquisitionRequest true "Capture request"
// @Success 202 {object} utils.APIResponse{data=model.Acquisition}
// @Failure 400 {object} utils.APIResponse
// @Failure 409 {object} utils.APIResponse "Device busy"
// @Router /devices/{device_id}/acquisitions [post]
func (h *AcquisitionHandler) StartAcquisition(c *gin.Context) {
	var req StartAcquisitionRequest
	if !bindJSON(c, &req) {
		return
	}

	deviceID := c.Param("device_id")
	acquisition, err := h.deviceService.StartAcquisition(c.Request.Context(), deviceID, req.toServiceRequest(), requestID(c))
	if err != nil {
		h.logger.Warn("Failed to start acquisition", zap.String("device_id", deviceID), zap.Error(err))
		respondError(c, "Failed to start acquisition", err)
		return
	}

	c.Header("Location", fmt.Sprintf("%s/acquisitions/%s", strings.TrimSuffix(c.FullPath(), "/devices/:device_id/acquisitions"), acquisition.ID))
	utils.SuccessResponse(c, http.StatusAccepted, "Acquisition started", acquisition)
}

// GetAcquisition returns one capture record
// @Summary Get acquisition
// @Tags Acquisitions
// @Produce json
// @Param acquisition_id path string true "Acquisition ID"
// @Success 200 {object} utils.APIResponse{data=model.Acquisition}
// @Failure 404 {object} utils.APIResponse
// @Router /acquisitions/{acquisition_id} [get]
func (h *AcquisitionHandler) GetAcquisition(c *gin.Context) {
	id, ok := parseAcquisitionID(c)
	if !ok {
		return
	}

	acquisition, err := h.deviceService.GetAcquisition(c.Request.Context(), id)
	if err != nil {
		respondError(c, "Acquisition not found", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Acquisition retrieved successfully", gin.H{
		"acquisition": acquisition,
		"progress":    acquisition.Progress(),
	})
}

// DownloadAcquisition streams the capture file of a successful acquisition
// @Summary Download capture file
// @Tags Acquisitions
// @Produce application/octet-stream
// @Param acquisition_id path string true "Acquisition ID"
// @Success 200 {file} binary
// @Failure 404 {object} utils.APIResponse
// @Router /acquisitions/{acquisition_id}/data [get]
func (h *AcquisitionHandler) DownloadAcquisition(c *gin.Context) {
	id, ok := parseAcquisitionID(c)
	if !ok {
		return
	}

	acquisition, err := h.deviceService.GetAcquisition(c.Request.Context(), id)
	if err != nil {
		respondError(c, "Acquisition not found", err)
		return
	}
	if acquisition.Status != model.OperationStatusSuccess || acquisition.OutputPath == nil {
		utils.ErrorResponse(c, http.StatusNotFound, "Capture file not available", nil)
		return
	}

	c.FileAttachment(*acquisition.OutputPath, filepath.Base(*acquisition.OutputPath))
}

// CancelAcquisition stops a running capture
// @Summary Cancel acquisition
// @Tags Acquisitions
// @Produce json
// @Param acquisition_id path string true "Acquisition ID"
// @Success 202 {object} utils.APIResponse
// @Failure 404 {object} utils.APIResponse
// @Failure 409 {object} utils.APIResponse "Already finished"
// @Router /acquisitions/{acquisition_id}/cancel [post]
func (h *AcquisitionHandler) CancelAcquisition(c *gin.Context) {
	id, ok := parseAcquisitionID(c)
	if !ok {
		return
	}

	if err := h.deviceService.CancelAcquisition(c.Request.Context(), id); err != nil {
		respondError(c, "Failed to cancel acquisition", err)
		return
	}

	utils.SuccessResponse(c, http.StatusAccepted, "Acquisition cancellation requested", gin.H{"acquisition_id": id})
}

// ListAcquisitions lists capture records with filtering and pagination
// @Summary List acquisitions
// @Tags Acquisitions
// @Produce json
// @Param page query int false "Page number" default(1)
// @Param per_page query int false "Items per page" default(20)
// @Param device_id query string false "Filter by device ID"
// @Param status query string false "Filter by status" Enums(PENDING, PROCESSING, SUCCESS, FAILED, TIMEOUT, CANCELLED)
// @Success 200 {object} utils.APIResponse{data=object{acquisitions=[]model.Acquisition,pagination=service.PaginationResult}}
// @Router /acquisitions [get]
func (h *AcquisitionHandler) ListAcquisitions(c *gin.Context) {
	filter := &repository.AcquisitionFilter{Page: 1, PerPage: 20}

	if page := c.Query("page"); page != "" {
		if p, err := strconv.Atoi(page); err == nil && p > 0 {
			filter.Page = p
		}
	}
	if perPage := c.Query("per_page"); perPage != "" {
		if pp, err := strconv.Atoi(perPage); err == nil && pp > 0 && pp <= 100 {
			filter.PerPage = pp
		}
	}
	if deviceID := c.Query("device_id"); deviceID != "" {
		filter.DeviceID = &deviceID
	}
	if status := c.Query("status"); status != "" {
		s := model.OperationStatus(strings.ToUpper(status))
		filter.Status = &s
	}

	acquisitions, pagination, err := h.deviceService.ListAcquisitions(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to list acquisitions", zap.Error(err))
		respondError(c, "Failed to list acquisitions", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Acquisitions retrieved successfully", gin.H{
		"acquisitions": acquisitions,
		"pagination":   pagination,
	})
}

func parseAcquisitionID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("acquisition_id"))
	if err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid acquisition ID", err)
		return uuid.Nil, false
	}
	return id, true
}
