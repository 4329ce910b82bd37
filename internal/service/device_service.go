// internal/service/device_service.go
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"adc-service/internal/config"
	internalDriver "adc-service/internal/driver" // Registry
	"adc-service/internal/events"
	"adc-service/internal/model"
	"adc-service/internal/protocol"
	"adc-service/internal/repository"
	"adc-service/internal/utils"
	"adc-service/pkg/driver" // DeviceDriver interface
)

var (
	ErrDeviceNotFound      = errors.New("service: device not found")
	ErrDeviceBusy          = errors.New("service: device busy")
	ErrAcquisitionNotFound = errors.New("service: acquisition not found")
	ErrAcquisitionFinished = errors.New("service: acquisition already finished")
)

// DeviceService runs commands and acquisitions against the configured
// instruments. Every operation opens its own connection and closes it when
// done; operations on one device never overlap.
type DeviceService struct {
	driverRegistry  *internalDriver.Registry
	operationRepo   repository.OperationRepository
	acquisitionRepo repository.AcquisitionRepository
	publisher       events.Publisher
	config          *config.Config
	logger          *utils.ServiceLogger
	auditLogger     *utils.AuditLogger

	devices map[string]*deviceEntry
	order   []string

	baseCtx context.Context
	stopAll context.CancelFunc
	wg      sync.WaitGroup

	runMu   sync.Mutex
	running map[uuid.UUID]*acquisitionRun
}

// deviceEntry guards one instrument. lock is held for the whole of an
// exchange or acquisition.
type deviceEntry struct {
	lock sync.Mutex

	mu     sync.Mutex
	device model.Device
	health model.DeviceHealth
}

// NewDeviceService creates a new device service instance. A nil publisher
// discards events.
func NewDeviceService(
	driverRegistry *internalDriver.Registry,
	operationRepo repository.OperationRepository,
	acquisitionRepo repository.AcquisitionRepository,
	publisher events.Publisher,
	config *config.Config,
	logger *zap.Logger,
) *DeviceService {
	if publisher == nil {
		publisher = events.PublisherFunc(func(model.DeviceEvent) {})
	}
	ctx, cancel := context.WithCancel(context.Background())

	ds := &DeviceService{
		driverRegistry:  driverRegistry,
		operationRepo:   operationRepo,
		acquisitionRepo: acquisitionRepo,
		publisher:       publisher,
		config:          config,
		logger:          utils.NewServiceLogger(logger, "device-service"),
		auditLogger:     utils.NewAuditLogger(logger),
		devices:         make(map[string]*deviceEntry, len(config.Device.Devices)),
		baseCtx:         ctx,
		stopAll:         cancel,
		running:         make(map[uuid.UUID]*acquisitionRun),
	}
	for _, entry := range config.Device.Devices {
		ds.devices[entry.ID] = &deviceEntry{device: *internalDriver.DeviceFromEntry(entry)}
		ds.order = append(ds.order, entry.ID)
	}
	return ds
}

// Recover fails acquisitions left running by a previous process
func (ds *DeviceService) Recover(ctx context.Context) error {
	n, err := ds.acquisitionRepo.MarkInterrupted(ctx, "service restarted")
	if err != nil {
		return fmt.Errorf("failed to mark interrupted acquisitions: %w", err)
	}
	if n > 0 {
		ds.logger.Warn("Marked interrupted acquisitions as failed", zap.Int64("count", n))
	}
	return nil
}

// ListDevices returns every configured instrument in configuration order
func (ds *DeviceService) ListDevices() []*model.Device {
	devices := make([]*model.Device, 0, len(ds.order))
	for _, id := range ds.order {
		devices = append(devices, ds.devices[id].snapshot())
	}
	return devices
}

// GetDevice returns one instrument
func (ds *DeviceService) GetDevice(deviceID string) (*model.Device, error) {
	entry, err := ds.entry(deviceID)
	if err != nil {
		return nil, err
	}
	return entry.snapshot(), nil
}

// GetInfo reads the identity block
func (ds *DeviceService) GetInfo(ctx context.Context, deviceID, requestID string) (*driver.DeviceInfo, error) {
	var info *driver.DeviceInfo
	err := ds.withDevice(ctx, deviceID, model.OperationTypeGetInfo, nil, requestID, func(ctx context.Context, drv driver.DeviceDriver) (model.JSONObject, error) {
		var err error
		if info, err = drv.GetInfo(ctx); err != nil {
			return nil, err
		}
		return toJSONObject(info), nil
	})
	return info, err
}

// GetLANConfig reads the network configuration
func (ds *DeviceService) GetLANConfig(ctx context.Context, deviceID, requestID string) (*driver.LANConfig, error) {
	var lan *driver.LANConfig
	err := ds.withDevice(ctx, deviceID, model.OperationTypeGetLAN, nil, requestID, func(ctx context.Context, drv driver.DeviceDriver) (model.JSONObject, error) {
		var err error
		if lan, err = drv.GetLANConfig(ctx); err != nil {
			return nil, err
		}
		return toJSONObject(lan), nil
	})
	return lan, err
}

// SetLANConfig writes the network configuration
func (ds *DeviceService) SetLANConfig(ctx context.Context, deviceID string, lan driver.LANConfig, requestID string) error {
	data := toJSONObject(model.SetLANOperationData(lan))
	err := ds.withDevice(ctx, deviceID, model.OperationTypeSetLAN, data, requestID, func(ctx context.Context, drv driver.DeviceDriver) (model.JSONObject, error) {
		return nil, drv.SetLANConfig(ctx, lan)
	})
	if !errors.Is(err, ErrDeviceNotFound) {
		ds.auditLogger.LogDeviceConfiguration(deviceID, requestID, "set_lan", nil, lan, err)
	}
	if err == nil {
		ds.publish(model.EventConfigUpdate, deviceID, model.SeverityInfo, model.JSONObject{"lan": data})
	}
	return err
}

// SetMode selects the channel count and IEPE flags
func (ds *DeviceService) SetMode(ctx context.Context, deviceID string, mode driver.ModeConfig, requestID string) error {
	data := toJSONObject(model.SetModeOperationData(mode))
	err := ds.withDevice(ctx, deviceID, model.OperationTypeSetMode, data, requestID, func(ctx context.Context, drv driver.DeviceDriver) (model.JSONObject, error) {
		return nil, drv.SetMode(ctx, mode)
	})
	if !errors.Is(err, ErrDeviceNotFound) {
		ds.auditLogger.LogDeviceConfiguration(deviceID, requestID, "set_mode", nil, mode, err)
	}
	if err == nil {
		ds.publish(model.EventConfigUpdate, deviceID, model.SeverityInfo, model.JSONObject{"mode": data})
	}
	return err
}

// Reboot restarts the instrument
func (ds *DeviceService) Reboot(ctx context.Context, deviceID, requestID string) error {
	err := ds.withDevice(ctx, deviceID, model.OperationTypeReboot, nil, requestID, func(ctx context.Context, drv driver.DeviceDriver) (model.JSONObject, error) {
		return nil, drv.Reboot(ctx)
	})
	if !errors.Is(err, ErrDeviceNotFound) {
		ds.auditLogger.LogReboot(deviceID, requestID, err)
	}
	return err
}

// StopDevice sends ADC_OFF on a fresh connection, for an instrument left
// streaming by an earlier session.
func (ds *DeviceService) StopDevice(ctx context.Context, deviceID, requestID string) error {
	return ds.withDevice(ctx, deviceID, model.OperationTypeStop, nil, requestID, func(ctx context.Context, drv driver.DeviceDriver) (model.JSONObject, error) {
		return nil, drv.StopAcquisition(ctx)
	})
}

// ListOperations returns the most recent command history of a device
func (ds *DeviceService) ListOperations(ctx context.Context, deviceID string, limit int) ([]*model.DeviceOperation, error) {
	if _, err := ds.entry(deviceID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	ops, err := ds.operationRepo.ListByDevice(ctx, deviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list operations: %w", err)
	}
	return ops, nil
}

// Shutdown cancels running acquisitions and waits for them to finish
func (ds *DeviceService) Shutdown(ctx context.Context) error {
	ds.stopAll()

	done := make(chan struct{})
	go func() {
		ds.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		ds.logger.LogServiceStop("shutdown")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("acquisitions still running: %w", ctx.Err())
	}
}

// withDevice runs fn on a connected driver while holding the device lock,
// and records the exchange as a DeviceOperation.
func (ds *DeviceService) withDevice(ctx context.Context, deviceID string, opType model.OperationType, data model.JSONObject, requestID string, fn func(context.Context, driver.DeviceDriver) (model.JSONObject, error)) error {
	entry, err := ds.entry(deviceID)
	if err != nil {
		return err
	}
	if !entry.lock.TryLock() {
		return fmt.Errorf("%w: %s", ErrDeviceBusy, deviceID)
	}
	defer entry.lock.Unlock()

	operation := &model.DeviceOperation{
		ID:            uuid.New(),
		DeviceID:      deviceID,
		OperationType: opType,
		OperationData: data,
		Status:        model.OperationStatusProcessing,
		StartedAt:     time.Now(),
		RequestID:     optional(requestID),
		CreatedAt:     time.Now(),
	}
	if err := ds.operationRepo.Create(ctx, operation); err != nil {
		ds.logger.Error("Failed to create operation record", zap.Error(err))
	}

	opLogger := utils.NewOperationLogger(ds.logger.Logger, string(opType), operation.ID.String())
	opLogger.Start(zap.String("device_id", deviceID), zap.String("request_id", requestID))

	result, err := ds.exchange(ctx, entry, false, fn)
	ds.finishOperation(operation, result, err)

	if err != nil {
		opLogger.Error(err)
		ds.publish(model.EventOperationFailed, deviceID, model.SeverityError, model.JSONObject{
			"operation_id":   operation.ID.String(),
			"operation_type": string(opType),
			"error":          err.Error(),
		})
		return err
	}
	opLogger.Success()
	ds.publish(model.EventOperationCompleted, deviceID, model.SeverityInfo, model.JSONObject{
		"operation_id":   operation.ID.String(),
		"operation_type": string(opType),
	})
	return nil
}

// exchange connects a fresh driver, runs fn and disconnects. Connecting is
// always bounded by the operation timeout; fn is bounded too unless
// unbounded is set. The device status and health follow the outcome.
func (ds *DeviceService) exchange(ctx context.Context, entry *deviceEntry, unbounded bool, fn func(context.Context, driver.DeviceDriver) (model.JSONObject, error)) (model.JSONObject, error) {
	device := entry.snapshot()
	drv, err := ds.driverRegistry.CreateDriver(device, &ds.config.Device)
	if err != nil {
		err = fmt.Errorf("failed to create driver: %w", err)
		entry.record(0, err)
		return nil, err
	}
	drv.SetEventHandler(&driverEvents{service: ds})

	opCtx := ctx
	if !unbounded {
		var cancel context.CancelFunc
		opCtx, cancel = context.WithTimeout(ctx, ds.config.Device.OperationTimeout)
		defer cancel()
	}

	startTime := time.Now()
	connectCtx, cancelConnect := context.WithTimeout(opCtx, ds.config.Device.OperationTimeout)
	err = drv.Connect(connectCtx)
	cancelConnect()
	if err != nil {
		entry.record(time.Since(startTime), err)
		return nil, err
	}
	defer drv.Disconnect(context.Background())

	result, err := fn(opCtx, drv)
	entry.record(time.Since(startTime), err)
	return result, err
}

func (ds *DeviceService) finishOperation(operation *model.DeviceOperation, result model.JSONObject, err error) {
	completedAt := time.Now()
	durationMs := int(completedAt.Sub(operation.StartedAt).Milliseconds())
	operation.CompletedAt = &completedAt
	operation.DurationMs = &durationMs
	operation.Result = result
	operation.Status = operationStatus(err)
	if err != nil {
		msg := err.Error()
		operation.ErrorMessage = &msg
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if updateErr := ds.operationRepo.Update(ctx, operation); updateErr != nil {
		ds.logger.Error("Failed to update operation record", zap.Error(updateErr))
	}
}

func (ds *DeviceService) entry(deviceID string) (*deviceEntry, error) {
	entry, ok := ds.devices[deviceID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, deviceID)
	}
	return entry, nil
}

func (ds *DeviceService) publish(eventType model.EventType, deviceID, severity string, data model.JSONObject) {
	ds.publisher.Publish(model.NewDeviceEvent(eventType, deviceID, severity, data))
}

func (e *deviceEntry) snapshot() *model.Device {
	e.mu.Lock()
	defer e.mu.Unlock()
	d := e.device
	if e.health.TotalOperations > 0 {
		h := e.health
		d.Health = &h
	}
	return &d
}

func (e *deviceEntry) setStatus(status model.DeviceStatus) {
	e.mu.Lock()
	e.device.Status = status
	e.mu.Unlock()
}

// record folds one exchange into the device status and health
func (e *deviceEntry) record(responseTime time.Duration, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now()
	h := &e.health
	h.TotalOperations++
	h.ResponseTimeMs = responseTime.Milliseconds()
	switch {
	case errors.Is(err, context.Canceled):
		// Cancelled by the caller; says nothing about the device.
	case err != nil:
		h.ErrorCount++
		h.LastErrorTime = &now
		msg := err.Error()
		e.device.LastError = &msg
		e.device.Status = statusForError(err)
	default:
		h.LastSuccessTime = &now
		e.device.LastError = nil
		e.device.LastSeen = &now
		e.device.Status = model.DeviceStatusOnline
	}
	h.SuccessRate = float64(h.TotalOperations-h.ErrorCount) / float64(h.TotalOperations)
	h.HealthScore = int(h.SuccessRate * 100)
}

// statusForError distinguishes an unreachable device from one that answered
// badly
func statusForError(err error) model.DeviceStatus {
	switch {
	case errors.Is(err, protocol.ErrConnection),
		errors.Is(err, protocol.ErrPeerClosed),
		errors.Is(err, protocol.ErrReceiveTimeout),
		errors.Is(err, protocol.ErrSend):
		return model.DeviceStatusOffline
	default:
		return model.DeviceStatusError
	}
}

func operationStatus(err error) model.OperationStatus {
	switch {
	case err == nil:
		return model.OperationStatusSuccess
	case errors.Is(err, context.Canceled):
		return model.OperationStatusCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return model.OperationStatusTimeout
	default:
		return model.OperationStatusFailed
	}
}

// toJSONObject converts a JSON-tagged struct into a JSONObject
func toJSONObject(v interface{}) model.JSONObject {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var obj model.JSONObject
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil
	}
	return obj
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// driverEvents forwards driver notifications to the event publisher
type driverEvents struct {
	service  *DeviceService
	run      *acquisitionRun
	opLogger *utils.OperationLogger
}

func (h *driverEvents) OnDeviceConnected(deviceID string) {
	h.service.publish(model.EventDeviceConnected, deviceID, model.SeverityInfo, nil)
}

func (h *driverEvents) OnDeviceDisconnected(deviceID string, reason string) {
	h.service.publish(model.EventDeviceDisconnected, deviceID, model.SeverityInfo, model.JSONObject{"reason": reason})
}

func (h *driverEvents) OnDeviceError(deviceID string, err error) {
	data := model.DeviceErrorEventData{
		ErrorCode:    errorCode(err),
		ErrorMessage: err.Error(),
		ErrorTime:    time.Now(),
	}
	h.service.publish(model.EventDeviceError, deviceID, model.SeverityError, toJSONObject(data))
}

func (h *driverEvents) OnAcquisitionProgress(deviceID string, frames, total int) {
	if h.run == nil {
		return
	}
	h.run.frames.Store(int64(frames))
	if h.opLogger != nil && total > 0 {
		h.opLogger.Progress("Acquisition progress", float64(frames)/float64(total), zap.Int("frames", frames))
	}
	h.service.publish(model.EventAcquisitionProgress, deviceID, model.SeverityInfo, model.AcquisitionEventData{
		AcquisitionID: h.run.id,
		Status:        model.OperationStatusProcessing,
		Frames:        frames,
		Requested:     total,
	}.ToJSONObject())
}

var _ driver.EventHandler = (*driverEvents)(nil)
