// internal/service/acquisition_service.go
package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"adc-service/internal/codec"
	"adc-service/internal/driver/adc"
	"adc-service/internal/model"
	"adc-service/internal/repository"
	"adc-service/internal/sink"
	"adc-service/internal/utils"
	"adc-service/pkg/driver"
)

// AcquisitionRequest starts a capture. Exactly one of Frames or Duration is
// set; a Duration is converted to frames with SampleRate, or with the rate
// the instrument reports when SampleRate is zero.
type AcquisitionRequest struct {
	Frames     int
	Duration   time.Duration
	Channels   int
	SampleRate int
	Deadline   time.Duration
}

func (r *AcquisitionRequest) validate(maxFrames int) error {
	switch {
	case r.Frames > 0 && r.Duration > 0:
		return &codec.ValueError{Field: "frames", Value: r.Frames, Reason: "frames and duration are mutually exclusive"}
	case r.Frames <= 0 && r.Duration <= 0:
		return &codec.ValueError{Field: "frames", Value: r.Frames, Reason: "frames or duration is required"}
	case r.Frames > maxFrames:
		return &codec.ValueError{Field: "frames", Value: r.Frames, Reason: fmt.Sprintf("exceeds the limit of %d", maxFrames)}
	case !codec.ChannelsFit(r.Channels):
		return &codec.ValueError{Field: "channels", Value: r.Channels, Reason: "channel count must divide the frame sample count"}
	case r.SampleRate < 0:
		return &codec.ValueError{Field: "sample_rate", Value: r.SampleRate, Reason: "must not be negative"}
	case r.Deadline < 0:
		return &codec.ValueError{Field: "deadline", Value: r.Deadline, Reason: "must not be negative"}
	}
	return nil
}

// acquisitionRun is the live state of a capture in progress
type acquisitionRun struct {
	id     uuid.UUID
	cancel context.CancelFunc
	frames atomic.Int64
}

// StartAcquisition validates req, reserves the device and starts the capture
// in the background. The returned record is in PROCESSING state; progress and
// the outcome are published as events and persisted.
func (ds *DeviceService) StartAcquisition(ctx context.Context, deviceID string, req AcquisitionRequest, requestID string) (*model.Acquisition, error) {
	entry, err := ds.entry(deviceID)
	if err != nil {
		return nil, err
	}
	if err := req.validate(ds.config.Acquisition.MaxFrames); err != nil {
		return nil, err
	}
	fullScale, err := ds.config.FullScaleVolts()
	if err != nil {
		return nil, err
	}

	if !entry.lock.TryLock() {
		return nil, fmt.Errorf("%w: %s", ErrDeviceBusy, deviceID)
	}
	locked := true
	defer func() {
		if locked {
			entry.lock.Unlock()
		}
	}()

	acquisition := &model.Acquisition{
		ID:              uuid.New(),
		DeviceID:        deviceID,
		Status:          model.OperationStatusProcessing,
		RequestedFrames: req.Frames,
		Channels:        req.Channels,
		RequestID:       optional(requestID),
		StartedAt:       time.Now(),
	}

	fileSink, err := sink.NewFileSink(ds.config.Acquisition.OutputDir, acquisition.ID.String(), ds.logger.Logger)
	if err != nil {
		return nil, err
	}
	summarySink, err := sink.NewSummarySink(req.Channels, fullScale)
	if err != nil {
		fileSink.Abort(err)
		return nil, err
	}

	if err := ds.acquisitionRepo.Create(ctx, acquisition); err != nil {
		fileSink.Abort(err)
		return nil, fmt.Errorf("failed to create acquisition record: %w", err)
	}

	runCtx, cancel := context.WithCancel(ds.baseCtx)
	run := &acquisitionRun{id: acquisition.ID, cancel: cancel}
	ds.runMu.Lock()
	ds.running[acquisition.ID] = run
	ds.runMu.Unlock()

	entry.setStatus(model.DeviceStatusAcquiring)
	ds.publish(model.EventAcquisitionStarted, deviceID, model.SeverityInfo, model.AcquisitionEventData{
		AcquisitionID: acquisition.ID,
		Status:        acquisition.Status,
		Requested:     acquisition.RequestedFrames,
	}.ToJSONObject())

	started := *acquisition
	ds.wg.Add(1)
	locked = false
	go ds.runAcquisition(runCtx, entry, run, acquisition, req, fileSink, summarySink)

	return &started, nil
}

// runAcquisition owns the device lock taken by StartAcquisition
func (ds *DeviceService) runAcquisition(ctx context.Context, entry *deviceEntry, run *acquisitionRun, acquisition *model.Acquisition, req AcquisitionRequest, fileSink *sink.FileSink, summarySink *sink.SummarySink) {
	defer ds.wg.Done()
	defer entry.lock.Unlock()
	defer func() {
		run.cancel()
		ds.runMu.Lock()
		delete(ds.running, run.id)
		ds.runMu.Unlock()
	}()

	opLogger := utils.NewOperationLogger(ds.logger.Logger, string(model.OperationTypeAcquisition), acquisition.ID.String())
	opLogger.Start(
		zap.String("device_id", acquisition.DeviceID),
		zap.Int("frames", req.Frames),
		zap.Duration("duration", req.Duration),
		zap.Int("channels", req.Channels),
	)

	frames := sink.Multi{fileSink, summarySink}
	var summary *driver.AcquisitionSummary
	_, err := ds.exchange(ctx, entry, true, func(ctx context.Context, drv driver.DeviceDriver) (model.JSONObject, error) {
		drv.SetEventHandler(&driverEvents{service: ds, run: run, opLogger: opLogger})

		n := req.Frames
		if n == 0 {
			var err error
			if n, err = ds.framesFor(ctx, drv, req); err != nil {
				return nil, err
			}
			acquisition.RequestedFrames = n
		}

		deadline := req.Deadline
		if deadline == 0 {
			deadline = ds.config.Acquisition.DefaultDeadline
		}
		var err error
		summary, err = drv.StartAcquisition(ctx, driver.AcquisitionRequest{
			Frames:   n,
			Channels: req.Channels,
			Deadline: deadline,
		}, frames)
		return nil, err
	})
	if summary == nil {
		// No-op when the driver already aborted the sinks.
		frames.Abort(err)
	}

	ds.finishAcquisition(acquisition, summary, err, fileSink, summarySink)

	if acquisition.Status == model.OperationStatusSuccess {
		opLogger.Success(zap.Int("frames", acquisition.Frames), zap.Stringp("output_path", acquisition.OutputPath))
	} else {
		opLogger.Error(err, zap.Int("frames", acquisition.Frames))
	}
}

// framesFor converts a duration request into a frame count
func (ds *DeviceService) framesFor(ctx context.Context, drv driver.DeviceDriver, req AcquisitionRequest) (int, error) {
	rate := req.SampleRate
	if rate == 0 {
		info, err := drv.GetInfo(ctx)
		if err != nil {
			return 0, fmt.Errorf("failed to read sample rate: %w", err)
		}
		rate = info.SampleRate
	}
	n, err := adc.FramesForDuration(req.Duration, rate, req.Channels)
	if err != nil {
		return 0, err
	}
	if n > ds.config.Acquisition.MaxFrames {
		return 0, &codec.ValueError{Field: "duration", Value: req.Duration, Reason: fmt.Sprintf("needs %d frames, limit is %d", n, ds.config.Acquisition.MaxFrames)}
	}
	return n, nil
}

func (ds *DeviceService) finishAcquisition(acquisition *model.Acquisition, summary *driver.AcquisitionSummary, err error, fileSink *sink.FileSink, summarySink *sink.SummarySink) {
	completedAt := time.Now()
	durationMs := int(completedAt.Sub(acquisition.StartedAt).Milliseconds())
	acquisition.CompletedAt = &completedAt
	acquisition.DurationMs = &durationMs

	if summary != nil {
		// A capture that completed but whose stop was not confirmed still
		// produced a committed file.
		acquisition.Status = model.OperationStatusSuccess
		acquisition.Frames = summary.Frames
		acquisition.Samples = summary.Samples
		acquisition.Bytes = summary.Bytes
		first, last := int64(summary.FirstSequence), int64(summary.LastSequence)
		acquisition.FirstSequence = &first
		acquisition.LastSequence = &last
		path := fileSink.Path()
		acquisition.OutputPath = &path
		acquisition.Summary = summarySink.Report()
	} else {
		acquisition.Status = operationStatus(err)
		acquisition.Frames = fileSink.Frames()
	}
	if err != nil {
		msg := err.Error()
		if ds.baseCtx.Err() != nil && errors.Is(err, context.Canceled) {
			msg = "service shutting down"
		}
		acquisition.ErrorMessage = &msg
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if updateErr := ds.acquisitionRepo.Update(ctx, acquisition); updateErr != nil {
		ds.logger.Error("Failed to update acquisition record",
			zap.String("acquisition_id", acquisition.ID.String()),
			zap.Error(updateErr),
		)
	}

	if entry, lookupErr := ds.entry(acquisition.DeviceID); lookupErr == nil {
		entry.mu.Lock()
		if entry.device.Status == model.DeviceStatusAcquiring {
			entry.device.Status = model.DeviceStatusOnline
		}
		entry.mu.Unlock()
	}

	data := model.AcquisitionEventData{
		AcquisitionID: acquisition.ID,
		Status:        acquisition.Status,
		Frames:        acquisition.Frames,
		Requested:     acquisition.RequestedFrames,
		DurationMs:    acquisition.DurationMs,
		ErrorMessage:  acquisition.ErrorMessage,
	}.ToJSONObject()
	if acquisition.Status == model.OperationStatusSuccess {
		ds.publish(model.EventAcquisitionCompleted, acquisition.DeviceID, model.SeverityInfo, data)
		return
	}
	data["error_code"] = errorCode(err)
	ds.publish(model.EventAcquisitionFailed, acquisition.DeviceID, model.SeverityError, data)
}

// CancelAcquisition stops a running capture. The capture ends with
// CANCELLED once the device has been stopped.
func (ds *DeviceService) CancelAcquisition(ctx context.Context, id uuid.UUID) error {
	ds.runMu.Lock()
	run, ok := ds.running[id]
	ds.runMu.Unlock()
	if ok {
		run.cancel()
		ds.logger.Info("Acquisition cancellation requested", zap.String("acquisition_id", id.String()))
		return nil
	}

	if _, err := ds.acquisitionRepo.GetByID(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrAcquisitionNotFound, id)
		}
		return err
	}
	return fmt.Errorf("%w: %s", ErrAcquisitionFinished, id)
}

// GetAcquisition returns one capture record. A running capture reports its
// live frame count.
func (ds *DeviceService) GetAcquisition(ctx context.Context, id uuid.UUID) (*model.Acquisition, error) {
	acquisition, err := ds.acquisitionRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrAcquisitionNotFound, id)
		}
		return nil, err
	}

	ds.runMu.Lock()
	run, ok := ds.running[id]
	ds.runMu.Unlock()
	if ok && !acquisition.IsCompleted() {
		acquisition.Frames = int(run.frames.Load())
	}
	return acquisition, nil
}

// ListAcquisitions lists capture records, newest first
func (ds *DeviceService) ListAcquisitions(ctx context.Context, filter *repository.AcquisitionFilter) ([]*model.Acquisition, *PaginationResult, error) {
	if filter == nil {
		filter = &repository.AcquisitionFilter{}
	}
	acquisitions, total, err := ds.acquisitionRepo.List(ctx, filter)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list acquisitions: %w", err)
	}

	page, perPage := filter.Page, filter.PerPage
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}
	return acquisitions, &PaginationResult{
		Total:      total,
		Page:       page,
		PerPage:    perPage,
		TotalPages: (total + perPage - 1) / perPage,
	}, nil
}

// PaginationResult represents pagination information
type PaginationResult struct {
	Total      int `json:"total"`
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	TotalPages int `json:"total_pages"`
}
