// internal/driver/adc/acquisition.go
package adc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"adc-service/internal/codec"
	"adc-service/internal/protocol"
	"adc-service/pkg/driver"
)

// AcquisitionState tracks the streaming lifecycle of a client.
type AcquisitionState int

const (
	AcquisitionStopped AcquisitionState = iota
	AcquisitionStarting
	AcquisitionRunning
	AcquisitionStopping
)

func (s AcquisitionState) String() string {
	switch s {
	case AcquisitionStopped:
		return "STOPPED"
	case AcquisitionStarting:
		return "STARTING"
	case AcquisitionRunning:
		return "RUNNING"
	case AcquisitionStopping:
		return "STOPPING"
	default:
		return "UNKNOWN"
	}
}

// drainChunk is the receive size used while scanning for the stop ack.
const drainChunk = codec.StreamFrameSize

// FramesForDuration returns how many stream frames cover duration at the
// given per-channel sample rate. Partial frames round up.
func FramesForDuration(duration time.Duration, sampleRate, channels int) (int, error) {
	if duration <= 0 {
		return 0, &codec.ValueError{Field: "duration", Value: duration, Reason: "must be positive"}
	}
	if sampleRate <= 0 {
		return 0, &codec.ValueError{Field: "sample_rate", Value: sampleRate, Reason: "must be positive"}
	}
	if !codec.ChannelsFit(channels) {
		return 0, &codec.ValueError{Field: "channels", Value: channels, Reason: "channel count must divide the frame sample count"}
	}

	perFrame := float64(codec.SamplesPerFrame / channels)
	samples := duration.Seconds() * float64(sampleRate)
	return int(math.Ceil(samples / perFrame)), nil
}

// StartAcquisition runs STOPPED → STARTING → RUNNING → STOPPING → STOPPED,
// forwarding req.Frames frames to sink. It blocks until the capture ends.
//
// Any failure after ADC_ON was sent triggers exactly one best-effort stop and
// sink.Abort; the original error is returned. On success the device is
// stopped and the sink closed. A stop failure after a complete capture is
// returned together with the summary.
func (c *Client) StartAcquisition(ctx context.Context, req driver.AcquisitionRequest, sink driver.FrameSink) (*driver.AcquisitionSummary, error) {
	if req.Frames <= 0 {
		return nil, &codec.ValueError{Field: "frames", Value: req.Frames, Reason: "must be positive"}
	}
	if !codec.ChannelsFit(req.Channels) {
		return nil, &codec.ValueError{Field: "channels", Value: req.Channels, Reason: "channel count must divide the frame sample count"}
	}
	if sink == nil {
		return nil, &codec.ValueError{Field: "sink", Reason: "sink is required"}
	}

	if err := c.claim(AcquisitionStarting); err != nil {
		return nil, err
	}
	defer c.setAcquisitionState(AcquisitionStopped)
	c.mu.Lock()
	defer c.mu.Unlock()

	t, err := c.activeTransport()
	if err != nil {
		return nil, err
	}
	onSpec, err := c.config.Commands.Lookup(CmdADCOn)
	if err != nil {
		return nil, err
	}

	if req.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Deadline)
		defer cancel()
	}

	summary := &driver.AcquisitionSummary{StartedAt: time.Now()}

	c.logger.Info("Starting acquisition",
		zap.Int("frames", req.Frames),
		zap.Int("channels", req.Channels),
		zap.Duration("deadline", req.Deadline),
	)

	if _, err := c.exchange(ctx, t, onSpec, nil); err != nil {
		// Without a delivered ADC_ON there is nothing to stop.
		if errors.Is(err, protocol.ErrSend) || errors.Is(err, codec.ErrValue) {
			c.abortSink(sink, err)
			return nil, err
		}
		return nil, c.fail(ctx, t, sink, summary, req, err)
	}

	c.setAcquisitionState(AcquisitionRunning)
	if err := c.pump(ctx, t, req, sink, summary); err != nil {
		return nil, c.fail(ctx, t, sink, summary, req, err)
	}

	c.setAcquisitionState(AcquisitionStopping)
	stopErr := c.stop(ctx, t, true)
	summary.FinishedAt = time.Now()

	if err := sink.Close(); err != nil {
		err = fmt.Errorf("adc: close sink: %w", err)
		c.logger.LogAcquisition(summary.Frames, req.Frames, summary.FinishedAt.Sub(summary.StartedAt), err)
		return nil, err
	}
	c.logger.LogAcquisition(summary.Frames, req.Frames, summary.FinishedAt.Sub(summary.StartedAt), stopErr)
	return summary, stopErr
}

// pump reads and forwards req.Frames frames.
func (c *Client) pump(ctx context.Context, t protocol.Transport, req driver.AcquisitionRequest, sink driver.FrameSink, summary *driver.AcquisitionSummary) error {
	var last uint32
	for i := 0; i < req.Frames; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		raw, err := readExact(ctx, t, codec.StreamFrameSize, "stream frame")
		if err != nil {
			return err
		}
		header, payload, err := codec.DecodeStreamFrame(raw)
		if err != nil {
			return err
		}
		if c.config.CheckMarker {
			if err := header.CheckMarker(c.config.StreamMarker); err != nil {
				return err
			}
		}

		if i == 0 {
			summary.FirstSequence = header.Sequence
		} else if want := last + 1; header.Sequence != want {
			return &DataLossError{Expected: want, Actual: header.Sequence, Frame: i}
		}
		last = header.Sequence

		if err := sink.WriteFrame(header, payload); err != nil {
			return fmt.Errorf("adc: sink: %w", err)
		}

		summary.Frames++
		summary.LastSequence = header.Sequence
		summary.Bytes += int64(len(payload))
		summary.Samples += int64(len(payload) / codec.SampleWidth)

		if summary.Frames%c.config.ProgressEvery == 0 || summary.Frames == req.Frames {
			c.notifyProgress(summary.Frames, req.Frames)
		}
	}
	return nil
}

// fail is the recovery path: one stop attempt, sink abort, original error.
func (c *Client) fail(ctx context.Context, t protocol.Transport, sink driver.FrameSink, summary *driver.AcquisitionSummary, req driver.AcquisitionRequest, cause error) error {
	c.setAcquisitionState(AcquisitionStopping)

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.config.StopTimeout)
	defer cancel()
	if err := c.stop(stopCtx, t, false); err != nil {
		c.logger.Warn("Best-effort stop after acquisition failure failed",
			zap.Error(err),
			zap.NamedError("cause", cause),
		)
	}

	c.abortSink(sink, cause)
	c.logger.LogAcquisition(summary.Frames, req.Frames, time.Since(summary.StartedAt), cause)
	c.notifyError(cause)
	return cause
}

func (c *Client) abortSink(sink driver.FrameSink, cause error) {
	if err := sink.Abort(cause); err != nil {
		c.logger.Warn("Failed to abort sink", zap.Error(err))
	}
}

// StopAcquisition sends ADC_OFF and drains the stream until the stopped
// acknowledgement is seen. It fails with ErrBusy while this client is
// running an acquisition; cancel that acquisition's context instead.
func (c *Client) StopAcquisition(ctx context.Context) error {
	if err := c.claim(AcquisitionStopping); err != nil {
		return err
	}
	defer c.setAcquisitionState(AcquisitionStopped)
	c.mu.Lock()
	defer c.mu.Unlock()

	t, err := c.activeTransport()
	if err != nil {
		return err
	}
	return c.stop(ctx, t, true)
}

// stop sends ADC_OFF and drains the stream frame by frame until its
// acknowledgement arrives, bounded by StopMaxAttempts receives and
// StopTimeout overall. With resend set, ADC_OFF is sent again after every
// silent receive timeout.
func (c *Client) stop(ctx context.Context, t protocol.Transport, resend bool) (err error) {
	spec, err := c.config.Commands.Lookup(CmdADCOff)
	if err != nil {
		return err
	}

	startTime := time.Now()
	c.setCallState(CallIdle)
	defer func() {
		if err != nil {
			c.setCallState(CallFailed)
		} else {
			c.setCallState(CallValidated)
		}
		c.recordResult(time.Since(startTime), err)
		c.logger.LogCommand(spec.Name, time.Since(startTime), err)
	}()

	stopCtx, cancel := context.WithTimeout(ctx, c.config.StopTimeout)
	defer cancel()

	if err := t.Send(stopCtx, spec.Opcode); err != nil {
		return err
	}
	c.setCallState(CallSent)
	c.setCallState(CallAwaitingResponse)

	var pending []byte
	marker := c.config.StreamMarker[:]

	for attempt := 1; attempt <= c.config.StopMaxAttempts; attempt++ {
		chunk, err := t.Receive(stopCtx, drainChunk)
		switch {
		case err == nil:
			var found bool
			pending, found = scanDrain(append(pending, chunk...), marker, spec.Ack)
			if found {
				c.logger.Debug("Device confirmed stop", zap.Int("attempts", attempt))
				return nil
			}

		case errors.Is(err, protocol.ErrReceiveTimeout):
			if !resend {
				continue
			}
			c.logger.Debug("No data while stopping, resending ADC_OFF", zap.Int("attempt", attempt))
			if err := t.Send(stopCtx, spec.Opcode); err != nil {
				return err
			}

		case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
			return fmt.Errorf("%w: no ack within %s", ErrStopTimeout, c.config.StopTimeout)

		default:
			return err
		}
	}
	return fmt.Errorf("%w: no ack after %d receives", ErrStopTimeout, c.config.StopMaxAttempts)
}

// scanDrain consumes whole stream frames from the front of pending and
// reports whether the stopped ack starts at a frame boundary. Ack bytes
// inside a frame payload never match. Bytes out of frame alignment are
// skipped up to the next marker or ack. The returned slice holds what is
// still undecided.
func scanDrain(pending, marker, ack []byte) ([]byte, bool) {
	for len(pending) > 0 {
		switch {
		case bytes.HasPrefix(pending, marker):
			if len(pending) < codec.StreamFrameSize {
				return pending, false
			}
			pending = pending[codec.StreamFrameSize:]
		case bytes.HasPrefix(pending, ack):
			return pending, true
		case bytes.HasPrefix(marker, pending), bytes.HasPrefix(ack, pending):
			return pending, false
		default:
			next := nextBoundary(pending[1:], marker, ack)
			if next < 0 {
				keep := max(len(marker), len(ack)) - 1
				if len(pending) > keep {
					pending = pending[len(pending)-keep:]
				}
				return append([]byte(nil), pending...), false
			}
			pending = pending[1+next:]
		}
	}
	return pending, false
}

// nextBoundary returns the index of the first marker or ack in b, or -1.
func nextBoundary(b, marker, ack []byte) int {
	i, j := bytes.Index(b, marker), bytes.Index(b, ack)
	switch {
	case i < 0:
		return j
	case j < 0:
		return i
	default:
		return min(i, j)
	}
}

func (c *Client) notifyProgress(frames, total int) {
	c.stateMu.RLock()
	handler := c.eventHandler
	c.stateMu.RUnlock()
	if handler != nil {
		handler.OnAcquisitionProgress(c.config.DeviceID, frames, total)
	}
}
