package service

import (
	"context"
	"errors"

	"adc-service/internal/codec"
	"adc-service/internal/driver/adc"
	"adc-service/internal/protocol"
)

// ErrorCode classifies err into a stable, upper-case code used in events
// and API error bodies.
func ErrorCode(err error) string {
	return errorCode(err)
}

func errorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, codec.ErrValue):
		return "INVALID_VALUE"
	case errors.Is(err, ErrDeviceNotFound):
		return "DEVICE_NOT_FOUND"
	case errors.Is(err, ErrAcquisitionNotFound):
		return "ACQUISITION_NOT_FOUND"
	case errors.Is(err, ErrDeviceBusy), errors.Is(err, adc.ErrBusy):
		return "DEVICE_BUSY"
	case errors.Is(err, ErrAcquisitionFinished):
		return "ACQUISITION_FINISHED"
	case errors.Is(err, protocol.ErrConnection), errors.Is(err, protocol.ErrNotOpen):
		return "CONNECTION_FAILED"
	case errors.Is(err, protocol.ErrSend):
		return "SEND_FAILED"
	case errors.Is(err, protocol.ErrPeerClosed):
		return "PEER_CLOSED"
	case errors.Is(err, protocol.ErrReceiveTimeout):
		return "RECEIVE_TIMEOUT"
	case errors.Is(err, adc.ErrStopTimeout):
		return "STOP_TIMEOUT"
	case errors.Is(err, codec.ErrDecode):
		return "DECODE_FAILED"
	case errors.Is(err, adc.ErrAckMismatch):
		return "ACK_MISMATCH"
	case errors.Is(err, adc.ErrDataLoss):
		return "DATA_LOSS"
	case errors.Is(err, adc.ErrUnknownCommand):
		return "UNKNOWN_COMMAND"
	case errors.Is(err, context.Canceled):
		return "CANCELLED"
	case errors.Is(err, context.DeadlineExceeded):
		return "TIMEOUT"
	default:
		return "INTERNAL_ERROR"
	}
}
