package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"adc-service/internal/codec"
	"adc-service/internal/driver/adc"
	"adc-service/internal/protocol"
	"adc-service/internal/service"
	"adc-service/internal/utils"
)

// statusForError maps service and driver errors onto HTTP status codes
func statusForError(err error) int {
	switch {
	case errors.Is(err, codec.ErrValue):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrDeviceNotFound), errors.Is(err, service.ErrAcquisitionNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrDeviceBusy), errors.Is(err, adc.ErrBusy), errors.Is(err, service.ErrAcquisitionFinished):
		return http.StatusConflict
	case errors.Is(err, protocol.ErrConnection), errors.Is(err, protocol.ErrNotOpen):
		return http.StatusServiceUnavailable
	case errors.Is(err, protocol.ErrReceiveTimeout), errors.Is(err, adc.ErrStopTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, codec.ErrDecode), errors.Is(err, adc.ErrAckMismatch), errors.Is(err, adc.ErrDataLoss),
		errors.Is(err, protocol.ErrPeerClosed), errors.Is(err, protocol.ErrSend), errors.Is(err, adc.ErrUnknownCommand):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err with its mapped status and error code
func respondError(c *gin.Context, message string, err error) {
	utils.CodedErrorResponse(c, statusForError(err), service.ErrorCode(err), message, err)
}

// bindJSON decodes the request body into obj. Binding rule failures are
// reported per field; malformed JSON is a plain bad request.
func bindJSON(c *gin.Context, obj interface{}) bool {
	err := c.ShouldBindJSON(obj)
	if err == nil {
		return true
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			fields[strings.ToLower(fe.Field())] = fmt.Sprintf("failed on the '%s' rule", fe.Tag())
		}
		utils.ValidationErrorResponse(c, fields)
		return false
	}
	utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
	return false
}

func requestID(c *gin.Context) string {
	return c.GetString("request_id")
}
