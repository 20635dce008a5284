package service

import (
	"errors"
	"net/http"

	"connectrpc.com/connect"

	"github.com/mmynk/ajo/internal/gateway"
	"github.com/mmynk/ajo/internal/models"
)

// connectCode maps engine errors onto Connect codes.
func connectCode(err error) connect.Code {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return connect.CodeNotFound
	case errors.Is(err, models.ErrInvalidInput), errors.Is(err, models.ErrAmountMismatch):
		return connect.CodeInvalidArgument
	case errors.Is(err, models.ErrInvalidState), errors.Is(err, models.ErrSequenceExhausted),
		errors.Is(err, gateway.ErrRejected), errors.Is(err, gateway.ErrTransferFailed):
		return connect.CodeFailedPrecondition
	case errors.Is(err, models.ErrInvariantViolation):
		return connect.CodeAborted
	case errors.Is(err, models.ErrDuplicateOperation):
		return connect.CodeAlreadyExists
	case errors.Is(err, models.ErrExternalTimeout), errors.Is(err, gateway.ErrUnavailable):
		return connect.CodeUnavailable
	}
	return connect.CodeInternal
}

func connectError(err error) error {
	return connect.NewError(connectCode(err), err)
}

// httpStatus maps engine errors onto webhook response codes. Rejections are
// 4xx so the gateway stops redelivering; anything else is 5xx so it retries.
func httpStatus(err error) int {
	switch connectCode(err) {
	case connect.CodeNotFound:
		return http.StatusNotFound
	case connect.CodeInvalidArgument:
		if errors.Is(err, models.ErrAmountMismatch) {
			return http.StatusUnprocessableEntity
		}
		return http.StatusBadRequest
	case connect.CodeFailedPrecondition, connect.CodeAborted, connect.CodeAlreadyExists:
		return http.StatusConflict
	case connect.CodeUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
