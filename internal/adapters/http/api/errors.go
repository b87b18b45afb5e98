package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/okian/facescan/internal/adapters/capture"
	service "github.com/okian/facescan/internal/app"
	"github.com/okian/facescan/internal/domain/outcome"
	"github.com/okian/facescan/internal/domain/session"
)

// Sentinel kinds for API errors.
var (
	ErrBadRequest = errors.New("bad request")
)

// WrapKind annotates err with the handler op and a sentinel kind.
func WrapKind(op string, kind, err error) error {
	return fmt.Errorf("%s: %w: %w", op, kind, err)
}

// NewKind builds an error of kind for op with no cause.
func NewKind(op string, kind error) error {
	return fmt.Errorf("%s: %w", op, kind)
}

// statusFor maps a controller error to its HTTP status and error code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, ErrBadRequest), errors.Is(err, service.ErrInvalidArgument):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, service.ErrNoSession):
		return http.StatusNotFound, "no_session"
	case errors.Is(err, session.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition"
	case errors.Is(err, session.ErrResolved):
		return http.StatusConflict, "resolved"
	case errors.Is(err, service.ErrNothingToRetry):
		return http.StatusConflict, "nothing_to_retry"
	case errors.Is(err, capture.ErrBusy):
		return http.StatusLocked, "camera_busy"
	case errors.Is(err, service.ErrCamera):
		return http.StatusServiceUnavailable, "camera_unavailable"
	case errors.Is(err, outcome.ErrEmitFailed):
		return http.StatusBadGateway, "emit_failed"
	case errors.Is(err, service.ErrNotStarted), errors.Is(err, service.ErrStopped):
		return http.StatusServiceUnavailable, "unavailable"
	}
	return http.StatusInternalServerError, "internal"
}
