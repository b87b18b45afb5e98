package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Sentinel error kinds for this package. These allow errors.Is/As from callers.
var (
	ErrConnect      = errors.New("match service unreachable")
	ErrTimeout      = errors.New("match service timed out")
	ErrMatchService = errors.New("match service error")
	ErrProtocol     = errors.New("malformed match service payload")
	ErrClosed       = errors.New("transport closed")
	ErrAlreadySent  = errors.New("request transport already sent its frame")
)

// Error carries the failing operation, its kind, and the match service's
// status and detail when there was a response.
type Error struct {
	Op     string
	Kind   error
	Status int
	Detail string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Op + ": " + e.Kind.Error()
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Is makes a timeout also match ErrConnect.
func (e *Error) Is(target error) bool {
	return target == ErrConnect && e.Kind == ErrTimeout
}

// WrapKind builds an *Error of kind around err.
func WrapKind(op string, kind, err error) error {
	return &Error{Op: op, Kind: kind, Err: err}
}

// NewKind builds an *Error of kind with no cause.
func NewKind(op string, kind error) error {
	return &Error{Op: op, Kind: kind}
}

// Class names the kind of err for metrics and operator display.
func Class(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrConnect):
		return "connect"
	case errors.Is(err, ErrMatchService):
		return "match_service"
	case errors.Is(err, ErrProtocol):
		return "protocol"
	case errors.Is(err, ErrClosed):
		return "closed"
	}
	return "unknown"
}

// isTimeout reports a deadline hit either on ctx or on the socket.
func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
