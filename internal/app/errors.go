package service

import "errors"

// Sentinel error kinds for this package. These allow errors.Is/As from callers.
var (
	ErrNotStarted      = errors.New("controller not started")
	ErrStopped         = errors.New("controller stopped")
	ErrNoSession       = errors.New("no active session")
	ErrNothingToRetry  = errors.New("no previous image to retry")
	ErrCamera          = errors.New("camera unavailable")
	ErrInvalidArgument = errors.New("invalid argument")
)
