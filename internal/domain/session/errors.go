package session

import "errors"

// Sentinel error kinds for this package. These allow errors.Is/As from callers.
var (
	ErrInvalidTransition = errors.New("invalid session transition")
	ErrNoImage           = errors.New("session holds no image")
	ErrResolved          = errors.New("session already resolved")
)
