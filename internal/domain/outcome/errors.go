package outcome

import "errors"

// Sentinel error kinds for this package. These allow errors.Is/As from callers.
var (
	ErrDetailsUnavailable = errors.New("case details unavailable")
	ErrInvalidDecision    = errors.New("invalid decision")
	ErrNoCandidate        = errors.New("no match candidate to decide on")
	ErrEmitFailed         = errors.New("terminal event not accepted")
)
