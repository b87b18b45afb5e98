package capture

import "errors"

// Sentinel error kinds for this package. These allow errors.Is/As from callers.
var (
	ErrBusy     = errors.New("camera held by another session")
	ErrNotOwner = errors.New("camera not held by this session")
	ErrNoFrames = errors.New("no frames available")
	ErrCapture  = errors.New("capture failed")
	ErrEncode   = errors.New("encode failed")
)
