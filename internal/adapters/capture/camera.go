package capture

import (
	"context"
	"fmt"
	"sync"

	"github.com/okian/facescan/internal/domain/model"
)

// Camera leases a Source to one session at a time.
type Camera struct {
	src Source

	mu    sync.Mutex
	owner model.SessionID

	// captureMu serializes device reads.
	captureMu sync.Mutex
}

func NewCamera(src Source) *Camera {
	return &Camera{src: src}
}

// Acquire opens the source for owner. Acquiring twice for the same owner is a no-op.
func (c *Camera) Acquire(ctx context.Context, owner model.SessionID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.owner {
	case owner:
		return nil
	case "":
	default:
		return fmt.Errorf("%w: %s", ErrBusy, c.owner)
	}
	if err := c.src.Open(ctx); err != nil {
		return err
	}
	c.owner = owner
	return nil
}

// Release closes the source if owner holds it.
func (c *Camera) Release(owner model.SessionID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.owner != owner || owner == "" {
		return nil
	}
	c.owner = ""
	return c.src.Close()
}

// Capture reads one frame on behalf of owner.
func (c *Camera) Capture(ctx context.Context, owner model.SessionID) (model.CapturedImage, error) {
	c.mu.Lock()
	held := c.owner == owner && owner != ""
	c.mu.Unlock()
	if !held {
		return model.CapturedImage{}, ErrNotOwner
	}

	c.captureMu.Lock()
	defer c.captureMu.Unlock()
	return c.src.Capture(ctx)
}

// Owner returns the session holding the camera, or "".
func (c *Camera) Owner() model.SessionID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.owner
}
