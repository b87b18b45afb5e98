// Package dedupe tracks matched record ids already surfaced within a session.
package dedupe

import (
	"context"
	"sync"
)

// Deduper records surfaced record ids to ensure at-most-once surfacing.
type Deduper interface {
	// SeenAndRecord atomically checks if id was seen and records it if not.
	// Returns true if id was already seen, false if it was newly recorded.
	SeenAndRecord(ctx context.Context, id string) bool

	// IDs lists recorded ids in the order they were first seen.
	IDs() []string

	Size() int64
}

// seenMatches is an unbounded set scoped to one session.
type seenMatches struct {
	mu    sync.Mutex
	seen  map[string]struct{}
	order []string
}

// NewSeenMatches returns an empty per-session set.
func NewSeenMatches() Deduper {
	return &seenMatches{seen: make(map[string]struct{})}
}

// SeenAndRecord ignores empty ids; a match without a stable id cannot be
// tracked and is never reported as seen.
func (d *seenMatches) SeenAndRecord(_ context.Context, id string) bool {
	if id == "" {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.seen[id]; exists {
		return true
	}
	d.seen[id] = struct{}{}
	d.order = append(d.order, id)
	return false
}

func (d *seenMatches) IDs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.order))
	copy(out, d.order)
	return out
}

// Size returns the current number of entries.
func (d *seenMatches) Size() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return int64(len(d.order))
}
