// Package service runs the acquisition session controller: a single event
// loop that owns the active session and serializes every command and every
// asynchronous completion against it.
package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/facescan/internal/adapters/capture"
	"github.com/okian/facescan/internal/adapters/transport"
	"github.com/okian/facescan/internal/domain/dedupe"
	"github.com/okian/facescan/internal/domain/geometry"
	"github.com/okian/facescan/internal/domain/model"
	"github.com/okian/facescan/internal/domain/outcome"
	"github.com/okian/facescan/internal/domain/session"
	"github.com/okian/facescan/internal/domain/types"
	"github.com/okian/facescan/pkg/logger"
	"github.com/okian/facescan/pkg/metrics"
)

const (
	defaultFrameInterval    = 300 * time.Millisecond
	defaultProgressInterval = 250 * time.Millisecond
	defaultProgressStep     = 0.05
	defaultInboxSize        = 64
)

// run is the loop-owned state of one session instance.
type run struct {
	s      *session.Session
	ctx    context.Context
	cancel context.CancelFunc
	log    logger.Logger

	adapter    transport.Adapter
	sendCancel context.CancelFunc
	seen       dedupe.Deduper
	mapper     geometry.Mapper

	capturing bool
	lookingUp bool

	candidate  *model.MatchCandidate
	details    *model.CaseDetails
	detailsErr error
	live       *model.CapturedImage
	event      *model.TerminalEvent
	err        error

	tornDown bool
}

// Controller implements the session operations used by the HTTP API and the CLI.
type Controller struct {
	camera     *capture.Camera
	transports transport.Factory
	outcomes   *outcome.Handler
	logger     logger.Logger

	defaultMode      model.TransportMode
	frameInterval    time.Duration
	progressInterval time.Duration
	progressStep     float64
	captureOnMatch   bool
	inboxSize        int

	mu      sync.Mutex
	inbox   chan func()
	started bool
	cancel  context.CancelFunc
	done    chan struct{}

	// Loop-owned.
	base      context.Context
	active    *run
	lastImage *model.CapturedImage
	lastMode  model.TransportMode
	preview   model.Dimensions

	snapMu  sync.RWMutex
	snap    types.Snapshot
	changed chan struct{}

	sessionsStarted atomic.Int64
	staleDiscarded  atomic.Int64
}

// Option applies a configuration option to the Controller.
type Option func(*Controller)

// WithLogger sets a custom logger for the controller.
func WithLogger(l logger.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithDefaultMode sets the transport used when a start names none.
func WithDefaultMode(mode model.TransportMode) Option {
	return func(c *Controller) {
		if mode != "" {
			c.defaultMode = mode
		}
	}
}

// WithFrameInterval sets the streaming capture cadence.
func WithFrameInterval(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.frameInterval = d
		}
	}
}

// WithProgress sets how often and by how much the processing indicator advances.
func WithProgress(interval time.Duration, step float64) Option {
	return func(c *Controller) {
		if interval > 0 {
			c.progressInterval = interval
		}
		if step > 0 {
			c.progressStep = step
		}
	}
}

// WithCaptureOnMatch takes an extra still when a streaming match lands.
func WithCaptureOnMatch(enabled bool) Option {
	return func(c *Controller) {
		c.captureOnMatch = enabled
	}
}

// New constructs a Controller. Call Start before issuing commands.
func New(camera *capture.Camera, transports transport.Factory, outcomes *outcome.Handler, opts ...Option) *Controller {
	c := &Controller{
		camera:           camera,
		transports:       transports,
		outcomes:         outcomes,
		defaultMode:      model.ModeRequest,
		frameInterval:    defaultFrameInterval,
		progressInterval: defaultProgressInterval,
		progressStep:     defaultProgressStep,
		inboxSize:        defaultInboxSize,
		snap:             types.Snapshot{State: session.StateIdle},
		changed:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logger.Get().Named("controller")
	}
	return c
}

// Start launches the event loop.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return nil
	}
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.inbox = make(chan func(), c.inboxSize)
	c.cancel = cancel
	c.done = make(chan struct{})
	c.base = loopCtx
	c.started = true
	go c.loop(loopCtx, c.done)

	c.logger.Info(ctx, "session controller started",
		logger.String("default_mode", string(c.defaultMode)),
		logger.Duration("frame_interval", c.frameInterval))
	return nil
}

// Stop cancels the active session and waits for the loop to exit.
func (c *Controller) Stop() {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	cancel, done := c.cancel, c.done
	c.started = false
	c.mu.Unlock()

	cancel()
	<-done
	c.logger.Info(context.Background(), "session controller stopped")
}

func (c *Controller) loopChans() (chan func(), chan struct{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done == nil {
		return nil, nil, false
	}
	return c.inbox, c.done, true
}

func (c *Controller) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(c.progressInterval)
	defer ticker.Stop()

	c.publish()
	for {
		select {
		case <-ctx.Done():
			if r := c.active; r != nil {
				c.cancelRun(r, model.CancelNavigatedAway)
				c.teardown(r)
			}
			c.publish()
			return
		case fn := <-c.inbox:
			fn()
			c.publish()
		case <-ticker.C:
			if c.tick() {
				c.publish()
			}
		}
	}
}

// exec runs fn on the loop and returns once the resulting snapshot is published.
func (c *Controller) exec(ctx context.Context, fn func() error) error {
	inbox, done, ok := c.loopChans()
	if !ok {
		return ErrNotStarted
	}
	reply := make(chan error, 1)
	msg := func() {
		err := fn()
		c.publish()
		reply <- err
	}
	select {
	case inbox <- msg:
	case <-done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// deliver posts an async completion for session id. Completions whose session
// is no longer active are dropped; a non-empty kind counts the drop.
func (c *Controller) deliver(id model.SessionID, kind string, fn func(r *run)) {
	inbox, done, ok := c.loopChans()
	if !ok {
		return
	}
	msg := func() {
		r := c.active
		if r == nil || r.s.ID != id {
			if kind != "" {
				c.discard(kind, id)
			}
			return
		}
		fn(r)
	}
	select {
	case inbox <- msg:
	case <-done:
	}
}

// discard counts a completion that arrived for a session, or a state, that
// has moved on.
func (c *Controller) discard(kind string, id model.SessionID) {
	c.staleDiscarded.Add(1)
	metrics.RecordStaleDiscarded(kind)
	c.logger.Debug(context.Background(), "discarded stale completion",
		logger.String("kind", kind),
		logger.String("session_id", string(id)))
}

func (c *Controller) tick() bool {
	r := c.active
	if r == nil || r.s.State() != session.StateProcessing {
		return false
	}
	before := r.s.Progress()
	r.s.AdvanceProgress(c.progressStep)
	metrics.UpdateSessionProgress(r.s.Progress())
	return r.s.Progress() != before
}

func (c *Controller) publish() {
	snap := c.buildSnapshot()
	c.snapMu.Lock()
	c.snap = snap
	close(c.changed)
	c.changed = make(chan struct{})
	c.snapMu.Unlock()
}

// Snapshot returns the latest published view of the active session.
func (c *Controller) Snapshot() types.Snapshot {
	c.snapMu.RLock()
	defer c.snapMu.RUnlock()
	return c.snap
}

// WaitFor blocks until pred accepts a published snapshot or ctx ends.
func (c *Controller) WaitFor(ctx context.Context, pred func(types.Snapshot) bool) (types.Snapshot, error) {
	for {
		c.snapMu.RLock()
		snap, changed := c.snap, c.changed
		c.snapMu.RUnlock()

		if pred(snap) {
			return snap, nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return snap, ctx.Err()
		}
	}
}

// GetStats returns controller statistics for monitoring.
func (c *Controller) GetStats() map[string]interface{} {
	c.mu.Lock()
	started := c.started
	c.mu.Unlock()

	snap := c.Snapshot()
	return map[string]interface{}{
		"started":         started,
		"state":           string(snap.State),
		"sessionId":       string(snap.SessionID),
		"sessionsStarted": c.sessionsStarted.Load(),
		"staleDiscarded":  c.staleDiscarded.Load(),
	}
}
