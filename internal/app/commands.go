package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/okian/facescan/internal/domain/dedupe"
	"github.com/okian/facescan/internal/domain/model"
	"github.com/okian/facescan/internal/domain/session"
	"github.com/okian/facescan/pkg/logger"
	"github.com/okian/facescan/pkg/metrics"
)

// StartSession begins a new session, superseding any unresolved one.
// An empty mode selects the configured default.
func (c *Controller) StartSession(ctx context.Context, mode model.TransportMode) error {
	return c.exec(ctx, func() error {
		_, err := c.startSession(mode)
		return err
	})
}

// Capture takes a still from the camera. Completion is asynchronous; a second
// call while a capture is in flight is a no-op.
func (c *Controller) Capture(ctx context.Context) error {
	return c.exec(ctx, func() error {
		r, err := c.require(session.StateCapturing)
		if err != nil {
			return err
		}
		if r.capturing {
			return nil
		}
		c.capture(r)
		return nil
	})
}

// Retake drops the held image and returns to capturing.
func (c *Controller) Retake(ctx context.Context) error {
	return c.exec(ctx, func() error {
		r, err := c.require(session.StatePreview)
		if err != nil {
			return err
		}
		if err := c.apply(r, r.s.Retake); err != nil {
			return err
		}
		r.capturing = false
		r.mapper.Reset()
		return nil
	})
}

// Submit sends the held image to the match service.
func (c *Controller) Submit(ctx context.Context) error {
	return c.exec(ctx, func() error {
		r, err := c.require(session.StatePreview)
		if err != nil {
			return err
		}
		return c.submit(r)
	})
}

// StopScan ends a streaming scan without a match.
func (c *Controller) StopScan(ctx context.Context) error {
	return c.exec(ctx, func() error {
		r, err := c.require(session.StateProcessing)
		if err != nil {
			return err
		}
		if r.s.Mode != model.ModeStreaming {
			return fmt.Errorf("%w: stop applies to streaming sessions", session.ErrInvalidTransition)
		}
		r.stopSending()
		r.closeTransport()
		r.s.CompleteProgress()
		return c.transition(r, session.StateNoMatch)
	})
}

// Confirm records the operator's acceptance of the surfaced match.
func (c *Controller) Confirm(ctx context.Context) error {
	return c.exec(ctx, func() error { return c.decide(ctx, model.DecisionConfirmed) })
}

// Reject records the operator's refusal of the surfaced match.
func (c *Controller) Reject(ctx context.Context) error {
	return c.exec(ctx, func() error { return c.decide(ctx, model.DecisionRejected) })
}

// Dismiss acknowledges a no-match outcome.
func (c *Controller) Dismiss(ctx context.Context) error {
	return c.exec(ctx, func() error {
		r, err := c.require(session.StateNoMatch)
		if err != nil {
			return err
		}
		if err := c.transition(r, session.StateResolved); err != nil {
			return err
		}
		metrics.RecordSessionResolved(string(model.DecisionNoMatch))
		metrics.RecordDecision(string(model.DecisionNoMatch))
		ev, emitErr := c.outcomes.Complete(context.WithoutCancel(ctx), r.s.ID, r.s.Mode)
		r.event = &ev
		c.teardown(r)
		return emitErr
	})
}

// Cancel resolves the active session from any unresolved state.
func (c *Controller) Cancel(ctx context.Context, reason model.CancelReason) error {
	if reason == "" {
		reason = model.CancelByOperator
	}
	return c.exec(ctx, func() error {
		r := c.active
		if r == nil {
			return ErrNoSession
		}
		if session.IsTerminal(r.s.State()) {
			return session.ErrResolved
		}
		c.cancelRun(r, reason)
		return nil
	})
}

// Leave cancels the active session because the operator navigated away.
// It is a no-op when nothing is in flight.
func (c *Controller) Leave(ctx context.Context) error {
	err := c.Cancel(ctx, model.CancelNavigatedAway)
	if errors.Is(err, ErrNoSession) || errors.Is(err, session.ErrResolved) {
		return nil
	}
	return err
}

// Retry starts a new session that resubmits the last submitted image with
// the same transport.
func (c *Controller) Retry(ctx context.Context) error {
	return c.exec(ctx, func() error {
		if c.lastImage == nil {
			return ErrNothingToRetry
		}
		if r := c.active; r != nil {
			st := r.s.State()
			if !session.IsTerminal(st) && st != session.StateIdle {
				return fmt.Errorf("%w: retry from %s", session.ErrInvalidTransition, st)
			}
		}
		img := *c.lastImage
		r, err := c.startSession(c.lastMode)
		if err != nil {
			return err
		}
		if err := c.apply(r, func() error { return r.s.Hold(img) }); err != nil {
			return err
		}
		return c.submit(r)
	})
}

// RefreshDetails repeats a failed case details lookup.
func (c *Controller) RefreshDetails(ctx context.Context) error {
	return c.exec(ctx, func() error {
		r, err := c.require(session.StateMatchFound)
		if err != nil {
			return err
		}
		if r.lookingUp || r.candidate == nil || (r.details != nil && r.detailsErr == nil) {
			return nil
		}
		c.lookupDetails(r, r.candidate.MatchedRecordID)
		return nil
	})
}

// SetPreviewSize records the on-screen preview dimensions used for overlays.
func (c *Controller) SetPreviewSize(ctx context.Context, width, height int) error {
	d := model.Dimensions{Width: width, Height: height}
	if !d.Valid() {
		return fmt.Errorf("%w: preview %dx%d", ErrInvalidArgument, width, height)
	}
	return c.exec(ctx, func() error {
		c.preview = d
		if r := c.active; r != nil {
			r.mapper.SetPreview(d)
		}
		return nil
	})
}

func (c *Controller) startSession(mode model.TransportMode) (*run, error) {
	if mode == "" {
		mode = c.defaultMode
	}
	if prev := c.active; prev != nil {
		if !session.IsTerminal(prev.s.State()) {
			c.cancelRun(prev, model.CancelSuperseded)
		}
		c.teardown(prev)
	}

	id := model.NewSessionID()
	ctx, cancel := context.WithCancel(c.base)
	r := &run{
		s:      session.New(id, mode),
		ctx:    ctx,
		cancel: cancel,
		log:    c.logger.With(logger.String("session_id", string(id)), logger.String("mode", string(mode))),
		seen:   dedupe.NewSeenMatches(),
	}
	r.mapper.SetPreview(c.preview)
	c.active = r
	c.sessionsStarted.Add(1)
	metrics.RecordSessionStarted(string(mode))
	r.log.Info(ctx, "session started")

	if err := c.camera.Acquire(ctx, id); err != nil {
		metrics.RecordCaptureError()
		r.err = fmt.Errorf("%w: %w", ErrCamera, err)
		return r, r.err
	}
	return r, c.transition(r, session.StateCapturing)
}

func (c *Controller) decide(ctx context.Context, decision model.Decision) error {
	r, err := c.require(session.StateMatchFound)
	if err != nil {
		return err
	}
	if err := c.transition(r, session.StateResolved); err != nil {
		return err
	}
	metrics.RecordSessionResolved(string(decision))
	metrics.RecordDecision(string(decision))
	// The session is resolved; the event must not depend on the caller staying.
	ev, emitErr := c.outcomes.Decide(context.WithoutCancel(ctx), r.s.ID, r.s.Mode, r.candidate, decision)
	r.event = &ev
	c.teardown(r)
	return emitErr
}

// require returns the active run if it is in state want.
func (c *Controller) require(want session.State) (*run, error) {
	r := c.active
	if r == nil {
		return nil, ErrNoSession
	}
	if st := r.s.State(); st != want {
		if session.IsTerminal(st) {
			return nil, session.ErrResolved
		}
		return nil, fmt.Errorf("%w: %s required, session is %s", session.ErrInvalidTransition, want, st)
	}
	return r, nil
}

// transition moves r to state to and records it.
func (c *Controller) transition(r *run, to session.State) error {
	return c.apply(r, func() error { return r.s.Transition(to) })
}

// apply runs a session mutation and records the state change it caused.
func (c *Controller) apply(r *run, fn func() error) error {
	from := r.s.State()
	if err := fn(); err != nil {
		return err
	}
	if to := r.s.State(); to != from {
		metrics.RecordTransition(string(from), string(to))
		r.log.Debug(r.ctx, "session transition",
			logger.String("from", string(from)),
			logger.String("to", string(to)))
	}
	return nil
}

// cancelRun resolves r with reason and releases everything it holds.
func (c *Controller) cancelRun(r *run, reason model.CancelReason) {
	if err := c.apply(r, func() error { return r.s.Cancel(reason) }); err == nil {
		metrics.RecordSessionResolved(string(reason))
		r.log.Info(r.ctx, "session cancelled", logger.String("reason", string(reason)))
	}
	c.teardown(r)
}

// teardown stops sending, closes the transport, and releases the camera.
func (c *Controller) teardown(r *run) {
	if r.tornDown {
		return
	}
	r.tornDown = true
	r.stopSending()
	r.closeTransport()
	r.cancel()
	r.capturing = false
	r.lookingUp = false
	_ = c.camera.Release(r.s.ID)
}

func (r *run) stopSending() {
	if r.sendCancel != nil {
		r.sendCancel()
		r.sendCancel = nil
	}
}

func (r *run) closeTransport() {
	if r.adapter != nil {
		if err := r.adapter.Close(); err != nil {
			r.log.Debug(r.ctx, "transport close", logger.Error(err))
		}
	}
}
