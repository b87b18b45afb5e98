package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/okian/facescan/internal/adapters/capture"
	"github.com/okian/facescan/internal/adapters/transport"
	"github.com/okian/facescan/internal/domain/model"
	"github.com/okian/facescan/internal/domain/session"
	"github.com/okian/facescan/pkg/logger"
	"github.com/okian/facescan/pkg/metrics"
)

// Completion kinds, used as the stale-discard metric label.
const (
	kindCapture   = "capture"
	kindOpen      = "transport_open"
	kindSend      = "frame_sent"
	kindResult    = "transport_result"
	kindDetails   = "details"
	kindLiveFrame = "live_capture"
)

// capture starts an asynchronous still for r.
func (c *Controller) capture(r *run) {
	r.capturing = true
	id, ctx := r.s.ID, r.ctx
	go func() {
		img, err := c.camera.Capture(ctx, id)
		c.deliver(id, kindCapture, func(r *run) {
			if r.s.State() != session.StateCapturing {
				c.discard(kindCapture, id)
				return
			}
			r.capturing = false
			if err != nil {
				metrics.RecordCaptureError()
				r.err = fmt.Errorf("%w: %w", capture.ErrCapture, err)
				r.log.Warn(r.ctx, "capture failed", logger.Error(err))
				return
			}
			r.err = nil
			if err := c.apply(r, func() error { return r.s.Hold(img) }); err != nil {
				r.log.Error(r.ctx, "hold captured image", logger.Error(err))
			}
		})
	}()
}

// submit moves r to processing and opens its transport.
func (c *Controller) submit(r *run) error {
	var img model.CapturedImage
	err := c.apply(r, func() error {
		var err error
		img, err = r.s.Submit()
		return err
	})
	if err != nil {
		return err
	}
	r.err = nil
	c.lastImage = &img
	c.lastMode = r.s.Mode
	r.mapper.SetSource(img.Dimensions())

	adapter, err := c.transports(r.s.Mode)
	if err != nil {
		c.failTransport(r, transport.WrapKind("transport.new", transport.ErrConnect, err))
		return nil
	}
	r.adapter = adapter

	id, ctx := r.s.ID, r.ctx
	go func() {
		err := adapter.Open(ctx)
		c.deliver(id, kindOpen, func(r *run) {
			if r.adapter != adapter || r.s.State() != session.StateProcessing {
				return
			}
			if err != nil {
				c.failTransport(r, err)
				return
			}
			sendCtx, cancel := context.WithCancel(r.ctx)
			r.sendCancel = cancel
			go c.pump(id, adapter)
			go c.sendLoop(sendCtx, id, adapter, img)
		})
	}()
	return nil
}

// pump forwards adapter results to the loop until the adapter closes them.
func (c *Controller) pump(id model.SessionID, adapter transport.Adapter) {
	for res := range adapter.Results() {
		c.deliver(id, kindResult, func(r *run) { c.handleResult(r, adapter, res) })
	}
	c.deliver(id, "", func(r *run) { c.streamEnded(r, adapter) })
}

// sendLoop sends the held image and, for streaming, a fresh frame every interval.
func (c *Controller) sendLoop(ctx context.Context, id model.SessionID, adapter transport.Adapter, first model.CapturedImage) {
	if !c.sendFrame(ctx, id, adapter, first) || adapter.Mode() != model.ModeStreaming {
		return
	}
	ticker := time.NewTicker(c.frameInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		img, err := c.camera.Capture(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			metrics.RecordCaptureError()
			c.deliver(id, "", func(r *run) {
				r.log.Warn(r.ctx, "frame capture failed", logger.Error(err))
			})
			continue
		}
		if !c.sendFrame(ctx, id, adapter, img) {
			return
		}
	}
}

func (c *Controller) sendFrame(ctx context.Context, id model.SessionID, adapter transport.Adapter, img model.CapturedImage) bool {
	err := adapter.Send(ctx, img)
	dims := img.Dimensions()
	c.deliver(id, kindSend, func(r *run) {
		if r.adapter != adapter || r.s.State() != session.StateProcessing {
			return
		}
		if err != nil {
			if ctx.Err() == nil {
				c.failTransport(r, err)
			}
			return
		}
		r.s.MarkFrame()
		r.mapper.SetSource(dims)
	})
	return err == nil
}

func (c *Controller) handleResult(r *run, adapter transport.Adapter, res transport.Result) {
	if r.adapter != adapter {
		return
	}
	cand := res.Candidate
	streaming := r.s.Mode == model.ModeStreaming

	if streaming && res.Err == nil && cand != nil && cand.MatchFound {
		if r.seen.SeenAndRecord(r.ctx, cand.MatchedRecordID) {
			metrics.RecordDuplicateSuppressed()
			r.log.Debug(r.ctx, "duplicate match suppressed", logger.String("matched_record_id", cand.MatchedRecordID))
			return
		}
	}
	if r.s.State() != session.StateProcessing {
		c.discard("late_result", r.s.ID)
		return
	}

	if res.Err != nil {
		if streaming && errors.Is(res.Err, transport.ErrProtocol) {
			r.err = res.Err
			r.log.Warn(r.ctx, "skipped malformed stream message", logger.Error(res.Err))
			return
		}
		c.failTransport(r, res.Err)
		return
	}

	if streaming {
		if res.FaceDetected {
			r.mapper.Observe(res.Detection)
		} else {
			r.mapper.Observe(nil)
		}
		r.err = nil
		if cand == nil || !cand.MatchFound {
			return
		}
	}
	if cand == nil {
		c.failTransport(r, transport.NewKind("request.result", transport.ErrProtocol))
		return
	}

	r.s.CompleteProgress()
	r.candidate = cand
	if !cand.MatchFound {
		r.closeTransport()
		if err := c.transition(r, session.StateNoMatch); err == nil {
			r.log.Info(r.ctx, "no match", logger.String("message", cand.ServerMessage))
		}
		return
	}
	c.surfaceMatch(r, cand)
}

// surfaceMatch enters matchFound, pauses sending, and starts the lookups.
func (c *Controller) surfaceMatch(r *run, cand *model.MatchCandidate) {
	if err := c.transition(r, session.StateMatchFound); err != nil {
		r.log.Error(r.ctx, "surface match", logger.Error(err))
		return
	}
	metrics.RecordMatchSurfaced(string(r.s.Mode))
	r.log.Info(r.ctx, "match surfaced",
		logger.String("matched_record_id", cand.MatchedRecordID),
		logger.Float64("confidence", cand.Confidence))

	r.stopSending()
	if r.s.Mode == model.ModeRequest {
		r.closeTransport()
	}
	c.lookupDetails(r, cand.MatchedRecordID)
	if r.s.Mode == model.ModeStreaming && c.captureOnMatch {
		c.liveCapture(r)
	}
}

func (c *Controller) lookupDetails(r *run, recordID string) {
	r.lookingUp = true
	id, ctx := r.s.ID, r.ctx
	go func() {
		details, err := c.outcomes.Details(ctx, recordID)
		c.deliver(id, kindDetails, func(r *run) {
			r.lookingUp = false
			if r.candidate == nil || r.candidate.MatchedRecordID != recordID {
				return
			}
			if err != nil {
				metrics.RecordDetailsLookupError()
				r.detailsErr = err
				return
			}
			r.details = &details
			r.detailsErr = nil
		})
	}()
}

func (c *Controller) liveCapture(r *run) {
	id, ctx := r.s.ID, r.ctx
	go func() {
		img, err := c.camera.Capture(ctx, id)
		c.deliver(id, kindLiveFrame, func(r *run) {
			if err != nil {
				r.log.Debug(r.ctx, "live capture skipped", logger.Error(err))
				return
			}
			r.live = &img
		})
	}()
}

// streamEnded handles the adapter closing its results.
func (c *Controller) streamEnded(r *run, adapter transport.Adapter) {
	if r.adapter != adapter || r.s.State() != session.StateProcessing {
		return
	}
	r.s.CompleteProgress()
	if err := c.transition(r, session.StateIdle); err != nil {
		r.log.Error(r.ctx, "stream ended", logger.Error(err))
		return
	}
	r.err = transport.NewKind("stream", transport.ErrClosed)
	r.log.Info(r.ctx, "stream ended by match service")
	c.teardown(r)
}

// failTransport resolves r with the cancel reason matching err.
func (c *Controller) failTransport(r *run, err error) {
	r.err = err
	r.s.CompleteProgress()
	reason := model.CancelTransport
	switch {
	case errors.Is(err, transport.ErrTimeout):
		reason = model.CancelTimeout
	case errors.Is(err, transport.ErrMatchService):
		reason = model.CancelServiceError
	}
	r.log.Warn(r.ctx, "transport failed",
		logger.String("class", transport.Class(err)),
		logger.Error(err))
	c.cancelRun(r, reason)
}
