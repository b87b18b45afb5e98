package service

import (
	"errors"
	"net/http"

	"github.com/okian/facescan/internal/adapters/capture"
	"github.com/okian/facescan/internal/adapters/transport"
	"github.com/okian/facescan/internal/domain/model"
	"github.com/okian/facescan/internal/domain/outcome"
	"github.com/okian/facescan/internal/domain/session"
	"github.com/okian/facescan/internal/domain/types"
)

// buildSnapshot runs on the loop and copies everything it exposes.
func (c *Controller) buildSnapshot() types.Snapshot {
	snap := types.Snapshot{State: session.StateIdle}
	if c.preview.Valid() {
		p := c.preview
		snap.Preview = &p
	}
	r := c.active
	if r == nil {
		snap.CanRetry = c.lastImage != nil
		return snap
	}

	st := r.s.State()
	snap.SessionID = r.s.ID
	snap.State = st
	snap.Mode = r.s.Mode
	snap.Path = r.s.Path()
	snap.Progress = r.s.Progress()
	snap.CancelReason = r.s.CancelReason
	snap.SeenMatches = r.seen.IDs()
	snap.Busy = r.capturing || r.lookingUp || st == session.StateProcessing
	snap.CanRetry = c.lastImage != nil && (session.IsTerminal(st) || st == session.StateIdle)

	started := r.s.StartedAt
	snap.StartedAt = &started
	if !r.s.LastFrameAt.IsZero() {
		last := r.s.LastFrameAt
		snap.LastFrameAt = &last
	}
	if img, ok := r.s.Image(); ok {
		snap.Image = &types.ImageInfo{
			Width:      img.Width,
			Height:     img.Height,
			PreviewRef: img.PreviewRef,
			CapturedAt: img.CapturedAt,
		}
	}
	if st == session.StateProcessing || st == session.StateMatchFound {
		if box, ok := r.mapper.Overlay(); ok {
			snap.Overlay = &box
		}
	}
	if r.candidate != nil || st == session.StateNoMatch {
		var live *model.Dimensions
		if r.live != nil {
			d := r.live.Dimensions()
			live = &d
		}
		view := outcome.Render(r.candidate, r.details, r.detailsErr, live)
		snap.Outcome = &view
		snap.Guidance = view.Guidance
	}
	if r.event != nil {
		ev := *r.event
		snap.Event = &ev
	}
	if r.err != nil {
		snap.Error = r.err.Error()
		snap.ErrorClass = errorClass(r.err)
		if g := guidanceFor(r.err); g != model.GuidanceNone {
			snap.Guidance = g
		}
	}
	return snap
}

func errorClass(err error) string {
	switch {
	case errors.Is(err, ErrCamera):
		return "camera"
	case errors.Is(err, capture.ErrCapture):
		return "capture"
	}
	return transport.Class(err)
}

// guidanceFor tells the operator whether to resend the same frame or take a new one.
func guidanceFor(err error) model.Guidance {
	if errors.Is(err, capture.ErrCapture) {
		return model.GuidanceRetake
	}
	if errors.Is(err, ErrCamera) {
		return model.GuidanceNone
	}
	var te *transport.Error
	if errors.As(err, &te) && errors.Is(err, transport.ErrMatchService) &&
		te.Status >= http.StatusBadRequest && te.Status < http.StatusInternalServerError {
		return model.GuidanceRetake
	}
	return model.GuidanceRetry
}
