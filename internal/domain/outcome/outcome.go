// Package outcome turns match candidates into operator-facing views and
// operator decisions into terminal events.
package outcome

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/okian/facescan/internal/domain/model"
	"github.com/okian/facescan/pkg/logger"
)

// Directory resolves a matched record id to its case.
type Directory interface {
	Lookup(ctx context.Context, recordID string) (model.CaseDetails, error)
}

// Sink accepts terminal events for delivery to downstream collaborators.
type Sink interface {
	Emit(ctx context.Context, ev model.TerminalEvent) error
}

// Handler is stateless; the caller guarantees one Decide or Complete per session.
type Handler struct {
	directory Directory
	sink      Sink
	logger    logger.Logger
	now       func() time.Time
}

// Option configures a Handler.
type Option func(*Handler)

func WithLogger(l logger.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

// New builds a Handler. A nil directory makes every lookup degrade.
func New(directory Directory, sink Sink, opts ...Option) *Handler {
	h := &Handler{
		directory: directory,
		sink:      sink,
		logger:    logger.Get(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Details looks up the case behind recordID. Failures wrap ErrDetailsUnavailable
// and leave the match itself standing.
func (h *Handler) Details(ctx context.Context, recordID string) (model.CaseDetails, error) {
	if h.directory == nil {
		return model.CaseDetails{}, fmt.Errorf("%w: no directory configured", ErrDetailsUnavailable)
	}
	d, err := h.directory.Lookup(ctx, recordID)
	if err != nil {
		return model.CaseDetails{}, fmt.Errorf("%w: %w", ErrDetailsUnavailable, err)
	}
	if d.RecordID == "" {
		d.RecordID = recordID
	}
	return d, nil
}

// Decide records the operator verdict on a surfaced match. The returned event
// is valid even when emission fails; the error then wraps ErrEmitFailed.
func (h *Handler) Decide(ctx context.Context, id model.SessionID, mode model.TransportMode, cand *model.MatchCandidate, decision model.Decision) (model.TerminalEvent, error) {
	if decision != model.DecisionConfirmed && decision != model.DecisionRejected {
		return model.TerminalEvent{}, fmt.Errorf("%w: %q", ErrInvalidDecision, decision)
	}
	if cand == nil || !cand.MatchFound {
		return model.TerminalEvent{}, ErrNoCandidate
	}
	ev := h.event(id, mode, decision)
	ev.MatchedRecordID = cand.MatchedRecordID
	ev.Confidence = cand.Confidence
	return ev, h.emit(ctx, ev)
}

// Complete records a dismissed no-match session.
func (h *Handler) Complete(ctx context.Context, id model.SessionID, mode model.TransportMode) (model.TerminalEvent, error) {
	ev := h.event(id, mode, model.DecisionNoMatch)
	return ev, h.emit(ctx, ev)
}

func (h *Handler) event(id model.SessionID, mode model.TransportMode, decision model.Decision) model.TerminalEvent {
	return model.TerminalEvent{
		EventID:   uuid.NewString(),
		SessionID: id,
		Decision:  decision,
		Mode:      string(mode),
		DecidedAt: h.now(),
	}
}

func (h *Handler) emit(ctx context.Context, ev model.TerminalEvent) error {
	if h.sink == nil {
		return nil
	}
	if err := h.sink.Emit(ctx, ev); err != nil {
		h.logger.Error(ctx, "terminal event not accepted",
			logger.String("session_id", string(ev.SessionID)),
			logger.String("decision", string(ev.Decision)),
			logger.Error(err))
		return fmt.Errorf("%w: %w", ErrEmitFailed, err)
	}
	h.logger.Info(ctx, "terminal event emitted",
		logger.String("session_id", string(ev.SessionID)),
		logger.String("event_id", ev.EventID),
		logger.String("matched_record_id", ev.MatchedRecordID),
		logger.String("decision", string(ev.Decision)))
	return nil
}
