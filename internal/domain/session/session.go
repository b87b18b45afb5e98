package session

import (
	"fmt"
	"time"

	"github.com/okian/facescan/internal/domain/model"
)

// progressCeiling keeps the indicator short of complete until a result lands.
const progressCeiling = 0.95

// Session is one pass through the acquisition lifecycle. It is not safe for
// concurrent use; the controller's event loop owns it.
type Session struct {
	ID           model.SessionID
	Mode         model.TransportMode
	StartedAt    time.Time
	LastFrameAt  time.Time
	CancelReason model.CancelReason

	state    State
	path     []State
	image    *model.CapturedImage
	progress float64
	complete bool
	now      func() time.Time
}

// Option configures a Session.
type Option func(*Session)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		if now != nil {
			s.now = now
		}
	}
}

// New returns a session in idle.
func New(id model.SessionID, mode model.TransportMode, opts ...Option) *Session {
	s := &Session{
		ID:    id,
		Mode:  mode,
		state: StateIdle,
		path:  []State{StateIdle},
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.StartedAt = s.now()
	return s
}

func (s *Session) State() State { return s.state }

// Path returns a copy of every state visited, in order.
func (s *Session) Path() []State {
	out := make([]State, len(s.path))
	copy(out, s.path)
	return out
}

// Transition moves along a decision-path edge.
func (s *Session) Transition(to State) error {
	if !CanTransition(s.state, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.state, to)
	}
	s.enter(to)
	return nil
}

// Cancel resolves the session from any non-terminal state.
func (s *Session) Cancel(reason model.CancelReason) error {
	if !CanCancel(s.state) {
		return fmt.Errorf("%w: cancel from %s", ErrResolved, s.state)
	}
	s.CancelReason = reason
	s.complete = true
	s.enter(StateResolved)
	return nil
}

func (s *Session) enter(to State) {
	if to == StateProcessing {
		s.progress = 0
		s.complete = false
	}
	if to == StateCapturing {
		s.image = nil
	}
	s.state = to
	s.path = append(s.path, to)
}

// Hold stores the captured image and moves capturing -> preview.
func (s *Session) Hold(img model.CapturedImage) error {
	if err := s.Transition(StatePreview); err != nil {
		return err
	}
	s.image = &img
	return nil
}

// Retake drops the held image and moves preview -> capturing.
func (s *Session) Retake() error {
	if s.state != StatePreview {
		return fmt.Errorf("%w: retake from %s", ErrInvalidTransition, s.state)
	}
	return s.Transition(StateCapturing)
}

// Submit moves preview -> processing; the held image must be present.
func (s *Session) Submit() (model.CapturedImage, error) {
	if s.image == nil {
		return model.CapturedImage{}, ErrNoImage
	}
	if err := s.Transition(StateProcessing); err != nil {
		return model.CapturedImage{}, err
	}
	return *s.image, nil
}

// Image returns the held image, if any.
func (s *Session) Image() (model.CapturedImage, bool) {
	if s.image == nil {
		return model.CapturedImage{}, false
	}
	return *s.image, true
}

// MarkFrame records that a frame left for the match service.
func (s *Session) MarkFrame() { s.LastFrameAt = s.now() }

// Progress is in [0,1], non-decreasing while processing.
func (s *Session) Progress() float64 {
	if s.complete {
		return 1
	}
	return s.progress
}

// AdvanceProgress nudges the indicator forward while processing.
func (s *Session) AdvanceProgress(step float64) {
	if s.state != StateProcessing || s.complete || step <= 0 {
		return
	}
	s.progress += step
	if s.progress > progressCeiling {
		s.progress = progressCeiling
	}
}

// CompleteProgress pins progress at 1 once a result or terminal error lands.
func (s *Session) CompleteProgress() { s.complete = true }
