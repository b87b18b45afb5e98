// Package types contains the read models shared by the controller and the API.
package types

import (
	"time"

	"github.com/okian/facescan/internal/domain/model"
	"github.com/okian/facescan/internal/domain/outcome"
	"github.com/okian/facescan/internal/domain/session"
)

// ImageInfo describes the held or last sent frame without its bytes.
type ImageInfo struct {
	Width      int       `json:"width"`
	Height     int       `json:"height"`
	PreviewRef string    `json:"preview_ref,omitempty"`
	CapturedAt time.Time `json:"captured_at"`
}

// Snapshot is a consistent view of the active session.
type Snapshot struct {
	SessionID    model.SessionID      `json:"session_id,omitempty"`
	State        session.State        `json:"state"`
	Mode         model.TransportMode  `json:"mode,omitempty"`
	Path         []session.State      `json:"path,omitempty"`
	Progress     float64              `json:"progress"`
	StartedAt    *time.Time           `json:"started_at,omitempty"`
	LastFrameAt  *time.Time           `json:"last_frame_at,omitempty"`
	CancelReason model.CancelReason   `json:"cancel_reason,omitempty"`
	Image        *ImageInfo           `json:"image,omitempty"`
	Preview      *model.Dimensions    `json:"preview,omitempty"`
	Overlay      *model.OverlayBox    `json:"overlay,omitempty"`
	Outcome      *outcome.View        `json:"outcome,omitempty"`
	Event        *model.TerminalEvent `json:"event,omitempty"`
	SeenMatches  []string             `json:"seen_matches,omitempty"`
	Busy         bool                 `json:"busy"`
	Error        string               `json:"error,omitempty"`
	ErrorClass   string               `json:"error_class,omitempty"`
	Guidance     model.Guidance       `json:"guidance,omitempty"`
	CanRetry     bool                 `json:"can_retry"`
}
