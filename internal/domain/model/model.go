// Package model contains domain models passed between layers.
package model

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SessionID identifies one acquisition session.
type SessionID string

// NewSessionID returns a fresh random session id.
func NewSessionID() SessionID { return SessionID(uuid.NewString()) }

// TransportMode selects how frames reach the match service.
type TransportMode string

const (
	ModeStreaming TransportMode = "streaming"
	ModeRequest   TransportMode = "request"
)

// ParseTransportMode accepts "streaming" or "request" (case-insensitive).
func ParseTransportMode(s string) (TransportMode, error) {
	switch TransportMode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeStreaming:
		return ModeStreaming, nil
	case ModeRequest:
		return ModeRequest, nil
	}
	return "", fmt.Errorf("unknown transport mode %q", s)
}

// CancelReason records why a session left the normal decision path.
type CancelReason string

const (
	CancelNone          CancelReason = ""
	CancelByOperator    CancelReason = "cancelled"
	CancelTransport     CancelReason = "transport_error"
	CancelTimeout       CancelReason = "timeout"
	CancelServiceError  CancelReason = "service_error"
	CancelNavigatedAway CancelReason = "navigated_away"
	CancelSuperseded    CancelReason = "superseded"
)

// Dimensions is a pixel width and height.
type Dimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Valid reports whether both sides are positive.
func (d Dimensions) Valid() bool { return d.Width > 0 && d.Height > 0 }

// CapturedImage is one encoded still from the camera.
type CapturedImage struct {
	Data        []byte
	ContentType string
	Width       int
	Height      int
	// PreviewRef names the source of the frame for display.
	PreviewRef string
	CapturedAt time.Time
}

// Dimensions returns the pixel size the image was encoded at.
func (c CapturedImage) Dimensions() Dimensions {
	return Dimensions{Width: c.Width, Height: c.Height}
}

// DataURL frames the image as data:<type>;base64,<payload>.
func (c CapturedImage) DataURL() string {
	ct := c.ContentType
	if ct == "" {
		ct = "image/jpeg"
	}
	return "data:" + ct + ";base64," + base64.StdEncoding.EncodeToString(c.Data)
}

// DetectionBox is a face rectangle in the coordinate space of the image
// that was sent to the match service.
type DetectionBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

func (b DetectionBox) Area() float64 { return b.Width * b.Height }

// OverlayBox is a DetectionBox mapped into preview coordinates.
type OverlayBox struct {
	Top    float64 `json:"top"`
	Left   float64 `json:"left"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// MatchCandidate is the match service's verdict on one image.
type MatchCandidate struct {
	MatchFound      bool          `json:"match_found"`
	Confidence      float64       `json:"confidence"`
	Distance        *float64      `json:"distance,omitempty"`
	MatchedRecordID string        `json:"matched_record_id,omitempty"`
	FilePath        string        `json:"file_path,omitempty"`
	DetectionBox    *DetectionBox `json:"detection_box,omitempty"`
	ServerMessage   string        `json:"server_message,omitempty"`
	SightingRef     string        `json:"sighting_ref,omitempty"`
	ReceivedAt      time.Time     `json:"received_at"`
}

// noFaceMarker is how the match service phrases a frame it could not read.
const noFaceMarker = "no face detected"

// FaceNotDetected reports a non-match caused by an unreadable image rather
// than an unknown face.
func (m MatchCandidate) FaceNotDetected() bool {
	return !m.MatchFound && strings.Contains(strings.ToLower(m.ServerMessage), noFaceMarker)
}

// CaseDetails is the case record behind a matched id.
type CaseDetails struct {
	RecordID    string `json:"record_id"`
	Name        string `json:"name,omitempty"`
	Age         int    `json:"age,omitempty"`
	Gender      string `json:"gender,omitempty"`
	LastSeen    string `json:"last_seen,omitempty"`
	Status      string `json:"status,omitempty"`
	Description string `json:"description,omitempty"`
	ImageURL    string `json:"image_url,omitempty"`
}

// Decision is the operator's verdict, or no_match for a dismissed session.
type Decision string

const (
	DecisionConfirmed Decision = "confirmed"
	DecisionRejected  Decision = "rejected"
	DecisionNoMatch   Decision = "no_match"
)

// TerminalEvent is emitted once when a session resolves through a decision.
type TerminalEvent struct {
	EventID         string    `json:"event_id"`
	SessionID       SessionID `json:"session_id"`
	MatchedRecordID string    `json:"matched_record_id,omitempty"`
	Decision        Decision  `json:"decision"`
	Confidence      float64   `json:"confidence,omitempty"`
	Mode            string    `json:"mode"`
	DecidedAt       time.Time `json:"decided_at"`
}

// Guidance tells the operator what to do after a failed or empty attempt.
type Guidance string

const (
	GuidanceNone   Guidance = ""
	GuidanceRetry  Guidance = "retry"
	GuidanceRetake Guidance = "retake"
)
