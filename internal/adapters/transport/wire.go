package transport

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/okian/facescan/internal/domain/geometry"
	"github.com/okian/facescan/internal/domain/model"
)

// wireBox is a face rectangle as the match service reports it.
type wireBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

func (b wireBox) model() model.DetectionBox {
	return model.DetectionBox{X: b.X, Y: b.Y, Width: b.Width, Height: b.Height}
}

// wireMatch is the verdict shared by the request response body and the
// match_result object of a stream message.
type wireMatch struct {
	MatchFound    bool     `json:"match_found"`
	Confidence    float64  `json:"confidence"`
	Distance      *float64 `json:"distance"`
	Filename      string   `json:"filename"`
	MatchedImage  string   `json:"matched_image"`
	FilePath      string   `json:"file_path"`
	Message       string   `json:"message"`
	SightingSaved string   `json:"sighting_saved"`
}

// streamMessage is one JSON text frame from the live stream.
type streamMessage struct {
	FaceDetected bool       `json:"face_detected"`
	FaceBox      *wireBox   `json:"face_box"`
	Faces        []wireBox  `json:"faces"`
	MatchResult  *wireMatch `json:"match_result"`
	Error        string     `json:"error"`
}

// errorBody is the match service's error envelope.
type errorBody struct {
	Detail string `json:"detail"`
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}

// candidate converts the wire verdict. A positive match without any record
// id is rejected; there is nothing stable to deduplicate or look up.
func (m wireMatch) candidate(box *model.DetectionBox, at time.Time) (*model.MatchCandidate, error) {
	id := m.MatchedImage
	if id == "" {
		id = m.Filename
	}
	if m.MatchFound && id == "" {
		return nil, fmt.Errorf("match reported without a record id")
	}
	return &model.MatchCandidate{
		MatchFound:      m.MatchFound,
		Confidence:      clamp01(m.Confidence),
		Distance:        m.Distance,
		MatchedRecordID: id,
		FilePath:        m.FilePath,
		DetectionBox:    box,
		ServerMessage:   m.Message,
		SightingRef:     m.SightingSaved,
		ReceivedAt:      at,
	}, nil
}

// decodeStreamMessage turns one stream frame into a Result.
func decodeStreamMessage(data []byte, at time.Time) (Result, error) {
	var msg streamMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return Result{}, err
	}
	if msg.Error != "" {
		return Result{}, &Error{Op: "stream.read", Kind: ErrMatchService, Detail: msg.Error}
	}

	res := Result{FaceDetected: msg.FaceDetected, ReceivedAt: at}
	if msg.FaceDetected {
		boxes := make([]model.DetectionBox, 0, len(msg.Faces)+1)
		if msg.FaceBox != nil {
			boxes = append(boxes, msg.FaceBox.model())
		}
		for _, f := range msg.Faces {
			boxes = append(boxes, f.model())
		}
		res.Detection = geometry.Primary(boxes)
	}
	if msg.MatchResult != nil {
		cand, err := msg.MatchResult.candidate(res.Detection, at)
		if err != nil {
			return Result{}, err
		}
		res.Candidate = cand
	}
	return res, nil
}

// decodeMatchResponse parses a successful request response body.
func decodeMatchResponse(data []byte, at time.Time) (*model.MatchCandidate, error) {
	var m wireMatch
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m.candidate(nil, at)
}

// decodeErrorDetail extracts {"detail": ...} or falls back to the raw body.
func decodeErrorDetail(data []byte) string {
	var body errorBody
	if err := json.Unmarshal(data, &body); err == nil && body.Detail != "" {
		return body.Detail
	}
	const maxDetail = 256
	if len(data) > maxDetail {
		return string(data[:maxDetail])
	}
	return string(data)
}
