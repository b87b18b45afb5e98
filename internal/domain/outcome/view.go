package outcome

import (
	"fmt"

	"github.com/okian/facescan/internal/domain/model"
)

// View is what the operator sees for a processed session.
type View struct {
	MatchFound      bool               `json:"match_found"`
	Confidence      float64            `json:"confidence"`
	ConfidenceLabel string             `json:"confidence_label,omitempty"`
	Distance        *float64           `json:"distance,omitempty"`
	MatchedRecordID string             `json:"matched_record_id,omitempty"`
	FilePath        string             `json:"file_path,omitempty"`
	Message         string             `json:"message"`
	Guidance        model.Guidance     `json:"guidance,omitempty"`
	SightingRef     string             `json:"sighting_ref,omitempty"`
	Details         *model.CaseDetails `json:"details,omitempty"`
	DetailsError    string             `json:"details_error,omitempty"`
	LiveCapture     *model.Dimensions  `json:"live_capture,omitempty"`
}

const (
	msgNoMatch = "No matching record found."
	msgMatch   = "Potential match found."
)

// Render builds the view for cand. details and detailsErr come from a
// Details call; live is the optional snapshot taken when the match landed.
func Render(cand *model.MatchCandidate, details *model.CaseDetails, detailsErr error, live *model.Dimensions) View {
	if cand == nil {
		return View{Message: msgNoMatch}
	}
	v := View{
		MatchFound:      cand.MatchFound,
		Confidence:      cand.Confidence,
		Distance:        cand.Distance,
		MatchedRecordID: cand.MatchedRecordID,
		FilePath:        cand.FilePath,
		SightingRef:     cand.SightingRef,
		Message:         cand.ServerMessage,
		LiveCapture:     live,
	}
	if !cand.MatchFound {
		if v.Message == "" {
			v.Message = msgNoMatch
		}
		if cand.FaceNotDetected() {
			v.Guidance = model.GuidanceRetake
		}
		return v
	}
	v.ConfidenceLabel = fmt.Sprintf("%.1f%%", cand.Confidence*100)
	if v.Message == "" {
		v.Message = msgMatch
	}
	if details != nil {
		d := *details
		v.Details = &d
	}
	if detailsErr != nil {
		v.DetailsError = detailsErr.Error()
	}
	return v
}
