// Package geometry maps detection boxes from the frame the match service
// saw into the coordinate space of the operator's preview.
package geometry

import (
	"math"

	"github.com/okian/facescan/internal/domain/model"
)

// MapBox scales box from source pixels to preview pixels, truncating each
// edge toward zero. It returns false when either size is unknown.
func MapBox(box model.DetectionBox, source, preview model.Dimensions) (model.OverlayBox, bool) {
	if !source.Valid() || !preview.Valid() {
		return model.OverlayBox{}, false
	}
	scaleX := float64(preview.Width) / float64(source.Width)
	scaleY := float64(preview.Height) / float64(source.Height)
	return model.OverlayBox{
		Top:    math.Trunc(box.Y * scaleY),
		Left:   math.Trunc(box.X * scaleX),
		Width:  math.Trunc(box.Width * scaleX),
		Height: math.Trunc(box.Height * scaleY),
	}, true
}

// Primary picks the largest face by area, or nil when there are none.
func Primary(boxes []model.DetectionBox) *model.DetectionBox {
	var best *model.DetectionBox
	for i := range boxes {
		if best == nil || boxes[i].Area() > best.Area() {
			best = &boxes[i]
		}
	}
	if best == nil {
		return nil
	}
	out := *best
	return &out
}

// Mapper buffers the latest box together with the frame size it refers to
// and the current preview size. It is not safe for concurrent use.
type Mapper struct {
	source  model.Dimensions
	preview model.Dimensions
	box     *model.DetectionBox
}

// SetSource records the size of the most recently sent frame.
func (m *Mapper) SetSource(d model.Dimensions) { m.source = d }

// SetPreview records the size of the operator's preview surface.
func (m *Mapper) SetPreview(d model.Dimensions) { m.preview = d }

// Observe replaces the buffered box; nil clears the overlay.
func (m *Mapper) Observe(box *model.DetectionBox) {
	if box == nil {
		m.box = nil
		return
	}
	b := *box
	m.box = &b
}

// Overlay returns the mapped box, or false when it must be suppressed.
func (m *Mapper) Overlay() (model.OverlayBox, bool) {
	if m.box == nil {
		return model.OverlayBox{}, false
	}
	return MapBox(*m.box, m.source, m.preview)
}

// Reset forgets the box and the source size; the preview size is kept.
func (m *Mapper) Reset() {
	m.box = nil
	m.source = model.Dimensions{}
}
