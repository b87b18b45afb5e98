package capture

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"time"

	"golang.org/x/image/draw"

	"github.com/okian/facescan/internal/domain/model"
)

const (
	defaultMaxSize = 1024
	defaultQuality = 85
)

// Encoder downsizes frames so the longest side fits MaxSize and encodes them as JPEG.
type Encoder struct {
	MaxSize int
	Quality int
}

// NewEncoder fills zero values with defaults.
func NewEncoder(maxSize, quality int) Encoder {
	if maxSize <= 0 {
		maxSize = defaultMaxSize
	}
	if quality <= 0 || quality > 100 {
		quality = defaultQuality
	}
	return Encoder{MaxSize: maxSize, Quality: quality}
}

// Encode scales img if needed and returns it as a captured JPEG.
func (e Encoder) Encode(img image.Image, ref string, at time.Time) (model.CapturedImage, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= 0 || h <= 0 {
		return model.CapturedImage{}, fmt.Errorf("%w: empty image %s", ErrEncode, ref)
	}
	out := img
	if longest := max(w, h); e.MaxSize > 0 && longest > e.MaxSize {
		ratio := float64(e.MaxSize) / float64(longest)
		nw, nh := max(int(float64(w)*ratio), 1), max(int(float64(h)*ratio), 1)
		dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
		draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
		out = dst
		w, h = nw, nh
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: e.Quality}); err != nil {
		return model.CapturedImage{}, fmt.Errorf("%w: %w", ErrEncode, err)
	}
	return model.CapturedImage{
		Data:        buf.Bytes(),
		ContentType: "image/jpeg",
		Width:       w,
		Height:      h,
		PreviewRef:  ref,
		CapturedAt:  at,
	}, nil
}
