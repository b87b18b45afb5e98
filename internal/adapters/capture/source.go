// Package capture provides camera frame sources and the exclusive camera lease.
package capture

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/okian/facescan/internal/domain/model"
)

// Source produces encoded stills on demand.
type Source interface {
	Open(ctx context.Context) error
	Capture(ctx context.Context) (model.CapturedImage, error)
	Close() error
}

var imageExtensions = map[string]bool{".jpg": true, ".jpeg": true, ".png": true} //nolint:gochecknoglobals // lookup table

// DirectorySource replays image files from a directory in name order,
// wrapping around at the end. It stands in for a camera device.
type DirectorySource struct {
	dir    string
	single string
	enc    Encoder
	now    func() time.Time

	mu    sync.Mutex
	files []string
	next  int
}

// NewDirectorySource reads frames from dir.
func NewDirectorySource(dir string, enc Encoder) *DirectorySource {
	return &DirectorySource{dir: dir, enc: enc, now: time.Now}
}

// NewFileSource returns the same frame from path on every capture.
func NewFileSource(path string, enc Encoder) *DirectorySource {
	return &DirectorySource{single: path, enc: enc, now: time.Now}
}

func (s *DirectorySource) Open(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.single != "" {
		if _, err := os.Stat(s.single); err != nil {
			return fmt.Errorf("%w: %w", ErrNoFrames, err)
		}
		s.files = []string{s.single}
		s.next = 0
		return nil
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNoFrames, err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !imageExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		files = append(files, filepath.Join(s.dir, e.Name()))
	}
	if len(files) == 0 {
		return fmt.Errorf("%w: %s has no images", ErrNoFrames, s.dir)
	}
	sort.Strings(files)
	s.files = files
	s.next = 0
	return nil
}

func (s *DirectorySource) Capture(ctx context.Context) (model.CapturedImage, error) {
	if err := ctx.Err(); err != nil {
		return model.CapturedImage{}, err
	}
	s.mu.Lock()
	if len(s.files) == 0 {
		s.mu.Unlock()
		return model.CapturedImage{}, ErrNoFrames
	}
	path := s.files[s.next%len(s.files)]
	s.next++
	s.mu.Unlock()

	f, err := os.Open(path)
	if err != nil {
		return model.CapturedImage{}, fmt.Errorf("%w: %w", ErrCapture, err)
	}
	defer func() { _ = f.Close() }()

	img, _, err := image.Decode(f)
	if err != nil {
		return model.CapturedImage{}, fmt.Errorf("%w: decode %s: %w", ErrCapture, filepath.Base(path), err)
	}
	return s.enc.Encode(img, filepath.Base(path), s.now())
}

func (s *DirectorySource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files = nil
	return nil
}
