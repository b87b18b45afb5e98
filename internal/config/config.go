// Package config defines service configuration structures and loading hooks.
package config

import (
	"fmt"
	"time"
)

const (
	minRequestTimeoutMS = 15_000
	maxRequestTimeoutMS = 25_000
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects the log encoding: text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the operator API listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// Mode is the transport used when a session start names none: request or streaming.
	Mode string `koanf:"mode"`

	// Match service endpoints.
	MatchBaseURL string `koanf:"match_base_url"`
	StreamPath   string `koanf:"stream_path"`
	RequestPath  string `koanf:"request_path"`

	ConnectTimeoutMS int `koanf:"connect_timeout_ms"`
	RequestTimeoutMS int `koanf:"request_timeout_ms"`

	// AllowShortTimeouts lifts the request timeout window; meant for tests.
	AllowShortTimeouts bool `koanf:"allow_short_timeouts"`

	// FrameIntervalMS is the streaming capture cadence.
	FrameIntervalMS int `koanf:"frame_interval_ms"`

	// ProgressIntervalMS is how often the processing indicator advances.
	ProgressIntervalMS int `koanf:"progress_interval_ms"`

	// MaxImageSize caps the longest side of a transmitted frame, in pixels.
	MaxImageSize int `koanf:"max_image_size"`
	JPEGQuality  int `koanf:"jpeg_quality"`

	// CameraDir holds the stills replayed by the simulated camera.
	CameraDir string `koanf:"camera_dir"`

	// CaptureOnMatch takes a live still when a streaming match lands.
	CaptureOnMatch bool `koanf:"capture_on_match"`

	// Case directory.
	DirectoryURL       string `koanf:"directory_url"`
	DirectoryPath      string `koanf:"directory_path"`
	DirectoryTimeoutMS int    `koanf:"directory_timeout_ms"`

	// WebhookURL receives terminal events; empty means log only.
	WebhookURL string `koanf:"webhook_url"`

	// EventQueueSize bounds the in-memory terminal event queue.
	EventQueueSize int `koanf:"event_queue_size"`

	// PublisherWorkers sets the number of terminal event publishers.
	PublisherWorkers int `koanf:"publisher_workers"`
}

// New returns a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:           "info",
		LogFormat:          "text",
		Addr:               ":9080",
		Mode:               "request",
		MatchBaseURL:       "http://localhost:8000",
		StreamPath:         "/ws/live_stream",
		RequestPath:        "/find_match_react_native",
		ConnectTimeoutMS:   5000,
		RequestTimeoutMS:   20_000,
		FrameIntervalMS:    300,
		ProgressIntervalMS: 250,
		MaxImageSize:       1024,
		JPEGQuality:        85,
		CameraDir:          "./frames",
		CaptureOnMatch:     true,
		DirectoryURL:       "http://localhost:5000",
		DirectoryPath:      "/api/reports/by-image/{id}",
		DirectoryTimeoutMS: 5000,
		EventQueueSize:     1024,
		PublisherWorkers:   2,
	}
}

// Validate reports the first setting that cannot work.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.MatchBaseURL == "":
		return fmt.Errorf("%w: match_base_url must not be empty", ErrInvalidConfig)
	case c.LogFormat != "text" && c.LogFormat != "json":
		return fmt.Errorf("%w: log_format %q must be text or json", ErrInvalidConfig, c.LogFormat)
	case c.Mode != "request" && c.Mode != "streaming":
		return fmt.Errorf("%w: mode %q must be request or streaming", ErrInvalidConfig, c.Mode)
	case c.ConnectTimeoutMS <= 0:
		return fmt.Errorf("%w: connect_timeout_ms must be positive", ErrInvalidConfig)
	case c.FrameIntervalMS <= 0 || c.ProgressIntervalMS <= 0:
		return fmt.Errorf("%w: frame and progress intervals must be positive", ErrInvalidConfig)
	case c.DirectoryTimeoutMS <= 0:
		return fmt.Errorf("%w: directory_timeout_ms must be positive", ErrInvalidConfig)
	case c.EventQueueSize <= 0 || c.PublisherWorkers <= 0:
		return fmt.Errorf("%w: event_queue_size and publisher_workers must be positive", ErrInvalidConfig)
	case c.JPEGQuality < 1 || c.JPEGQuality > 100:
		return fmt.Errorf("%w: jpeg_quality %d outside 1..100", ErrInvalidConfig, c.JPEGQuality)
	}
	if c.RequestTimeoutMS <= 0 {
		return fmt.Errorf("%w: request_timeout_ms must be positive", ErrInvalidConfig)
	}
	if !c.AllowShortTimeouts && (c.RequestTimeoutMS < minRequestTimeoutMS || c.RequestTimeoutMS > maxRequestTimeoutMS) {
		return fmt.Errorf("%w: request_timeout_ms %d outside [%d, %d]",
			ErrInvalidConfig, c.RequestTimeoutMS, minRequestTimeoutMS, maxRequestTimeoutMS)
	}
	return nil
}

func (c *Config) ConnectTimeout() time.Duration { return ms(c.ConnectTimeoutMS) }
func (c *Config) RequestTimeout() time.Duration { return ms(c.RequestTimeoutMS) }
func (c *Config) FrameInterval() time.Duration  { return ms(c.FrameIntervalMS) }

func (c *Config) ProgressInterval() time.Duration { return ms(c.ProgressIntervalMS) }
func (c *Config) DirectoryTimeout() time.Duration { return ms(c.DirectoryTimeoutMS) }

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }
