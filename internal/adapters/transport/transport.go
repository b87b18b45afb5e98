// Package transport carries captured frames to the match service and brings
// match verdicts back, either over a persistent stream or one request at a time.
package transport

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/okian/facescan/internal/domain/model"
	"github.com/okian/facescan/pkg/logger"
)

// Result is one inbound message from the match service.
type Result struct {
	// Candidate is set when the message carries a verdict.
	Candidate *model.MatchCandidate
	// Detection is the primary face box, in the coordinate space of the sent frame.
	Detection    *model.DetectionBox
	FaceDetected bool
	// Err is set when the exchange failed; other fields are then empty.
	Err        error
	ReceivedAt time.Time
}

// Adapter is the common shape of both transports. Results is closed once the
// adapter can deliver nothing more, for any reason, including Close.
type Adapter interface {
	Mode() model.TransportMode
	Open(ctx context.Context) error
	Send(ctx context.Context, img model.CapturedImage) error
	Results() <-chan Result
	Close() error
}

const (
	defaultConnectTimeout = 5 * time.Second
	defaultRequestTimeout = 20 * time.Second
	defaultStreamPath     = "/ws/live_stream"
	defaultRequestPath    = "/find_match_react_native"
	resultBuffer          = 16
)

// Config holds the match service endpoints and timeouts.
type Config struct {
	BaseURL        string
	StreamPath     string
	RequestPath    string
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
	HTTPClient     *http.Client
	Dialer         *websocket.Dialer
	Logger         logger.Logger
}

func (c Config) withDefaults() Config {
	if c.StreamPath == "" {
		c.StreamPath = defaultStreamPath
	}
	if c.RequestPath == "" {
		c.RequestPath = defaultRequestPath
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = defaultConnectTimeout
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{}
	}
	if c.Dialer == nil {
		c.Dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: c.ConnectTimeout,
		}
	}
	if c.Logger == nil {
		c.Logger = logger.Get()
	}
	return c
}

// streamURL rewrites the base URL's http(s) scheme to ws(s).
func (c Config) streamURL() string {
	base := strings.TrimRight(c.BaseURL, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + c.StreamPath
}

func (c Config) requestURL() string {
	return strings.TrimRight(c.BaseURL, "/") + c.RequestPath
}

// Factory builds a fresh adapter for each session.
type Factory func(mode model.TransportMode) (Adapter, error)

// NewFactory returns a Factory over cfg.
func NewFactory(cfg Config) Factory {
	return func(mode model.TransportMode) (Adapter, error) {
		return New(mode, cfg)
	}
}

// New builds an adapter for mode.
func New(mode model.TransportMode, cfg Config) (Adapter, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("transport: base url required")
	}
	switch mode {
	case model.ModeStreaming:
		return NewStreaming(cfg), nil
	case model.ModeRequest:
		return NewRequest(cfg), nil
	}
	return nil, fmt.Errorf("transport: unknown mode %q", mode)
}
