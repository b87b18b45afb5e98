package transport

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/okian/facescan/internal/domain/model"
	"github.com/okian/facescan/pkg/logger"
	"github.com/okian/facescan/pkg/metrics"
)

const (
	writeTimeout     = 5 * time.Second
	closeGracePeriod = time.Second
	maxStreamMessage = 1 << 20
)

// Streaming keeps one websocket open for the processing phase and sends a
// data URL per text frame. Writes are serialized; reads run on their own goroutine.
type Streaming struct {
	url            string
	dialer         *websocket.Dialer
	connectTimeout time.Duration
	logger         logger.Logger
	now            func() time.Time

	mu      sync.Mutex
	conn    *websocket.Conn
	started bool

	// sentAt is the unix nano time of the last successful write.
	sentAt atomic.Int64

	results   chan Result
	done      chan struct{}
	closeOnce sync.Once
}

// NewStreaming builds an unopened streaming adapter.
func NewStreaming(cfg Config) *Streaming {
	cfg = cfg.withDefaults()
	return &Streaming{
		url:            cfg.streamURL(),
		dialer:         cfg.Dialer,
		connectTimeout: cfg.ConnectTimeout,
		logger:         cfg.Logger.Named("stream"),
		now:            time.Now,
		results:        make(chan Result, resultBuffer),
		done:           make(chan struct{}),
	}
}

func (s *Streaming) Mode() model.TransportMode { return model.ModeStreaming }

func (s *Streaming) Results() <-chan Result { return s.results }

// Open dials the stream, bounded by the connect timeout.
func (s *Streaming) Open(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, s.connectTimeout)
	defer cancel()

	conn, resp, err := s.dialer.DialContext(dialCtx, s.url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return s.dialError(dialCtx, resp, err)
	}
	conn.SetReadLimit(maxStreamMessage)

	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.done:
		_ = conn.Close()
		return NewKind("stream.open", ErrClosed)
	default:
	}
	s.conn = conn
	s.started = true
	go s.readLoop(conn)

	s.logger.Info(ctx, "stream connected", logger.String("url", s.url))
	return nil
}

func (s *Streaming) dialError(ctx context.Context, resp *http.Response, err error) error {
	var kind error = ErrConnect
	if isTimeout(ctx, err) {
		kind = ErrTimeout
	}
	e := &Error{Op: "stream.open", Kind: kind, Err: err}
	if resp != nil {
		e.Status = resp.StatusCode
	}
	metrics.RecordTransportError(string(model.ModeStreaming), Class(e))
	return e
}

// Send writes one frame. Concurrent callers are serialized.
func (s *Streaming) Send(ctx context.Context, img model.CapturedImage) error {
	if err := ctx.Err(); err != nil {
		return WrapKind("stream.send", ErrClosed, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return NewKind("stream.send", ErrClosed)
	}
	select {
	case <-s.done:
		return NewKind("stream.send", ErrClosed)
	default:
	}

	deadline := s.now().Add(writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = s.conn.SetWriteDeadline(deadline)
	if err := s.conn.WriteMessage(websocket.TextMessage, []byte(img.DataURL())); err != nil {
		metrics.RecordTransportError(string(model.ModeStreaming), "connect")
		return WrapKind("stream.send", ErrConnect, err)
	}
	s.sentAt.Store(s.now().UnixNano())
	metrics.RecordFrameSent(string(model.ModeStreaming))
	return nil
}

func (s *Streaming) readLoop(conn *websocket.Conn) {
	defer close(s.results)
	ctx := context.Background()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
			default:
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					s.logger.Info(ctx, "stream closed by match service")
				} else {
					s.logger.Warn(ctx, "stream read ended", logger.Error(err))
				}
			}
			return
		}

		at := s.now()
		s.observeLatency(at)
		res, err := decodeStreamMessage(data, at)
		if err != nil {
			var te *Error
			if !errors.As(err, &te) {
				err = WrapKind("stream.read", ErrProtocol, err)
			}
			metrics.RecordTransportError(string(model.ModeStreaming), Class(err))
			res = Result{Err: err, ReceivedAt: at}
		}

		select {
		case s.results <- res:
		case <-s.done:
			return
		}
	}
}

func (s *Streaming) observeLatency(at time.Time) {
	if sent := s.sentAt.Load(); sent != 0 {
		metrics.RecordRoundTripLatency(string(model.ModeStreaming), float64(at.Sub(time.Unix(0, sent)).Milliseconds()))
	}
}

// Close tears the stream down. It is safe to call more than once and from
// any goroutine, including while Open is dialing.
func (s *Streaming) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)

		// A Send may hold mu inside a stalled write; closing the socket
		// without it is what unblocks that write.
		s.mu.Lock()
		conn, started := s.conn, s.started
		s.mu.Unlock()
		if conn != nil {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				s.now().Add(closeGracePeriod))
			_ = conn.Close()
		}

		if !started {
			close(s.results)
		}
	})
	return nil
}
