package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/okian/facescan/internal/domain/model"
	"github.com/okian/facescan/pkg/logger"
	"github.com/okian/facescan/pkg/metrics"
)

const maxResponseBody = 8 << 20

// Request performs one form POST per session and yields exactly one Result.
type Request struct {
	url     string
	client  *http.Client
	timeout time.Duration
	logger  logger.Logger
	now     func() time.Time

	mu     sync.Mutex
	sent   bool
	closed bool
	cancel context.CancelFunc
	wg     sync.WaitGroup

	results chan Result
}

// NewRequest builds a request adapter.
func NewRequest(cfg Config) *Request {
	cfg = cfg.withDefaults()
	return &Request{
		url:     cfg.requestURL(),
		client:  cfg.HTTPClient,
		timeout: cfg.RequestTimeout,
		logger:  cfg.Logger.Named("request"),
		now:     time.Now,
		results: make(chan Result, 1),
	}
}

func (r *Request) Mode() model.TransportMode { return model.ModeRequest }

func (r *Request) Results() <-chan Result { return r.results }

// Open has no connection to establish; it only rejects a closed adapter.
func (r *Request) Open(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return NewKind("request.open", ErrClosed)
	}
	return nil
}

// Send starts the single round trip. The response, or its failure, arrives on Results.
func (r *Request) Send(ctx context.Context, img model.CapturedImage) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return NewKind("request.send", ErrClosed)
	}
	if r.sent {
		r.mu.Unlock()
		return NewKind("request.send", ErrAlreadySent)
	}
	r.sent = true
	reqCtx, cancel := context.WithTimeout(ctx, r.timeout)
	r.cancel = cancel
	r.wg.Add(1)
	r.mu.Unlock()

	metrics.RecordFrameSent(string(model.ModeRequest))
	go func() {
		defer r.wg.Done()
		defer cancel()
		r.results <- r.exchange(reqCtx, img)
	}()
	return nil
}

func (r *Request) exchange(ctx context.Context, img model.CapturedImage) Result {
	form := url.Values{"file_data": {img.DataURL()}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, strings.NewReader(form.Encode()))
	if err != nil {
		return r.fail(WrapKind("request.build", ErrConnect, err))
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	start := r.now()
	resp, err := r.client.Do(req)
	if err != nil {
		return r.fail(r.classify(ctx, "request.do", err))
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return r.fail(r.classify(ctx, "request.read", err))
	}
	at := r.now()
	metrics.RecordRoundTripLatency(string(model.ModeRequest), float64(at.Sub(start).Milliseconds()))

	if resp.StatusCode != http.StatusOK {
		return r.fail(&Error{
			Op:     "request.do",
			Kind:   ErrMatchService,
			Status: resp.StatusCode,
			Detail: decodeErrorDetail(body),
		})
	}

	cand, err := decodeMatchResponse(body, at)
	if err != nil {
		return r.fail(WrapKind("request.decode", ErrProtocol, err))
	}
	r.logger.Debug(ctx, "match response",
		logger.Bool("match_found", cand.MatchFound),
		logger.Float64("confidence", cand.Confidence),
		logger.Int64("rtt_ms", at.Sub(start).Milliseconds()))
	return Result{Candidate: cand, ReceivedAt: at}
}

func (r *Request) classify(ctx context.Context, op string, err error) error {
	switch {
	case isTimeout(ctx, err):
		return WrapKind(op, ErrTimeout, err)
	case errors.Is(ctx.Err(), context.Canceled):
		return WrapKind(op, ErrClosed, err)
	}
	return WrapKind(op, ErrConnect, err)
}

func (r *Request) fail(err error) Result {
	metrics.RecordTransportError(string(model.ModeRequest), Class(err))
	return Result{Err: err, ReceivedAt: r.now()}
}

// Close cancels an in-flight round trip and closes Results once it has landed.
func (r *Request) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	cancel := r.cancel
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	r.wg.Wait()
	close(r.results)
	return nil
}
