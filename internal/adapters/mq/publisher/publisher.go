// Package publisher delivers terminal events to downstream collaborators.
package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/okian/facescan/internal/domain/model"
	"github.com/okian/facescan/pkg/logger"
)

// ErrRejected is returned when the webhook answers with a non-2xx status.
var ErrRejected = errors.New("webhook rejected event")

const (
	defaultWebhookTimeout = 5 * time.Second
	maxErrorBody          = 512
)

// Webhook POSTs each event as JSON.
type Webhook struct {
	url     string
	client  *http.Client
	timeout time.Duration
}

// NewWebhook builds a webhook publisher for url.
func NewWebhook(url string, timeout time.Duration) *Webhook {
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	return &Webhook{url: url, client: &http.Client{}, timeout: timeout}
}

func (w *Webhook) Publish(ctx context.Context, ev model.TerminalEvent) error { //nolint:gocritic // hugeParam: event passed by value to match worker.Publisher
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("could not marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("could not create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", ev.EventID)

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("could not send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, strings.TrimSpace(string(b)))
	}
	return nil
}

// Log writes each event to the structured log. It is used when no webhook is configured.
type Log struct {
	logger logger.Logger
}

func NewLog(l logger.Logger) *Log {
	if l == nil {
		l = logger.Get()
	}
	return &Log{logger: l.Named("events")}
}

func (p *Log) Publish(ctx context.Context, ev model.TerminalEvent) error { //nolint:gocritic // hugeParam: event passed by value to match worker.Publisher
	p.logger.Info(ctx, "terminal event",
		logger.String("event_id", ev.EventID),
		logger.String("session_id", string(ev.SessionID)),
		logger.String("matched_record_id", ev.MatchedRecordID),
		logger.String("decision", string(ev.Decision)),
		logger.Float64("confidence", ev.Confidence),
		logger.String("mode", ev.Mode))
	return nil
}
