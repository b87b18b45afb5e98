// Package directory resolves matched record ids to case details.
package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/okian/facescan/internal/domain/model"
)

// Sentinel error kinds for this package. These allow errors.Is/As from callers.
var (
	ErrNotFound = errors.New("case not found")
	ErrLookup   = errors.New("case lookup failed")
)

const (
	idPlaceholder  = "{id}"
	defaultPath    = "/api/reports/by-image/{id}"
	defaultTimeout = 5 * time.Second
	maxErrorBody   = 512
)

// caseResponse is the case directory's JSON shape.
type caseResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Age         int    `json:"age"`
	Gender      string `json:"gender"`
	LastSeen    string `json:"last_seen"`
	Status      string `json:"status"`
	Description string `json:"description"`
	ImageURL    string `json:"image_url"`
}

// HTTP looks cases up over a JSON GET endpoint.
type HTTP struct {
	baseURL string
	path    string
	client  *http.Client
	timeout time.Duration
}

// NewHTTP builds a client. path must contain {id}; empty means the default.
func NewHTTP(baseURL, path string, timeout time.Duration) (*HTTP, error) {
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("directory: invalid base url: %w", err)
	}
	if path == "" {
		path = defaultPath
	}
	if !strings.Contains(path, idPlaceholder) {
		return nil, fmt.Errorf("directory: path %q lacks %s", path, idPlaceholder)
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &HTTP{
		baseURL: strings.TrimRight(baseURL, "/"),
		path:    path,
		client:  &http.Client{},
		timeout: timeout,
	}, nil
}

func (d *HTTP) resolveURL(recordID string) string {
	return d.baseURL + strings.ReplaceAll(d.path, idPlaceholder, url.PathEscape(recordID))
}

// Lookup fetches the case behind recordID.
func (d *HTTP) Lookup(ctx context.Context, recordID string) (model.CaseDetails, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.resolveURL(recordID), nil)
	if err != nil {
		return model.CaseDetails{}, fmt.Errorf("%w: could not create request: %w", ErrLookup, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return model.CaseDetails{}, fmt.Errorf("%w: could not send request: %w", ErrLookup, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return model.CaseDetails{}, fmt.Errorf("%w: %s", ErrNotFound, recordID)
	case resp.StatusCode != http.StatusOK:
		return model.CaseDetails{}, fmt.Errorf("%w: status %d: %s", ErrLookup, resp.StatusCode, readErrorBody(resp.Body))
	}

	var body caseResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return model.CaseDetails{}, fmt.Errorf("%w: could not unmarshal response: %w", ErrLookup, err)
	}
	return model.CaseDetails{
		RecordID:    recordID,
		Name:        body.Name,
		Age:         body.Age,
		Gender:      body.Gender,
		LastSeen:    body.LastSeen,
		Status:      body.Status,
		Description: body.Description,
		ImageURL:    body.ImageURL,
	}, nil
}

func readErrorBody(r io.Reader) string {
	b, err := io.ReadAll(io.LimitReader(r, maxErrorBody))
	if err != nil {
		return "(could not read body)"
	}
	return strings.TrimSpace(string(b))
}

// Memory is an in-process directory for tests and offline runs.
type Memory struct {
	mu    sync.RWMutex
	cases map[string]model.CaseDetails
}

func NewMemory() *Memory {
	return &Memory{cases: make(map[string]model.CaseDetails)}
}

// Put stores d under its RecordID.
func (m *Memory) Put(d model.CaseDetails) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cases[d.RecordID] = d
}

func (m *Memory) Lookup(ctx context.Context, recordID string) (model.CaseDetails, error) {
	if err := ctx.Err(); err != nil {
		return model.CaseDetails{}, fmt.Errorf("%w: %w", ErrLookup, err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.cases[recordID]
	if !ok {
		return model.CaseDetails{}, fmt.Errorf("%w: %s", ErrNotFound, recordID)
	}
	return d, nil
}
