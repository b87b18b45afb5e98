// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/okian/facescan/internal/domain/model"
	"github.com/okian/facescan/internal/domain/types"
)

// Controller is the session surface the handlers drive.
type Controller interface {
	Snapshot() types.Snapshot

	StartSession(ctx context.Context, mode model.TransportMode) error
	Capture(ctx context.Context) error
	Retake(ctx context.Context) error
	Submit(ctx context.Context) error
	StopScan(ctx context.Context) error
	Confirm(ctx context.Context) error
	Reject(ctx context.Context) error
	Dismiss(ctx context.Context) error
	Cancel(ctx context.Context, reason model.CancelReason) error
	Leave(ctx context.Context) error
	Retry(ctx context.Context) error
	RefreshDetails(ctx context.Context) error
	SetPreviewSize(ctx context.Context, width, height int) error
}

// Server wires HTTP routes for the operator API.
type Server struct {
	healthHandler  *HealthHandler
	statsHandler   *StatsHandler
	sessionHandler *SessionHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(ctrl Controller, statsProvider StatsProvider) *Server {
	return &Server{
		healthHandler:  NewHealthHandler(),
		statsHandler:   NewStatsHandler(statsProvider),
		sessionHandler: NewSessionHandler(ctrl),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))

	h := s.sessionHandler
	mux.HandleFunc("GET /session", MetricsMiddleware(h.HandleGet, "session"))
	routes := map[string]http.HandlerFunc{
		"start":           h.HandleStart,
		"capture":         h.HandleCapture,
		"retake":          h.HandleRetake,
		"submit":          h.HandleSubmit,
		"stop":            h.HandleStop,
		"confirm":         h.HandleConfirm,
		"reject":          h.HandleReject,
		"dismiss":         h.HandleDismiss,
		"cancel":          h.HandleCancel,
		"leave":           h.HandleLeave,
		"retry":           h.HandleRetry,
		"details/refresh": h.HandleRefreshDetails,
		"preview-size":    h.HandlePreviewSize,
	}
	for path, handler := range routes {
		mux.HandleFunc("POST /session/"+path, MetricsMiddleware(handler, "session_"+path))
	}
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}
