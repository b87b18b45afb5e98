package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/okian/facescan/internal/domain/model"
)

const maxBodyBytes = 1 << 16

// SessionHandler serves the session commands and the session read model.
type SessionHandler struct {
	ctrl Controller
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(ctrl Controller) *SessionHandler {
	return &SessionHandler{ctrl: ctrl}
}

type startRequest struct {
	Mode string `json:"mode"`
}

type previewRequest struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// HandleGet handles GET /session requests.
func (h *SessionHandler) HandleGet(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.ctrl.Snapshot())
}

// HandleStart handles POST /session/start. The body is optional.
func (h *SessionHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	const op = "api.session_start"
	var req startRequest
	if err := decodeOptional(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	var mode model.TransportMode
	if req.Mode != "" {
		m, err := model.ParseTransportMode(req.Mode)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
			return
		}
		mode = m
	}
	h.respond(w, http.StatusCreated, h.ctrl.StartSession(r.Context(), mode))
}

// HandleCapture handles POST /session/capture. The still arrives asynchronously.
func (h *SessionHandler) HandleCapture(w http.ResponseWriter, r *http.Request) {
	h.respond(w, http.StatusAccepted, h.ctrl.Capture(r.Context()))
}

func (h *SessionHandler) HandleRetake(w http.ResponseWriter, r *http.Request) {
	h.respond(w, http.StatusOK, h.ctrl.Retake(r.Context()))
}

// HandleSubmit handles POST /session/submit. The verdict arrives asynchronously.
func (h *SessionHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	h.respond(w, http.StatusAccepted, h.ctrl.Submit(r.Context()))
}

func (h *SessionHandler) HandleStop(w http.ResponseWriter, r *http.Request) {
	h.respond(w, http.StatusOK, h.ctrl.StopScan(r.Context()))
}

func (h *SessionHandler) HandleConfirm(w http.ResponseWriter, r *http.Request) {
	h.respond(w, http.StatusOK, h.ctrl.Confirm(r.Context()))
}

func (h *SessionHandler) HandleReject(w http.ResponseWriter, r *http.Request) {
	h.respond(w, http.StatusOK, h.ctrl.Reject(r.Context()))
}

func (h *SessionHandler) HandleDismiss(w http.ResponseWriter, r *http.Request) {
	h.respond(w, http.StatusOK, h.ctrl.Dismiss(r.Context()))
}

func (h *SessionHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	h.respond(w, http.StatusOK, h.ctrl.Cancel(r.Context(), model.CancelByOperator))
}

// HandleLeave handles POST /session/leave, sent when the operator navigates away.
func (h *SessionHandler) HandleLeave(w http.ResponseWriter, r *http.Request) {
	h.respond(w, http.StatusOK, h.ctrl.Leave(r.Context()))
}

func (h *SessionHandler) HandleRetry(w http.ResponseWriter, r *http.Request) {
	h.respond(w, http.StatusAccepted, h.ctrl.Retry(r.Context()))
}

func (h *SessionHandler) HandleRefreshDetails(w http.ResponseWriter, r *http.Request) {
	h.respond(w, http.StatusAccepted, h.ctrl.RefreshDetails(r.Context()))
}

// HandlePreviewSize handles POST /session/preview-size with {"width","height"}.
func (h *SessionHandler) HandlePreviewSize(w http.ResponseWriter, r *http.Request) {
	const op = "api.session_preview_size"
	var req previewRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	h.respond(w, http.StatusOK, h.ctrl.SetPreviewSize(r.Context(), req.Width, req.Height))
}

// respond writes the snapshot on success and the mapped error otherwise.
func (h *SessionHandler) respond(w http.ResponseWriter, status int, err error) {
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		code, name := statusFor(err)
		writeError(w, code, name, err)
		return
	}
	writeJSON(w, status, h.ctrl.Snapshot())
}

// decodeOptional decodes a JSON body into v, accepting an empty body.
func decodeOptional(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
