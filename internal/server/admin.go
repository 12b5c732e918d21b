package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/charmbracelet/log"
	"github.com/goccy/go-json"

	"github.com/desertthunder/onair/internal/models"
)

// Engine is the part of the state manager the HTTP surface drives.
type Engine interface {
	Snapshot() models.Snapshot
	Transitions(limit int) []models.StateTransition
	Pause(reason string) models.StateTransition
	Resume(reason string) models.StateTransition
	RequestCheck()
	RequestAudit()
	RequestRetry()
	RequestExport()
	RequestReauth()
}

// TransitionLister reads the durable transition log.
type TransitionLister interface {
	List(ctx context.Context, limit int) ([]models.StateTransition, error)
}

const defaultTransitionLimit = 50

// AdminHandler serves status reads and admin commands. Commands only record intent;
// the scheduler acts on them at its next tick.
type AdminHandler struct {
	engine  Engine
	history TransitionLister
	logger  *log.Logger
}

// NewAdminHandler creates an AdminHandler. history may be nil, in which case /transitions
// falls back to the in-memory log.
func NewAdminHandler(engine Engine, history TransitionLister, logger *log.Logger) *AdminHandler {
	return &AdminHandler{engine: engine, history: history, logger: logger}
}

type actionResponse struct {
	Accepted bool         `json:"accepted"`
	Action   string       `json:"action"`
	State    models.State `json:"state"`
}

type pauseRequest struct {
	Reason string `json:"reason"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (h *AdminHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *AdminHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Snapshot())
}

// Transitions serves the transition log, oldest first, limited by ?limit= (default 50).
func (h *AdminHandler) Transitions(w http.ResponseWriter, r *http.Request) {
	limit := defaultTransitionLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	if h.history == nil {
		writeJSON(w, http.StatusOK, nonNilTransitions(h.engine.Transitions(limit)))
		return
	}

	ts, err := h.history.List(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to read transition log", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read transitions")
		return
	}
	writeJSON(w, http.StatusOK, nonNilTransitions(withPending(ts, h.engine.Transitions(limit), limit)))
}

// withPending appends in-memory transitions the scheduler has not flushed to the log yet.
func withPending(stored, memory []models.StateTransition, limit int) []models.StateTransition {
	var last int64
	for _, t := range stored {
		last = max(last, t.Seq)
	}
	for _, t := range memory {
		if t.Seq > last {
			stored = append(stored, t)
		}
	}
	if limit > 0 && len(stored) > limit {
		stored = stored[len(stored)-limit:]
	}
	return stored
}

func nonNilTransitions(ts []models.StateTransition) []models.StateTransition {
	if ts == nil {
		return []models.StateTransition{}
	}
	return ts
}

// Pause accepts an optional {"reason": "..."} body.
func (h *AdminHandler) Pause(w http.ResponseWriter, r *http.Request) {
	var req pauseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Reason == "" {
		req.Reason = "paused by admin"
	}

	t := h.engine.Pause(req.Reason)
	h.logger.Info("admin pause", "reason", req.Reason, "state", t.To)
	h.accepted(w, "pause")
}

func (h *AdminHandler) Resume(w http.ResponseWriter, r *http.Request) {
	t := h.engine.Resume("resumed by admin")
	h.logger.Info("admin resume", "state", t.To)
	h.accepted(w, "resume")
}

// signal builds a handler that records one scheduler request.
func (h *AdminHandler) signal(action string, fn func()) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fn()
		h.logger.Info("admin request", "action", action)
		h.accepted(w, action)
	}
}

func (h *AdminHandler) accepted(w http.ResponseWriter, action string) {
	writeJSON(w, http.StatusAccepted, actionResponse{
		Accepted: true,
		Action:   action,
		State:    h.engine.Snapshot().Service.State,
	})
}
