// Package api exposes the portal over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/p-n-ai/pai-portal/internal/advisor"
	"github.com/p-n-ai/pai-portal/internal/curriculum"
	"github.com/p-n-ai/pai-portal/internal/progress"
	"github.com/p-n-ai/pai-portal/internal/studytimer"
	"github.com/p-n-ai/pai-portal/internal/yield"
)

const maxBodyBytes = 1 << 20

// Check reports whether a dependency is ready to serve traffic.
type Check func(ctx context.Context) error

// Deps holds everything the handlers need.
type Deps struct {
	Curriculum *curriculum.Loader
	Trackers   *yield.Registry
	Averages   yield.AverageStore
	Progress   *progress.Service
	Timers     *studytimer.Manager
	Advisor    *advisor.Advisor // optional
	Checks     map[string]Check // readiness checks by name
	Logger     *slog.Logger
}

// Handler serves the portal API.
type Handler struct {
	curriculum *curriculum.Loader
	trackers   *yield.Registry
	averages   yield.AverageStore
	progress   *progress.Service
	timers     *studytimer.Manager
	advisor    *advisor.Advisor
	checks     map[string]Check
	logger     *slog.Logger
}

// NewHandler creates a Handler with the given dependencies.
func NewHandler(d Deps) *Handler {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		curriculum: d.Curriculum,
		trackers:   d.Trackers,
		averages:   d.Averages,
		progress:   d.Progress,
		timers:     d.Timers,
		advisor:    d.Advisor,
		checks:     d.Checks,
		logger:     logger,
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

// respondJSON writes a JSON response with the given status code.
func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, errorResponse{Error: msg})
}

// decodeJSON reads a bounded JSON body. It writes a 400 and returns false
// when the body is malformed.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// handleError maps domain errors to HTTP responses. Returns true if an
// error was handled (caller should return).
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) bool {
	if err == nil {
		return false
	}

	switch {
	case errors.Is(err, curriculum.ErrUnknownSemester),
		errors.Is(err, yield.ErrUnknownSubject),
		errors.Is(err, progress.ErrInvalid):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, yield.ErrNotFound),
		errors.Is(err, progress.ErrNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, studytimer.ErrNotRunning),
		errors.Is(err, studytimer.ErrAlreadyRunning),
		errors.Is(err, studytimer.ErrPaused),
		errors.Is(err, studytimer.ErrNotPaused),
		errors.Is(err, advisor.ErrNoInput):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, advisor.ErrBudgetExceeded):
		respondError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, advisor.ErrUnavailable),
		errors.Is(err, studytimer.ErrNoHistory),
		errors.Is(err, yield.ErrClosed):
		respondError(w, http.StatusServiceUnavailable, err.Error())
	default:
		h.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
		respondError(w, http.StatusInternalServerError, "internal error")
	}
	return true
}

// tracker returns the caller's tracker.
func (h *Handler) tracker(w http.ResponseWriter, r *http.Request) (*yield.Tracker, bool) {
	t, err := h.trackers.Tracker(UserID(r.Context()))
	if h.handleError(w, r, err) {
		return nil, false
	}
	return t, true
}
