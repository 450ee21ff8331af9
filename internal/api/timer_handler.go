package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/p-n-ai/pai-portal/internal/studytimer"
)

const (
	defaultEventLimit = 20
	maxEventLimit     = 100
)

func (h *Handler) session(r *http.Request) *studytimer.Session {
	return h.timers.Session(UserID(r.Context()))
}

// GET /api/me/timer
func (h *Handler) getTimer(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.session(r).Snapshot())
}

type startTimerRequest struct {
	SubjectID string `json:"subject_id"`
}

// POST /api/me/timer/start with an optional {"subject_id": "..."} body.
func (h *Handler) startTimer(w http.ResponseWriter, r *http.Request) {
	var req startTimerRequest
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
	}

	if req.SubjectID != "" {
		if _, _, ok := h.curriculum.FindSubject(req.SubjectID); !ok {
			respondError(w, http.StatusBadRequest, "unknown subject: "+req.SubjectID)
			return
		}
	}

	snap, err := h.session(r).Start(req.SubjectID)
	if h.handleError(w, r, err) {
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

// POST /api/me/timer/pause
func (h *Handler) pauseTimer(w http.ResponseWriter, r *http.Request) {
	h.timerAction(w, r, (*studytimer.Session).Pause)
}

// POST /api/me/timer/resume
func (h *Handler) resumeTimer(w http.ResponseWriter, r *http.Request) {
	h.timerAction(w, r, (*studytimer.Session).Resume)
}

// POST /api/me/timer/skip
func (h *Handler) skipTimer(w http.ResponseWriter, r *http.Request) {
	h.timerAction(w, r, (*studytimer.Session).Skip)
}

// POST /api/me/timer/stop
func (h *Handler) stopTimer(w http.ResponseWriter, r *http.Request) {
	h.timerAction(w, r, (*studytimer.Session).Stop)
}

func (h *Handler) timerAction(w http.ResponseWriter, r *http.Request, action func(*studytimer.Session) (studytimer.Snapshot, error)) {
	snap, err := action(h.session(r))
	if h.handleError(w, r, err) {
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

// GET /api/me/timer/events[?limit=n]
func (h *Handler) timerEvents(w http.ResponseWriter, r *http.Request) {
	limit := defaultEventLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxEventLimit)
	}

	events, err := h.timers.Events(r.Context(), UserID(r.Context()), limit)
	if h.handleError(w, r, err) {
		return
	}
	if events == nil {
		events = []studytimer.Event{}
	}
	respondJSON(w, http.StatusOK, events)
}
