package api

import (
	"net/http"

	"github.com/p-n-ai/pai-portal/internal/curriculum"
	"github.com/p-n-ai/pai-portal/internal/progress"
)

type progressView struct {
	progress.Progress
	Percent float64 `json:"percent"`
}

func viewProgress(p progress.Progress) progressView {
	return progressView{Progress: p, Percent: p.Percent()}
}

// GET /api/me/progress
func (h *Handler) listProgress(w http.ResponseWriter, r *http.Request) {
	list, err := h.progress.List(r.Context(), UserID(r.Context()))
	if h.handleError(w, r, err) {
		return
	}
	out := make([]progressView, 0, len(list))
	for _, p := range list {
		out = append(out, viewProgress(p))
	}
	respondJSON(w, http.StatusOK, out)
}

// GET /api/me/progress/{subjectID}
func (h *Handler) getProgress(w http.ResponseWriter, r *http.Request) {
	p, err := h.progress.Get(r.Context(), UserID(r.Context()), r.PathValue("subjectID"))
	if h.handleError(w, r, err) {
		return
	}
	respondJSON(w, http.StatusOK, viewProgress(p))
}

type recordProgressRequest struct {
	Completed int `json:"completed"`
	Total     int `json:"total"`
}

// PUT /api/me/progress/{subjectID}
func (h *Handler) recordProgress(w http.ResponseWriter, r *http.Request) {
	var req recordProgressRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	p, err := h.progress.Record(r.Context(), UserID(r.Context()), r.PathValue("subjectID"), req.Completed, req.Total)
	if h.handleError(w, r, err) {
		return
	}
	respondJSON(w, http.StatusOK, viewProgress(p))
}

// GET /api/me/progress/summary[?semester=Y1S2] defaults to the semester
// selected in the caller's yield tracker.
func (h *Handler) progressSummary(w http.ResponseWriter, r *http.Request) {
	var s curriculum.Structure
	if raw := r.URL.Query().Get("semester"); raw != "" {
		var ok bool
		if s, ok = h.structure(w, raw); !ok {
			return
		}
	} else {
		var ok bool
		if _, s, ok = h.current(w, r); !ok {
			return
		}
	}

	sum, err := h.progress.Summary(r.Context(), UserID(r.Context()), s)
	if h.handleError(w, r, err) {
		return
	}
	respondJSON(w, http.StatusOK, sum)
}
