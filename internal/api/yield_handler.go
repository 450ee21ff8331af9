package api

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/p-n-ai/pai-portal/internal/advisor"
	"github.com/p-n-ai/pai-portal/internal/curriculum"
	"github.com/p-n-ai/pai-portal/internal/report"
	"github.com/p-n-ai/pai-portal/internal/yield"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// GET /api/me/yield
func (h *Handler) getYield(w http.ResponseWriter, r *http.Request) {
	t, ok := h.tracker(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, t.State())
}

type selectRequest struct {
	Year     int `json:"year"`
	Semester int `json:"semester"`
}

// PUT /api/me/yield/semester
func (h *Handler) selectSemester(w http.ResponseWriter, r *http.Request) {
	var req selectRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	key, err := curriculum.NewSemesterKey(req.Year, req.Semester)
	if h.handleError(w, r, err) {
		return
	}

	t, ok := h.tracker(w, r)
	if !ok {
		return
	}
	st, err := t.Select(key)
	if h.handleError(w, r, err) {
		return
	}
	respondJSON(w, http.StatusOK, st)
}

// scoresRequest is either a single form field edit (SubjectID, Component
// and Value) or a bulk replacement of whole subjects (Scores).
type scoresRequest struct {
	SubjectID string       `json:"subject_id,omitempty"`
	Component string       `json:"component,omitempty"`
	Value     string       `json:"value"`
	Scores    yield.Scores `json:"scores,omitempty"`
}

// PATCH /api/me/yield/scores
func (h *Handler) editScores(w http.ResponseWriter, r *http.Request) {
	var req scoresRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	t, ok := h.tracker(w, r)
	if !ok {
		return
	}

	if req.Scores != nil {
		st, err := t.SetScores(req.Scores)
		if h.handleError(w, r, err) {
			return
		}
		respondJSON(w, http.StatusOK, st)
		return
	}

	if req.SubjectID == "" {
		respondError(w, http.StatusBadRequest, "subject_id or scores is required")
		return
	}
	c, err := yield.ParseComponent(req.Component)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	st, err := t.SetScore(req.SubjectID, c, req.Value)
	if h.handleError(w, r, err) {
		return
	}
	respondJSON(w, http.StatusOK, st)
}

// GET /api/me/yield/averages
func (h *Handler) listAverages(w http.ResponseWriter, r *http.Request) {
	list, err := h.averages.ListSemesterAverages(r.Context(), UserID(r.Context()))
	if h.handleError(w, r, err) {
		return
	}
	if list == nil {
		list = []yield.Average{}
	}
	respondJSON(w, http.StatusOK, list)
}

// GET /api/me/yield/averages/{key}
func (h *Handler) getAverage(w http.ResponseWriter, r *http.Request) {
	key, err := curriculum.ParseSemesterKey(r.PathValue("key"))
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	a, err := h.averages.GetSemesterAverage(r.Context(), UserID(r.Context()), key)
	if h.handleError(w, r, err) {
		return
	}
	respondJSON(w, http.StatusOK, a)
}

// current returns the caller's state together with the matching structure.
func (h *Handler) current(w http.ResponseWriter, r *http.Request) (yield.State, curriculum.Structure, bool) {
	t, ok := h.tracker(w, r)
	if !ok {
		return yield.State{}, curriculum.Structure{}, false
	}
	st, s := t.Snapshot()
	return st, s, true
}

// GET /api/me/yield/report.xlsx
func (h *Handler) exportReport(w http.ResponseWriter, r *http.Request) {
	st, s, ok := h.current(w, r)
	if !ok {
		return
	}

	var buf bytes.Buffer
	err := report.WriteXLSX(&buf, report.Sheet{
		Structure: s,
		Result:    st.Result,
		Scores:    st.Scores,
		Format:    report.NewFormatter(r.Header.Get("Accept-Language")),
	})
	if h.handleError(w, r, err) {
		return
	}

	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="yield-%s.xlsx"`, st.Semester))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

// GET /api/me/yield/advice
func (h *Handler) getAdvice(w http.ResponseWriter, r *http.Request) {
	if h.advisor == nil || !h.advisor.Available() {
		h.handleError(w, r, advisor.ErrUnavailable)
		return
	}
	st, s, ok := h.current(w, r)
	if !ok {
		return
	}

	adv, err := h.advisor.Advise(r.Context(), advisor.Request{
		UserID:    UserID(r.Context()),
		Structure: s,
		Result:    st.Result,
		Format:    report.NewFormatter(r.Header.Get("Accept-Language")),
	})
	if h.handleError(w, r, err) {
		return
	}
	respondJSON(w, http.StatusOK, adv)
}
