package api

import (
	"net/http"

	"github.com/p-n-ai/pai-portal/internal/curriculum"
	"github.com/p-n-ai/pai-portal/internal/yield"
)

type curriculumSummary struct {
	Key              string  `json:"key"`
	Year             int     `json:"year"`
	Semester         int     `json:"semester"`
	Name             string  `json:"name"`
	TotalCoefficient float64 `json:"total_coefficient"`
}

// GET /api/curricula
func (h *Handler) listCurricula(w http.ResponseWriter, r *http.Request) {
	all := h.curriculum.All()
	out := make([]curriculumSummary, 0, len(all))
	for _, s := range all {
		out = append(out, curriculumSummary{
			Key:              s.Key().String(),
			Year:             s.Year,
			Semester:         s.Semester,
			Name:             s.Name,
			TotalCoefficient: s.TotalCoefficient(),
		})
	}
	respondJSON(w, http.StatusOK, out)
}

// GET /api/curricula/{key}
func (h *Handler) getCurriculum(w http.ResponseWriter, r *http.Request) {
	s, ok := h.structure(w, r.PathValue("key"))
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, s)
}

// structure resolves a "Y1S2" key, writing a 404 when it is unknown.
func (h *Handler) structure(w http.ResponseWriter, raw string) (curriculum.Structure, bool) {
	key, err := curriculum.ParseSemesterKey(raw)
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return curriculum.Structure{}, false
	}
	s, ok := h.curriculum.Get(key)
	if !ok {
		respondError(w, http.StatusNotFound, "unknown semester: "+key.String())
		return curriculum.Structure{}, false
	}
	return s, true
}

type computeRequest struct {
	Year     int          `json:"year"`
	Semester int          `json:"semester"`
	Scores   yield.Scores `json:"scores"`
}

type computeResponse struct {
	Semester curriculum.SemesterKey `json:"semester"`
	Result   yield.Result           `json:"result"`
}

// POST /api/yield/compute computes a result without touching any tracker.
func (h *Handler) computeYield(w http.ResponseWriter, r *http.Request) {
	var req computeRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	key, err := curriculum.NewSemesterKey(req.Year, req.Semester)
	if h.handleError(w, r, err) {
		return
	}
	s, ok := h.curriculum.Get(key)
	if !ok {
		respondError(w, http.StatusBadRequest, "unknown semester: "+key.String())
		return
	}

	scores := make(yield.Scores, len(req.Scores))
	for id, in := range req.Scores {
		if _, ok := s.Subject(id); !ok {
			respondError(w, http.StatusBadRequest, "unknown subject: "+id)
			return
		}
		scores[id] = in.Clamped()
	}

	respondJSON(w, http.StatusOK, computeResponse{Semester: key, Result: yield.Compute(s, scores)})
}
