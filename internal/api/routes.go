package api

import (
	"net/http"
)

// Routes returns the HTTP handler with every endpoint registered.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", h.healthz)
	mux.HandleFunc("GET /readyz", h.readyz)

	// Curriculum
	mux.HandleFunc("GET /api/curricula", h.listCurricula)
	mux.HandleFunc("GET /api/curricula/{key}", h.getCurriculum)
	mux.HandleFunc("POST /api/yield/compute", h.computeYield)

	// Per-user endpoints
	me := http.NewServeMux()
	me.HandleFunc("GET /api/me/yield", h.getYield)
	me.HandleFunc("PUT /api/me/yield/semester", h.selectSemester)
	me.HandleFunc("PATCH /api/me/yield/scores", h.editScores)
	me.HandleFunc("GET /api/me/yield/averages", h.listAverages)
	me.HandleFunc("GET /api/me/yield/averages/{key}", h.getAverage)
	me.HandleFunc("GET /api/me/yield/report.xlsx", h.exportReport)
	me.HandleFunc("GET /api/me/yield/advice", h.getAdvice)
	me.HandleFunc("GET /api/me/yield/live", h.yieldLive)

	me.HandleFunc("GET /api/me/progress", h.listProgress)
	me.HandleFunc("GET /api/me/progress/summary", h.progressSummary)
	me.HandleFunc("GET /api/me/progress/{subjectID}", h.getProgress)
	me.HandleFunc("PUT /api/me/progress/{subjectID}", h.recordProgress)

	me.HandleFunc("GET /api/me/timer", h.getTimer)
	me.HandleFunc("GET /api/me/timer/events", h.timerEvents)
	me.HandleFunc("POST /api/me/timer/start", h.startTimer)
	me.HandleFunc("POST /api/me/timer/pause", h.pauseTimer)
	me.HandleFunc("POST /api/me/timer/resume", h.resumeTimer)
	me.HandleFunc("POST /api/me/timer/skip", h.skipTimer)
	me.HandleFunc("POST /api/me/timer/stop", h.stopTimer)

	mux.Handle("/api/me/", RequireUser(me))

	return WithLogging(h.logger, mux)
}
