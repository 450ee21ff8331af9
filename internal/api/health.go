package api

import (
	"context"
	"net/http"
	"sort"
	"time"
)

const readyTimeout = 2 * time.Second

func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readyz runs every readiness check and reports each failure by name.
func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	failed := map[string]string{}
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			h.logger.Warn("readiness check failed", "check", name, "error", err)
			failed[name] = err.Error()
		}
	}

	if len(failed) > 0 {
		respondJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "unavailable",
			"checks": failed,
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
