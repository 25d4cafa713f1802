package handlers

import "net/http"

// HealthHandler reports service health.
// GET /health
func HealthHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	// TODO: probe the configured extraction endpoints and report degraded
	// health when they are unreachable
	WriteJSON(w, http.StatusOK, map[string]string{"health": "GREEN"})
}
