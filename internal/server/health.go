package server

import (
	"encoding/json"
	"net/http"
	"time"
)

// HealthHandler returns a liveness handler reporting status and uptime.
func HealthHandler(startedAt time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"status": "healthy",
			"uptime": time.Since(startedAt).String(),
		})
	}
}
