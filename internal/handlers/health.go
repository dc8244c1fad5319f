package handlers

import (
	"net/http"
	"time"
)

// HealthCheck reports service and storage health.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	code := http.StatusOK

	if err := h.storage.Health(); err != nil {
		h.logger.Error("storage health check failed", err)
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}

	h.sendJSON(w, code, map[string]interface{}{
		"status":    status,
		"service":   "calendar-service",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
