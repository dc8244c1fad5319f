package handlers

import (
	"encoding/json"
	"net/http"

	"calendar-service/internal/common/errors"
	"calendar-service/internal/common/logging"
)

func (h *Handlers) sendJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			h.logger.Error("failed to encode response", err)
		}
	}
}

// sendError maps a domain error to an HTTP status and a safe JSON body
// carrying the error category and a human message. Internals never leak:
// unknown errors come back as a generic 500.
func (h *Handlers) sendError(w http.ResponseWriter, err error) {
	status := statusForError(err)
	message := err.Error()
	if status >= 500 {
		h.logger.Error("request failed", err)
		message = "internal server error"
	}
	h.sendJSON(w, status, map[string]interface{}{
		"success": false,
		"error": map[string]string{
			"type":    string(errors.GetType(err)),
			"message": message,
		},
	})
}

func statusForError(err error) int {
	switch errors.GetType(err) {
	case errors.ErrTypeValidation, errors.ErrTypeOAuthState, errors.ErrTypeNotConnected:
		return http.StatusBadRequest
	case errors.ErrTypeAuth, errors.ErrTypeTokenExpired:
		return http.StatusUnauthorized
	case errors.ErrTypeNotFound:
		return http.StatusNotFound
	case errors.ErrTypeAccountConflict:
		return http.StatusConflict
	case errors.ErrTypeUpstream:
		return http.StatusBadGateway
	case errors.ErrTypeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handlers) logRequestError(msg string, err error, fields ...logging.Field) {
	h.logger.Warn(msg, append(fields, logging.Err(err))...)
}
