package handlers

import (
	"net/http"
	"net/url"

	"calendar-service/internal/auth"
	"calendar-service/internal/common/logging"
)

// Connect starts the OAuth flow and returns the provider authorization URL
// for the frontend to redirect the user to.
func (h *Handlers) Connect(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		h.sendJSON(w, http.StatusUnauthorized, map[string]interface{}{
			"success": false,
			"error":   "authentication required",
		})
		return
	}

	authURL, err := h.tokens.IssueAuthorization(userID)
	if err != nil {
		h.sendError(w, err)
		return
	}

	h.sendJSON(w, http.StatusOK, map[string]interface{}{
		"auth_url": authURL,
	})
}

// Callback handles the provider redirect at the end of the OAuth flow. It
// has no bearer token, the state token carries the user identity. The
// browser is sent back to the frontend with the outcome in query params.
func (h *Handlers) Callback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	if providerErr := query.Get("error"); providerErr != "" {
		h.logger.Warn("oauth callback returned provider error",
			logging.String("provider_error", providerErr))
		h.redirectToFrontend(w, r, false, providerErr)
		return
	}

	stateToken := query.Get("state")
	code := query.Get("code")
	if stateToken == "" || code == "" {
		h.redirectToFrontend(w, r, false, "missing state or code")
		return
	}

	cred, err := h.tokens.CompleteAuthorization(r.Context(), stateToken, code)
	if err != nil {
		h.logRequestError("oauth callback failed", err)
		h.redirectToFrontend(w, r, false, "connection failed")
		return
	}

	h.logger.Info("calendar connected via oauth callback",
		logging.String("user_id", cred.UserID),
		logging.String("email", cred.Email))
	h.redirectToFrontend(w, r, true, "")
}

func (h *Handlers) redirectToFrontend(w http.ResponseWriter, r *http.Request, connected bool, errMessage string) {
	target, err := url.Parse(h.config.FrontendURL)
	if err != nil || h.config.FrontendURL == "" {
		// No frontend configured, answer with JSON instead.
		if errMessage != "" {
			h.sendJSON(w, http.StatusBadRequest, map[string]interface{}{
				"success": false,
				"error":   errMessage,
			})
			return
		}
		h.sendJSON(w, http.StatusOK, map[string]interface{}{"success": connected})
		return
	}

	params := target.Query()
	if connected {
		params.Set("calendar_connected", "true")
	} else {
		params.Set("calendar_connected", "false")
		params.Set("calendar_error", errMessage)
	}
	target.RawQuery = params.Encode()
	http.Redirect(w, r, target.String(), http.StatusFound)
}

// Status reports whether the user has a calendar connected, without any
// token material.
func (h *Handlers) Status(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	status, err := h.tokens.Status(userID)
	if err != nil {
		h.sendError(w, err)
		return
	}
	h.sendJSON(w, http.StatusOK, status)
}

// Disconnect revokes the connection and deactivates the stored credential.
func (h *Handlers) Disconnect(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	if err := h.tokens.Revoke(r.Context(), userID); err != nil {
		h.sendError(w, err)
		return
	}
	h.sendJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}
