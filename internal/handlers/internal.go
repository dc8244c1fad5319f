package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"calendar-service/internal/calendar"
	"calendar-service/internal/common/errors"
	"calendar-service/internal/common/logging"
	"calendar-service/internal/models"
)

// AgentMetadata attributes an internal mutation to its originator.
type AgentMetadata struct {
	Source        string `json:"source,omitempty"`
	AgentID       string `json:"agent_id,omitempty"`
	ReferenceType string `json:"reference_type,omitempty"`
	ReferenceID   string `json:"reference_id,omitempty"`
}

func (m AgentMetadata) attribution() calendar.Attribution {
	initiatedBy := m.Source
	if initiatedBy == "" {
		initiatedBy = models.InitiatorAgent
	}
	return calendar.Attribution{
		InitiatedBy:   initiatedBy,
		AgentID:       m.AgentID,
		ReferenceType: m.ReferenceType,
		ReferenceID:   m.ReferenceID,
	}
}

// InternalCreateEventRequest is the body for agent-driven event creation.
type InternalCreateEventRequest struct {
	UserID   string             `json:"user_id"`
	Event    CreateEventRequest `json:"event"`
	Metadata AgentMetadata      `json:"metadata"`
}

// InternalUpdateEventRequest is the body for agent-driven event updates.
type InternalUpdateEventRequest struct {
	UserID   string             `json:"user_id"`
	Updates  UpdateEventRequest `json:"updates"`
	Metadata AgentMetadata      `json:"metadata"`
}

// InternalDeleteEventRequest is the body for agent-driven event deletion.
type InternalDeleteEventRequest struct {
	UserID      string        `json:"user_id"`
	SendUpdates string        `json:"send_updates,omitempty"`
	Metadata    AgentMetadata `json:"metadata"`
}

// InternalEventResponse is the uniform envelope for agent event mutations.
// Agents get HTTP 200 with success=false on domain failures so they never
// have to branch on status codes.
type InternalEventResponse struct {
	Success  bool   `json:"success"`
	EventID  string `json:"event_id,omitempty"`
	HTMLLink string `json:"html_link,omitempty"`
	Error    string `json:"error,omitempty"`
}

// InternalCreateEvent creates an event on behalf of a user.
func (h *Handlers) InternalCreateEvent(w http.ResponseWriter, r *http.Request) {
	var req InternalCreateEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendJSON(w, http.StatusOK, InternalEventResponse{Success: false, Error: "invalid request body"})
		return
	}
	if req.UserID == "" {
		h.sendJSON(w, http.StatusOK, InternalEventResponse{Success: false, Error: "user_id is required"})
		return
	}

	input, err := req.Event.toInput()
	if err != nil {
		h.sendJSON(w, http.StatusOK, InternalEventResponse{Success: false, Error: err.Error()})
		return
	}

	event, err := h.calendar.CreateEvent(r.Context(), req.UserID, input, req.Metadata.attribution())
	if err != nil {
		h.logRequestError("agent event creation failed", err,
			logging.String("user_id", req.UserID),
			logging.String("agent_id", req.Metadata.AgentID))
		h.sendJSON(w, http.StatusOK, InternalEventResponse{Success: false, Error: safeMessage(err)})
		return
	}

	h.sendJSON(w, http.StatusOK, InternalEventResponse{
		Success:  true,
		EventID:  event.ID,
		HTMLLink: event.HTMLLink,
	})
}

// InternalUpdateEvent updates an event on behalf of a user.
func (h *Handlers) InternalUpdateEvent(w http.ResponseWriter, r *http.Request) {
	eventID := mux.Vars(r)["eventID"]

	var req InternalUpdateEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendJSON(w, http.StatusOK, InternalEventResponse{Success: false, Error: "invalid request body"})
		return
	}
	if req.UserID == "" {
		h.sendJSON(w, http.StatusOK, InternalEventResponse{Success: false, Error: "user_id is required"})
		return
	}

	input, err := req.Updates.toInput()
	if err != nil {
		h.sendJSON(w, http.StatusOK, InternalEventResponse{Success: false, Error: err.Error()})
		return
	}

	event, err := h.calendar.UpdateEvent(r.Context(), req.UserID, req.Updates.CalendarID, eventID, input, req.Metadata.attribution())
	if err != nil {
		h.logRequestError("agent event update failed", err,
			logging.String("user_id", req.UserID),
			logging.String("event_id", eventID))
		h.sendJSON(w, http.StatusOK, InternalEventResponse{Success: false, Error: safeMessage(err)})
		return
	}

	h.sendJSON(w, http.StatusOK, InternalEventResponse{
		Success:  true,
		EventID:  event.ID,
		HTMLLink: event.HTMLLink,
	})
}

// InternalDeleteEvent deletes an event on behalf of a user.
func (h *Handlers) InternalDeleteEvent(w http.ResponseWriter, r *http.Request) {
	eventID := mux.Vars(r)["eventID"]

	var req InternalDeleteEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendJSON(w, http.StatusOK, InternalEventResponse{Success: false, Error: "invalid request body"})
		return
	}
	if req.UserID == "" {
		h.sendJSON(w, http.StatusOK, InternalEventResponse{Success: false, Error: "user_id is required"})
		return
	}

	err := h.calendar.DeleteEvent(r.Context(), req.UserID, r.URL.Query().Get("calendar_id"), eventID, req.SendUpdates, req.Metadata.attribution())
	if err != nil {
		h.logRequestError("agent event deletion failed", err,
			logging.String("user_id", req.UserID),
			logging.String("event_id", eventID))
		h.sendJSON(w, http.StatusOK, InternalEventResponse{Success: false, Error: safeMessage(err)})
		return
	}

	h.sendJSON(w, http.StatusOK, InternalEventResponse{Success: true, EventID: eventID})
}

// InternalAvailability reports a user's availability for scheduling.
func (h *Handlers) InternalAvailability(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userID"]
	query := r.URL.Query()

	date := query.Get("date")
	if date == "" {
		h.sendError(w, errors.ValidationError("date is required"))
		return
	}

	avail, err := h.calendar.GetAvailability(r.Context(), userID, date,
		query.Get("timezone"), query.Get("work_start"), query.Get("work_end"))
	if err != nil {
		h.sendError(w, err)
		return
	}
	h.sendJSON(w, http.StatusOK, avail)
}

// InternalConnectionStatus tells an agent whether a user has a calendar
// connected before it attempts operations.
func (h *Handlers) InternalConnectionStatus(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userID"]

	status, err := h.tokens.Status(userID)
	if err != nil {
		h.sendError(w, err)
		return
	}

	response := map[string]interface{}{
		"connected": status.Connected,
		"user_id":   userID,
	}
	if !status.Connected {
		response["message"] = "User has not connected their calendar"
	} else {
		response["email"] = status.Email
		response["last_sync"] = status.LastSyncAt
		response["last_error"] = status.LastError
	}
	h.sendJSON(w, http.StatusOK, response)
}

// safeMessage keeps internal details out of agent-facing error strings.
func safeMessage(err error) string {
	switch errors.GetType(err) {
	case errors.ErrTypeInternal, errors.ErrTypeEncryption:
		return "internal error"
	default:
		return err.Error()
	}
}
