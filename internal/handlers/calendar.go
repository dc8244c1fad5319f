package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"calendar-service/internal/auth"
	"calendar-service/internal/calendar"
	"calendar-service/internal/common/errors"
	"calendar-service/internal/common/pagination"
	"calendar-service/internal/models"
)

// CreateEventRequest is the JSON body for event creation.
type CreateEventRequest struct {
	Summary       string                  `json:"summary"`
	Start         string                  `json:"start"`
	End           string                  `json:"end"`
	CalendarID    string                  `json:"calendar_id,omitempty"`
	Description   string                  `json:"description,omitempty"`
	Location      string                  `json:"location,omitempty"`
	Attendees     []string                `json:"attendees,omitempty"`
	Timezone      string                  `json:"timezone,omitempty"`
	Reminders     *models.RemindersConfig `json:"reminders,omitempty"`
	SendUpdates   string                  `json:"send_updates,omitempty"`
	ReferenceType string                  `json:"reference_type,omitempty"`
	ReferenceID   string                  `json:"reference_id,omitempty"`
}

func (req *CreateEventRequest) toInput() (*models.CreateEventInput, error) {
	start, err := time.Parse(time.RFC3339, req.Start)
	if err != nil {
		return nil, errors.ValidationError("start must be RFC 3339")
	}
	end, err := time.Parse(time.RFC3339, req.End)
	if err != nil {
		return nil, errors.ValidationError("end must be RFC 3339")
	}
	return &models.CreateEventInput{
		Summary:     req.Summary,
		Start:       start,
		End:         end,
		CalendarID:  req.CalendarID,
		Description: req.Description,
		Location:    req.Location,
		Attendees:   req.Attendees,
		Timezone:    req.Timezone,
		Reminders:   req.Reminders,
		SendUpdates: req.SendUpdates,
	}, nil
}

// UpdateEventRequest is the JSON body for partial event updates. Absent
// fields are left untouched.
type UpdateEventRequest struct {
	Summary     *string   `json:"summary,omitempty"`
	Start       *string   `json:"start,omitempty"`
	End         *string   `json:"end,omitempty"`
	Description *string   `json:"description,omitempty"`
	Location    *string   `json:"location,omitempty"`
	Attendees   *[]string `json:"attendees,omitempty"`
	Timezone    string    `json:"timezone,omitempty"`
	SendUpdates string    `json:"send_updates,omitempty"`
	CalendarID  string    `json:"calendar_id,omitempty"`
}

func (req *UpdateEventRequest) toInput() (*models.UpdateEventInput, error) {
	input := &models.UpdateEventInput{
		Summary:     req.Summary,
		Description: req.Description,
		Location:    req.Location,
		Attendees:   req.Attendees,
		Timezone:    req.Timezone,
		SendUpdates: req.SendUpdates,
	}
	if req.Start != nil {
		start, err := time.Parse(time.RFC3339, *req.Start)
		if err != nil {
			return nil, errors.ValidationError("start must be RFC 3339")
		}
		input.Start = &start
	}
	if req.End != nil {
		end, err := time.Parse(time.RFC3339, *req.End)
		if err != nil {
			return nil, errors.ValidationError("end must be RFC 3339")
		}
		input.End = &end
	}
	return input, nil
}

// ListCalendars returns the user's calendar list.
func (h *Handlers) ListCalendars(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	calendars, err := h.calendar.ListCalendars(r.Context(), userID)
	if err != nil {
		h.sendError(w, err)
		return
	}
	h.sendJSON(w, http.StatusOK, map[string]interface{}{"calendars": calendars})
}

// ListEvents returns events, optionally bounded by start/end query params.
func (h *Handlers) ListEvents(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())
	query := r.URL.Query()

	var timeMin, timeMax time.Time
	var err error
	if raw := query.Get("start"); raw != "" {
		if timeMin, err = time.Parse(time.RFC3339, raw); err != nil {
			h.sendError(w, errors.ValidationError("start must be RFC 3339"))
			return
		}
	}
	if raw := query.Get("end"); raw != "" {
		if timeMax, err = time.Parse(time.RFC3339, raw); err != nil {
			h.sendError(w, errors.ValidationError("end must be RFC 3339"))
			return
		}
	}
	var maxResults int64
	if raw := query.Get("max_results"); raw != "" {
		if maxResults, err = strconv.ParseInt(raw, 10, 64); err != nil || maxResults < 1 {
			h.sendError(w, errors.ValidationError("max_results must be a positive integer"))
			return
		}
	}

	events, err := h.calendar.ListEvents(r.Context(), userID, query.Get("calendar_id"), timeMin, timeMax, maxResults)
	if err != nil {
		h.sendError(w, err)
		return
	}
	h.sendJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}

// GetEvent returns a single event by ID.
func (h *Handlers) GetEvent(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())
	eventID := mux.Vars(r)["eventID"]

	event, err := h.calendar.GetEvent(r.Context(), userID, r.URL.Query().Get("calendar_id"), eventID)
	if err != nil {
		h.sendError(w, err)
		return
	}
	h.sendJSON(w, http.StatusOK, event)
}

// CreateEvent creates an event on the user's calendar.
func (h *Handlers) CreateEvent(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	var req CreateEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, errors.ValidationError("invalid request body"))
		return
	}
	input, err := req.toInput()
	if err != nil {
		h.sendError(w, err)
		return
	}

	event, err := h.calendar.CreateEvent(r.Context(), userID, input, calendar.Attribution{
		InitiatedBy:   models.InitiatorUser,
		ReferenceType: req.ReferenceType,
		ReferenceID:   req.ReferenceID,
	})
	if err != nil {
		h.sendError(w, err)
		return
	}
	h.sendJSON(w, http.StatusCreated, event)
}

// UpdateEvent applies a partial update to an event.
func (h *Handlers) UpdateEvent(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())
	eventID := mux.Vars(r)["eventID"]

	var req UpdateEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, errors.ValidationError("invalid request body"))
		return
	}
	input, err := req.toInput()
	if err != nil {
		h.sendError(w, err)
		return
	}

	event, err := h.calendar.UpdateEvent(r.Context(), userID, req.CalendarID, eventID, input, calendar.Attribution{
		InitiatedBy: models.InitiatorUser,
	})
	if err != nil {
		h.sendError(w, err)
		return
	}
	h.sendJSON(w, http.StatusOK, event)
}

// DeleteEvent removes an event.
func (h *Handlers) DeleteEvent(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())
	eventID := mux.Vars(r)["eventID"]
	query := r.URL.Query()

	err := h.calendar.DeleteEvent(r.Context(), userID, query.Get("calendar_id"), eventID, query.Get("send_updates"), calendar.Attribution{
		InitiatedBy: models.InitiatorUser,
	})
	if err != nil {
		h.sendError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetAvailability returns busy and free slots for one date.
func (h *Handlers) GetAvailability(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())
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

// EventsFeed serves the user's events as an iCalendar document.
func (h *Handlers) EventsFeed(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())
	query := r.URL.Query()

	var timeMin, timeMax time.Time
	var err error
	if raw := query.Get("start"); raw != "" {
		if timeMin, err = time.Parse(time.RFC3339, raw); err != nil {
			h.sendError(w, errors.ValidationError("start must be RFC 3339"))
			return
		}
	}
	if raw := query.Get("end"); raw != "" {
		if timeMax, err = time.Parse(time.RFC3339, raw); err != nil {
			h.sendError(w, errors.ValidationError("end must be RFC 3339"))
			return
		}
	}

	feed, err := h.calendar.EventsICS(r.Context(), userID, query.Get("calendar_id"), timeMin, timeMax, 0)
	if err != nil {
		h.sendError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="events.ics"`)
	w.Write([]byte(feed))
}

// AvailabilityFeed serves free slots for one date as an iCalendar document.
func (h *Handlers) AvailabilityFeed(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())
	query := r.URL.Query()

	date := query.Get("date")
	if date == "" {
		h.sendError(w, errors.ValidationError("date is required"))
		return
	}

	feed, err := h.calendar.AvailabilityICS(r.Context(), userID, date,
		query.Get("timezone"), query.Get("work_start"), query.Get("work_end"))
	if err != nil {
		h.sendError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="availability.ics"`)
	w.Write([]byte(feed))
}

// SyncLogs returns the user's sync audit trail, newest first.
func (h *Handlers) SyncLogs(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())
	params := pagination.ParseParams(r)
	operation := r.URL.Query().Get("operation")

	logs, err := h.calendar.SyncHistory(userID, operation, params.Limit, params.Offset)
	if err != nil {
		h.sendError(w, err)
		return
	}
	total, err := h.calendar.CountSyncHistory(userID, operation)
	if err != nil {
		h.sendError(w, err)
		return
	}
	h.sendJSON(w, http.StatusOK, pagination.NewResponse(logs, params.Page, params.PerPage, total))
}
