package calendar

import (
	"context"
	"fmt"
	"time"

	"calendar-service/internal/availability"
	"calendar-service/internal/common/errors"
	"calendar-service/internal/common/logging"
	"calendar-service/internal/models"
	"calendar-service/internal/storage"
)

const defaultCalendarID = "primary"

// ProviderAPI is the calendar surface of an upstream provider. The Google
// client satisfies it; tests substitute a fake.
type ProviderAPI interface {
	ListCalendars(ctx context.Context, accessToken string) ([]models.Calendar, error)
	ListEvents(ctx context.Context, accessToken, calendarID string, timeMin, timeMax time.Time, maxResults int64) ([]models.Event, error)
	GetEvent(ctx context.Context, accessToken, calendarID, eventID string) (*models.Event, error)
	CreateEvent(ctx context.Context, accessToken string, input *models.CreateEventInput) (*models.Event, error)
	UpdateEvent(ctx context.Context, accessToken, calendarID, eventID string, input *models.UpdateEventInput) (*models.Event, error)
	DeleteEvent(ctx context.Context, accessToken, calendarID, eventID, sendUpdates string) error
	FreeBusy(ctx context.Context, accessToken string, timeMin, timeMax time.Time, timezone string, calendarIDs []string) (map[string][]models.BusyInterval, error)
}

// TokenSource supplies short-lived access tokens for a user and records
// successful sync activity against their credential.
type TokenSource interface {
	GetValidAccessToken(ctx context.Context, userID string) (string, error)
	RecordSync(userID string)
}

// Attribution identifies who asked for a calendar mutation and which local
// entity it relates to. Every mutation is written to the sync audit log with
// this attribution attached.
type Attribution struct {
	InitiatedBy   string
	AgentID       string
	ReferenceType string
	ReferenceID   string
}

func (a Attribution) normalized() Attribution {
	if a.InitiatedBy == "" {
		a.InitiatedBy = models.InitiatorUser
	}
	return a
}

// Availability describes a user's busy and free slots for a single date
// within their working hours.
type Availability struct {
	UserID    string              `json:"user_id"`
	Date      string              `json:"date"`
	Timezone  string              `json:"timezone"`
	WorkStart string              `json:"work_start"`
	WorkEnd   string              `json:"work_end"`
	BusySlots []availability.Slot `json:"busy_slots"`
	FreeSlots []availability.Slot `json:"free_slots"`
}

// Service performs calendar operations on behalf of connected users and
// audits every mutation.
type Service struct {
	provider ProviderAPI
	tokens   TokenSource
	store    storage.Storage
	logger   logging.Logger
}

func NewService(provider ProviderAPI, tokens TokenSource, store storage.Storage, logger logging.Logger) *Service {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Service{
		provider: provider,
		tokens:   tokens,
		store:    store,
		logger:   logger,
	}
}

// ListCalendars returns the user's calendar list.
func (s *Service) ListCalendars(ctx context.Context, userID string) ([]models.Calendar, error) {
	token, err := s.tokens.GetValidAccessToken(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.provider.ListCalendars(ctx, token)
}

// ListEvents returns events from one of the user's calendars. Zero time
// bounds and a zero maxResults fall back to the provider defaults.
func (s *Service) ListEvents(ctx context.Context, userID, calendarID string, timeMin, timeMax time.Time, maxResults int64) ([]models.Event, error) {
	token, err := s.tokens.GetValidAccessToken(ctx, userID)
	if err != nil {
		return nil, err
	}
	if calendarID == "" {
		calendarID = defaultCalendarID
	}
	return s.provider.ListEvents(ctx, token, calendarID, timeMin, timeMax, maxResults)
}

// GetEvent returns a single event.
func (s *Service) GetEvent(ctx context.Context, userID, calendarID, eventID string) (*models.Event, error) {
	if eventID == "" {
		return nil, errors.ValidationError("event_id is required")
	}
	token, err := s.tokens.GetValidAccessToken(ctx, userID)
	if err != nil {
		return nil, err
	}
	if calendarID == "" {
		calendarID = defaultCalendarID
	}
	return s.provider.GetEvent(ctx, token, calendarID, eventID)
}

// CreateEvent creates an event and records the outcome in the sync log.
func (s *Service) CreateEvent(ctx context.Context, userID string, input *models.CreateEventInput, attrib Attribution) (*models.Event, error) {
	attrib = attrib.normalized()

	if err := validateCreateInput(input); err != nil {
		return nil, err
	}
	token, err := s.tokens.GetValidAccessToken(ctx, userID)
	if err != nil {
		return nil, err
	}

	event, err := s.provider.CreateEvent(ctx, token, input)

	entry := &models.SyncLogEntry{
		UserID:             userID,
		Operation:          models.SyncOpCreateEvent,
		LocalReferenceType: attrib.ReferenceType,
		LocalReferenceID:   attrib.ReferenceID,
		InitiatedBy:        attrib.InitiatedBy,
		AgentID:            attrib.AgentID,
		RequestPayload:     createRequestPayload(input),
	}
	if err != nil {
		entry.Status = models.SyncStatusFailed
		entry.ErrorMessage = err.Error()
		s.recordAudit(entry)
		return nil, err
	}
	entry.Status = models.SyncStatusSuccess
	entry.ProviderEventID = event.ID
	entry.ResponsePayload = eventResponsePayload(event)
	s.recordAudit(entry)
	s.tokens.RecordSync(userID)

	s.logger.Info("calendar event created",
		logging.String("user_id", userID),
		logging.String("event_id", event.ID),
		logging.String("initiated_by", attrib.InitiatedBy))
	return event, nil
}

// UpdateEvent applies a partial update and records the outcome.
func (s *Service) UpdateEvent(ctx context.Context, userID, calendarID, eventID string, input *models.UpdateEventInput, attrib Attribution) (*models.Event, error) {
	attrib = attrib.normalized()

	if eventID == "" {
		return nil, errors.ValidationError("event_id is required")
	}
	if input == nil {
		return nil, errors.ValidationError("update payload is required")
	}
	if input.Start != nil && input.End != nil && !input.End.After(*input.Start) {
		return nil, errors.ValidationError("end must be after start")
	}
	token, err := s.tokens.GetValidAccessToken(ctx, userID)
	if err != nil {
		return nil, err
	}
	if calendarID == "" {
		calendarID = defaultCalendarID
	}

	event, err := s.provider.UpdateEvent(ctx, token, calendarID, eventID, input)

	entry := &models.SyncLogEntry{
		UserID:          userID,
		Operation:       models.SyncOpUpdateEvent,
		ProviderEventID: eventID,
		InitiatedBy:     attrib.InitiatedBy,
		AgentID:         attrib.AgentID,
		RequestPayload:  updateRequestPayload(calendarID, eventID, input),
	}
	if err != nil {
		entry.Status = models.SyncStatusFailed
		entry.ErrorMessage = err.Error()
		s.recordAudit(entry)
		return nil, err
	}
	entry.Status = models.SyncStatusSuccess
	entry.ResponsePayload = eventResponsePayload(event)
	s.recordAudit(entry)
	s.tokens.RecordSync(userID)

	s.logger.Info("calendar event updated",
		logging.String("user_id", userID),
		logging.String("event_id", eventID),
		logging.String("initiated_by", attrib.InitiatedBy))
	return event, nil
}

// DeleteEvent deletes an event and records the outcome.
func (s *Service) DeleteEvent(ctx context.Context, userID, calendarID, eventID, sendUpdates string, attrib Attribution) error {
	attrib = attrib.normalized()

	if eventID == "" {
		return errors.ValidationError("event_id is required")
	}
	token, err := s.tokens.GetValidAccessToken(ctx, userID)
	if err != nil {
		return err
	}
	if calendarID == "" {
		calendarID = defaultCalendarID
	}
	if sendUpdates == "" {
		sendUpdates = models.SendUpdatesAll
	}

	err = s.provider.DeleteEvent(ctx, token, calendarID, eventID, sendUpdates)

	entry := &models.SyncLogEntry{
		UserID:          userID,
		Operation:       models.SyncOpDeleteEvent,
		ProviderEventID: eventID,
		InitiatedBy:     attrib.InitiatedBy,
		AgentID:         attrib.AgentID,
		RequestPayload: map[string]interface{}{
			"calendar_id":  calendarID,
			"event_id":     eventID,
			"send_updates": sendUpdates,
		},
	}
	if err != nil {
		entry.Status = models.SyncStatusFailed
		entry.ErrorMessage = err.Error()
		s.recordAudit(entry)
		return err
	}
	entry.Status = models.SyncStatusSuccess
	s.recordAudit(entry)
	s.tokens.RecordSync(userID)

	s.logger.Info("calendar event deleted",
		logging.String("user_id", userID),
		logging.String("event_id", eventID),
		logging.String("initiated_by", attrib.InitiatedBy))
	return nil
}

// GetAvailability computes a user's free and busy slots for one date inside
// the given working hours. Times in the result are wall-clock "HH:MM"
// strings in the requested timezone.
func (s *Service) GetAvailability(ctx context.Context, userID, date, tzName, workStart, workEnd string) (*Availability, error) {
	if tzName == "" {
		tzName = "UTC"
	}
	if workStart == "" {
		workStart = "09:00"
	}
	if workEnd == "" {
		workEnd = "18:00"
	}

	loc, err := time.LoadLocation(tzName)
	if err != nil {
		return nil, errors.ValidationError(fmt.Sprintf("unknown timezone %q", tzName))
	}
	day, err := time.ParseInLocation("2006-01-02", date, loc)
	if err != nil {
		return nil, errors.ValidationError("date must be YYYY-MM-DD")
	}
	startClock, err := time.Parse("15:04", workStart)
	if err != nil {
		return nil, errors.ValidationError("work_start must be HH:MM")
	}
	endClock, err := time.Parse("15:04", workEnd)
	if err != nil {
		return nil, errors.ValidationError("work_end must be HH:MM")
	}
	if workEnd <= workStart {
		return nil, errors.ValidationError("work_end must be after work_start")
	}

	timeMin := time.Date(day.Year(), day.Month(), day.Day(), startClock.Hour(), startClock.Minute(), 0, 0, loc)
	timeMax := time.Date(day.Year(), day.Month(), day.Day(), endClock.Hour(), endClock.Minute(), 0, 0, loc)

	token, err := s.tokens.GetValidAccessToken(ctx, userID)
	if err != nil {
		return nil, err
	}

	busyByCalendar, err := s.provider.FreeBusy(ctx, token, timeMin, timeMax, tzName, []string{defaultCalendarID})
	if err != nil {
		return nil, err
	}

	busySlots := make([]availability.Slot, 0)
	for _, interval := range busyByCalendar[defaultCalendarID] {
		start := interval.Start.In(loc)
		end := interval.End.In(loc)
		// Clamp to the working window so a meeting spilling over midnight
		// cannot produce an out-of-order wall clock pair.
		if start.Before(timeMin) {
			start = timeMin
		}
		if end.After(timeMax) {
			end = timeMax
		}
		if !end.After(start) {
			continue
		}
		busySlots = append(busySlots, availability.Slot{
			Start: start.Format("15:04"),
			End:   end.Format("15:04"),
		})
	}

	return &Availability{
		UserID:    userID,
		Date:      date,
		Timezone:  tzName,
		WorkStart: workStart,
		WorkEnd:   workEnd,
		BusySlots: busySlots,
		FreeSlots: availability.FreeSlots(busySlots, workStart, workEnd),
	}, nil
}

// SyncHistory returns the user's audit trail, newest first. An empty
// operation matches every operation.
func (s *Service) SyncHistory(userID, operation string, limit, offset int) ([]*models.SyncLogEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListSyncLogsByUser(userID, operation, limit, offset)
}

// CountSyncHistory returns the total number of audit entries for a user,
// optionally restricted to one operation.
func (s *Service) CountSyncHistory(userID, operation string) (int, error) {
	return s.store.CountSyncLogsByUser(userID, operation)
}

// SyncHistoryForReference returns audit entries tied to a local entity.
func (s *Service) SyncHistoryForReference(referenceType, referenceID string, limit int) ([]*models.SyncLogEntry, error) {
	if referenceType == "" || referenceID == "" {
		return nil, errors.ValidationError("reference_type and reference_id are required")
	}
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListSyncLogsByReference(referenceType, referenceID, limit)
}

// recordAudit writes a sync log entry. Audit failures are logged but never
// override the outcome of the calendar operation itself.
func (s *Service) recordAudit(entry *models.SyncLogEntry) {
	if err := s.store.CreateSyncLog(entry); err != nil {
		s.logger.Warn("failed to write sync log entry",
			logging.String("user_id", entry.UserID),
			logging.String("operation", entry.Operation),
			logging.Err(err))
	}
}

func validateCreateInput(input *models.CreateEventInput) error {
	if input == nil {
		return errors.ValidationError("event payload is required")
	}
	if input.Summary == "" {
		return errors.ValidationError("summary is required")
	}
	if input.Start.IsZero() || input.End.IsZero() {
		return errors.ValidationError("start and end are required")
	}
	if !input.End.After(input.Start) {
		return errors.ValidationError("end must be after start")
	}
	return nil
}

func createRequestPayload(input *models.CreateEventInput) map[string]interface{} {
	payload := map[string]interface{}{
		"summary": input.Summary,
		"start":   input.Start.Format(time.RFC3339),
		"end":     input.End.Format(time.RFC3339),
	}
	if input.CalendarID != "" {
		payload["calendar_id"] = input.CalendarID
	}
	if input.Timezone != "" {
		payload["timezone"] = input.Timezone
	}
	if len(input.Attendees) > 0 {
		payload["attendees"] = input.Attendees
	}
	if input.Location != "" {
		payload["location"] = input.Location
	}
	return payload
}

func updateRequestPayload(calendarID, eventID string, input *models.UpdateEventInput) map[string]interface{} {
	payload := map[string]interface{}{
		"calendar_id": calendarID,
		"event_id":    eventID,
	}
	if input.Summary != nil {
		payload["summary"] = *input.Summary
	}
	if input.Start != nil {
		payload["start"] = input.Start.Format(time.RFC3339)
	}
	if input.End != nil {
		payload["end"] = input.End.Format(time.RFC3339)
	}
	if input.Description != nil {
		payload["description"] = *input.Description
	}
	if input.Location != nil {
		payload["location"] = *input.Location
	}
	if input.Attendees != nil {
		payload["attendees"] = *input.Attendees
	}
	return payload
}

func eventResponsePayload(event *models.Event) map[string]interface{} {
	payload := map[string]interface{}{
		"id":     event.ID,
		"status": event.Status,
		"start":  event.Start,
		"end":    event.End,
	}
	if event.Summary != "" {
		payload["summary"] = event.Summary
	}
	if event.HTMLLink != "" {
		payload["html_link"] = event.HTMLLink
	}
	return payload
}
