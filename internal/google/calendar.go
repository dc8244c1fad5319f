package google

import (
	"context"
	stderrors "errors"
	"time"

	"golang.org/x/oauth2"
	calendarapi "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"calendar-service/internal/circuitbreaker"
	"calendar-service/internal/common/errors"
	"calendar-service/internal/common/logging"
	"calendar-service/internal/config"
	"calendar-service/internal/models"
)

// CalendarClient wraps the Google Calendar v3 API. Every call takes the
// caller's access token, so one client instance serves all users.
type CalendarClient struct {
	breaker *circuitbreaker.Breaker
	timeout time.Duration
	logger  logging.Logger
}

func NewCalendarClient(cfg *config.Config, logger logging.Logger) *CalendarClient {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	return &CalendarClient{
		breaker: circuitbreaker.New("google-calendar", circuitbreaker.CalendarAPIConfig, logger),
		timeout: cfg.ProviderTimeout,
		logger:  logger,
	}
}

func (c *CalendarClient) service(ctx context.Context, accessToken string) (*calendarapi.Service, error) {
	svc, err := calendarapi.NewService(ctx,
		option.WithTokenSource(oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken})),
	)
	if err != nil {
		return nil, errors.UpstreamError("failed to build calendar client", 0, "client_init", err)
	}
	return svc, nil
}

func (c *CalendarClient) ListCalendars(ctx context.Context, accessToken string) ([]models.Calendar, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	svc, err := c.service(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	var result *calendarapi.CalendarList
	err = c.breaker.Execute(ctx, func() error {
		var callErr error
		result, callErr = svc.CalendarList.List().Context(ctx).Do()
		return wrapAPIError("list calendars", callErr)
	})
	if err != nil {
		return nil, err
	}

	calendars := make([]models.Calendar, 0, len(result.Items))
	for _, item := range result.Items {
		calendars = append(calendars, models.Calendar{
			ID:              item.Id,
			Summary:         item.Summary,
			Description:     item.Description,
			Primary:         item.Primary,
			AccessRole:      item.AccessRole,
			BackgroundColor: item.BackgroundColor,
			ForegroundColor: item.ForegroundColor,
		})
	}

	return calendars, nil
}

func (c *CalendarClient) ListEvents(ctx context.Context, accessToken, calendarID string, timeMin, timeMax time.Time, maxResults int64) ([]models.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	svc, err := c.service(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	if calendarID == "" {
		calendarID = "primary"
	}
	if timeMin.IsZero() {
		timeMin = time.Now().UTC()
	}
	if timeMax.IsZero() {
		timeMax = timeMin.Add(30 * 24 * time.Hour)
	}
	if maxResults <= 0 {
		maxResults = 50
	}

	var result *calendarapi.Events
	err = c.breaker.Execute(ctx, func() error {
		var callErr error
		result, callErr = svc.Events.List(calendarID).
			TimeMin(timeMin.Format(time.RFC3339)).
			TimeMax(timeMax.Format(time.RFC3339)).
			MaxResults(maxResults).
			SingleEvents(true).
			OrderBy("startTime").
			Context(ctx).Do()
		return wrapAPIError("list events", callErr)
	})
	if err != nil {
		return nil, err
	}

	events := make([]models.Event, 0, len(result.Items))
	for _, item := range result.Items {
		events = append(events, *parseEvent(item))
	}

	return events, nil
}

func (c *CalendarClient) GetEvent(ctx context.Context, accessToken, calendarID, eventID string) (*models.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	svc, err := c.service(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	if calendarID == "" {
		calendarID = "primary"
	}

	var result *calendarapi.Event
	err = c.breaker.Execute(ctx, func() error {
		var callErr error
		result, callErr = svc.Events.Get(calendarID, eventID).Context(ctx).Do()
		return wrapAPIError("get event", callErr)
	})
	if err != nil {
		return nil, err
	}

	return parseEvent(result), nil
}

func (c *CalendarClient) CreateEvent(ctx context.Context, accessToken string, input *models.CreateEventInput) (*models.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	svc, err := c.service(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	calendarID := input.CalendarID
	if calendarID == "" {
		calendarID = "primary"
	}
	sendUpdates := input.SendUpdates
	if sendUpdates == "" {
		sendUpdates = models.SendUpdatesAll
	}

	body := &calendarapi.Event{
		Summary:     input.Summary,
		Description: input.Description,
		Location:    input.Location,
		Start: &calendarapi.EventDateTime{
			DateTime: input.Start.Format(time.RFC3339),
			TimeZone: input.Timezone,
		},
		End: &calendarapi.EventDateTime{
			DateTime: input.End.Format(time.RFC3339),
			TimeZone: input.Timezone,
		},
	}
	for _, email := range input.Attendees {
		body.Attendees = append(body.Attendees, &calendarapi.EventAttendee{Email: email})
	}
	if input.Reminders != nil {
		body.Reminders = &calendarapi.EventReminders{
			UseDefault:      input.Reminders.UseDefault,
			ForceSendFields: []string{"UseDefault"},
		}
		for _, r := range input.Reminders.Overrides {
			body.Reminders.Overrides = append(body.Reminders.Overrides, &calendarapi.EventReminder{
				Method:  r.Method,
				Minutes: int64(r.Minutes),
			})
		}
	}

	var result *calendarapi.Event
	err = c.breaker.Execute(ctx, func() error {
		var callErr error
		result, callErr = svc.Events.Insert(calendarID, body).
			SendUpdates(sendUpdates).
			Context(ctx).Do()
		return wrapAPIError("create event", callErr)
	})
	if err != nil {
		return nil, err
	}

	return parseEvent(result), nil
}

// UpdateEvent fetches the current event and applies only the fields set in
// the input, then writes the merged event back.
func (c *CalendarClient) UpdateEvent(ctx context.Context, accessToken, calendarID, eventID string, input *models.UpdateEventInput) (*models.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	svc, err := c.service(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	if calendarID == "" {
		calendarID = "primary"
	}
	sendUpdates := input.SendUpdates
	if sendUpdates == "" {
		sendUpdates = models.SendUpdatesAll
	}

	var current *calendarapi.Event
	err = c.breaker.Execute(ctx, func() error {
		var callErr error
		current, callErr = svc.Events.Get(calendarID, eventID).Context(ctx).Do()
		return wrapAPIError("get event", callErr)
	})
	if err != nil {
		return nil, err
	}

	if input.Summary != nil {
		current.Summary = *input.Summary
	}
	if input.Description != nil {
		current.Description = *input.Description
	}
	if input.Location != nil {
		current.Location = *input.Location
	}
	if input.Start != nil {
		current.Start = &calendarapi.EventDateTime{
			DateTime: input.Start.Format(time.RFC3339),
			TimeZone: input.Timezone,
		}
	}
	if input.End != nil {
		current.End = &calendarapi.EventDateTime{
			DateTime: input.End.Format(time.RFC3339),
			TimeZone: input.Timezone,
		}
	}
	if input.Attendees != nil {
		current.Attendees = nil
		for _, email := range *input.Attendees {
			current.Attendees = append(current.Attendees, &calendarapi.EventAttendee{Email: email})
		}
	}

	var result *calendarapi.Event
	err = c.breaker.Execute(ctx, func() error {
		var callErr error
		result, callErr = svc.Events.Update(calendarID, eventID, current).
			SendUpdates(sendUpdates).
			Context(ctx).Do()
		return wrapAPIError("update event", callErr)
	})
	if err != nil {
		return nil, err
	}

	return parseEvent(result), nil
}

func (c *CalendarClient) DeleteEvent(ctx context.Context, accessToken, calendarID, eventID, sendUpdates string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	svc, err := c.service(ctx, accessToken)
	if err != nil {
		return err
	}

	if calendarID == "" {
		calendarID = "primary"
	}
	if sendUpdates == "" {
		sendUpdates = models.SendUpdatesAll
	}

	return c.breaker.Execute(ctx, func() error {
		callErr := svc.Events.Delete(calendarID, eventID).
			SendUpdates(sendUpdates).
			Context(ctx).Do()
		return wrapAPIError("delete event", callErr)
	})
}

// FreeBusy returns per-calendar busy intervals within the query window.
func (c *CalendarClient) FreeBusy(ctx context.Context, accessToken string, timeMin, timeMax time.Time, timezone string, calendarIDs []string) (map[string][]models.BusyInterval, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	svc, err := c.service(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	if len(calendarIDs) == 0 {
		calendarIDs = []string{"primary"}
	}

	request := &calendarapi.FreeBusyRequest{
		TimeMin:  timeMin.Format(time.RFC3339),
		TimeMax:  timeMax.Format(time.RFC3339),
		TimeZone: timezone,
	}
	for _, id := range calendarIDs {
		request.Items = append(request.Items, &calendarapi.FreeBusyRequestItem{Id: id})
	}

	var result *calendarapi.FreeBusyResponse
	err = c.breaker.Execute(ctx, func() error {
		var callErr error
		result, callErr = svc.Freebusy.Query(request).Context(ctx).Do()
		return wrapAPIError("freebusy query", callErr)
	})
	if err != nil {
		return nil, err
	}

	busy := make(map[string][]models.BusyInterval, len(result.Calendars))
	for calID, data := range result.Calendars {
		intervals := make([]models.BusyInterval, 0, len(data.Busy))
		for _, period := range data.Busy {
			start, startErr := time.Parse(time.RFC3339, period.Start)
			end, endErr := time.Parse(time.RFC3339, period.End)
			if startErr != nil || endErr != nil {
				return nil, errors.UpstreamError("freebusy response contained an unparseable period", 0, "bad_period", nil)
			}
			intervals = append(intervals, models.BusyInterval{Start: start, End: end})
		}
		busy[calID] = intervals
	}

	return busy, nil
}

func parseEvent(item *calendarapi.Event) *models.Event {
	event := &models.Event{
		ID:          item.Id,
		Summary:     item.Summary,
		Description: item.Description,
		Location:    item.Location,
		Status:      item.Status,
		HTMLLink:    item.HtmlLink,
		Created:     item.Created,
		Updated:     item.Updated,
	}

	// All-day events carry a date instead of a datetime
	if item.Start != nil {
		if item.Start.DateTime != "" {
			event.Start = item.Start.DateTime
		} else {
			event.Start = item.Start.Date
		}
		event.Timezone = item.Start.TimeZone
	}
	if item.End != nil {
		if item.End.DateTime != "" {
			event.End = item.End.DateTime
		} else {
			event.End = item.End.Date
		}
	}

	for _, a := range item.Attendees {
		event.Attendees = append(event.Attendees, models.Attendee{
			Email:          a.Email,
			ResponseStatus: a.ResponseStatus,
			Organizer:      a.Organizer,
		})
	}
	if item.Creator != nil {
		event.Creator = &models.Person{Email: item.Creator.Email, Name: item.Creator.DisplayName}
	}
	if item.Organizer != nil {
		event.Organizer = &models.Person{Email: item.Organizer.Email, Name: item.Organizer.DisplayName}
	}

	return event
}

// wrapAPIError maps Google API errors onto the service error types. A 401
// means the access token is no longer valid; a 404 means the event or
// calendar does not exist.
func wrapAPIError(operation string, err error) error {
	if err == nil {
		return nil
	}

	var apiErr *googleapi.Error
	if stderrors.As(err, &apiErr) {
		switch apiErr.Code {
		case 401:
			return errors.TokenExpiredError("", "access token rejected during "+operation)
		case 404:
			return errors.NotFoundError("event")
		}
		reason := "api_error"
		if len(apiErr.Errors) > 0 && apiErr.Errors[0].Reason != "" {
			reason = apiErr.Errors[0].Reason
		}
		return errors.UpstreamError(operation+" failed", apiErr.Code, reason, err)
	}

	return errors.UpstreamError(operation+" failed", 0, "request_failed", err)
}
