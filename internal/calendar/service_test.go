package calendar_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calendar-service/internal/calendar"
	"calendar-service/internal/common/errors"
	"calendar-service/internal/models"
	"calendar-service/internal/storage"
)

type fakeTokens struct {
	mu        sync.Mutex
	token     string
	err       error
	syncCalls int
}

func (f *fakeTokens) GetValidAccessToken(ctx context.Context, userID string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.token, nil
}

func (f *fakeTokens) RecordSync(userID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.syncCalls++
}

func (f *fakeTokens) syncCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.syncCalls
}

type fakeProvider struct {
	mu          sync.Mutex
	lastToken   string
	calendars   []models.Calendar
	events      []models.Event
	event       *models.Event
	busy        map[string][]models.BusyInterval
	err         error
	createCalls int
	deleteCalls int
}

func (f *fakeProvider) ListCalendars(ctx context.Context, accessToken string) ([]models.Calendar, error) {
	f.mu.Lock()
	f.lastToken = accessToken
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.calendars, nil
}

func (f *fakeProvider) ListEvents(ctx context.Context, accessToken, calendarID string, timeMin, timeMax time.Time, maxResults int64) ([]models.Event, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.events, nil
}

func (f *fakeProvider) GetEvent(ctx context.Context, accessToken, calendarID, eventID string) (*models.Event, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.event, nil
}

func (f *fakeProvider) CreateEvent(ctx context.Context, accessToken string, input *models.CreateEventInput) (*models.Event, error) {
	f.mu.Lock()
	f.createCalls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &models.Event{
		ID:      "evt-1",
		Summary: input.Summary,
		Start:   input.Start.Format(time.RFC3339),
		End:     input.End.Format(time.RFC3339),
		Status:  models.EventStatusConfirmed,
	}, nil
}

func (f *fakeProvider) UpdateEvent(ctx context.Context, accessToken, calendarID, eventID string, input *models.UpdateEventInput) (*models.Event, error) {
	if f.err != nil {
		return nil, f.err
	}
	ev := &models.Event{ID: eventID, Status: models.EventStatusConfirmed}
	if input.Summary != nil {
		ev.Summary = *input.Summary
	}
	return ev, nil
}

func (f *fakeProvider) DeleteEvent(ctx context.Context, accessToken, calendarID, eventID, sendUpdates string) error {
	f.mu.Lock()
	f.deleteCalls++
	f.mu.Unlock()
	return f.err
}

func (f *fakeProvider) FreeBusy(ctx context.Context, accessToken string, timeMin, timeMax time.Time, timezone string, calendarIDs []string) (map[string][]models.BusyInterval, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.busy, nil
}

func newTestService(t *testing.T, provider *fakeProvider, tokens *fakeTokens) (*calendar.Service, storage.Storage) {
	t.Helper()
	store := storage.NewMemoryStorage()
	require.NoError(t, store.Connect(nil))
	return calendar.NewService(provider, tokens, store, nil), store
}

func TestService_ListCalendars(t *testing.T) {
	provider := &fakeProvider{
		calendars: []models.Calendar{{ID: "primary", Summary: "Work", Primary: true}},
	}
	tokens := &fakeTokens{token: "access-token"}
	svc, _ := newTestService(t, provider, tokens)

	calendars, err := svc.ListCalendars(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, calendars, 1)
	assert.Equal(t, "Work", calendars[0].Summary)
	assert.Equal(t, "access-token", provider.lastToken)
}

func TestService_ListCalendars_NotConnected(t *testing.T) {
	tokens := &fakeTokens{err: errors.NotConnectedError("user-1")}
	svc, _ := newTestService(t, &fakeProvider{}, tokens)

	_, err := svc.ListCalendars(context.Background(), "user-1")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeNotConnected))
}

func TestService_CreateEvent_AuditsSuccess(t *testing.T) {
	provider := &fakeProvider{}
	tokens := &fakeTokens{token: "access-token"}
	svc, store := newTestService(t, provider, tokens)

	start := time.Date(2026, 9, 10, 14, 0, 0, 0, time.UTC)
	event, err := svc.CreateEvent(context.Background(), "user-1", &models.CreateEventInput{
		Summary: "Planning",
		Start:   start,
		End:     start.Add(time.Hour),
	}, calendar.Attribution{ReferenceType: "deal", ReferenceID: "deal-42"})
	require.NoError(t, err)
	assert.Equal(t, "evt-1", event.ID)
	assert.Equal(t, 1, tokens.syncCount())

	logs, err := store.ListSyncLogsByUser("user-1", "", 10, 0)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, models.SyncOpCreateEvent, logs[0].Operation)
	assert.Equal(t, models.SyncStatusSuccess, logs[0].Status)
	assert.Equal(t, "evt-1", logs[0].ProviderEventID)
	assert.Equal(t, models.InitiatorUser, logs[0].InitiatedBy)
	assert.Equal(t, "deal", logs[0].LocalReferenceType)
	assert.Equal(t, "deal-42", logs[0].LocalReferenceID)
	assert.Equal(t, "Planning", logs[0].RequestPayload["summary"])
	assert.Equal(t, "evt-1", logs[0].ResponsePayload["id"])
}

func TestService_CreateEvent_AuditsFailure(t *testing.T) {
	provider := &fakeProvider{err: errors.UpstreamError("calendar api error", 500, "backend_error", nil)}
	tokens := &fakeTokens{token: "access-token"}
	svc, store := newTestService(t, provider, tokens)

	start := time.Date(2026, 9, 10, 14, 0, 0, 0, time.UTC)
	_, err := svc.CreateEvent(context.Background(), "user-1", &models.CreateEventInput{
		Summary: "Planning",
		Start:   start,
		End:     start.Add(time.Hour),
	}, calendar.Attribution{})
	require.Error(t, err)
	assert.Equal(t, 0, tokens.syncCount())

	logs, err := store.ListSyncLogsByUser("user-1", "", 10, 0)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, models.SyncStatusFailed, logs[0].Status)
	assert.NotEmpty(t, logs[0].ErrorMessage)
	assert.Empty(t, logs[0].ProviderEventID)
}

func TestService_CreateEvent_ValidationSkipsProvider(t *testing.T) {
	provider := &fakeProvider{}
	tokens := &fakeTokens{token: "access-token"}
	svc, store := newTestService(t, provider, tokens)

	start := time.Date(2026, 9, 10, 14, 0, 0, 0, time.UTC)
	cases := []struct {
		name  string
		input *models.CreateEventInput
	}{
		{"nil input", nil},
		{"missing summary", &models.CreateEventInput{Start: start, End: start.Add(time.Hour)}},
		{"missing times", &models.CreateEventInput{Summary: "x"}},
		{"end before start", &models.CreateEventInput{Summary: "x", Start: start, End: start.Add(-time.Hour)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.CreateEvent(context.Background(), "user-1", tc.input, calendar.Attribution{})
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
		})
	}
	assert.Equal(t, 0, provider.createCalls)

	logs, err := store.ListSyncLogsByUser("user-1", "", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func TestService_UpdateEvent_AgentAttribution(t *testing.T) {
	provider := &fakeProvider{}
	tokens := &fakeTokens{token: "access-token"}
	svc, store := newTestService(t, provider, tokens)

	summary := "Moved"
	event, err := svc.UpdateEvent(context.Background(), "user-1", "", "evt-9", &models.UpdateEventInput{
		Summary: &summary,
	}, calendar.Attribution{InitiatedBy: models.InitiatorAgent, AgentID: "agent-7"})
	require.NoError(t, err)
	assert.Equal(t, "Moved", event.Summary)

	logs, err := store.ListSyncLogsByUser("user-1", "", 10, 0)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, models.SyncOpUpdateEvent, logs[0].Operation)
	assert.Equal(t, models.InitiatorAgent, logs[0].InitiatedBy)
	assert.Equal(t, "agent-7", logs[0].AgentID)
	assert.Equal(t, "evt-9", logs[0].ProviderEventID)
	assert.Equal(t, "primary", logs[0].RequestPayload["calendar_id"])
}

func TestService_DeleteEvent(t *testing.T) {
	provider := &fakeProvider{}
	tokens := &fakeTokens{token: "access-token"}
	svc, store := newTestService(t, provider, tokens)

	err := svc.DeleteEvent(context.Background(), "user-1", "primary", "evt-9", "", calendar.Attribution{})
	require.NoError(t, err)
	assert.Equal(t, 1, provider.deleteCalls)

	logs, err := store.ListSyncLogsByUser("user-1", "", 10, 0)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, models.SyncOpDeleteEvent, logs[0].Operation)
	assert.Equal(t, models.SendUpdatesAll, logs[0].RequestPayload["send_updates"])
}

func TestService_DeleteEvent_MissingID(t *testing.T) {
	svc, _ := newTestService(t, &fakeProvider{}, &fakeTokens{token: "t"})

	err := svc.DeleteEvent(context.Background(), "user-1", "primary", "", "", calendar.Attribution{})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
}

func TestService_GetAvailability(t *testing.T) {
	loc, err := time.LoadLocation("America/Sao_Paulo")
	require.NoError(t, err)

	provider := &fakeProvider{
		busy: map[string][]models.BusyInterval{
			"primary": {
				{
					Start: time.Date(2026, 9, 10, 10, 0, 0, 0, loc),
					End:   time.Date(2026, 9, 10, 11, 30, 0, 0, loc),
				},
			},
		},
	}
	svc, _ := newTestService(t, provider, &fakeTokens{token: "t"})

	avail, err := svc.GetAvailability(context.Background(), "user-1", "2026-09-10", "America/Sao_Paulo", "09:00", "18:00")
	require.NoError(t, err)
	assert.Equal(t, "2026-09-10", avail.Date)
	require.Len(t, avail.BusySlots, 1)
	assert.Equal(t, "10:00", avail.BusySlots[0].Start)
	assert.Equal(t, "11:30", avail.BusySlots[0].End)
	require.Len(t, avail.FreeSlots, 2)
	assert.Equal(t, "09:00", avail.FreeSlots[0].Start)
	assert.Equal(t, "10:00", avail.FreeSlots[0].End)
	assert.Equal(t, "11:30", avail.FreeSlots[1].Start)
	assert.Equal(t, "18:00", avail.FreeSlots[1].End)
}

func TestService_GetAvailability_ConvertsUTCToLocal(t *testing.T) {
	// 13:00 UTC is 10:00 in Sao Paulo (UTC-3).
	provider := &fakeProvider{
		busy: map[string][]models.BusyInterval{
			"primary": {
				{
					Start: time.Date(2026, 9, 10, 13, 0, 0, 0, time.UTC),
					End:   time.Date(2026, 9, 10, 14, 0, 0, 0, time.UTC),
				},
			},
		},
	}
	svc, _ := newTestService(t, provider, &fakeTokens{token: "t"})

	avail, err := svc.GetAvailability(context.Background(), "user-1", "2026-09-10", "America/Sao_Paulo", "09:00", "18:00")
	require.NoError(t, err)
	require.Len(t, avail.BusySlots, 1)
	assert.Equal(t, "10:00", avail.BusySlots[0].Start)
	assert.Equal(t, "11:00", avail.BusySlots[0].End)
}

func TestService_GetAvailability_ClampsToWindow(t *testing.T) {
	loc, err := time.LoadLocation("UTC")
	require.NoError(t, err)

	provider := &fakeProvider{
		busy: map[string][]models.BusyInterval{
			"primary": {
				// Spills past both edges of the working window.
				{
					Start: time.Date(2026, 9, 10, 7, 0, 0, 0, loc),
					End:   time.Date(2026, 9, 10, 9, 30, 0, 0, loc),
				},
				{
					Start: time.Date(2026, 9, 10, 17, 30, 0, 0, loc),
					End:   time.Date(2026, 9, 10, 20, 0, 0, 0, loc),
				},
				// Entirely outside the window, dropped.
				{
					Start: time.Date(2026, 9, 10, 5, 0, 0, 0, loc),
					End:   time.Date(2026, 9, 10, 6, 0, 0, 0, loc),
				},
			},
		},
	}
	svc, _ := newTestService(t, provider, &fakeTokens{token: "t"})

	avail, err := svc.GetAvailability(context.Background(), "user-1", "2026-09-10", "UTC", "09:00", "18:00")
	require.NoError(t, err)
	require.Len(t, avail.BusySlots, 2)
	assert.Equal(t, "09:00", avail.BusySlots[0].Start)
	assert.Equal(t, "09:30", avail.BusySlots[0].End)
	assert.Equal(t, "17:30", avail.BusySlots[1].Start)
	assert.Equal(t, "18:00", avail.BusySlots[1].End)
	require.Len(t, avail.FreeSlots, 1)
	assert.Equal(t, "09:30", avail.FreeSlots[0].Start)
	assert.Equal(t, "17:30", avail.FreeSlots[0].End)
}

func TestService_GetAvailability_FullyFree(t *testing.T) {
	provider := &fakeProvider{busy: map[string][]models.BusyInterval{}}
	svc, _ := newTestService(t, provider, &fakeTokens{token: "t"})

	avail, err := svc.GetAvailability(context.Background(), "user-1", "2026-09-10", "UTC", "09:00", "18:00")
	require.NoError(t, err)
	assert.Empty(t, avail.BusySlots)
	require.Len(t, avail.FreeSlots, 1)
	assert.Equal(t, "09:00", avail.FreeSlots[0].Start)
	assert.Equal(t, "18:00", avail.FreeSlots[0].End)
}

func TestService_GetAvailability_Validation(t *testing.T) {
	svc, _ := newTestService(t, &fakeProvider{}, &fakeTokens{token: "t"})

	cases := []struct {
		name      string
		date      string
		tz        string
		workStart string
		workEnd   string
	}{
		{"bad date", "10/09/2026", "UTC", "09:00", "18:00"},
		{"bad timezone", "2026-09-10", "Mars/Olympus", "09:00", "18:00"},
		{"bad work start", "2026-09-10", "UTC", "9am", "18:00"},
		{"inverted window", "2026-09-10", "UTC", "18:00", "09:00"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.GetAvailability(context.Background(), "user-1", tc.date, tc.tz, tc.workStart, tc.workEnd)
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
		})
	}
}

func TestService_SyncHistory(t *testing.T) {
	provider := &fakeProvider{}
	tokens := &fakeTokens{token: "t"}
	svc, _ := newTestService(t, provider, tokens)

	start := time.Date(2026, 9, 10, 14, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		_, err := svc.CreateEvent(context.Background(), "user-1", &models.CreateEventInput{
			Summary: "Meeting",
			Start:   start,
			End:     start.Add(time.Hour),
		}, calendar.Attribution{})
		require.NoError(t, err)
	}

	logs, err := svc.SyncHistory("user-1", "", 2, 0)
	require.NoError(t, err)
	assert.Len(t, logs, 2)

	rest, err := svc.SyncHistory("user-1", "", 2, 2)
	require.NoError(t, err)
	assert.Len(t, rest, 1)
}

func TestService_SyncHistoryForReference(t *testing.T) {
	svc, _ := newTestService(t, &fakeProvider{}, &fakeTokens{token: "t"})

	start := time.Date(2026, 9, 10, 14, 0, 0, 0, time.UTC)
	_, err := svc.CreateEvent(context.Background(), "user-1", &models.CreateEventInput{
		Summary: "Kickoff",
		Start:   start,
		End:     start.Add(time.Hour),
	}, calendar.Attribution{ReferenceType: "deal", ReferenceID: "deal-42"})
	require.NoError(t, err)

	logs, err := svc.SyncHistoryForReference("deal", "deal-42", 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "user-1", logs[0].UserID)

	_, err = svc.SyncHistoryForReference("", "", 10)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
}

func TestService_EventsICS(t *testing.T) {
	provider := &fakeProvider{
		events: []models.Event{
			{
				ID:       "evt-1",
				Summary:  "Standup",
				Start:    "2026-09-10T09:00:00Z",
				End:      "2026-09-10T09:15:00Z",
				Status:   models.EventStatusConfirmed,
				Location: "Room 4",
			},
			{
				ID:      "evt-2",
				Summary: "Conference",
				Start:   "2026-09-11",
				End:     "2026-09-12",
				Status:  models.EventStatusConfirmed,
			},
		},
	}
	svc, _ := newTestService(t, provider, &fakeTokens{token: "t"})

	feed, err := svc.EventsICS(context.Background(), "user-1", "primary", time.Time{}, time.Time{}, 0)
	require.NoError(t, err)
	assert.Contains(t, feed, "BEGIN:VCALENDAR")
	assert.Contains(t, feed, "BEGIN:VEVENT")
	assert.Contains(t, feed, "SUMMARY:Standup")
	assert.Contains(t, feed, "SUMMARY:Conference")
	assert.Contains(t, feed, "UID:evt-1")
	assert.Contains(t, feed, "STATUS:CONFIRMED")
	assert.Contains(t, feed, "END:VCALENDAR")
	assert.Equal(t, 2, strings.Count(feed, "BEGIN:VEVENT"))
}

func TestService_AvailabilityICS(t *testing.T) {
	provider := &fakeProvider{
		busy: map[string][]models.BusyInterval{
			"primary": {
				{
					Start: time.Date(2026, 9, 10, 10, 0, 0, 0, time.UTC),
					End:   time.Date(2026, 9, 10, 11, 0, 0, 0, time.UTC),
				},
			},
		},
	}
	svc, _ := newTestService(t, provider, &fakeTokens{token: "t"})

	feed, err := svc.AvailabilityICS(context.Background(), "user-1", "2026-09-10", "UTC", "09:00", "18:00")
	require.NoError(t, err)
	assert.Contains(t, feed, "BEGIN:VCALENDAR")
	assert.Contains(t, feed, "SUMMARY:Available")
	assert.Contains(t, feed, "TRANSP:TRANSPARENT")
	assert.Equal(t, 2, strings.Count(feed, "BEGIN:VEVENT"))
}
