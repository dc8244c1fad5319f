package google

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	calendarapi "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"

	"calendar-service/internal/common/errors"
	"calendar-service/internal/config"
)

func testConfig() *config.Config {
	return &config.Config{
		GoogleClientID:     "client-id",
		GoogleClientSecret: "client-secret",
		GoogleRedirectURI:  "https://example.com/api/auth/google/callback",
		GoogleScopes:       config.DefaultGoogleScopes,
		ProviderTimeout:    30 * time.Second,
	}
}

func TestAuthorizationURL(t *testing.T) {
	client := NewOAuthClient(testConfig(), nil)

	raw := client.AuthorizationURL("state-token-123")
	parsed, err := url.Parse(raw)
	require.NoError(t, err)

	query := parsed.Query()
	assert.Equal(t, "state-token-123", query.Get("state"))
	assert.Equal(t, "offline", query.Get("access_type"))
	assert.Equal(t, "consent", query.Get("prompt"))
	assert.Equal(t, "true", query.Get("include_granted_scopes"))
	assert.Equal(t, "client-id", query.Get("client_id"))
	assert.Contains(t, query.Get("scope"), "calendar.events")
}

func TestWrapAPIError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantType errors.ErrorType
	}{
		{
			name:     "401 maps to token expired",
			err:      &googleapi.Error{Code: 401, Message: "Invalid Credentials"},
			wantType: errors.ErrTypeTokenExpired,
		},
		{
			name:     "404 maps to not found",
			err:      &googleapi.Error{Code: 404, Message: "Not Found"},
			wantType: errors.ErrTypeNotFound,
		},
		{
			name:     "500 maps to upstream",
			err:      &googleapi.Error{Code: 500, Message: "Backend Error"},
			wantType: errors.ErrTypeUpstream,
		},
		{
			name:     "network error maps to upstream",
			err:      assert.AnError,
			wantType: errors.ErrTypeUpstream,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := wrapAPIError("test op", tt.err)
			require.Error(t, wrapped)
			assert.True(t, errors.IsType(wrapped, tt.wantType),
				"got type %s", errors.GetType(wrapped))
		})
	}

	assert.NoError(t, wrapAPIError("test op", nil))
}

func TestParseEvent(t *testing.T) {
	item := &calendarapi.Event{
		Id:       "evt-1",
		Summary:  "Team sync",
		Location: "Room 4",
		Status:   "confirmed",
		HtmlLink: "https://calendar.google.com/event?eid=abc",
		Start: &calendarapi.EventDateTime{
			DateTime: "2026-09-01T10:00:00-03:00",
			TimeZone: "America/Sao_Paulo",
		},
		End: &calendarapi.EventDateTime{
			DateTime: "2026-09-01T11:00:00-03:00",
		},
		Attendees: []*calendarapi.EventAttendee{
			{Email: "a@example.com", ResponseStatus: "accepted", Organizer: true},
			{Email: "b@example.com", ResponseStatus: "needsAction"},
		},
		Organizer: &calendarapi.EventOrganizer{Email: "a@example.com", DisplayName: "Alice"},
	}

	event := parseEvent(item)

	assert.Equal(t, "evt-1", event.ID)
	assert.Equal(t, "Team sync", event.Summary)
	assert.Equal(t, "2026-09-01T10:00:00-03:00", event.Start)
	assert.Equal(t, "2026-09-01T11:00:00-03:00", event.End)
	assert.Equal(t, "America/Sao_Paulo", event.Timezone)
	require.Len(t, event.Attendees, 2)
	assert.True(t, event.Attendees[0].Organizer)
	require.NotNil(t, event.Organizer)
	assert.Equal(t, "Alice", event.Organizer.Name)
}

func TestParseEvent_AllDay(t *testing.T) {
	item := &calendarapi.Event{
		Id: "evt-2",
		Start: &calendarapi.EventDateTime{
			Date: "2026-09-01",
		},
		End: &calendarapi.EventDateTime{
			Date: "2026-09-02",
		},
	}

	event := parseEvent(item)

	assert.Equal(t, "2026-09-01", event.Start)
	assert.Equal(t, "2026-09-02", event.End)
}

func TestGrantedScopes(t *testing.T) {
	token := (&oauth2.Token{}).WithExtra(map[string]interface{}{
		"scope": "openid https://www.googleapis.com/auth/calendar.events",
	})

	scopes := grantedScopes(token)
	require.Len(t, scopes, 2)
	assert.Equal(t, "openid", scopes[0])

	assert.Nil(t, grantedScopes(&oauth2.Token{}))
}
