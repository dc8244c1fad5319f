package models

import (
	"time"
)

// Event represents a calendar event in a provider-neutral shape. Times are
// carried as RFC 3339 strings exactly as the provider reports them so that
// the original timezone offset survives round trips.
type Event struct {
	ID          string     `json:"id"`
	Summary     string     `json:"summary"`
	Description string     `json:"description,omitempty"`
	Location    string     `json:"location,omitempty"`
	Start       string     `json:"start"`
	End         string     `json:"end"`
	Timezone    string     `json:"timezone,omitempty"`
	Status      string     `json:"status"` // confirmed, tentative, cancelled
	HTMLLink    string     `json:"html_link,omitempty"`
	Attendees   []Attendee `json:"attendees,omitempty"`
	Creator     *Person    `json:"creator,omitempty"`
	Organizer   *Person    `json:"organizer,omitempty"`
	Created     string     `json:"created,omitempty"`
	Updated     string     `json:"updated,omitempty"`
}

// Person represents a person with email and name
type Person struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// Attendee represents an event attendee
type Attendee struct {
	Email          string `json:"email"`
	ResponseStatus string `json:"response_status,omitempty"` // accepted, declined, tentative, needsAction
	Organizer      bool   `json:"organizer,omitempty"`
}

// Reminder represents an event reminder override
type Reminder struct {
	Method  string `json:"method"`  // email, popup
	Minutes int    `json:"minutes"` // minutes before event
}

// RemindersConfig controls whether an event uses the calendar's default
// reminders or a custom set of overrides.
type RemindersConfig struct {
	UseDefault bool       `json:"use_default"`
	Overrides  []Reminder `json:"overrides,omitempty"`
}

// Calendar represents an entry in the user's calendar list
type Calendar struct {
	ID              string `json:"id"`
	Summary         string `json:"summary"`
	Description     string `json:"description,omitempty"`
	Primary         bool   `json:"primary"`
	AccessRole      string `json:"access_role"`
	BackgroundColor string `json:"background_color,omitempty"`
	ForegroundColor string `json:"foreground_color,omitempty"`
}

// CreateEventInput carries the fields needed to create an event.
type CreateEventInput struct {
	Summary     string           `json:"summary"`
	Start       time.Time        `json:"start"`
	End         time.Time        `json:"end"`
	CalendarID  string           `json:"calendar_id"`
	Description string           `json:"description,omitempty"`
	Location    string           `json:"location,omitempty"`
	Attendees   []string         `json:"attendees,omitempty"`
	Timezone    string           `json:"timezone,omitempty"`
	Reminders   *RemindersConfig `json:"reminders,omitempty"`
	SendUpdates string           `json:"send_updates,omitempty"` // all, externalOnly, none
}

// UpdateEventInput carries a partial event update. Nil pointers mean the
// field is left untouched on the provider side.
type UpdateEventInput struct {
	Summary     *string    `json:"summary,omitempty"`
	Start       *time.Time `json:"start,omitempty"`
	End         *time.Time `json:"end,omitempty"`
	Description *string    `json:"description,omitempty"`
	Location    *string    `json:"location,omitempty"`
	Attendees   *[]string  `json:"attendees,omitempty"`
	Timezone    string     `json:"timezone,omitempty"`
	SendUpdates string     `json:"send_updates,omitempty"`
}

// BusyInterval is a period during which a calendar reports the user as
// busy, as returned by a free/busy query.
type BusyInterval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// EventStatus constants
const (
	EventStatusConfirmed = "confirmed"
	EventStatusTentative = "tentative"
	EventStatusCancelled = "cancelled"
)

// SendUpdates constants
const (
	SendUpdatesAll          = "all"
	SendUpdatesExternalOnly = "externalOnly"
	SendUpdatesNone         = "none"
)
