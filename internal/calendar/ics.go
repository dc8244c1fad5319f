package calendar

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	ics "github.com/emersion/go-ical"

	"calendar-service/internal/common/errors"
	"calendar-service/internal/models"
)

const icsProductID = "-//calendar-service//calendar feed//EN"

// EventsICS renders a user's events as an iCalendar document, suitable for
// subscription by external calendar clients.
func (s *Service) EventsICS(ctx context.Context, userID, calendarID string, timeMin, timeMax time.Time, maxResults int64) (string, error) {
	events, err := s.ListEvents(ctx, userID, calendarID, timeMin, timeMax, maxResults)
	if err != nil {
		return "", err
	}

	cal := newFeedCalendar()
	now := time.Now().UTC()
	for i := range events {
		ev, err := eventComponent(&events[i], now)
		if err != nil {
			s.logger.Warn("skipping event with unparseable time in feed")
			continue
		}
		cal.Children = append(cal.Children, ev)
	}

	return encodeCalendar(cal)
}

// AvailabilityICS renders a user's free slots for one date as transparent
// events, so a subscriber sees when the user can be booked.
func (s *Service) AvailabilityICS(ctx context.Context, userID, date, tzName, workStart, workEnd string) (string, error) {
	avail, err := s.GetAvailability(ctx, userID, date, tzName, workStart, workEnd)
	if err != nil {
		return "", err
	}

	loc, err := time.LoadLocation(avail.Timezone)
	if err != nil {
		return "", errors.ValidationError(fmt.Sprintf("unknown timezone %q", avail.Timezone))
	}
	day, err := time.ParseInLocation("2006-01-02", avail.Date, loc)
	if err != nil {
		return "", errors.ValidationError("date must be YYYY-MM-DD")
	}

	cal := newFeedCalendar()
	now := time.Now().UTC()
	for i, slot := range avail.FreeSlots {
		start, err := slotTime(day, slot.Start, loc)
		if err != nil {
			return "", err
		}
		end, err := slotTime(day, slot.End, loc)
		if err != nil {
			return "", err
		}

		ev := ics.NewEvent()
		ev.Props.SetText(ics.PropUID, fmt.Sprintf("free-%s-%s-%d", userID, avail.Date, i))
		ev.Props.SetText(ics.PropSummary, "Available")
		ev.Props.SetText(ics.PropTransparency, "TRANSPARENT")
		ev.Props.SetDateTime(ics.PropDateTimeStamp, now)
		ev.Props.SetDateTime(ics.PropDateTimeStart, start)
		ev.Props.SetDateTime(ics.PropDateTimeEnd, end)
		cal.Children = append(cal.Children, ev.Component)
	}

	return encodeCalendar(cal)
}

func newFeedCalendar() *ics.Calendar {
	cal := ics.NewCalendar()
	cal.Props.SetText(ics.PropVersion, "2.0")
	cal.Props.SetText(ics.PropProductID, icsProductID)
	return cal
}

func eventComponent(event *models.Event, stamp time.Time) (*ics.Component, error) {
	start, err := parseEventTime(event.Start)
	if err != nil {
		return nil, err
	}
	end, err := parseEventTime(event.End)
	if err != nil {
		return nil, err
	}

	ev := ics.NewEvent()
	ev.Props.SetText(ics.PropUID, event.ID)
	ev.Props.SetText(ics.PropSummary, event.Summary)
	ev.Props.SetDateTime(ics.PropDateTimeStamp, stamp)
	ev.Props.SetDateTime(ics.PropDateTimeStart, start)
	ev.Props.SetDateTime(ics.PropDateTimeEnd, end)
	if event.Description != "" {
		ev.Props.SetText(ics.PropDescription, event.Description)
	}
	if event.Location != "" {
		ev.Props.SetText(ics.PropLocation, event.Location)
	}
	if event.Status != "" {
		ev.Props.SetText(ics.PropStatus, strings.ToUpper(event.Status))
	}
	return ev.Component, nil
}

// parseEventTime accepts the two shapes events carry: RFC 3339 for timed
// events and bare dates for all-day events.
func parseEventTime(value string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse event time %q: %w", value, err)
	}
	return t, nil
}

func slotTime(day time.Time, clock string, loc *time.Location) (time.Time, error) {
	parsed, err := time.Parse("15:04", clock)
	if err != nil {
		return time.Time{}, errors.ValidationError("slot time must be HH:MM")
	}
	return time.Date(day.Year(), day.Month(), day.Day(), parsed.Hour(), parsed.Minute(), 0, 0, loc), nil
}

func encodeCalendar(cal *ics.Calendar) (string, error) {
	var buf bytes.Buffer
	if err := ics.NewEncoder(&buf).Encode(cal); err != nil {
		return "", errors.InternalError("failed to encode calendar feed", err)
	}
	return buf.String(), nil
}
