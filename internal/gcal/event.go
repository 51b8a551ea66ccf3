package gcal

import (
	"fmt"
	"time"

	"google.golang.org/api/calendar/v3"
)

// RawEvent is a fetched remote event, normalized from the API shape before
// expansion and deduplication.
type RawEvent struct {
	ID                string
	Etag              string
	Title             string
	Start             time.Time
	End               time.Time
	AllDay            bool
	Cancelled         bool
	RecurringMasterID string
	Recurrence        []string
	Updated           time.Time
}

// IsRecurringMaster reports whether the event carries recurrence rules of
// its own (as opposed to being an instance of a series).
func (e RawEvent) IsRecurringMaster() bool {
	return len(e.Recurrence) > 0 && e.RecurringMasterID == ""
}

const dateOnly = "2006-01-02"

// fromAPIEvent converts an API event. Cancelled events may arrive as bare
// tombstones (id and status only), which convert without times.
func fromAPIEvent(ev *calendar.Event) (RawEvent, error) {
	raw := RawEvent{
		ID:                ev.Id,
		Etag:              ev.Etag,
		Title:             ev.Summary,
		Cancelled:         ev.Status == "cancelled",
		RecurringMasterID: ev.RecurringEventId,
		Recurrence:        ev.Recurrence,
	}

	if ev.Updated != "" {
		if t, err := time.Parse(time.RFC3339, ev.Updated); err == nil {
			raw.Updated = t
		}
	}

	if ev.Start == nil {
		if raw.Cancelled {
			return raw, nil
		}
		return RawEvent{}, fmt.Errorf("event %s: missing start", ev.Id)
	}

	var err error
	raw.Start, raw.AllDay, err = parseEventTime(ev.Start)
	if err != nil {
		return RawEvent{}, fmt.Errorf("event %s: %w", ev.Id, err)
	}

	if ev.End != nil {
		raw.End, _, err = parseEventTime(ev.End)
		if err != nil {
			return RawEvent{}, fmt.Errorf("event %s: %w", ev.Id, err)
		}
	} else {
		raw.End = raw.Start
	}

	return raw, nil
}

func parseEventTime(t *calendar.EventDateTime) (time.Time, bool, error) {
	if t.Date != "" {
		parsed, err := time.Parse(dateOnly, t.Date)
		if err != nil {
			return time.Time{}, false, fmt.Errorf("invalid date %q: %w", t.Date, err)
		}
		return parsed, true, nil
	}
	if t.DateTime != "" {
		parsed, err := time.Parse(time.RFC3339, t.DateTime)
		if err != nil {
			return time.Time{}, false, fmt.Errorf("invalid datetime %q: %w", t.DateTime, err)
		}
		return parsed, false, nil
	}
	return time.Time{}, false, fmt.Errorf("empty event time")
}

// toAPIEvent converts back to the API shape for outbound writes.
func toAPIEvent(e RawEvent) *calendar.Event {
	ev := &calendar.Event{
		Summary:    e.Title,
		Recurrence: e.Recurrence,
	}

	if e.AllDay {
		ev.Start = &calendar.EventDateTime{Date: e.Start.Format(dateOnly)}
		ev.End = &calendar.EventDateTime{Date: e.End.Format(dateOnly)}
	} else {
		ev.Start = &calendar.EventDateTime{DateTime: e.Start.Format(time.RFC3339)}
		ev.End = &calendar.EventDateTime{DateTime: e.End.Format(time.RFC3339)}
	}

	return ev
}
