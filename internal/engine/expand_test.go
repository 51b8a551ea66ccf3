package engine

import (
	"testing"
	"time"

	"github.com/haldane-io/calsync/internal/gcal"
)

func yearlyMaster(id, title string, start time.Time) gcal.RawEvent {
	return gcal.RawEvent{
		ID:         id,
		Title:      title,
		Start:      start,
		End:        start.AddDate(0, 0, 1),
		AllDay:     true,
		Recurrence: []string{"RRULE:FREQ=YEARLY"},
		Updated:    start,
	}
}

func TestExpandRecurringYearly(t *testing.T) {
	master := yearlyMaster("bday", "Dana's birthday",
		time.Date(1990, 4, 12, 0, 0, 0, 0, time.UTC))

	windowStart := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	windowEnd := time.Date(2028, 12, 31, 0, 0, 0, 0, time.UTC)

	got := ExpandRecurring(master, windowStart, windowEnd)
	if len(got) != 3 {
		t.Fatalf("expanded %d instances, want 3 (2026-2028)", len(got))
	}
	for i, year := range []int{2026, 2027, 2028} {
		inst := got[i]
		if inst.Start.Year() != year || inst.Start.Month() != 4 || inst.Start.Day() != 12 {
			t.Errorf("instance %d start = %v", i, inst.Start)
		}
		if inst.RecurringMasterID != "bday" {
			t.Errorf("instance %d master = %q", i, inst.RecurringMasterID)
		}
		if inst.ID == master.ID {
			t.Errorf("instance %d reuses the master id", i)
		}
		if !inst.End.Equal(inst.Start.AddDate(0, 0, 1)) {
			t.Errorf("instance %d end = %v", i, inst.End)
		}
	}
}

func TestExpandRecurringLeapDay(t *testing.T) {
	master := yearlyMaster("leap", "Leap anniversary",
		time.Date(2000, 2, 29, 0, 0, 0, 0, time.UTC))

	windowStart := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	windowEnd := time.Date(2028, 12, 31, 0, 0, 0, 0, time.UTC)

	got := ExpandRecurring(master, windowStart, windowEnd)

	// Feb 29 only exists in 2024 and 2028; the in-between years must not
	// produce a normalized Mar 1 instance.
	if len(got) != 2 {
		t.Fatalf("expanded %d instances, want 2: %+v", len(got), starts(got))
	}
	for _, inst := range got {
		if inst.Start.Month() != 2 || inst.Start.Day() != 29 {
			t.Errorf("instance on %v is not Feb 29", inst.Start)
		}
	}
	if got[0].Start.Year() != 2024 || got[1].Start.Year() != 2028 {
		t.Errorf("instance years = %v", starts(got))
	}
}

func TestExpandRecurringWindowBounds(t *testing.T) {
	master := yearlyMaster("bday", "Birthday",
		time.Date(1990, 6, 15, 0, 0, 0, 0, time.UTC))

	// Window that excludes the June 15 of its own edge years.
	windowStart := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	windowEnd := time.Date(2028, 5, 1, 0, 0, 0, 0, time.UTC)

	got := ExpandRecurring(master, windowStart, windowEnd)
	if len(got) != 1 || got[0].Start.Year() != 2027 {
		t.Errorf("instances = %v, want only 2027", starts(got))
	}
}

func TestExpandRecurringPassThrough(t *testing.T) {
	tests := []struct {
		name  string
		event gcal.RawEvent
	}{
		{
			name: "non-recurring",
			event: gcal.RawEvent{
				ID:    "single",
				Start: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
			},
		},
		{
			name: "weekly recurrence",
			event: gcal.RawEvent{
				ID:         "weekly",
				Start:      time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
				Recurrence: []string{"RRULE:FREQ=WEEKLY;BYDAY=MO"},
			},
		},
		{
			name: "yearly but timed",
			event: gcal.RawEvent{
				ID:         "timed-yearly",
				Start:      time.Date(2026, 3, 3, 18, 0, 0, 0, time.UTC),
				Recurrence: []string{"RRULE:FREQ=YEARLY"},
			},
		},
		{
			name: "garbage rule",
			event: gcal.RawEvent{
				ID:         "bad",
				AllDay:     true,
				Start:      time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC),
				Recurrence: []string{"RRULE:FREQ=SOMETIMES"},
			},
		},
	}

	windowStart := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	windowEnd := time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExpandRecurring(tt.event, windowStart, windowEnd)
			if len(got) != 1 || got[0].ID != tt.event.ID {
				t.Errorf("got %+v, want the input unchanged", got)
			}
		})
	}
}

func TestExpandAllKeepsTombstones(t *testing.T) {
	events := []gcal.RawEvent{
		{ID: "gone", Cancelled: true, Recurrence: []string{"RRULE:FREQ=YEARLY"}},
		yearlyMaster("bday", "Birthday", time.Date(1990, 8, 1, 0, 0, 0, 0, time.UTC)),
	}

	windowStart := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	windowEnd := time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC)

	got := ExpandAll(events, windowStart, windowEnd)
	if len(got) != 2 {
		t.Fatalf("got %d events, want 2", len(got))
	}
	if !got[0].Cancelled || got[0].ID != "gone" {
		t.Errorf("tombstone not passed through first: %+v", got[0])
	}
	if got[1].RecurringMasterID != "bday" {
		t.Errorf("master not expanded: %+v", got[1])
	}
}

func starts(events []gcal.RawEvent) []time.Time {
	out := make([]time.Time, len(events))
	for i, e := range events {
		out[i] = e.Start
	}
	return out
}
