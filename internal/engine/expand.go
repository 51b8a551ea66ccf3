// Package engine implements the calendar sync pipeline: recurrence
// expansion, deduplication, reconciliation, the sync coordinator, the
// outbound mutation queue and conflict resolution.
package engine

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	"github.com/haldane-io/calsync/internal/gcal"
)

// ExpandRecurring expands a recurring master into concrete instances within
// [windowStart, windowEnd]. Non-recurring events pass through unchanged.
//
// The supported expansion is yearly all-day recurrence (birthdays,
// anniversaries). Other frequencies pass through as single un-expanded
// events; deeper RRULE support is a known gap, not silent breakage.
func ExpandRecurring(master gcal.RawEvent, windowStart, windowEnd time.Time) []gcal.RawEvent {
	if !master.IsRecurringMaster() {
		return []gcal.RawEvent{master}
	}

	rule, err := parseRRule(master.Recurrence)
	if err != nil {
		slog.Debug("pass-through: unparseable recurrence", "event", master.ID, "error", err)
		return []gcal.RawEvent{master}
	}

	if rule.Options.Freq != rrule.YEARLY || !master.AllDay {
		return []gcal.RawEvent{master}
	}

	month := master.Start.Month()
	day := master.Start.Day()
	loc := master.Start.Location()

	var instances []gcal.RawEvent
	for year := windowStart.Year(); year <= windowEnd.Year(); year++ {
		candidate := time.Date(year, month, day, 0, 0, 0, 0, loc)

		// time.Date normalizes Feb 29 to Mar 1 in non-leap years; a
		// shifted month/day means the date does not exist that year.
		if candidate.Month() != month || candidate.Day() != day {
			continue
		}
		if candidate.Before(windowStart) || candidate.After(windowEnd) {
			continue
		}

		instances = append(instances, gcal.RawEvent{
			ID:                fmt.Sprintf("%s_%d", master.ID, year),
			Etag:              master.Etag,
			Title:             master.Title,
			Start:             candidate,
			End:               candidate.AddDate(0, 0, 1),
			AllDay:            true,
			RecurringMasterID: master.ID,
			Updated:           master.Updated,
		})
	}
	return instances
}

// ExpandAll runs ExpandRecurring over a fetched batch, preserving fetch
// order. Cancelled events are never expanded; their tombstones must reach
// the reconciler as-is.
func ExpandAll(events []gcal.RawEvent, windowStart, windowEnd time.Time) []gcal.RawEvent {
	out := make([]gcal.RawEvent, 0, len(events))
	for _, ev := range events {
		if ev.Cancelled {
			out = append(out, ev)
			continue
		}
		out = append(out, ExpandRecurring(ev, windowStart, windowEnd)...)
	}
	return out
}

func parseRRule(recurrence []string) (*rrule.RRule, error) {
	for _, line := range recurrence {
		if rest, ok := strings.CutPrefix(line, "RRULE:"); ok {
			return rrule.StrToRRule(rest)
		}
	}
	return nil, fmt.Errorf("no RRULE line in recurrence")
}
