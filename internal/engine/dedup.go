package engine

import (
	"time"

	"github.com/haldane-io/calsync/internal/gcal"
)

// DedupKey computes the stable key that collapses the same logical
// occurrence arriving from multiple enabled calendars. Rules in priority
// order:
//
//  1. Recurring instance: master id + start instant. The same occurrence
//     seen via two calendar memberships shares both.
//  2. All-day event: title + date. Shared holidays carry different remote
//     ids per calendar, so they are identified by content.
//  3. Timed event: the remote id itself.
func DedupKey(e gcal.RawEvent) string {
	if e.RecurringMasterID != "" {
		return e.RecurringMasterID + "|" + e.Start.UTC().Format(time.RFC3339)
	}
	if e.AllDay {
		return e.Title + "|" + e.Start.Format("2006-01-02")
	}
	return e.ID
}

// Dedup drops later duplicates, keeping the first-seen event per key and
// preserving input order. Duplicates are dropped, not merged. Cancelled
// tombstones bypass deduplication so removals always reach the reconciler.
func Dedup(events []gcal.RawEvent) []gcal.RawEvent {
	seen := make(map[string]bool, len(events))
	out := make([]gcal.RawEvent, 0, len(events))

	for _, e := range events {
		if e.Cancelled {
			out = append(out, e)
			continue
		}
		key := DedupKey(e)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, e)
	}
	return out
}
