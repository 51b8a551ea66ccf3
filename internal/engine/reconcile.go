package engine

import (
	"fmt"
	"strconv"
	"time"

	"github.com/haldane-io/calsync/internal/gcal"
	"github.com/haldane-io/calsync/internal/store"
)

// ReconcilePlan is the diff between a calendar's stored events and a
// deduplicated candidate set.
type ReconcilePlan struct {
	ToAdd    []gcal.RawEvent
	ToUpdate []EventUpdate
	ToRemove []store.Event
}

// EventUpdate pairs a stored event with the candidate replacing its fields.
// The local store id is kept.
type EventUpdate struct {
	Stored    store.Event
	Candidate gcal.RawEvent
}

// PlanReconcile diffs candidates against stored events for one calendar.
//
// pendingLocal holds store-event ids (as strings) with a pending outbound
// mutation; those events have newer local state and are excluded from the
// update and remove sets so a sync pass cannot clobber them with stale
// remote data.
//
// Absence-based removal (a stored event whose remote id is missing from the
// candidate set) only applies when full is true: an incremental candidate
// set contains just the changes, and deletions propagate through cancelled
// tombstones instead.
//
// Expanded series are the exception to tombstone matching by remote id: a
// series master is stored only as its per-occurrence instances, yet its
// deletion arrives as one tombstone carrying the master id. A cancelled
// candidate therefore also removes every stored event whose
// RecurringMasterID matches, and a re-expanded master drops instances its
// fresh expansion no longer produces, on incremental passes too.
func PlanReconcile(stored []store.Event, candidates []gcal.RawEvent, pendingLocal map[string]bool, full bool) ReconcilePlan {
	var plan ReconcilePlan

	byRemoteID := make(map[string]store.Event, len(stored))
	byMasterID := make(map[string][]store.Event)
	for _, e := range stored {
		if e.RemoteID != "" {
			byRemoteID[e.RemoteID] = e
		}
		if e.RecurringMasterID != "" {
			byMasterID[e.RecurringMasterID] = append(byMasterID[e.RecurringMasterID], e)
		}
	}

	locked := func(e store.Event) bool {
		return pendingLocal[strconv.FormatInt(e.ID, 10)]
	}

	removing := make(map[int64]bool)
	remove := func(e store.Event) {
		if removing[e.ID] || locked(e) {
			return
		}
		removing[e.ID] = true
		plan.ToRemove = append(plan.ToRemove, e)
	}

	seen := make(map[string]bool, len(candidates))
	expandedMasters := make(map[string]bool)
	for _, cand := range candidates {
		seen[cand.ID] = true
		if cand.RecurringMasterID != "" {
			expandedMasters[cand.RecurringMasterID] = true
		}

		// A cancelled event short-circuits add/update for that id. When
		// the id names a series master, its instances go with it.
		if cand.Cancelled {
			if existing, ok := byRemoteID[cand.ID]; ok {
				remove(existing)
			}
			for _, e := range byMasterID[cand.ID] {
				remove(e)
			}
			continue
		}

		existing, ok := byRemoteID[cand.ID]
		if !ok {
			plan.ToAdd = append(plan.ToAdd, cand)
			continue
		}
		if existing.Etag == cand.Etag {
			continue // unchanged
		}
		if locked(existing) {
			continue
		}
		plan.ToUpdate = append(plan.ToUpdate, EventUpdate{Stored: existing, Candidate: cand})
	}

	// Orphans of a re-expanded series: stored instances the fresh
	// expansion no longer yields (the rule gained an UNTIL, the date
	// moved years).
	for masterID := range expandedMasters {
		for _, e := range byMasterID[masterID] {
			if !seen[e.RemoteID] {
				remove(e)
			}
		}
	}

	if full {
		for _, e := range stored {
			if e.RemoteID == "" || seen[e.RemoteID] {
				continue
			}
			remove(e)
		}
	}

	return plan
}

// Reconciler applies reconcile plans to the entity store.
type Reconciler struct {
	db      *store.DB
	scopeID string
}

func NewReconciler(db *store.DB, scopeID string) *Reconciler {
	return &Reconciler{db: db, scopeID: scopeID}
}

// Reconcile diffs and applies one calendar's candidate set. Application is
// best-effort: a failing record is logged and surfaced in errs, and the
// rest of the batch continues.
func (r *Reconciler) Reconcile(calendarID string, candidates []gcal.RawEvent, full bool) (added, updated, removed int, errs []string) {
	stored, err := r.db.ListEventsByCalendar(calendarID)
	if err != nil {
		return 0, 0, 0, []string{fmt.Sprintf("load events for %s: %v", calendarID, err)}
	}

	pendingLocal, err := r.db.PendingEntityIDs(EntityEvent)
	if err != nil {
		return 0, 0, 0, []string{fmt.Sprintf("load pending mutations: %v", err)}
	}

	plan := PlanReconcile(stored, candidates, pendingLocal, full)

	for _, cand := range plan.ToAdd {
		ev := eventFromRaw(calendarID, cand)

		// A duplicate already stored under another calendar keeps its row.
		// Batch-level dedup only sees one fetch; this closes the gap when
		// the copies arrive in separate passes.
		if ev.DedupKey != "" {
			dup, err := r.db.GetEventByDedupKey(ev.DedupKey)
			if err != nil {
				errs = append(errs, fmt.Sprintf("dedup lookup %s: %v", cand.ID, err))
				continue
			}
			if dup != nil {
				continue
			}
		}

		if _, err := r.db.PutEvent(&ev); err != nil {
			errs = append(errs, fmt.Sprintf("add %s: %v", cand.ID, err))
			_ = r.db.AddLogEntry(r.scopeID, "error", cand.ID, map[string]any{
				"action": "add", "error": err.Error(),
			})
			continue
		}
		added++
	}

	for _, upd := range plan.ToUpdate {
		ev := eventFromRaw(calendarID, upd.Candidate)
		ev.ID = upd.Stored.ID
		if err := r.db.UpdateEvent(&ev); err != nil {
			errs = append(errs, fmt.Sprintf("update %s: %v", upd.Candidate.ID, err))
			_ = r.db.AddLogEntry(r.scopeID, "error", upd.Candidate.ID, map[string]any{
				"action": "update", "error": err.Error(),
			})
			continue
		}
		updated++
	}

	for _, e := range plan.ToRemove {
		if err := r.db.DeleteEvent(e.ID); err != nil {
			errs = append(errs, fmt.Sprintf("remove %s: %v", e.RemoteID, err))
			_ = r.db.AddLogEntry(r.scopeID, "error", e.RemoteID, map[string]any{
				"action": "remove", "error": err.Error(),
			})
			continue
		}
		removed++
	}

	return added, updated, removed, errs
}

// eventFromRaw converts a fetched event to its stored form.
func eventFromRaw(calendarID string, raw gcal.RawEvent) store.Event {
	updatedAt := raw.Updated
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	return store.Event{
		RemoteID:          raw.ID,
		CalendarID:        calendarID,
		Title:             raw.Title,
		Start:             raw.Start,
		End:               raw.End,
		AllDay:            raw.AllDay,
		Etag:              raw.Etag,
		RecurringMasterID: raw.RecurringMasterID,
		DedupKey:          DedupKey(raw),
		SyncStatus:        store.StatusSynced,
		UpdatedAt:         updatedAt,
	}
}
