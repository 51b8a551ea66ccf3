package engine

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/haldane-io/calsync/internal/gcal"
	"github.com/haldane-io/calsync/internal/store"
)

func newTestDB(t *testing.T) *store.DB {
	t.Helper()

	db, err := store.Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func storedEvent(id int64, remoteID, etag string, start time.Time) store.Event {
	return store.Event{
		ID:         id,
		RemoteID:   remoteID,
		CalendarID: "cal-1",
		Title:      "Stored " + remoteID,
		Start:      start,
		End:        start.Add(time.Hour),
		Etag:       etag,
		SyncStatus: store.StatusSynced,
		UpdatedAt:  start,
	}
}

func TestPlanReconcileAddUpdateSkip(t *testing.T) {
	start := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	stored := []store.Event{
		storedEvent(1, "r-same", `"1"`, start),
		storedEvent(2, "r-changed", `"1"`, start),
	}
	candidates := []gcal.RawEvent{
		{ID: "r-same", Etag: `"1"`, Title: "Unchanged", Start: start},
		{ID: "r-changed", Etag: `"2"`, Title: "Changed", Start: start},
		{ID: "r-new", Etag: `"1"`, Title: "Brand new", Start: start},
	}

	plan := PlanReconcile(stored, candidates, nil, false)

	if len(plan.ToAdd) != 1 || plan.ToAdd[0].ID != "r-new" {
		t.Errorf("ToAdd = %+v", plan.ToAdd)
	}
	if len(plan.ToUpdate) != 1 || plan.ToUpdate[0].Stored.ID != 2 {
		t.Errorf("ToUpdate = %+v", plan.ToUpdate)
	}
	if len(plan.ToRemove) != 0 {
		t.Errorf("ToRemove = %+v (incremental pass must not remove by absence)", plan.ToRemove)
	}
}

func TestPlanReconcileCancelled(t *testing.T) {
	start := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	stored := []store.Event{storedEvent(1, "r-dead", `"1"`, start)}
	candidates := []gcal.RawEvent{
		{ID: "r-dead", Cancelled: true},
		{ID: "r-unknown-dead", Cancelled: true},
	}

	plan := PlanReconcile(stored, candidates, nil, false)

	if len(plan.ToRemove) != 1 || plan.ToRemove[0].ID != 1 {
		t.Errorf("ToRemove = %+v", plan.ToRemove)
	}
	// A tombstone for an event never stored is a no-op, not an add.
	if len(plan.ToAdd) != 0 || len(plan.ToUpdate) != 0 {
		t.Errorf("plan = %+v", plan)
	}
}

func TestPlanReconcileAbsenceRemovalOnlyWhenFull(t *testing.T) {
	start := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	stored := []store.Event{
		storedEvent(1, "r-kept", `"1"`, start),
		storedEvent(2, "r-vanished", `"1"`, start),
	}
	candidates := []gcal.RawEvent{
		{ID: "r-kept", Etag: `"1"`, Start: start},
	}

	incremental := PlanReconcile(stored, candidates, nil, false)
	if len(incremental.ToRemove) != 0 {
		t.Errorf("incremental ToRemove = %+v", incremental.ToRemove)
	}

	full := PlanReconcile(stored, candidates, nil, true)
	if len(full.ToRemove) != 1 || full.ToRemove[0].RemoteID != "r-vanished" {
		t.Errorf("full ToRemove = %+v", full.ToRemove)
	}
}

func TestPlanReconcilePendingLocalLocked(t *testing.T) {
	start := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	stored := []store.Event{
		storedEvent(7, "r-edited", `"1"`, start),
	}
	candidates := []gcal.RawEvent{
		{ID: "r-edited", Etag: `"9"`, Title: "Stale remote", Start: start},
	}
	pending := map[string]bool{"7": true}

	plan := PlanReconcile(stored, candidates, pending, true)
	if len(plan.ToUpdate) != 0 {
		t.Errorf("locally edited event updated from remote: %+v", plan.ToUpdate)
	}

	// Same for removal, both tombstone and absence driven.
	plan = PlanReconcile(stored, []gcal.RawEvent{{ID: "r-edited", Cancelled: true}}, pending, true)
	if len(plan.ToRemove) != 0 {
		t.Errorf("locally edited event removed by tombstone: %+v", plan.ToRemove)
	}
	plan = PlanReconcile(stored, nil, pending, true)
	if len(plan.ToRemove) != 0 {
		t.Errorf("locally edited event removed by absence: %+v", plan.ToRemove)
	}
}

func seriesInstance(id int64, remoteID string, start time.Time) store.Event {
	return store.Event{
		ID:                id,
		RemoteID:          remoteID,
		CalendarID:        "cal-1",
		Title:             "Dana's birthday",
		Start:             start,
		End:               start.AddDate(0, 0, 1),
		AllDay:            true,
		Etag:              `"1"`,
		RecurringMasterID: "bday",
		SyncStatus:        store.StatusSynced,
		UpdatedAt:         start,
	}
}

func TestPlanReconcileCancelledMasterRemovesInstances(t *testing.T) {
	stored := []store.Event{
		seriesInstance(1, "bday_2026", time.Date(2026, 4, 12, 0, 0, 0, 0, time.UTC)),
		seriesInstance(2, "bday_2027", time.Date(2027, 4, 12, 0, 0, 0, 0, time.UTC)),
		storedEvent(3, "r-9", `"1"`, time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)),
	}
	// The tombstone carries the master id, which no stored row has as its
	// remote id.
	candidates := []gcal.RawEvent{{ID: "bday", Cancelled: true}}

	plan := PlanReconcile(stored, candidates, nil, false)
	if len(plan.ToAdd) != 0 || len(plan.ToUpdate) != 0 {
		t.Fatalf("plan = %+v", plan)
	}
	if len(plan.ToRemove) != 2 {
		t.Fatalf("removed %d events, want both instances", len(plan.ToRemove))
	}
	for _, e := range plan.ToRemove {
		if e.RecurringMasterID != "bday" {
			t.Errorf("removed unrelated event %q", e.RemoteID)
		}
	}

	// A pending local mutation still protects its instance.
	plan = PlanReconcile(stored, candidates, map[string]bool{"2": true}, false)
	if len(plan.ToRemove) != 1 || plan.ToRemove[0].ID != 1 {
		t.Errorf("locked instance not protected: %+v", plan.ToRemove)
	}
}

func TestPlanReconcileReexpandedSeriesDropsOrphans(t *testing.T) {
	stored := []store.Event{
		seriesInstance(1, "bday_2026", time.Date(2026, 4, 12, 0, 0, 0, 0, time.UTC)),
		seriesInstance(2, "bday_2027", time.Date(2027, 4, 12, 0, 0, 0, 0, time.UTC)),
	}
	// The rule now ends after 2026: the fresh expansion yields one
	// instance, with a new etag.
	start := time.Date(2026, 4, 12, 0, 0, 0, 0, time.UTC)
	candidates := []gcal.RawEvent{{
		ID:                "bday_2026",
		Etag:              `"2"`,
		Title:             "Dana's birthday",
		Start:             start,
		End:               start.AddDate(0, 0, 1),
		AllDay:            true,
		RecurringMasterID: "bday",
		Updated:           start,
	}}

	plan := PlanReconcile(stored, candidates, nil, false)
	if len(plan.ToUpdate) != 1 || plan.ToUpdate[0].Stored.RemoteID != "bday_2026" {
		t.Fatalf("updates = %+v", plan.ToUpdate)
	}
	if len(plan.ToRemove) != 1 || plan.ToRemove[0].RemoteID != "bday_2027" {
		t.Fatalf("orphan instance not removed: %+v", plan.ToRemove)
	}
}

func TestReconcileSeriesDeletionIncremental(t *testing.T) {
	db := newTestDB(t)
	rec := NewReconciler(db, "scope")

	windowStart := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	windowEnd := time.Date(2028, 12, 31, 0, 0, 0, 0, time.UTC)
	master := yearlyMaster("bday", "Dana's birthday",
		time.Date(1990, 4, 12, 0, 0, 0, 0, time.UTC))

	candidates := ExpandAll([]gcal.RawEvent{master}, windowStart, windowEnd)
	added, _, _, errs := rec.Reconcile("cal-1", candidates, true)
	if len(errs) != 0 || added != 3 {
		t.Fatalf("seed pass added=%d errs=%v", added, errs)
	}

	// The series is deleted remotely; the incremental change set is just
	// the master's tombstone.
	tombstone := []gcal.RawEvent{{ID: "bday", Cancelled: true}}
	_, _, removed, errs := rec.Reconcile("cal-1", tombstone, false)
	if len(errs) != 0 {
		t.Fatalf("errs = %v", errs)
	}
	if removed != 3 {
		t.Errorf("removed = %d, want every instance", removed)
	}

	events, err := db.ListEventsByCalendar("cal-1")
	if err != nil {
		t.Fatalf("ListEventsByCalendar: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("stale instances persist: %+v", events)
	}
}

func TestReconcileApplies(t *testing.T) {
	db := newTestDB(t)
	rec := NewReconciler(db, "scope")
	start := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	candidates := []gcal.RawEvent{
		{ID: "r-1", Etag: `"1"`, Title: "One", Start: start, End: start.Add(time.Hour), Updated: start},
		{ID: "r-2", Etag: `"1"`, Title: "Two", Start: start.Add(time.Hour), End: start.Add(2 * time.Hour), Updated: start},
	}
	added, updated, removed, errs := rec.Reconcile("cal-1", candidates, true)
	if len(errs) != 0 {
		t.Fatalf("errs = %v", errs)
	}
	if added != 2 || updated != 0 || removed != 0 {
		t.Fatalf("added=%d updated=%d removed=%d", added, updated, removed)
	}

	// Second pass: r-1 changed, r-2 cancelled.
	candidates = []gcal.RawEvent{
		{ID: "r-1", Etag: `"2"`, Title: "One renamed", Start: start, End: start.Add(time.Hour), Updated: start.Add(time.Minute)},
		{ID: "r-2", Cancelled: true},
	}
	added, updated, removed, errs = rec.Reconcile("cal-1", candidates, false)
	if len(errs) != 0 {
		t.Fatalf("errs = %v", errs)
	}
	if added != 0 || updated != 1 || removed != 1 {
		t.Fatalf("added=%d updated=%d removed=%d", added, updated, removed)
	}

	events, err := db.ListEventsByCalendar("cal-1")
	if err != nil {
		t.Fatalf("ListEventsByCalendar: %v", err)
	}
	if len(events) != 1 || events[0].Title != "One renamed" || events[0].Etag != `"2"` {
		t.Errorf("final state = %+v", events)
	}
}

func TestReconcileSkipsDuplicateFromOtherCalendar(t *testing.T) {
	db := newTestDB(t)
	day := time.Date(2026, 4, 10, 0, 0, 0, 0, time.UTC)

	offsite := func(id string) gcal.RawEvent {
		return gcal.RawEvent{
			ID:      id,
			Etag:    `"1"`,
			Title:   "Team Offsite",
			Start:   day,
			End:     day.AddDate(0, 0, 1),
			AllDay:  true,
			Updated: day,
		}
	}

	added, _, _, errs := NewReconciler(db, "scope").Reconcile("work", []gcal.RawEvent{offsite("w-1")}, true)
	if len(errs) != 0 || added != 1 {
		t.Fatalf("first pass added=%d errs=%v", added, errs)
	}

	// The same logical event arriving from another calendar in a later
	// pass keeps the first copy's row.
	added, _, _, errs = NewReconciler(db, "scope").Reconcile("personal", []gcal.RawEvent{offsite("p-1")}, true)
	if len(errs) != 0 {
		t.Fatalf("second pass errs = %v", errs)
	}
	if added != 0 {
		t.Errorf("duplicate added = %d, want 0", added)
	}

	work, _ := db.ListEventsByCalendar("work")
	personal, _ := db.ListEventsByCalendar("personal")
	if len(work) != 1 || len(personal) != 0 {
		t.Errorf("work=%d personal=%d events, want 1/0", len(work), len(personal))
	}
}

func TestReconcileIdempotent(t *testing.T) {
	db := newTestDB(t)
	rec := NewReconciler(db, "scope")
	start := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	candidates := []gcal.RawEvent{
		{ID: "r-1", Etag: `"1"`, Title: "One", Start: start, End: start.Add(time.Hour), Updated: start},
	}

	for i := 0; i < 3; i++ {
		added, updated, removed, errs := rec.Reconcile("cal-1", candidates, true)
		if len(errs) != 0 {
			t.Fatalf("pass %d errs = %v", i, errs)
		}
		if i == 0 {
			if added != 1 {
				t.Fatalf("first pass added = %d", added)
			}
			continue
		}
		if added != 0 || updated != 0 || removed != 0 {
			t.Errorf("pass %d not idempotent: added=%d updated=%d removed=%d", i, added, updated, removed)
		}
	}
}
