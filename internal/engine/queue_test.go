package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/haldane-io/calsync/internal/gcal"
	"github.com/haldane-io/calsync/internal/store"
)

// fakeRemoteEvents records pushes and can fail specific event ids.
type fakeRemoteEvents struct {
	created []gcal.RawEvent
	updated []gcal.RawEvent
	deleted []string

	failWith map[string]error
	nextID   int
}

func (f *fakeRemoteEvents) CreateEvent(ctx context.Context, calendarID string, e gcal.RawEvent) (gcal.RawEvent, error) {
	if err := f.failWith[e.Title]; err != nil {
		return gcal.RawEvent{}, err
	}
	f.nextID++
	e.ID = fmt.Sprintf("remote-%d", f.nextID)
	e.Etag = `"1"`
	f.created = append(f.created, e)
	return e, nil
}

func (f *fakeRemoteEvents) UpdateEvent(ctx context.Context, calendarID, eventID, etag string, e gcal.RawEvent) (gcal.RawEvent, error) {
	if err := f.failWith[e.Title]; err != nil {
		return gcal.RawEvent{}, err
	}
	e.ID = eventID
	e.Etag = `"2"`
	f.updated = append(f.updated, e)
	return e, nil
}

func (f *fakeRemoteEvents) DeleteEvent(ctx context.Context, calendarID, eventID, etag string) error {
	if err := f.failWith[eventID]; err != nil {
		return err
	}
	f.deleted = append(f.deleted, eventID)
	return nil
}

func putLocalEvent(t *testing.T, db *store.DB, title, remoteID string) store.Event {
	t.Helper()
	start := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	ev := store.Event{
		RemoteID:   remoteID,
		CalendarID: "cal-1",
		Title:      title,
		Start:      start,
		End:        start.Add(time.Hour),
		Etag:       `"1"`,
		SyncStatus: store.StatusPending,
		UpdatedAt:  start,
	}
	if remoteID == "" {
		ev.Etag = ""
	}
	id, err := db.PutEvent(&ev)
	if err != nil {
		t.Fatalf("PutEvent: %v", err)
	}
	ev.ID = id
	return ev
}

func TestDrainCreateAdoptsRemoteIdentity(t *testing.T) {
	db := newTestDB(t)
	remote := &fakeRemoteEvents{}
	q := NewQueue(db, remote, 5)

	ev := putLocalEvent(t, db, "New meeting", "")
	if _, err := q.Enqueue(ev.ID, store.OpCreate, ev); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	result, err := q.Drain(context.Background())
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if result.Synced != 1 || result.Errors != 0 {
		t.Fatalf("result = %+v", result)
	}
	if len(remote.created) != 1 {
		t.Fatalf("remote saw %d creates", len(remote.created))
	}

	got, _ := db.GetEvent(ev.ID)
	if got.RemoteID == "" || got.Etag == "" {
		t.Errorf("remote identity not adopted: %+v", got)
	}
	if got.SyncStatus != store.StatusSynced {
		t.Errorf("status = %q, want synced", got.SyncStatus)
	}

	// The queue entry is settled; a second drain pushes nothing.
	result, _ = q.Drain(context.Background())
	if result.Synced != 0 {
		t.Errorf("second drain re-pushed: %+v", result)
	}
}

func TestDrainUpdateAndDelete(t *testing.T) {
	db := newTestDB(t)
	remote := &fakeRemoteEvents{}
	q := NewQueue(db, remote, 5)

	upd := putLocalEvent(t, db, "Edited", "remote-upd")
	del := putLocalEvent(t, db, "Removed", "remote-del")

	if _, err := q.Enqueue(upd.ID, store.OpUpdate, upd); err != nil {
		t.Fatalf("Enqueue update: %v", err)
	}
	if _, err := q.Enqueue(del.ID, store.OpDelete, del); err != nil {
		t.Fatalf("Enqueue delete: %v", err)
	}

	result, err := q.Drain(context.Background())
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if result.Synced != 2 {
		t.Fatalf("result = %+v", result)
	}
	if len(remote.updated) != 1 || remote.updated[0].ID != "remote-upd" {
		t.Errorf("updates = %+v", remote.updated)
	}
	if len(remote.deleted) != 1 || remote.deleted[0] != "remote-del" {
		t.Errorf("deletes = %+v", remote.deleted)
	}
}

func TestDrainDeleteNeverPushedIsNoop(t *testing.T) {
	db := newTestDB(t)
	remote := &fakeRemoteEvents{}
	q := NewQueue(db, remote, 5)

	ev := putLocalEvent(t, db, "Local only", "")
	if _, err := q.Enqueue(ev.ID, store.OpDelete, ev); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	result, err := q.Drain(context.Background())
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if result.Synced != 1 || len(remote.deleted) != 0 {
		t.Errorf("result = %+v, deletes = %v", result, remote.deleted)
	}
}

func TestDrainVersionConflictFlagsAndBlocks(t *testing.T) {
	db := newTestDB(t)
	remoteCopy := gcal.RawEvent{
		ID:    "remote-a",
		Etag:  `"9"`,
		Title: "Moved by the other side",
	}
	remote := &fakeRemoteEvents{
		failWith: map[string]error{
			"Conflicted": &gcal.VersionMismatchError{EventID: "remote-a", Remote: &remoteCopy},
		},
	}
	q := NewQueue(db, remote, 5)

	a := putLocalEvent(t, db, "Conflicted", "remote-a")
	b := putLocalEvent(t, db, "Fine", "remote-b")
	if _, err := q.Enqueue(a.ID, store.OpUpdate, a); err != nil {
		t.Fatalf("Enqueue a: %v", err)
	}
	if _, err := q.Enqueue(b.ID, store.OpUpdate, b); err != nil {
		t.Fatalf("Enqueue b: %v", err)
	}

	result, err := q.Drain(context.Background())
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	// A's conflict must not block B.
	if result.Conflicts != 1 || result.Synced != 1 {
		t.Fatalf("result = %+v", result)
	}

	conflicts, _ := db.ListConflicts(true)
	if len(conflicts) != 1 {
		t.Fatalf("conflicts = %+v", conflicts)
	}
	if conflicts[0].EntityID != fmt.Sprint(a.ID) {
		t.Errorf("conflict entity = %q", conflicts[0].EntityID)
	}

	// While unresolved, further drains skip A's entry instead of retrying.
	result, _ = q.Drain(context.Background())
	if result.Skipped != 1 || result.Conflicts != 0 {
		t.Errorf("drain while blocked = %+v", result)
	}
}

func TestDrainRetriesThenParks(t *testing.T) {
	db := newTestDB(t)
	remote := &fakeRemoteEvents{
		failWith: map[string]error{"Flaky": fmt.Errorf("remote timeout")},
	}
	q := NewQueue(db, remote, 2)

	ev := putLocalEvent(t, db, "Flaky", "remote-f")
	if _, err := q.Enqueue(ev.ID, store.OpUpdate, ev); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	for i := 0; i < 2; i++ {
		result, err := q.Drain(context.Background())
		if err != nil {
			t.Fatalf("Drain %d: %v", i, err)
		}
		if result.Errors != 1 {
			t.Fatalf("drain %d result = %+v", i, result)
		}
	}

	// Retries exhausted: the entry parks instead of hammering the
	// remote service.
	result, err := q.Drain(context.Background())
	if err != nil {
		t.Fatalf("final Drain: %v", err)
	}
	if result.Skipped != 1 || result.Errors != 0 {
		t.Errorf("parked drain = %+v", result)
	}

	m, _ := db.GetMutation(1)
	if m.RetryCount != 2 || m.LastError == "" {
		t.Errorf("mutation = %+v", m)
	}
}
