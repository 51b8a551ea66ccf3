package store

import (
	"encoding/json"
	"testing"
	"time"
)

func TestCreateAndListConflicts(t *testing.T) {
	d := openTestDB(t)

	id, err := d.CreateConflict("event", "5",
		json.RawMessage(`{"title":"local"}`), json.RawMessage(`{"title":"remote"}`))
	if err != nil {
		t.Fatalf("CreateConflict: %v", err)
	}
	if id == 0 {
		t.Fatal("CreateConflict returned zero id")
	}

	unresolved, err := d.ListConflicts(true)
	if err != nil {
		t.Fatalf("ListConflicts: %v", err)
	}
	if len(unresolved) != 1 || unresolved[0].EntityID != "5" {
		t.Fatalf("unresolved = %+v", unresolved)
	}
	if !unresolved[0].ResolvedAt.IsZero() {
		t.Errorf("fresh conflict has resolved_at = %v", unresolved[0].ResolvedAt)
	}
}

func TestHasUnresolvedConflict(t *testing.T) {
	d := openTestDB(t)

	id, err := d.CreateConflict("event", "7", nil, nil)
	if err != nil {
		t.Fatalf("CreateConflict: %v", err)
	}

	blocked, err := d.HasUnresolvedConflict("event", "7")
	if err != nil {
		t.Fatalf("HasUnresolvedConflict: %v", err)
	}
	if !blocked {
		t.Error("expected entity 7 to be blocked")
	}

	if blocked, _ := d.HasUnresolvedConflict("event", "8"); blocked {
		t.Error("entity 8 reported blocked with no conflict")
	}

	if err := d.MarkConflictResolved(id, "local-wins", time.Now()); err != nil {
		t.Fatalf("MarkConflictResolved: %v", err)
	}
	if blocked, _ := d.HasUnresolvedConflict("event", "7"); blocked {
		t.Error("entity 7 still blocked after resolution")
	}
}

func TestMarkConflictResolved(t *testing.T) {
	d := openTestDB(t)
	at := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

	id, _ := d.CreateConflict("event", "3", nil, nil)
	if err := d.MarkConflictResolved(id, "merge-by-recency", at); err != nil {
		t.Fatalf("MarkConflictResolved: %v", err)
	}

	c, err := d.GetConflict(id)
	if err != nil {
		t.Fatalf("GetConflict: %v", err)
	}
	if c.Resolution != "merge-by-recency" {
		t.Errorf("resolution = %q", c.Resolution)
	}
	if !c.ResolvedAt.Equal(at) {
		t.Errorf("resolved_at = %v, want %v", c.ResolvedAt, at)
	}

	// Resolving twice is an error.
	if err := d.MarkConflictResolved(id, "local-wins", at); err == nil {
		t.Error("second resolution did not fail")
	}
	// So is resolving a conflict that does not exist.
	if err := d.MarkConflictResolved(999, "local-wins", at); err == nil {
		t.Error("resolving unknown conflict did not fail")
	}
}

func TestListConflictsAll(t *testing.T) {
	d := openTestDB(t)

	a, _ := d.CreateConflict("event", "1", nil, nil)
	if _, err := d.CreateConflict("event", "2", nil, nil); err != nil {
		t.Fatalf("CreateConflict: %v", err)
	}
	if err := d.MarkConflictResolved(a, "remote-wins", time.Now()); err != nil {
		t.Fatalf("MarkConflictResolved: %v", err)
	}

	all, err := d.ListConflicts(false)
	if err != nil {
		t.Fatalf("ListConflicts(false): %v", err)
	}
	if len(all) != 2 {
		t.Errorf("all = %d conflicts, want 2", len(all))
	}
	unresolved, _ := d.ListConflicts(true)
	if len(unresolved) != 1 {
		t.Errorf("unresolved = %d conflicts, want 1", len(unresolved))
	}
}
