package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

const eventColumns = `id, remote_id, calendar_id, title, start_at, end_at, all_day,
	etag, recurring_master_id, dedup_key, sync_status, updated_at`

func scanEvent(row interface{ Scan(...any) error }) (*Event, error) {
	var e Event
	var allDay int
	err := row.Scan(&e.ID, &e.RemoteID, &e.CalendarID, &e.Title, &e.Start, &e.End,
		&allDay, &e.Etag, &e.RecurringMasterID, &e.DedupKey, &e.SyncStatus, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	e.AllDay = allDay != 0
	return &e, nil
}

// GetEvent retrieves an event by store id, or nil when absent.
func (d *DB) GetEvent(id int64) (*Event, error) {
	e, err := scanEvent(d.db.QueryRow(
		`SELECT `+eventColumns+` FROM events WHERE id = ?`, id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query event: %w", err)
	}
	return e, nil
}

// GetEventByRemoteID retrieves an event by (calendar, remote id), or nil.
func (d *DB) GetEventByRemoteID(calendarID, remoteID string) (*Event, error) {
	e, err := scanEvent(d.db.QueryRow(
		`SELECT `+eventColumns+` FROM events WHERE calendar_id = ? AND remote_id = ?`,
		calendarID, remoteID,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query event by remote id: %w", err)
	}
	return e, nil
}

// GetEventByDedupKey retrieves the event holding a dedup key, or nil.
// Keyless events (empty key) are never matched.
func (d *DB) GetEventByDedupKey(key string) (*Event, error) {
	if key == "" {
		return nil, nil
	}
	e, err := scanEvent(d.db.QueryRow(
		`SELECT `+eventColumns+` FROM events WHERE dedup_key = ?`, key,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query event by dedup key: %w", err)
	}
	return e, nil
}

// ListEventsByCalendar returns all stored events for a calendar.
func (d *DB) ListEventsByCalendar(calendarID string) ([]Event, error) {
	rows, err := d.db.Query(
		`SELECT `+eventColumns+` FROM events WHERE calendar_id = ? ORDER BY start_at, id`,
		calendarID,
	)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, *e)
	}
	return events, rows.Err()
}

// ListEventsInRange returns stored events overlapping [from, to) across all
// calendars, ordered by start time.
func (d *DB) ListEventsInRange(from, to time.Time) ([]Event, error) {
	rows, err := d.db.Query(
		`SELECT `+eventColumns+` FROM events WHERE end_at >= ? AND start_at < ?
		 ORDER BY start_at, id`,
		from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("query events in range: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, *e)
	}
	return events, rows.Err()
}

// PutEvent inserts the event and returns the assigned store id.
func (d *DB) PutEvent(e *Event) (int64, error) {
	res, err := d.db.Exec(
		`INSERT INTO events (remote_id, calendar_id, title, start_at, end_at, all_day,
		    etag, recurring_master_id, dedup_key, sync_status, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.RemoteID, e.CalendarID, e.Title, e.Start, e.End, boolInt(e.AllDay),
		e.Etag, e.RecurringMasterID, e.DedupKey, e.SyncStatus, e.UpdatedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("insert event: %w", err)
	}
	return res.LastInsertId()
}

// UpdateEvent replaces the remote-sourced fields of a stored event, keeping
// the local store id.
func (d *DB) UpdateEvent(e *Event) error {
	_, err := d.db.Exec(
		`UPDATE events SET remote_id = ?, calendar_id = ?, title = ?, start_at = ?,
		    end_at = ?, all_day = ?, etag = ?, recurring_master_id = ?, dedup_key = ?,
		    sync_status = ?, updated_at = ?
		 WHERE id = ?`,
		e.RemoteID, e.CalendarID, e.Title, e.Start, e.End, boolInt(e.AllDay),
		e.Etag, e.RecurringMasterID, e.DedupKey, e.SyncStatus, e.UpdatedAt, e.ID,
	)
	if err != nil {
		return fmt.Errorf("update event: %w", err)
	}
	return nil
}

// BulkAddEvents inserts events in one transaction. Returns the number added.
func (d *DB) BulkAddEvents(events []Event) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}

	tx, err := d.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		`INSERT INTO events (remote_id, calendar_id, title, start_at, end_at, all_day,
		    etag, recurring_master_id, dedup_key, sync_status, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return 0, fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	added := 0
	for _, e := range events {
		if _, err := stmt.Exec(
			e.RemoteID, e.CalendarID, e.Title, e.Start, e.End, boolInt(e.AllDay),
			e.Etag, e.RecurringMasterID, e.DedupKey, e.SyncStatus, e.UpdatedAt,
		); err != nil {
			return added, fmt.Errorf("insert event %s: %w", e.RemoteID, err)
		}
		added++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return added, nil
}

// BulkDeleteEvents deletes events by store id. Returns the number removed.
func (d *DB) BulkDeleteEvents(ids []int64) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	res, err := d.db.Exec(`DELETE FROM events WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("delete events: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}

// DeleteEvent removes a single event by store id.
func (d *DB) DeleteEvent(id int64) error {
	_, err := d.db.Exec(`DELETE FROM events WHERE id = ?`, id)
	return err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
