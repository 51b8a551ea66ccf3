package store

import (
	"database/sql"
	"fmt"
	"time"
)

// UpsertCalendar inserts or refreshes a calendar descriptor. The enabled
// flag is preserved on refresh so a user's choice survives sync passes.
func (d *DB) UpsertCalendar(c Calendar) error {
	_, err := d.db.Exec(
		`INSERT INTO calendars (id, name, is_primary, enabled)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name = excluded.name, is_primary = excluded.is_primary`,
		c.ID, c.Name, boolInt(c.Primary), boolInt(c.Enabled),
	)
	if err != nil {
		return fmt.Errorf("upsert calendar: %w", err)
	}
	return nil
}

// SetCalendarEnabled toggles whether a calendar participates in sync.
func (d *DB) SetCalendarEnabled(id string, enabled bool) error {
	res, err := d.db.Exec(
		`UPDATE calendars SET enabled = ? WHERE id = ?`,
		boolInt(enabled), id,
	)
	if err != nil {
		return fmt.Errorf("update calendar: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("calendar not found: %s", id)
	}
	return nil
}

// TouchCalendarSynced records the time of the calendar's last successful sync.
func (d *DB) TouchCalendarSynced(id string, at time.Time) error {
	_, err := d.db.Exec(
		`UPDATE calendars SET last_synced_at = ? WHERE id = ?`,
		at, id,
	)
	return err
}

// ListCalendars returns all known calendars, primary first then by name.
// The stable order makes dedup's first-seen-wins rule deterministic.
func (d *DB) ListCalendars() ([]Calendar, error) {
	return d.listCalendars(false)
}

// ListEnabledCalendars returns the fetch scope for a sync pass.
func (d *DB) ListEnabledCalendars() ([]Calendar, error) {
	return d.listCalendars(true)
}

func (d *DB) listCalendars(enabledOnly bool) ([]Calendar, error) {
	q := `SELECT id, name, is_primary, enabled, last_synced_at FROM calendars`
	if enabledOnly {
		q += ` WHERE enabled = 1`
	}
	q += ` ORDER BY is_primary DESC, name, id`

	rows, err := d.db.Query(q)
	if err != nil {
		return nil, fmt.Errorf("query calendars: %w", err)
	}
	defer rows.Close()

	var cals []Calendar
	for rows.Next() {
		var c Calendar
		var primary, enabled int
		var lastSynced sql.NullTime
		if err := rows.Scan(&c.ID, &c.Name, &primary, &enabled, &lastSynced); err != nil {
			return nil, fmt.Errorf("scan calendar: %w", err)
		}
		c.Primary = primary != 0
		c.Enabled = enabled != 0
		if lastSynced.Valid {
			c.LastSyncedAt = lastSynced.Time
		}
		cals = append(cals, c)
	}
	return cals, rows.Err()
}
