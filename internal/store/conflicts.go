package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// CreateConflict records a detected local/remote divergence and returns its id.
func (d *DB) CreateConflict(entityType, entityID string, local, remote json.RawMessage) (int64, error) {
	if len(local) == 0 {
		local = json.RawMessage("{}")
	}
	if len(remote) == 0 {
		remote = json.RawMessage("{}")
	}

	res, err := d.db.Exec(
		`INSERT INTO conflicts (entity_type, entity_id, local_snapshot, remote_snapshot, detected_at)
		 VALUES (?, ?, ?, ?, ?)`,
		entityType, entityID, string(local), string(remote), time.Now(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert conflict: %w", err)
	}
	return res.LastInsertId()
}

// GetConflict retrieves a conflict by id, or nil when absent.
func (d *DB) GetConflict(id int64) (*Conflict, error) {
	c, err := scanConflict(d.db.QueryRow(
		`SELECT id, entity_type, entity_id, local_snapshot, remote_snapshot,
		        detected_at, resolved_at, resolution
		 FROM conflicts WHERE id = ?`, id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query conflict: %w", err)
	}
	return c, nil
}

// ListConflicts returns conflicts, optionally only unresolved ones.
func (d *DB) ListConflicts(unresolvedOnly bool) ([]Conflict, error) {
	q := `SELECT id, entity_type, entity_id, local_snapshot, remote_snapshot,
	             detected_at, resolved_at, resolution
	      FROM conflicts`
	if unresolvedOnly {
		q += ` WHERE resolved_at IS NULL`
	}
	q += ` ORDER BY detected_at, id`

	rows, err := d.db.Query(q)
	if err != nil {
		return nil, fmt.Errorf("query conflicts: %w", err)
	}
	defer rows.Close()

	var conflicts []Conflict
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conflict: %w", err)
		}
		conflicts = append(conflicts, *c)
	}
	return conflicts, rows.Err()
}

// HasUnresolvedConflict reports whether an entity is blocked by an open
// conflict.
func (d *DB) HasUnresolvedConflict(entityType, entityID string) (bool, error) {
	var n int
	err := d.db.QueryRow(
		`SELECT COUNT(*) FROM conflicts
		 WHERE entity_type = ? AND entity_id = ? AND resolved_at IS NULL`,
		entityType, entityID,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("count conflicts: %w", err)
	}
	return n > 0, nil
}

// MarkConflictResolved persists the resolution outcome on the conflict row.
func (d *DB) MarkConflictResolved(id int64, resolution string, at time.Time) error {
	res, err := d.db.Exec(
		`UPDATE conflicts SET resolved_at = ?, resolution = ? WHERE id = ? AND resolved_at IS NULL`,
		at, resolution, id,
	)
	if err != nil {
		return fmt.Errorf("resolve conflict: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("conflict not found or already resolved: %d", id)
	}
	return nil
}

func scanConflict(row interface{ Scan(...any) error }) (*Conflict, error) {
	var c Conflict
	var local, remote string
	var resolvedAt sql.NullTime
	err := row.Scan(&c.ID, &c.EntityType, &c.EntityID, &local, &remote,
		&c.DetectedAt, &resolvedAt, &c.Resolution)
	if err != nil {
		return nil, err
	}
	c.LocalSnapshot = json.RawMessage(local)
	c.RemoteSnapshot = json.RawMessage(remote)
	if resolvedAt.Valid {
		c.ResolvedAt = resolvedAt.Time
	}
	return &c, nil
}
