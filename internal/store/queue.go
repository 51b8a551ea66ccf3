package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// EnqueueMutation appends an outbound mutation in the pending state and
// returns its id.
func (d *DB) EnqueueMutation(entityType, entityID string, op MutationOp, payload json.RawMessage) (int64, error) {
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}

	res, err := d.db.Exec(
		`INSERT INTO outbound_mutations (entity_type, entity_id, op, payload, enqueued_at, resolution)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		entityType, entityID, op, string(payload), time.Now(), ResolutionPending,
	)
	if err != nil {
		return 0, fmt.Errorf("enqueue mutation: %w", err)
	}
	return res.LastInsertId()
}

// GetMutation retrieves a queue entry by id, or nil when absent.
func (d *DB) GetMutation(id int64) (*OutboundMutation, error) {
	m, err := scanMutation(d.db.QueryRow(
		`SELECT id, entity_type, entity_id, op, payload, enqueued_at, retry_count, resolution, last_error
		 FROM outbound_mutations WHERE id = ?`, id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query mutation: %w", err)
	}
	return m, nil
}

// ListPendingMutations returns queue entries still awaiting a push, in
// enqueue order. Entries resolved by a conflict strategy are excluded; the
// resolution re-enqueues its own entry when a push is still needed.
func (d *DB) ListPendingMutations() ([]OutboundMutation, error) {
	rows, err := d.db.Query(
		`SELECT id, entity_type, entity_id, op, payload, enqueued_at, retry_count, resolution, last_error
		 FROM outbound_mutations WHERE resolution = ? ORDER BY enqueued_at, id`,
		ResolutionPending,
	)
	if err != nil {
		return nil, fmt.Errorf("query mutations: %w", err)
	}
	defer rows.Close()

	var muts []OutboundMutation
	for rows.Next() {
		m, err := scanMutation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan mutation: %w", err)
		}
		muts = append(muts, *m)
	}
	return muts, rows.Err()
}

// PendingEntityIDs returns the set of entity ids with a non-synced queued
// mutation. The reconciler uses this to keep newer local copies out of its
// update/remove sets.
func (d *DB) PendingEntityIDs(entityType string) (map[string]bool, error) {
	rows, err := d.db.Query(
		`SELECT DISTINCT entity_id FROM outbound_mutations
		 WHERE entity_type = ? AND resolution = ?`,
		entityType, ResolutionPending,
	)
	if err != nil {
		return nil, fmt.Errorf("query pending entities: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan entity id: %w", err)
		}
		ids[id] = true
	}
	return ids, rows.Err()
}

// MarkMutationSynced marks a queue entry as successfully pushed.
func (d *DB) MarkMutationSynced(id int64) error {
	_, err := d.db.Exec(
		`UPDATE outbound_mutations SET resolution = ?, last_error = '' WHERE id = ?`,
		ResolutionSynced, id,
	)
	return err
}

// SetMutationResolution records a conflict resolution outcome on the entry.
func (d *DB) SetMutationResolution(id int64, r Resolution) error {
	_, err := d.db.Exec(
		`UPDATE outbound_mutations SET resolution = ? WHERE id = ?`,
		r, id,
	)
	return err
}

// BumpMutationRetry increments the retry counter and records the error.
func (d *DB) BumpMutationRetry(id int64, lastError string) error {
	_, err := d.db.Exec(
		`UPDATE outbound_mutations SET retry_count = retry_count + 1, last_error = ? WHERE id = ?`,
		lastError, id,
	)
	return err
}

func scanMutation(row interface{ Scan(...any) error }) (*OutboundMutation, error) {
	var m OutboundMutation
	var payload string
	err := row.Scan(&m.ID, &m.EntityType, &m.EntityID, &m.Op, &payload,
		&m.EnqueuedAt, &m.RetryCount, &m.Resolution, &m.LastError)
	if err != nil {
		return nil, err
	}
	m.Payload = json.RawMessage(payload)
	return &m, nil
}
