package store

import (
	"database/sql"
	"fmt"
	"time"
)

// EnsureScope returns the scope record, creating it in the idle state on
// first sync attempt.
func (d *DB) EnsureScope(scopeID string) (*SyncScope, error) {
	_, err := d.db.Exec(
		`INSERT INTO sync_scopes (scope_id, status) VALUES (?, ?)
		 ON CONFLICT(scope_id) DO NOTHING`,
		scopeID, ScopeIdle,
	)
	if err != nil {
		return nil, fmt.Errorf("insert scope: %w", err)
	}
	return d.GetScope(scopeID)
}

// GetScope retrieves a sync scope, or nil if it does not exist.
func (d *DB) GetScope(scopeID string) (*SyncScope, error) {
	var s SyncScope
	var lastSync, fullSync, lockAt sql.NullTime

	err := d.db.QueryRow(
		`SELECT scope_id, sync_token, status, last_sync_at, full_sync_completed_at,
		        lock_acquired_at, last_error, consecutive_failures
		 FROM sync_scopes WHERE scope_id = ?`,
		scopeID,
	).Scan(&s.ID, &s.SyncToken, &s.Status, &lastSync, &fullSync, &lockAt,
		&s.LastError, &s.ConsecutiveFailures)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query scope: %w", err)
	}

	if lastSync.Valid {
		s.LastSyncAt = lastSync.Time
	}
	if fullSync.Valid {
		s.FullSyncCompletedAt = fullSync.Time
	}
	if lockAt.Valid {
		s.LockAcquiredAt = lockAt.Time
	}
	return &s, nil
}

// TryAcquireLock attempts to transition the scope to syncing via a single
// conditional update. It succeeds when the scope is not currently syncing,
// or when the existing lock is older than timeout (stale lock reclaim).
// Returns false when another pass holds a fresh lock.
func (d *DB) TryAcquireLock(scopeID string, now time.Time, timeout time.Duration) (bool, error) {
	cutoff := now.Add(-timeout)

	res, err := d.db.Exec(
		`UPDATE sync_scopes
		 SET status = ?, lock_acquired_at = ?, last_error = ''
		 WHERE scope_id = ? AND (status != ? OR lock_acquired_at IS NULL OR lock_acquired_at <= ?)`,
		ScopeSyncing, now, scopeID, ScopeSyncing, cutoff,
	)
	if err != nil {
		return false, fmt.Errorf("acquire lock: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// ReleaseLock transitions the scope out of syncing. Status becomes error
// when lastError is non-empty, idle otherwise. Always clears the lock.
func (d *DB) ReleaseLock(scopeID string, now time.Time, lastError string) error {
	status := ScopeIdle
	if lastError != "" {
		status = ScopeError
	}

	_, err := d.db.Exec(
		`UPDATE sync_scopes
		 SET status = ?, lock_acquired_at = NULL, last_sync_at = ?, last_error = ?
		 WHERE scope_id = ?`,
		status, now, lastError, scopeID,
	)
	if err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}

// UpdateSyncToken persists the scope's incremental sync token.
func (d *DB) UpdateSyncToken(scopeID, token string) error {
	_, err := d.db.Exec(
		`UPDATE sync_scopes SET sync_token = ? WHERE scope_id = ?`,
		token, scopeID,
	)
	return err
}

// ClearSyncToken forces the next pass to perform a full fetch.
func (d *DB) ClearSyncToken(scopeID string) error {
	return d.UpdateSyncToken(scopeID, "")
}

// MarkFullSyncCompleted records the completion time of a full fetch.
func (d *DB) MarkFullSyncCompleted(scopeID string, at time.Time) error {
	_, err := d.db.Exec(
		`UPDATE sync_scopes SET full_sync_completed_at = ? WHERE scope_id = ?`,
		at, scopeID,
	)
	return err
}

// IncrementScopeFailures bumps the consecutive-failure counter and returns
// the new value. The counter lives on the scope so it survives restarts.
func (d *DB) IncrementScopeFailures(scopeID string) (int, error) {
	_, err := d.db.Exec(
		`UPDATE sync_scopes SET consecutive_failures = consecutive_failures + 1
		 WHERE scope_id = ?`,
		scopeID,
	)
	if err != nil {
		return 0, fmt.Errorf("increment failures: %w", err)
	}

	var n int
	err = d.db.QueryRow(
		`SELECT consecutive_failures FROM sync_scopes WHERE scope_id = ?`, scopeID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("query failures: %w", err)
	}
	return n, nil
}

// ResetScopeFailures clears the consecutive-failure counter.
func (d *DB) ResetScopeFailures(scopeID string) error {
	_, err := d.db.Exec(
		`UPDATE sync_scopes SET consecutive_failures = 0 WHERE scope_id = ?`,
		scopeID,
	)
	return err
}
