package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/haldane-io/calsync/internal/config"
)

// DB provides sync state persistence using SQLite.
type DB struct {
	db *sql.DB
}

// OpenDefault opens (or creates) the database in the config directory.
func OpenDefault() (*DB, error) {
	if _, err := config.EnsureDir(); err != nil {
		return nil, fmt.Errorf("ensure config dir: %w", err)
	}

	path, err := config.DBPath()
	if err != nil {
		return nil, fmt.Errorf("get db path: %w", err)
	}

	return Open(path)
}

// Open opens the database at path and applies the schema.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &DB{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	if d.db != nil {
		return d.db.Close()
	}
	return nil
}

// migrate creates the database schema if it doesn't exist.
func (d *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sync_scopes (
		scope_id TEXT PRIMARY KEY,
		sync_token TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'idle',
		last_sync_at DATETIME,
		full_sync_completed_at DATETIME,
		lock_acquired_at DATETIME,
		last_error TEXT NOT NULL DEFAULT '',
		consecutive_failures INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS calendars (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		is_primary INTEGER NOT NULL DEFAULT 0,
		enabled INTEGER NOT NULL DEFAULT 1,
		last_synced_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		remote_id TEXT NOT NULL DEFAULT '',
		calendar_id TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		start_at DATETIME NOT NULL,
		end_at DATETIME NOT NULL,
		all_day INTEGER NOT NULL DEFAULT 0,
		etag TEXT NOT NULL DEFAULT '',
		recurring_master_id TEXT NOT NULL DEFAULT '',
		dedup_key TEXT NOT NULL DEFAULT '',
		sync_status TEXT NOT NULL DEFAULT 'synced',
		updated_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_events_calendar_id ON events(calendar_id);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_events_calendar_remote
		ON events(calendar_id, remote_id) WHERE remote_id != '';
	CREATE UNIQUE INDEX IF NOT EXISTS idx_events_dedup_key
		ON events(dedup_key) WHERE dedup_key != '';

	CREATE TABLE IF NOT EXISTS outbound_mutations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		op TEXT NOT NULL,
		payload TEXT NOT NULL DEFAULT '{}',
		enqueued_at DATETIME NOT NULL,
		retry_count INTEGER NOT NULL DEFAULT 0,
		resolution TEXT NOT NULL DEFAULT 'pending',
		last_error TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_mutations_resolution ON outbound_mutations(resolution);
	CREATE INDEX IF NOT EXISTS idx_mutations_entity ON outbound_mutations(entity_type, entity_id);

	CREATE TABLE IF NOT EXISTS conflicts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		local_snapshot TEXT NOT NULL DEFAULT '{}',
		remote_snapshot TEXT NOT NULL DEFAULT '{}',
		detected_at DATETIME NOT NULL,
		resolved_at DATETIME,
		resolution TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_conflicts_entity ON conflicts(entity_type, entity_id);

	CREATE TABLE IF NOT EXISTS sync_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		scope_id TEXT NOT NULL,
		action TEXT NOT NULL,
		entity TEXT NOT NULL DEFAULT '',
		timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		details TEXT NOT NULL DEFAULT '{}'
	);

	CREATE INDEX IF NOT EXISTS idx_sync_log_scope ON sync_log(scope_id);
	CREATE INDEX IF NOT EXISTS idx_sync_log_timestamp ON sync_log(timestamp);
	`

	_, err := d.db.Exec(schema)
	return err
}

// AddLogEntry adds an entry to the sync log.
func (d *DB) AddLogEntry(scopeID, action, entity string, details map[string]any) error {
	detailsJSON := "{}"
	if details != nil {
		b, err := json.Marshal(details)
		if err == nil {
			detailsJSON = string(b)
		}
	}

	_, err := d.db.Exec(
		`INSERT INTO sync_log (scope_id, action, entity, timestamp, details)
		 VALUES (?, ?, ?, ?, ?)`,
		scopeID, action, entity, time.Now(), detailsJSON,
	)
	return err
}

// RecentLogs returns recent log entries for a scope, newest first.
func (d *DB) RecentLogs(scopeID string, limit int) ([]LogEntry, error) {
	rows, err := d.db.Query(
		`SELECT id, scope_id, action, entity, timestamp, details
		 FROM sync_log WHERE scope_id = ? ORDER BY timestamp DESC, id DESC LIMIT ?`,
		scopeID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query logs: %w", err)
	}
	defer rows.Close()

	var entries []LogEntry
	for rows.Next() {
		var e LogEntry
		if err := rows.Scan(&e.ID, &e.ScopeID, &e.Action, &e.Entity, &e.Timestamp, &e.Details); err != nil {
			return nil, fmt.Errorf("scan log: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
