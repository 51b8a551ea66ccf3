// Package store provides local persistence for calendar sync state using SQLite.
package store

import (
	"encoding/json"
	"time"
)

// SyncStatus represents the sync state of a stored event.
type SyncStatus string

const (
	// StatusPending means the event has local changes not yet pushed.
	StatusPending SyncStatus = "pending"
	// StatusSynced means the event matches the remote copy.
	StatusSynced SyncStatus = "synced"
	// StatusError means the last push attempt for this event failed.
	StatusError SyncStatus = "error"
)

// ScopeStatus represents the state of a sync scope's pass.
type ScopeStatus string

const (
	ScopeIdle    ScopeStatus = "idle"
	ScopeSyncing ScopeStatus = "syncing"
	ScopeError   ScopeStatus = "error"
)

// MutationOp is the operation recorded for an outbound mutation.
type MutationOp string

const (
	OpCreate MutationOp = "create"
	OpUpdate MutationOp = "update"
	OpDelete MutationOp = "delete"
)

// Resolution tracks the lifecycle of a queued mutation.
type Resolution string

const (
	ResolutionPending    Resolution = "pending"
	ResolutionSynced     Resolution = "synced"
	ResolutionLocalWins  Resolution = "local-wins"
	ResolutionRemoteWins Resolution = "remote-wins"
)

// Event is a stored calendar event. RemoteID is empty for events created
// locally that have not been pushed yet.
type Event struct {
	ID                int64      `json:"id"`
	RemoteID          string     `json:"remote_id,omitempty"`
	CalendarID        string     `json:"calendar_id"`
	Title             string     `json:"title"`
	Start             time.Time  `json:"start"`
	End               time.Time  `json:"end"`
	AllDay            bool       `json:"all_day"`
	Etag              string     `json:"etag,omitempty"`
	RecurringMasterID string     `json:"recurring_master_id,omitempty"`
	DedupKey          string     `json:"dedup_key,omitempty"`
	SyncStatus        SyncStatus `json:"sync_status"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// SyncScope is the per-scope sync state machine. Created on first sync
// attempt, never deleted, only reset.
type SyncScope struct {
	ID                  string      `json:"id"`
	SyncToken           string      `json:"sync_token,omitempty"`
	Status              ScopeStatus `json:"status"`
	LastSyncAt          time.Time   `json:"last_sync_at,omitempty"`
	FullSyncCompletedAt time.Time   `json:"full_sync_completed_at,omitempty"`
	LockAcquiredAt      time.Time   `json:"lock_acquired_at,omitempty"`
	LastError           string      `json:"last_error,omitempty"`
	ConsecutiveFailures int         `json:"consecutive_failures"`
}

// Calendar describes a remote calendar membership. Enabled calendars are
// the fetch scope for a sync pass.
type Calendar struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Primary      bool      `json:"primary"`
	Enabled      bool      `json:"enabled"`
	LastSyncedAt time.Time `json:"last_synced_at,omitempty"`
}

// OutboundMutation is a queued local change awaiting push to the remote
// service.
type OutboundMutation struct {
	ID         int64           `json:"id"`
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	Op         MutationOp      `json:"op"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	RetryCount int             `json:"retry_count"`
	Resolution Resolution      `json:"resolution"`
	LastError  string          `json:"last_error,omitempty"`
}

// Conflict records a detected divergence between the local and remote
// versions of an entity. ResolvedAt zero means unresolved; an unresolved
// conflict blocks that entity's queued mutation from being retried.
type Conflict struct {
	ID             int64           `json:"id"`
	EntityType     string          `json:"entity_type"`
	EntityID       string          `json:"entity_id"`
	LocalSnapshot  json.RawMessage `json:"local_snapshot"`
	RemoteSnapshot json.RawMessage `json:"remote_snapshot"`
	DetectedAt     time.Time       `json:"detected_at"`
	ResolvedAt     time.Time       `json:"resolved_at,omitempty"`
	Resolution     string          `json:"resolution,omitempty"`
}

// LogEntry is one row of the sync audit log.
type LogEntry struct {
	ID        int64     `json:"id"`
	ScopeID   string    `json:"scope_id"`
	Action    string    `json:"action"` // fetch, add, update, remove, conflict, error
	Entity    string    `json:"entity"`
	Timestamp time.Time `json:"timestamp"`
	Details   string    `json:"details,omitempty"` // JSON details
}
