package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/haldane-io/calsync/internal/gcal"
	"github.com/haldane-io/calsync/internal/store"
)

// EntityEvent is the entity type tag used for events in the mutation queue
// and conflict records.
const EntityEvent = "event"

// LockTimeout is the maximum age of a sync lock before a subsequent pass is
// permitted to reclaim it.
const LockTimeout = 5 * time.Minute

// RemoteCalendars is the fetch surface the coordinator consumes.
type RemoteCalendars interface {
	ListCalendars(ctx context.Context) ([]gcal.CalendarInfo, error)
	FetchChanges(ctx context.Context, calendarID, syncToken string) (*gcal.ChangeSet, error)
}

// SyncResult reports one sync pass.
type SyncResult struct {
	Added   int      `json:"added"`
	Updated int      `json:"updated"`
	Removed int      `json:"removed"`
	Errors  []string `json:"errors,omitempty"`
	// Skipped is true when another pass held the lock and this call was a
	// no-op.
	Skipped bool `json:"skipped,omitempty"`
}

// Coordinator orchestrates sync passes for a scope: lock handling, per
// calendar fetch, expansion, deduplication and reconciliation, and sync
// metadata updates.
type Coordinator struct {
	db     *store.DB
	remote RemoteCalendars

	lockTimeout   time.Duration
	windowBack    time.Duration
	windowForward time.Duration

	now func() time.Time
}

// CoordinatorOptions configures a Coordinator. Zero durations mean defaults.
type CoordinatorOptions struct {
	DB            *store.DB
	Remote        RemoteCalendars
	LockTimeout   time.Duration
	WindowBack    time.Duration
	WindowForward time.Duration
}

func NewCoordinator(opts CoordinatorOptions) *Coordinator {
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = LockTimeout
	}
	if opts.WindowBack <= 0 {
		opts.WindowBack = 90 * 24 * time.Hour
	}
	if opts.WindowForward <= 0 {
		opts.WindowForward = 365 * 24 * time.Hour
	}
	return &Coordinator{
		db:            opts.DB,
		remote:        opts.Remote,
		lockTimeout:   opts.LockTimeout,
		windowBack:    opts.WindowBack,
		windowForward: opts.WindowForward,
		now:           time.Now,
	}
}

// RunSync performs one sync pass over all enabled calendars, sequentially.
// A pass while another holds a fresh lock returns a zero result with
// Skipped set; a stale lock is reclaimed with a warning. The lock is
// released on every exit path.
func (c *Coordinator) RunSync(ctx context.Context, scopeID string, forceFullSync bool) (SyncResult, error) {
	var result SyncResult

	scope, err := c.db.EnsureScope(scopeID)
	if err != nil {
		return result, fmt.Errorf("ensure scope: %w", err)
	}

	now := c.now()
	stale := scope.Status == store.ScopeSyncing &&
		!scope.LockAcquiredAt.IsZero() &&
		now.Sub(scope.LockAcquiredAt) >= c.lockTimeout

	acquired, err := c.db.TryAcquireLock(scopeID, now, c.lockTimeout)
	if err != nil {
		return result, fmt.Errorf("acquire sync lock: %w", err)
	}
	if !acquired {
		slog.Debug("sync already running, skipping", "scope", scopeID)
		result.Skipped = true
		return result, nil
	}
	if stale {
		slog.Warn("reclaimed stale sync lock",
			"scope", scopeID, "held_since", scope.LockAcquiredAt)
		_ = c.db.AddLogEntry(scopeID, "lock_reclaimed", "", map[string]any{
			"held_since": scope.LockAcquiredAt,
		})
	}

	// Guaranteed-release contract: every exit path resets the scope out of
	// syncing, recording the first error when the pass failed outright.
	var passErr error
	defer func() {
		lastError := ""
		if passErr != nil {
			lastError = passErr.Error()
		} else if len(result.Errors) > 0 {
			lastError = result.Errors[0]
		}
		if err := c.db.ReleaseLock(scopeID, c.now(), lastError); err != nil {
			slog.Error("release sync lock", "scope", scopeID, "error", err)
		}
	}()

	result, passErr = c.runPass(ctx, scope, forceFullSync)
	if passErr != nil {
		_, _ = c.db.IncrementScopeFailures(scopeID)
		return result, passErr
	}

	if len(result.Errors) > 0 {
		if _, err := c.db.IncrementScopeFailures(scopeID); err != nil {
			slog.Error("record scope failure", "scope", scopeID, "error", err)
		}
	} else if err := c.db.ResetScopeFailures(scopeID); err != nil {
		slog.Error("reset scope failures", "scope", scopeID, "error", err)
	}

	return result, nil
}

func (c *Coordinator) runPass(ctx context.Context, scope *store.SyncScope, forceFullSync bool) (SyncResult, error) {
	var result SyncResult
	scopeID := scope.ID

	if err := c.refreshCalendars(ctx); err != nil {
		// Stored descriptors still define a usable fetch scope.
		slog.Warn("refresh calendar list", "error", err)
		result.Errors = append(result.Errors, fmt.Sprintf("refresh calendars: %v", err))
	}

	calendars, err := c.db.ListEnabledCalendars()
	if err != nil {
		return result, fmt.Errorf("list enabled calendars: %w", err)
	}
	if len(calendars) == 0 {
		return result, nil
	}

	tokens := decodeTokens(scope.SyncToken)
	if forceFullSync {
		tokens = map[string]string{}
	}

	windowStart := c.now().Add(-c.windowBack)
	windowEnd := c.now().Add(c.windowForward)

	// Fetch and expand all calendars first so deduplication sees the
	// combined candidate set. Calendars are processed strictly in the
	// stored enumeration order (primary first), which makes the
	// first-seen-wins dedup rule deterministic.
	type fetched struct {
		calendar store.Calendar
		events   []gcal.RawEvent
		token    string
		full     bool
	}
	var batches []fetched
	allFull := true

	for _, cal := range calendars {
		cs, err := c.remote.FetchChanges(ctx, cal.ID, tokens[cal.ID])
		if err != nil {
			// One calendar's failure never aborts the pass.
			result.Errors = append(result.Errors, fmt.Sprintf("fetch %s: %v", cal.ID, err))
			_ = c.db.AddLogEntry(scopeID, "error", cal.ID, map[string]any{
				"action": "fetch", "error": err.Error(),
			})
			allFull = false
			continue
		}
		batches = append(batches, fetched{
			calendar: cal,
			events:   ExpandAll(cs.Events, windowStart, windowEnd),
			token:    cs.NextSyncToken,
			full:     cs.FullSync,
		})
		if !cs.FullSync {
			allFull = false
		}
	}

	// Cross-calendar dedup: one shared seen-set, walked in calendar order.
	seen := make(map[string]bool)
	for i := range batches {
		kept := batches[i].events[:0]
		for _, e := range batches[i].events {
			if !e.Cancelled {
				key := DedupKey(e)
				if seen[key] {
					continue
				}
				seen[key] = true
			}
			kept = append(kept, e)
		}
		batches[i].events = kept
	}

	rec := NewReconciler(c.db, scopeID)
	for _, b := range batches {
		added, updated, removed, errs := rec.Reconcile(b.calendar.ID, b.events, b.full)
		result.Added += added
		result.Updated += updated
		result.Removed += removed
		result.Errors = append(result.Errors, errs...)

		// Advance the token only past calendars that succeeded.
		if len(errs) == 0 && b.token != "" {
			tokens[b.calendar.ID] = b.token
		}
		if err := c.db.TouchCalendarSynced(b.calendar.ID, c.now()); err != nil {
			slog.Error("touch calendar", "calendar", b.calendar.ID, "error", err)
		}

		_ = c.db.AddLogEntry(scopeID, "reconcile", b.calendar.ID, map[string]any{
			"added": added, "updated": updated, "removed": removed, "errors": len(errs),
		})
	}

	if err := c.db.UpdateSyncToken(scopeID, encodeTokens(tokens)); err != nil {
		return result, fmt.Errorf("persist sync token: %w", err)
	}

	if allFull && len(result.Errors) == 0 && len(batches) == len(calendars) {
		if err := c.db.MarkFullSyncCompleted(scopeID, c.now()); err != nil {
			slog.Error("mark full sync", "scope", scopeID, "error", err)
		}
	}

	return result, nil
}

func (c *Coordinator) refreshCalendars(ctx context.Context) error {
	infos, err := c.remote.ListCalendars(ctx)
	if err != nil {
		return err
	}
	for _, info := range infos {
		if err := c.db.UpsertCalendar(store.Calendar{
			ID:      info.ID,
			Name:    info.Name,
			Primary: info.Primary,
			Enabled: info.Enabled,
		}); err != nil {
			return err
		}
	}
	return nil
}

// The scope's sync token aggregates one remote token per calendar, encoded
// as a JSON object. An absent entry forces a full fetch for that calendar.
func decodeTokens(s string) map[string]string {
	tokens := map[string]string{}
	if s == "" {
		return tokens
	}
	if err := json.Unmarshal([]byte(s), &tokens); err != nil {
		slog.Warn("invalid sync token state, forcing full sync", "error", err)
		return map[string]string{}
	}
	return tokens
}

func encodeTokens(tokens map[string]string) string {
	if len(tokens) == 0 {
		return ""
	}
	b, err := json.Marshal(tokens)
	if err != nil {
		return ""
	}
	return string(b)
}
