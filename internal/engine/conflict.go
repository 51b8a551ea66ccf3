package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/haldane-io/calsync/internal/store"
)

// Strategy defines how a local/remote divergence is resolved.
type Strategy string

const (
	// StrategyLocalWins re-pushes the local snapshot over the remote copy.
	StrategyLocalWins Strategy = "local-wins"
	// StrategyRemoteWins overwrites the local copy with the remote snapshot.
	StrategyRemoteWins Strategy = "remote-wins"
	// StrategyMergeByRecency takes the more recently updated snapshot as the
	// base, layers the other's fields on top, and pushes the merge.
	StrategyMergeByRecency Strategy = "merge-by-recency"
)

// ParseStrategy parses a conflict strategy string.
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "local-wins", "local_wins", "localwins", "local":
		return StrategyLocalWins, nil
	case "remote-wins", "remote_wins", "remotewins", "remote":
		return StrategyRemoteWins, nil
	case "merge-by-recency", "merge_by_recency", "merge", "recency", "":
		return StrategyMergeByRecency, nil
	default:
		return "", fmt.Errorf("unknown conflict strategy: %s (valid: local-wins, remote-wins, merge-by-recency)", s)
	}
}

// Resolver applies conflict resolutions and persists the outcome.
type Resolver struct {
	db    *store.DB
	queue *Queue
}

func NewResolver(db *store.DB, queue *Queue) *Resolver {
	return &Resolver{db: db, queue: queue}
}

// Resolve applies the strategy to an unresolved conflict. The blocked
// queue entry is marked with the chosen resolution so it is not retried;
// strategies that still need a push enqueue a fresh mutation instead.
func (r *Resolver) Resolve(ctx context.Context, conflictID int64, strategy Strategy) error {
	c, err := r.db.GetConflict(conflictID)
	if err != nil {
		return err
	}
	if c == nil {
		return fmt.Errorf("conflict not found: %d", conflictID)
	}
	if !c.ResolvedAt.IsZero() {
		return fmt.Errorf("conflict already resolved: %d", conflictID)
	}

	var local, remote store.Event
	if err := json.Unmarshal(c.LocalSnapshot, &local); err != nil {
		return fmt.Errorf("decode local snapshot: %w", err)
	}
	if len(c.RemoteSnapshot) > 0 {
		if err := json.Unmarshal(c.RemoteSnapshot, &remote); err != nil {
			return fmt.Errorf("decode remote snapshot: %w", err)
		}
	}

	switch strategy {
	case StrategyLocalWins:
		err = r.resolveLocalWins(c, local, remote)
	case StrategyRemoteWins:
		err = r.resolveRemoteWins(c, local, remote)
	case StrategyMergeByRecency:
		err = r.resolveMerge(c, local, remote)
	default:
		return fmt.Errorf("unknown conflict strategy: %s", strategy)
	}
	if err != nil {
		return err
	}

	if err := r.db.MarkConflictResolved(c.ID, string(strategy), time.Now()); err != nil {
		return err
	}
	return r.markBlockedMutations(c, strategy)
}

// resolveLocalWins re-enqueues the local snapshot as an update. The push
// adopts the remote's current etag so it overwrites rather than mismatching
// again.
func (r *Resolver) resolveLocalWins(c *store.Conflict, local, remote store.Event) error {
	if remote.Etag != "" {
		local.Etag = remote.Etag
	}
	if local.RemoteID == "" {
		local.RemoteID = remote.RemoteID
	}

	_, err := r.queue.Enqueue(local.ID, store.OpUpdate, local)
	return err
}

// resolveRemoteWins overwrites the local store copy with the remote
// snapshot. An empty or cancelled remote snapshot means the entity is gone
// remotely, so the local copy is deleted.
func (r *Resolver) resolveRemoteWins(c *store.Conflict, local, remote store.Event) error {
	id, err := strconv.ParseInt(c.EntityID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid entity id %q: %w", c.EntityID, err)
	}

	if remote.RemoteID == "" && remote.Title == "" {
		return r.db.DeleteEvent(id)
	}

	remote.ID = id
	if remote.CalendarID == "" {
		remote.CalendarID = local.CalendarID
	}
	remote.SyncStatus = store.StatusSynced
	if remote.UpdatedAt.IsZero() {
		remote.UpdatedAt = time.Now()
	}
	return r.db.UpdateEvent(&remote)
}

// resolveMerge merges by recency and both stores and re-enqueues the result.
func (r *Resolver) resolveMerge(c *store.Conflict, local, remote store.Event) error {
	id, err := strconv.ParseInt(c.EntityID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid entity id %q: %w", c.EntityID, err)
	}

	merged := MergeByRecency(local, remote)
	merged.ID = id
	merged.SyncStatus = store.StatusPending
	if remote.Etag != "" {
		merged.Etag = remote.Etag
	}

	if err := r.db.UpdateEvent(&merged); err != nil {
		return err
	}

	_, err = r.queue.Enqueue(id, store.OpUpdate, merged)
	return err
}

// markBlockedMutations stamps the entity's pending queue entries with the
// resolution so the next drain does not retry them.
func (r *Resolver) markBlockedMutations(c *store.Conflict, strategy Strategy) error {
	resolution := store.ResolutionLocalWins
	if strategy == StrategyRemoteWins {
		resolution = store.ResolutionRemoteWins
	}

	pending, err := r.db.ListPendingMutations()
	if err != nil {
		return err
	}
	for _, m := range pending {
		if m.EntityType != c.EntityType || m.EntityID != c.EntityID {
			continue
		}
		if m.EnqueuedAt.After(c.DetectedAt) {
			continue // re-enqueued by the resolution itself
		}
		if err := r.db.SetMutationResolution(m.ID, resolution); err != nil {
			return err
		}
	}
	return nil
}

// MergeByRecency picks whichever snapshot was updated later as the base and
// fills its empty fields from the other. Field-level semantic merging is
// out of scope; this is last-writer-wins with gap filling.
func MergeByRecency(local, remote store.Event) store.Event {
	base, other := local, remote
	if remote.UpdatedAt.After(local.UpdatedAt) {
		base, other = remote, local
	}

	if base.Title == "" {
		base.Title = other.Title
	}
	if base.Start.IsZero() {
		base.Start = other.Start
	}
	if base.End.IsZero() {
		base.End = other.End
	}
	if base.CalendarID == "" {
		base.CalendarID = other.CalendarID
	}
	if base.RemoteID == "" {
		base.RemoteID = other.RemoteID
	}
	return base
}
