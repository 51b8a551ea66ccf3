package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/haldane-io/calsync/internal/gcal"
	"github.com/haldane-io/calsync/internal/store"
)

// RemoteEvents is the push surface the queue consumes.
type RemoteEvents interface {
	CreateEvent(ctx context.Context, calendarID string, e gcal.RawEvent) (gcal.RawEvent, error)
	UpdateEvent(ctx context.Context, calendarID, eventID, etag string, e gcal.RawEvent) (gcal.RawEvent, error)
	DeleteEvent(ctx context.Context, calendarID, eventID, etag string) error
}

// DrainResult reports one drain of the outbound queue.
type DrainResult struct {
	Synced    int `json:"synced"`
	Conflicts int `json:"conflicts"`
	Errors    int `json:"errors"`
	Skipped   int `json:"skipped"`
}

// Queue pushes locally recorded mutations to the remote service with
// bounded retries and conflict flagging.
type Queue struct {
	db         *store.DB
	remote     RemoteEvents
	maxRetries int
}

func NewQueue(db *store.DB, remote RemoteEvents, maxRetries int) *Queue {
	if maxRetries <= 0 {
		maxRetries = 5
	}
	return &Queue{db: db, remote: remote, maxRetries: maxRetries}
}

// Enqueue records a local mutation for eventual push. The payload is a
// snapshot of the event at mutation time.
func (q *Queue) Enqueue(entityID int64, op store.MutationOp, snapshot store.Event) (int64, error) {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return 0, fmt.Errorf("encode mutation payload: %w", err)
	}
	return q.db.EnqueueMutation(EntityEvent, strconv.FormatInt(entityID, 10), op, payload)
}

// Drain walks pending queue entries in enqueue order and attempts each
// push. Entries are isolated: one entry's conflict or failure never blocks
// or delays the rest. An entity with an unresolved conflict is skipped
// until resolved.
func (q *Queue) Drain(ctx context.Context) (DrainResult, error) {
	var result DrainResult

	pending, err := q.db.ListPendingMutations()
	if err != nil {
		return result, fmt.Errorf("list pending mutations: %w", err)
	}

	for _, m := range pending {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}

		blocked, err := q.db.HasUnresolvedConflict(m.EntityType, m.EntityID)
		if err != nil {
			result.Errors++
			continue
		}
		if blocked {
			result.Skipped++
			continue
		}
		if m.RetryCount >= q.maxRetries {
			result.Skipped++
			continue
		}

		switch err := q.push(ctx, m); {
		case err == nil:
			if markErr := q.db.MarkMutationSynced(m.ID); markErr != nil {
				slog.Error("mark mutation synced", "mutation", m.ID, "error", markErr)
			}
			result.Synced++

		case isVersionConflict(err):
			vm, _ := gcal.IsVersionMismatch(err)
			if flagErr := q.flagConflict(m, vm); flagErr != nil {
				slog.Error("record conflict", "mutation", m.ID, "error", flagErr)
				result.Errors++
				continue
			}
			result.Conflicts++

		default:
			if bumpErr := q.db.BumpMutationRetry(m.ID, err.Error()); bumpErr != nil {
				slog.Error("bump mutation retry", "mutation", m.ID, "error", bumpErr)
			}
			result.Errors++
		}
	}

	return result, nil
}

func (q *Queue) push(ctx context.Context, m store.OutboundMutation) error {
	var snapshot store.Event
	if err := json.Unmarshal(m.Payload, &snapshot); err != nil {
		return fmt.Errorf("decode mutation payload: %w", err)
	}

	raw := rawFromEvent(snapshot)

	switch m.Op {
	case store.OpCreate:
		created, err := q.remote.CreateEvent(ctx, snapshot.CalendarID, raw)
		if err != nil {
			return err
		}
		return q.adoptRemoteIdentity(snapshot.ID, created)

	case store.OpUpdate:
		if snapshot.RemoteID == "" {
			return fmt.Errorf("update without remote id for event %d", snapshot.ID)
		}
		updated, err := q.remote.UpdateEvent(ctx, snapshot.CalendarID, snapshot.RemoteID, snapshot.Etag, raw)
		if err != nil {
			return err
		}
		return q.adoptRemoteIdentity(snapshot.ID, updated)

	case store.OpDelete:
		if snapshot.RemoteID == "" {
			return nil // never pushed; nothing to delete remotely
		}
		return q.remote.DeleteEvent(ctx, snapshot.CalendarID, snapshot.RemoteID, snapshot.Etag)

	default:
		return fmt.Errorf("unknown mutation op: %s", m.Op)
	}
}

// adoptRemoteIdentity writes the remote-assigned id and etag back onto the
// stored event after a successful push. The event may have been deleted
// locally in the meantime; that is not an error.
func (q *Queue) adoptRemoteIdentity(eventID int64, remote gcal.RawEvent) error {
	ev, err := q.db.GetEvent(eventID)
	if err != nil || ev == nil {
		return err
	}

	ev.RemoteID = remote.ID
	ev.Etag = remote.Etag
	ev.SyncStatus = store.StatusSynced
	ev.UpdatedAt = time.Now()
	return q.db.UpdateEvent(ev)
}

// flagConflict records a version-mismatch push as a Conflict entity. The
// queue entry stays pending until a human or policy resolves it.
func (q *Queue) flagConflict(m store.OutboundMutation, vm *gcal.VersionMismatchError) error {
	var remoteSnapshot json.RawMessage
	if vm != nil && vm.Remote != nil {
		b, err := json.Marshal(vm.Remote)
		if err == nil {
			remoteSnapshot = b
		}
	}

	_, err := q.db.CreateConflict(m.EntityType, m.EntityID, m.Payload, remoteSnapshot)
	if err != nil {
		return err
	}

	_ = q.db.AddLogEntry("", "conflict", m.EntityID, map[string]any{
		"op": string(m.Op),
	})
	return nil
}

func isVersionConflict(err error) bool {
	_, ok := gcal.IsVersionMismatch(err)
	return ok
}

// rawFromEvent converts a stored event snapshot to the push shape.
func rawFromEvent(e store.Event) gcal.RawEvent {
	return gcal.RawEvent{
		ID:      e.RemoteID,
		Etag:    e.Etag,
		Title:   e.Title,
		Start:   e.Start,
		End:     e.End,
		AllDay:  e.AllDay,
		Updated: e.UpdatedAt,
	}
}
