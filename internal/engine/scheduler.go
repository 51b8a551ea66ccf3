package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler drives periodic sync passes plus queue drains, and accepts
// on-demand triggers through the same RunSync entry point. Automatic runs
// honor the scope's consecutive-failure circuit breaker; triggered runs
// always proceed (and a success resets the breaker).
type Scheduler struct {
	coordinator *Coordinator
	queue       *Queue
	scopeID     string
	interval    time.Duration
	maxFailures int

	cron     *cron.Cron
	trigger  chan struct{}
	autoTick chan struct{}
}

// SchedulerOptions configures a Scheduler. Zero values mean defaults
// (5 minute interval, breaker after 3 consecutive failures).
type SchedulerOptions struct {
	Coordinator *Coordinator
	Queue       *Queue
	ScopeID     string
	Interval    time.Duration
	MaxFailures int
}

func NewScheduler(opts SchedulerOptions) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Minute
	}
	if opts.MaxFailures <= 0 {
		opts.MaxFailures = 3
	}
	return &Scheduler{
		coordinator: opts.Coordinator,
		queue:       opts.Queue,
		scopeID:     opts.ScopeID,
		interval:    opts.Interval,
		maxFailures: opts.MaxFailures,
		cron:        cron.New(),
		trigger:     make(chan struct{}, 1),
		autoTick:    make(chan struct{}, 1),
	}
}

// TriggerNow requests an on-demand sync pass. Non-blocking; a trigger
// while one is already queued is folded into it.
func (s *Scheduler) TriggerNow() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Start runs the schedule loop. Blocks until the context is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	spec := fmt.Sprintf("@every %s", s.interval)
	_, err := s.cron.AddFunc(spec, func() {
		select {
		case s.autoTick <- struct{}{}:
		default:
		}
	})
	if err != nil {
		return fmt.Errorf("add sync schedule: %w", err)
	}

	s.cron.Start()
	defer func() {
		stopCtx := s.cron.Stop()
		<-stopCtx.Done()
	}()

	slog.Info("sync scheduler started", "scope", s.scopeID, "interval", s.interval)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.trigger:
			s.runOnce(ctx, false)
		case <-s.autoTick:
			s.runOnce(ctx, true)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, auto bool) {
	if auto {
		scope, err := s.coordinator.db.GetScope(s.scopeID)
		if err != nil {
			slog.Error("read scope for scheduled sync", "error", err)
			return
		}
		if scope != nil && scope.ConsecutiveFailures >= s.maxFailures {
			slog.Warn("automatic sync disabled after consecutive failures; run a manual sync to re-enable",
				"scope", s.scopeID, "failures", scope.ConsecutiveFailures)
			return
		}
	}

	result, err := s.coordinator.RunSync(ctx, s.scopeID, false)
	if err != nil {
		slog.Error("sync pass failed", "scope", s.scopeID, "error", err)
		return
	}
	if result.Skipped {
		return
	}
	slog.Info("sync pass complete", "scope", s.scopeID,
		"added", result.Added, "updated", result.Updated, "removed", result.Removed,
		"errors", len(result.Errors))

	if s.queue != nil {
		drain, err := s.queue.Drain(ctx)
		if err != nil {
			slog.Error("queue drain failed", "error", err)
			return
		}
		if drain.Synced+drain.Conflicts+drain.Errors > 0 {
			slog.Info("queue drained",
				"synced", drain.Synced, "conflicts", drain.Conflicts, "errors", drain.Errors)
		}
	}
}
