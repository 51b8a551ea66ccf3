package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/haldane-io/calsync/internal/engine"
	"github.com/haldane-io/calsync/internal/outfmt"
)

// SyncCmd is the top-level command for sync operations.
type SyncCmd struct {
	Run    SyncRunCmd    `cmd:"" help:"Run one sync pass now"`
	Status SyncStatusCmd `cmd:"" help:"Show sync state for the account"`
	Daemon SyncDaemonCmd `cmd:"" help:"Run periodic sync in the foreground"`
	Reset  SyncResetCmd  `cmd:"" help:"Drop the sync token so the next pass refetches the full window"`
}

// SyncRunCmd runs a single sync pass followed by a queue drain.
type SyncRunCmd struct {
	Full bool `help:"Force a full window fetch instead of incremental"`
}

func (c *SyncRunCmd) Run(ctx context.Context, flags *RootFlags) error {
	env, err := openSyncEnv(ctx, flags)
	if err != nil {
		return err
	}
	defer env.Close()

	result, err := env.Coordinator.RunSync(ctx, env.Account, c.Full)
	if err != nil {
		return fmt.Errorf("sync: %w", err)
	}

	var drain engine.DrainResult
	if !result.Skipped {
		drain, err = env.Queue.Drain(ctx)
		if err != nil {
			return fmt.Errorf("drain queue: %w", err)
		}
	}

	if outfmt.IsJSON(ctx) {
		return outfmt.WriteJSON(ctx, os.Stdout, map[string]any{
			"sync":  result,
			"queue": drain,
		})
	}

	if result.Skipped {
		fmt.Println("skipped: another sync pass is running")
		return nil
	}
	fmt.Printf("added\t%d\n", result.Added)
	fmt.Printf("updated\t%d\n", result.Updated)
	fmt.Printf("removed\t%d\n", result.Removed)
	fmt.Printf("pushed\t%d\n", drain.Synced)
	if drain.Conflicts > 0 {
		fmt.Printf("conflicts\t%d\t(run 'calsync conflicts list')\n", drain.Conflicts)
	}
	for _, e := range result.Errors {
		fmt.Fprintf(os.Stderr, "warning: %s\n", e)
	}
	return nil
}

// SyncStatusCmd reports local sync state without touching the network.
type SyncStatusCmd struct{}

func (c *SyncStatusCmd) Run(ctx context.Context, flags *RootFlags) error {
	account, err := resolveAccount(flags)
	if err != nil {
		return err
	}
	db, err := openStoreEnv()
	if err != nil {
		return err
	}
	defer db.Close()

	scope, err := db.GetScope(account)
	if err != nil {
		return fmt.Errorf("read sync scope: %w", err)
	}
	calendars, err := db.ListCalendars()
	if err != nil {
		return fmt.Errorf("list calendars: %w", err)
	}

	if outfmt.IsJSON(ctx) {
		return outfmt.WriteJSON(ctx, os.Stdout, map[string]any{
			"account":   account,
			"scope":     scope,
			"calendars": calendars,
		})
	}

	fmt.Printf("account\t%s\n", account)
	if scope == nil {
		fmt.Println("status\tnever synced")
		return nil
	}
	fmt.Printf("status\t%s\n", scope.Status)
	fmt.Printf("last_sync\t%s\n", formatTime(scope.LastSyncAt))
	fmt.Printf("full_sync\t%s\n", formatTime(scope.FullSyncCompletedAt))
	if scope.LastError != "" {
		fmt.Printf("last_error\t%s\n", scope.LastError)
	}
	if scope.ConsecutiveFailures > 0 {
		fmt.Printf("consecutive_failures\t%d\n", scope.ConsecutiveFailures)
	}

	if len(calendars) > 0 {
		fmt.Println()
		w, flush := tableWriter()
		defer flush()
		fmt.Fprintln(w, "CALENDAR\tNAME\tENABLED\tLAST SYNCED")
		for _, cal := range calendars {
			fmt.Fprintf(w, "%s\t%s\t%t\t%s\n", cal.ID, cal.Name, cal.Enabled, formatTime(cal.LastSyncedAt))
		}
	}
	return nil
}

// SyncDaemonCmd runs the scheduler in the foreground until interrupted.
type SyncDaemonCmd struct {
	Now bool `help:"Trigger a sync pass immediately on startup"`
}

func (c *SyncDaemonCmd) Run(ctx context.Context, flags *RootFlags) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	env, err := openSyncEnv(ctx, flags)
	if err != nil {
		return err
	}
	defer env.Close()

	sched := engine.NewScheduler(engine.SchedulerOptions{
		Coordinator: env.Coordinator,
		Queue:       env.Queue,
		ScopeID:     env.Account,
		Interval:    env.Settings.SyncInterval,
	})
	if c.Now {
		sched.TriggerNow()
	}

	err = sched.Start(ctx)
	if err == context.Canceled {
		return nil
	}
	return err
}

// SyncResetCmd clears the stored sync token. The next pass fetches the
// whole configured window again, which also heals a drifted local store.
type SyncResetCmd struct{}

func (c *SyncResetCmd) Run(ctx context.Context, flags *RootFlags) error {
	account, err := resolveAccount(flags)
	if err != nil {
		return err
	}
	db, err := openStoreEnv()
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.ClearSyncToken(account); err != nil {
		return fmt.Errorf("clear sync token: %w", err)
	}
	if outfmt.IsJSON(ctx) {
		return outfmt.WriteJSON(ctx, os.Stdout, map[string]any{"reset": true, "account": account})
	}
	fmt.Println("sync token cleared; next sync will refetch the full window")
	return nil
}
