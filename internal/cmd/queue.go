package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/haldane-io/calsync/internal/outfmt"
)

// QueueCmd inspects and drains the outbound mutation queue.
type QueueCmd struct {
	List  QueueListCmd  `cmd:"" help:"List pending outbound mutations"`
	Drain QueueDrainCmd `cmd:"" help:"Push pending mutations to the remote service"`
}

type QueueListCmd struct{}

func (c *QueueListCmd) Run(ctx context.Context, flags *RootFlags) error {
	db, err := openStoreEnv()
	if err != nil {
		return err
	}
	defer db.Close()

	pending, err := db.ListPendingMutations()
	if err != nil {
		return fmt.Errorf("list mutations: %w", err)
	}

	if outfmt.IsJSON(ctx) {
		return outfmt.WriteJSON(ctx, os.Stdout, map[string]any{
			"mutations": pending,
			"count":     len(pending),
		})
	}

	if len(pending) == 0 {
		fmt.Fprintln(os.Stderr, "Queue is empty")
		return nil
	}
	w, flush := tableWriter()
	defer flush()
	fmt.Fprintln(w, "ID\tOP\tENTITY\tENQUEUED\tRETRIES\tLAST ERROR")
	for _, m := range pending {
		lastErr := m.LastError
		if lastErr == "" {
			lastErr = "-"
		}
		fmt.Fprintf(w, "%d\t%s\t%s %s\t%s\t%d\t%s\n",
			m.ID, m.Op, m.EntityType, m.EntityID, formatTime(m.EnqueuedAt), m.RetryCount, lastErr)
	}
	return nil
}

type QueueDrainCmd struct{}

func (c *QueueDrainCmd) Run(ctx context.Context, flags *RootFlags) error {
	env, err := openSyncEnv(ctx, flags)
	if err != nil {
		return err
	}
	defer env.Close()

	result, err := env.Queue.Drain(ctx)
	if err != nil {
		return fmt.Errorf("drain queue: %w", err)
	}

	if outfmt.IsJSON(ctx) {
		return outfmt.WriteJSON(ctx, os.Stdout, result)
	}
	fmt.Printf("pushed\t%d\n", result.Synced)
	fmt.Printf("conflicts\t%d\n", result.Conflicts)
	fmt.Printf("errors\t%d\n", result.Errors)
	fmt.Printf("skipped\t%d\n", result.Skipped)
	return nil
}
