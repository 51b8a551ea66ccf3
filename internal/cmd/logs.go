package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/haldane-io/calsync/internal/outfmt"
)

// LogsCmd prints the sync audit log for the account's scope.
type LogsCmd struct {
	Limit int `help:"Maximum entries to show" default:"50"`
}

func (c *LogsCmd) Run(ctx context.Context, flags *RootFlags) error {
	account, err := resolveAccount(flags)
	if err != nil {
		return err
	}
	db, err := openStoreEnv()
	if err != nil {
		return err
	}
	defer db.Close()

	entries, err := db.RecentLogs(account, c.Limit)
	if err != nil {
		return fmt.Errorf("read sync log: %w", err)
	}

	if outfmt.IsJSON(ctx) {
		return outfmt.WriteJSON(ctx, os.Stdout, map[string]any{
			"entries": entries,
			"count":   len(entries),
		})
	}

	if len(entries) == 0 {
		fmt.Fprintln(os.Stderr, "No log entries")
		return nil
	}
	w, flush := tableWriter()
	defer flush()
	fmt.Fprintln(w, "TIME\tACTION\tENTITY\tDETAILS")
	for _, e := range entries {
		details := e.Details
		if details == "" {
			details = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", formatTime(e.Timestamp), e.Action, e.Entity, details)
	}
	return nil
}
