package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/haldane-io/calsync/internal/engine"
	"github.com/haldane-io/calsync/internal/outfmt"
	"github.com/haldane-io/calsync/internal/store"
)

// ConflictsCmd inspects and resolves divergent event versions.
type ConflictsCmd struct {
	List    ConflictsListCmd    `cmd:"" help:"List conflicts"`
	Show    ConflictsShowCmd    `cmd:"" help:"Show both versions of a conflicted event"`
	Resolve ConflictsResolveCmd `cmd:"" help:"Resolve a conflict with a strategy"`
}

type ConflictsListCmd struct {
	All bool `help:"Include already-resolved conflicts"`
}

func (c *ConflictsListCmd) Run(ctx context.Context, flags *RootFlags) error {
	db, err := openStoreEnv()
	if err != nil {
		return err
	}
	defer db.Close()

	conflicts, err := db.ListConflicts(!c.All)
	if err != nil {
		return fmt.Errorf("list conflicts: %w", err)
	}

	if outfmt.IsJSON(ctx) {
		return outfmt.WriteJSON(ctx, os.Stdout, map[string]any{
			"conflicts": conflicts,
			"count":     len(conflicts),
		})
	}

	if len(conflicts) == 0 {
		fmt.Fprintln(os.Stderr, "No conflicts")
		return nil
	}
	w, flush := tableWriter()
	defer flush()
	fmt.Fprintln(w, "ID\tENTITY\tDETECTED\tRESOLVED\tRESOLUTION")
	for _, cf := range conflicts {
		resolution := cf.Resolution
		if resolution == "" {
			resolution = "-"
		}
		fmt.Fprintf(w, "%d\t%s %s\t%s\t%s\t%s\n",
			cf.ID, cf.EntityType, cf.EntityID, formatTime(cf.DetectedAt), formatTime(cf.ResolvedAt), resolution)
	}
	return nil
}

type ConflictsShowCmd struct {
	ID int64 `arg:"" help:"Conflict ID"`
}

func (c *ConflictsShowCmd) Run(ctx context.Context, flags *RootFlags) error {
	db, err := openStoreEnv()
	if err != nil {
		return err
	}
	defer db.Close()

	cf, err := db.GetConflict(c.ID)
	if err != nil {
		return fmt.Errorf("load conflict: %w", err)
	}
	if cf == nil {
		return fmt.Errorf("no conflict with id %d", c.ID)
	}

	if outfmt.IsJSON(ctx) {
		return outfmt.WriteJSON(ctx, os.Stdout, cf)
	}

	fmt.Printf("conflict\t%d\t(%s %s)\n", cf.ID, cf.EntityType, cf.EntityID)
	fmt.Printf("detected\t%s\n", formatTime(cf.DetectedAt))
	fmt.Println()
	fmt.Println("local:")
	printSnapshot(cf.LocalSnapshot)
	fmt.Println("remote:")
	printSnapshot(cf.RemoteSnapshot)
	return nil
}

func printSnapshot(raw json.RawMessage) {
	if len(raw) == 0 {
		fmt.Println("  (deleted)")
		return
	}
	var ev store.Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		fmt.Printf("  %s\n", raw)
		return
	}
	fmt.Printf("  title\t%s\n", ev.Title)
	fmt.Printf("  start\t%s\n", formatTime(ev.Start))
	fmt.Printf("  end\t%s\n", formatTime(ev.End))
	fmt.Printf("  updated\t%s\n", formatTime(ev.UpdatedAt))
}

type ConflictsResolveCmd struct {
	ID       int64  `arg:"" help:"Conflict ID"`
	Strategy string `help:"local-wins | remote-wins | merge-by-recency (defaults to settings)" enum:",local-wins,remote-wins,merge-by-recency,local,remote,merge,recency" default:""`
}

func (c *ConflictsResolveCmd) Run(ctx context.Context, flags *RootFlags) error {
	db, err := openStoreEnv()
	if err != nil {
		return err
	}
	defer db.Close()

	name := c.Strategy
	if name == "" {
		name = defaultStrategy()
	}
	strategy, err := engine.ParseStrategy(name)
	if err != nil {
		return usagef("bad --strategy: %v", err)
	}

	queue := engine.NewQueue(db, nil, 0)
	resolver := engine.NewResolver(db, queue)
	if err := resolver.Resolve(ctx, c.ID, strategy); err != nil {
		return err
	}

	if outfmt.IsJSON(ctx) {
		return outfmt.WriteJSON(ctx, os.Stdout, map[string]any{
			"resolved": c.ID,
			"strategy": strategy,
		})
	}
	fmt.Printf("resolved\t%d\t%s\n", c.ID, strategy)
	return nil
}

func defaultStrategy() string {
	settings, err := loadSettingsQuiet()
	if err != nil {
		return string(engine.StrategyMergeByRecency)
	}
	return settings.ConflictStrategy
}
