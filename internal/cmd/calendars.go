package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/haldane-io/calsync/internal/outfmt"
	"github.com/haldane-io/calsync/internal/store"
)

// CalendarsCmd manages which calendars a sync pass covers.
type CalendarsCmd struct {
	List    CalendarsListCmd    `cmd:"" help:"List known calendars"`
	Enable  CalendarsEnableCmd  `cmd:"" help:"Include a calendar in sync"`
	Disable CalendarsDisableCmd `cmd:"" help:"Exclude a calendar from sync"`
}

// CalendarsListCmd lists calendars from the local store, optionally
// refreshing the membership list from the remote service first.
type CalendarsListCmd struct {
	Refresh bool `help:"Fetch the calendar list from the remote service before listing"`
}

func (c *CalendarsListCmd) Run(ctx context.Context, flags *RootFlags) error {
	var (
		db  *store.DB
		err error
	)
	if c.Refresh {
		env, envErr := openSyncEnv(ctx, flags)
		if envErr != nil {
			return envErr
		}
		defer env.Close()
		db = env.DB

		remote, listErr := env.Client.ListCalendars(ctx)
		if listErr != nil {
			return fmt.Errorf("list remote calendars: %w", listErr)
		}
		for _, rc := range remote {
			if upErr := db.UpsertCalendar(store.Calendar{
				ID:      rc.ID,
				Name:    rc.Name,
				Primary: rc.Primary,
				Enabled: rc.Enabled,
			}); upErr != nil {
				return fmt.Errorf("store calendar %s: %w", rc.ID, upErr)
			}
		}
	} else {
		db, err = openStoreEnv()
		if err != nil {
			return err
		}
		defer db.Close()
	}

	calendars, err := db.ListCalendars()
	if err != nil {
		return fmt.Errorf("list calendars: %w", err)
	}

	if outfmt.IsJSON(ctx) {
		return outfmt.WriteJSON(ctx, os.Stdout, map[string]any{
			"calendars": calendars,
			"count":     len(calendars),
		})
	}

	if len(calendars) == 0 {
		fmt.Fprintln(os.Stderr, "No calendars known yet; run 'calsync calendars list --refresh' or 'calsync sync run'")
		return nil
	}

	w, flush := tableWriter()
	defer flush()
	fmt.Fprintln(w, "ID\tNAME\tPRIMARY\tENABLED\tLAST SYNCED")
	for _, cal := range calendars {
		fmt.Fprintf(w, "%s\t%s\t%t\t%t\t%s\n",
			cal.ID, cal.Name, cal.Primary, cal.Enabled, formatTime(cal.LastSyncedAt))
	}
	return nil
}

// CalendarsEnableCmd includes a calendar in the next sync pass.
type CalendarsEnableCmd struct {
	ID string `arg:"" help:"Calendar ID"`
}

func (c *CalendarsEnableCmd) Run(ctx context.Context, flags *RootFlags) error {
	return setEnabled(ctx, c.ID, true, false)
}

// CalendarsDisableCmd removes a calendar from sync. Its stored events are
// purged unless --keep-events is given.
type CalendarsDisableCmd struct {
	ID         string `arg:"" help:"Calendar ID"`
	KeepEvents bool   `name:"keep-events" help:"Keep stored events instead of purging them"`
}

func (c *CalendarsDisableCmd) Run(ctx context.Context, flags *RootFlags) error {
	return setEnabled(ctx, c.ID, false, !c.KeepEvents)
}

func setEnabled(ctx context.Context, id string, enabled, purge bool) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return usage("empty calendar ID")
	}

	db, err := openStoreEnv()
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.SetCalendarEnabled(id, enabled); err != nil {
		return err
	}

	purged := 0
	if purge {
		events, err := db.ListEventsByCalendar(id)
		if err != nil {
			return fmt.Errorf("list events for %s: %w", id, err)
		}
		ids := make([]int64, 0, len(events))
		for _, e := range events {
			ids = append(ids, e.ID)
		}
		purged, err = db.BulkDeleteEvents(ids)
		if err != nil {
			return fmt.Errorf("purge events for %s: %w", id, err)
		}
	}

	if outfmt.IsJSON(ctx) {
		return outfmt.WriteJSON(ctx, os.Stdout, map[string]any{
			"calendar": id,
			"enabled":  enabled,
			"purged":   purged,
		})
	}
	if enabled {
		fmt.Printf("enabled\t%s\n", id)
	} else {
		fmt.Printf("disabled\t%s\n", id)
		if purged > 0 {
			fmt.Printf("purged\t%d events\n", purged)
		}
	}
	return nil
}
