package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/haldane-io/calsync/internal/engine"
	"github.com/haldane-io/calsync/internal/outfmt"
	"github.com/haldane-io/calsync/internal/store"
)

// EventsCmd inspects the stored events and records local edits. Edits are
// applied to the store immediately and queued for push; `queue drain` or
// the next sync pass sends them to the remote service.
type EventsCmd struct {
	List   EventsListCmd   `cmd:"" help:"List stored events in a time range"`
	Create EventsCreateCmd `cmd:"" help:"Create a local event and queue it for push"`
	Edit   EventsEditCmd   `cmd:"" help:"Edit a stored event and queue the change"`
	Delete EventsDeleteCmd `cmd:"" help:"Delete a stored event and queue the deletion"`
}

// EventsListCmd lists events overlapping [--from, --to). Defaults to the
// next 7 days.
type EventsListCmd struct {
	From     string `help:"Range start (RFC3339 or YYYY-MM-DD)"`
	To       string `help:"Range end (RFC3339 or YYYY-MM-DD)"`
	Calendar string `help:"Limit to one calendar ID"`
}

func (c *EventsListCmd) Run(ctx context.Context, flags *RootFlags) error {
	db, err := openStoreEnv()
	if err != nil {
		return err
	}
	defer db.Close()

	now := time.Now()
	from := now
	to := now.AddDate(0, 0, 7)
	if c.From != "" {
		if from, err = parseUserTime(c.From); err != nil {
			return usagef("bad --from: %v", err)
		}
	}
	if c.To != "" {
		if to, err = parseUserTime(c.To); err != nil {
			return usagef("bad --to: %v", err)
		}
	}

	var events []store.Event
	if c.Calendar != "" {
		events, err = db.ListEventsByCalendar(c.Calendar)
	} else {
		events, err = db.ListEventsInRange(from.UTC(), to.UTC())
	}
	if err != nil {
		return fmt.Errorf("list events: %w", err)
	}

	if outfmt.IsJSON(ctx) {
		return outfmt.WriteJSON(ctx, os.Stdout, map[string]any{
			"events": events,
			"count":  len(events),
		})
	}

	if len(events) == 0 {
		fmt.Fprintln(os.Stderr, "No events in range")
		return nil
	}
	w, flush := tableWriter()
	defer flush()
	fmt.Fprintln(w, "ID\tSTART\tTITLE\tCALENDAR\tSTATUS")
	for _, e := range events {
		start := e.Start.Local().Format("2006-01-02 15:04")
		if e.AllDay {
			start = e.Start.Format("2006-01-02") + " (all day)"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", e.ID, start, e.Title, e.CalendarID, e.SyncStatus)
	}
	return nil
}

// EventsCreateCmd creates an event locally and queues a create mutation.
type EventsCreateCmd struct {
	Title    string `arg:"" help:"Event title"`
	Start    string `required:"" help:"Start (RFC3339, or YYYY-MM-DD for all-day)"`
	End      string `help:"End (defaults to one hour after start, or next day for all-day)"`
	Calendar string `help:"Calendar ID (defaults to the account's primary calendar)"`
}

func (c *EventsCreateCmd) Run(ctx context.Context, flags *RootFlags) error {
	title := strings.TrimSpace(c.Title)
	if title == "" {
		return usage("empty title")
	}

	db, err := openStoreEnv()
	if err != nil {
		return err
	}
	defer db.Close()

	allDay := isDateOnly(c.Start)
	start, err := parseUserTime(c.Start)
	if err != nil {
		return usagef("bad --start: %v", err)
	}
	var end time.Time
	switch {
	case c.End != "":
		if end, err = parseUserTime(c.End); err != nil {
			return usagef("bad --end: %v", err)
		}
	case allDay:
		end = start.AddDate(0, 0, 1)
	default:
		end = start.Add(time.Hour)
	}
	if !end.After(start) {
		return usage("--end must be after --start")
	}

	calendarID := c.Calendar
	if calendarID == "" {
		if calendarID, err = primaryCalendarID(db); err != nil {
			return err
		}
	}

	ev := store.Event{
		CalendarID: calendarID,
		Title:      title,
		Start:      start,
		End:        end,
		AllDay:     allDay,
		SyncStatus: store.StatusPending,
		UpdatedAt:  time.Now(),
	}
	id, err := db.PutEvent(&ev)
	if err != nil {
		return fmt.Errorf("store event: %w", err)
	}
	ev.ID = id

	queue := engine.NewQueue(db, nil, 0)
	if _, err := queue.Enqueue(id, store.OpCreate, ev); err != nil {
		return fmt.Errorf("queue create: %w", err)
	}

	if outfmt.IsJSON(ctx) {
		return outfmt.WriteJSON(ctx, os.Stdout, map[string]any{"event": ev, "queued": true})
	}
	fmt.Printf("created\t%d\t%s\n", id, title)
	return nil
}

// EventsEditCmd changes a stored event's fields and queues an update.
type EventsEditCmd struct {
	ID    int64  `arg:"" help:"Stored event ID"`
	Title string `help:"New title"`
	Start string `help:"New start (RFC3339 or YYYY-MM-DD)"`
	End   string `help:"New end"`
}

func (c *EventsEditCmd) Run(ctx context.Context, flags *RootFlags) error {
	if c.Title == "" && c.Start == "" && c.End == "" {
		return usage("nothing to change (pass --title, --start, or --end)")
	}

	db, err := openStoreEnv()
	if err != nil {
		return err
	}
	defer db.Close()

	ev, err := db.GetEvent(c.ID)
	if err != nil {
		return fmt.Errorf("load event: %w", err)
	}
	if ev == nil {
		return fmt.Errorf("no event with id %d", c.ID)
	}

	if c.Title != "" {
		ev.Title = c.Title
	}
	if c.Start != "" {
		if ev.Start, err = parseUserTime(c.Start); err != nil {
			return usagef("bad --start: %v", err)
		}
		ev.AllDay = isDateOnly(c.Start)
	}
	if c.End != "" {
		if ev.End, err = parseUserTime(c.End); err != nil {
			return usagef("bad --end: %v", err)
		}
	}
	if !ev.End.After(ev.Start) {
		return usage("end must be after start")
	}
	ev.SyncStatus = store.StatusPending
	ev.UpdatedAt = time.Now()

	if err := db.UpdateEvent(ev); err != nil {
		return fmt.Errorf("update event: %w", err)
	}
	queue := engine.NewQueue(db, nil, 0)
	if _, err := queue.Enqueue(ev.ID, store.OpUpdate, *ev); err != nil {
		return fmt.Errorf("queue update: %w", err)
	}

	if outfmt.IsJSON(ctx) {
		return outfmt.WriteJSON(ctx, os.Stdout, map[string]any{"event": ev, "queued": true})
	}
	fmt.Printf("updated\t%d\n", ev.ID)
	return nil
}

// EventsDeleteCmd removes a stored event and queues the remote deletion.
type EventsDeleteCmd struct {
	ID int64 `arg:"" help:"Stored event ID"`
}

func (c *EventsDeleteCmd) Run(ctx context.Context, flags *RootFlags) error {
	db, err := openStoreEnv()
	if err != nil {
		return err
	}
	defer db.Close()

	ev, err := db.GetEvent(c.ID)
	if err != nil {
		return fmt.Errorf("load event: %w", err)
	}
	if ev == nil {
		return fmt.Errorf("no event with id %d", c.ID)
	}

	// Snapshot first: the queue needs the remote identity after the local
	// row is gone.
	queue := engine.NewQueue(db, nil, 0)
	if _, err := queue.Enqueue(ev.ID, store.OpDelete, *ev); err != nil {
		return fmt.Errorf("queue delete: %w", err)
	}
	if err := db.DeleteEvent(ev.ID); err != nil {
		return fmt.Errorf("delete event: %w", err)
	}

	if outfmt.IsJSON(ctx) {
		return outfmt.WriteJSON(ctx, os.Stdout, map[string]any{"deleted": ev.ID, "queued": true})
	}
	fmt.Printf("deleted\t%d\t%s\n", ev.ID, ev.Title)
	return nil
}

func primaryCalendarID(db *store.DB) (string, error) {
	calendars, err := db.ListEnabledCalendars()
	if err != nil {
		return "", fmt.Errorf("list calendars: %w", err)
	}
	for _, cal := range calendars {
		if cal.Primary {
			return cal.ID, nil
		}
	}
	return "", fmt.Errorf("no primary calendar known (run 'calsync sync run' first or pass --calendar)")
}

func isDateOnly(s string) bool {
	_, err := time.ParseInLocation("2006-01-02", strings.TrimSpace(s), time.Local)
	return err == nil
}

func parseUserTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.ParseInLocation("2006-01-02", s, time.Local); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("expected RFC3339 or YYYY-MM-DD, got %q", s)
	}
	return t, nil
}
