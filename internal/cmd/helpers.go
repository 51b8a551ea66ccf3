package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/haldane-io/calsync/internal/config"
	"github.com/haldane-io/calsync/internal/engine"
	"github.com/haldane-io/calsync/internal/gcal"
	"github.com/haldane-io/calsync/internal/store"
)

// syncEnv bundles the store, remote client, and engine components most
// commands need. Close releases the database.
type syncEnv struct {
	Account     string
	Settings    config.Settings
	DB          *store.DB
	Client      *gcal.Client
	Coordinator *engine.Coordinator
	Queue       *engine.Queue
}

func (e *syncEnv) Close() {
	if e.DB != nil {
		_ = e.DB.Close()
	}
}

// openSyncEnv builds the full sync stack. Commands that only read local
// state use openStoreEnv instead and skip the remote client.
func openSyncEnv(ctx context.Context, flags *RootFlags) (*syncEnv, error) {
	account, err := resolveAccount(flags)
	if err != nil {
		return nil, err
	}

	settings, err := config.LoadSettings()
	if err != nil {
		return nil, err
	}

	db, err := store.OpenDefault()
	if err != nil {
		return nil, fmt.Errorf("open sync database: %w", err)
	}

	svc, err := gcal.NewService(ctx, account)
	if err != nil {
		db.Close()
		return nil, err
	}
	client := gcal.NewClient(svc, settings.WindowBack, settings.WindowForward)

	coordinator := engine.NewCoordinator(engine.CoordinatorOptions{
		DB:            db,
		Remote:        client,
		WindowBack:    settings.WindowBack,
		WindowForward: settings.WindowForward,
	})
	queue := engine.NewQueue(db, client, settings.MaxPushRetries)

	return &syncEnv{
		Account:     account,
		Settings:    settings,
		DB:          db,
		Client:      client,
		Coordinator: coordinator,
		Queue:       queue,
	}, nil
}

// openStoreEnv opens only the local store, for commands that never touch
// the network.
func openStoreEnv() (*store.DB, error) {
	db, err := store.OpenDefault()
	if err != nil {
		return nil, fmt.Errorf("open sync database: %w", err)
	}
	return db, nil
}

// loadSettingsQuiet loads settings, falling back to defaults on error.
func loadSettingsQuiet() (config.Settings, error) {
	s, err := config.LoadSettings()
	if err != nil {
		return config.DefaultSettings(), err
	}
	return s, nil
}

func tableWriter() (*tabwriter.Writer, func()) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	return w, func() { _ = w.Flush() }
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.RFC3339)
}
