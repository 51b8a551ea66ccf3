// Package cmd defines the calsync command tree.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/alecthomas/kong"
	"golang.org/x/term"

	"github.com/haldane-io/calsync/internal/config"
	"github.com/haldane-io/calsync/internal/outfmt"
)

// RootFlags are the global flags shared by every command.
type RootFlags struct {
	Account string `help:"Google account email (overrides settings.yaml)" short:"a" default:"${account}"`
	JSON    bool   `help:"Output JSON to stdout" short:"j" default:"${json}"`
	JQ      string `name:"jq" help:"Apply jq expression to JSON output"`
	Verbose bool   `help:"Enable verbose logging" short:"v"`
}

type CLI struct {
	RootFlags `embed:""`

	Version kong.VersionFlag `help:"Print version and exit"`

	Auth      AuthCmd      `cmd:"" help:"Auth and credentials"`
	Sync      SyncCmd      `cmd:"" help:"Run and inspect calendar sync"`
	Calendars CalendarsCmd `cmd:"" aliases:"cal" help:"Manage synced calendars"`
	Events    EventsCmd    `cmd:"" aliases:"event" help:"Inspect and edit stored events"`
	Queue     QueueCmd     `cmd:"" help:"Outbound mutation queue"`
	Conflicts ConflictsCmd `cmd:"" aliases:"conflict" help:"Inspect and resolve sync conflicts"`
	Logs      LogsCmd      `cmd:"" help:"Show the sync audit log"`
}

// Execute parses args and runs the selected command.
func Execute(args []string) error {
	parser, cli, err := newParser()
	if err != nil {
		return err
	}

	kctx, err := parser.Parse(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return err
	}

	logLevel := slog.LevelWarn
	if cli.Verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})))

	// --jq implies JSON output.
	if cli.JQ != "" {
		cli.JSON = true
	}
	mode := outfmt.ModeText
	if cli.JSON {
		mode = outfmt.ModeJSON
	}

	ctx := context.Background()
	ctx = outfmt.WithMode(ctx, mode)
	ctx = outfmt.WithJQ(ctx, cli.JQ)

	kctx.BindTo(ctx, (*context.Context)(nil))
	kctx.Bind(&cli.RootFlags)

	if err := kctx.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return err
	}
	return nil
}

func newParser() (*kong.Kong, *CLI, error) {
	settings, err := config.LoadSettings()
	if err != nil {
		return nil, nil, err
	}

	vars := kong.Vars{
		"account": settings.Account,
		"json":    boolString(!term.IsTerminal(int(os.Stdout.Fd())) && envBool("CALSYNC_AUTO_JSON")),
		"version": versionString(),
	}

	cli := &CLI{}
	parser, err := kong.New(
		cli,
		kong.Name(config.AppName),
		kong.Description("Incremental Google Calendar sync with a local SQLite store"),
		kong.Vars(vars),
		kong.Writers(os.Stdout, os.Stderr),
	)
	if err != nil {
		return nil, nil, err
	}
	return parser, cli, nil
}

func boolString(v bool) string {
	if v {
		return "true"
	}
	return "false"
}

func envBool(name string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(name)))
	return v == "1" || v == "true" || v == "yes"
}

// usage marks an error as a bad-invocation error.
func usage(msg string) error {
	return fmt.Errorf("usage: %s", msg)
}

func usagef(format string, args ...any) error {
	return usage(fmt.Sprintf(format, args...))
}

// resolveAccount picks the account email from the flag or settings.
func resolveAccount(flags *RootFlags) (string, error) {
	account := strings.TrimSpace(flags.Account)
	if account == "" {
		return "", errors.New("no account configured (pass --account or set account in settings.yaml)")
	}
	return account, nil
}
