package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/haldane-io/calsync/internal/config"
	"github.com/haldane-io/calsync/internal/gcal"
	"github.com/haldane-io/calsync/internal/outfmt"
	"github.com/haldane-io/calsync/internal/secrets"
)

// AuthCmd manages OAuth client credentials and per-account tokens.
type AuthCmd struct {
	Credentials AuthCredentialsCmd `cmd:"" help:"Store an OAuth client credentials JSON file"`
	Add         AuthAddCmd         `cmd:"" aliases:"login" help:"Authorize an account and store its refresh token"`
	Remove      AuthRemoveCmd      `cmd:"" aliases:"logout" help:"Remove a stored refresh token"`
	List        AuthListCmd        `cmd:"" help:"List authorized accounts"`
}

// AuthCredentialsCmd imports a Google OAuth client JSON (the file the
// cloud console exports for an installed app).
type AuthCredentialsCmd struct {
	Path string `arg:"" help:"Path to the downloaded credentials JSON"`
}

func (c *AuthCredentialsCmd) Run(ctx context.Context, flags *RootFlags) error {
	b, err := os.ReadFile(c.Path)
	if err != nil {
		return fmt.Errorf("read credentials file: %w", err)
	}
	creds, err := config.ParseGoogleOAuthClientJSON(b)
	if err != nil {
		return err
	}
	if err := config.WriteClientCredentials(creds); err != nil {
		return fmt.Errorf("store credentials: %w", err)
	}

	if outfmt.IsJSON(ctx) {
		return outfmt.WriteJSON(ctx, os.Stdout, map[string]any{"stored": true})
	}
	fmt.Println("credentials stored")
	return nil
}

// AuthAddCmd runs the browser authorization flow for one account.
type AuthAddCmd struct {
	Email string `arg:"" help:"Account email to authorize"`
}

func (c *AuthAddCmd) Run(ctx context.Context, flags *RootFlags) error {
	email := strings.ToLower(strings.TrimSpace(c.Email))
	if email == "" || !strings.Contains(email, "@") {
		return usagef("invalid email: %q", c.Email)
	}

	refreshToken, err := gcal.Authorize(ctx, func(url string) {
		fmt.Fprintf(os.Stderr, "Open this URL in your browser to authorize %s:\n\n  %s\n\n", email, url)
	})
	if err != nil {
		return err
	}

	ks, err := secrets.OpenDefault()
	if err != nil {
		return err
	}
	if err := ks.SetToken(email, secrets.StoredToken{
		RefreshToken: refreshToken,
		Scopes:       gcal.Scopes(),
	}); err != nil {
		return fmt.Errorf("store token: %w", err)
	}

	// First authorized account becomes the default.
	settings, err := config.LoadSettings()
	if err == nil && settings.Account == "" {
		settings.Account = email
		if saveErr := config.SaveSettings(settings); saveErr != nil {
			fmt.Fprintf(os.Stderr, "warning: could not save default account: %v\n", saveErr)
		}
	}

	if outfmt.IsJSON(ctx) {
		return outfmt.WriteJSON(ctx, os.Stdout, map[string]any{"authorized": email})
	}
	fmt.Printf("authorized\t%s\n", email)
	return nil
}

// AuthRemoveCmd deletes a stored refresh token.
type AuthRemoveCmd struct {
	Email string `arg:"" help:"Account email to remove"`
}

func (c *AuthRemoveCmd) Run(ctx context.Context, flags *RootFlags) error {
	email := strings.ToLower(strings.TrimSpace(c.Email))
	if email == "" {
		return usage("empty email")
	}

	ks, err := secrets.OpenDefault()
	if err != nil {
		return err
	}
	if err := ks.DeleteToken(email); err != nil {
		return fmt.Errorf("remove token: %w", err)
	}

	if outfmt.IsJSON(ctx) {
		return outfmt.WriteJSON(ctx, os.Stdout, map[string]any{"removed": email})
	}
	fmt.Printf("removed\t%s\n", email)
	return nil
}

type AuthListCmd struct{}

func (c *AuthListCmd) Run(ctx context.Context, flags *RootFlags) error {
	ks, err := secrets.OpenDefault()
	if err != nil {
		return err
	}
	accounts, err := ks.ListAccounts()
	if err != nil {
		return fmt.Errorf("list accounts: %w", err)
	}

	if outfmt.IsJSON(ctx) {
		return outfmt.WriteJSON(ctx, os.Stdout, map[string]any{
			"accounts": accounts,
			"count":    len(accounts),
		})
	}

	if len(accounts) == 0 {
		fmt.Fprintln(os.Stderr, "No authorized accounts; run 'calsync auth add <email>'")
		return nil
	}
	for _, a := range accounts {
		fmt.Println(a)
	}
	return nil
}
