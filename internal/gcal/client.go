// Package gcal wraps the Google Calendar API for incremental sync.
package gcal

import (
	"context"
	"time"

	"github.com/99designs/keyring"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/haldane-io/calsync/internal/config"
	"github.com/haldane-io/calsync/internal/secrets"
)

var scopes = []string{calendar.CalendarScope}

// Client wraps a calendar service with the fetch window used for full
// (non-incremental) event listing.
type Client struct {
	svc           *calendar.Service
	windowBack    time.Duration
	windowForward time.Duration

	// now is swappable in tests.
	now func() time.Time
}

// NewClient builds a client around an existing calendar service.
func NewClient(svc *calendar.Service, windowBack, windowForward time.Duration) *Client {
	if windowBack <= 0 {
		windowBack = 90 * 24 * time.Hour
	}
	if windowForward <= 0 {
		windowForward = 365 * 24 * time.Hour
	}
	return &Client{
		svc:           svc,
		windowBack:    windowBack,
		windowForward: windowForward,
		now:           time.Now,
	}
}

// NewService constructs an authenticated calendar service for the account.
// The token source only consumes the stored refresh token; the authorization
// flow that produced it lives outside this subsystem.
func NewService(ctx context.Context, email string) (*calendar.Service, error) {
	ts, err := tokenSourceForAccount(ctx, email)
	if err != nil {
		return nil, err
	}
	return calendar.NewService(ctx, option.WithTokenSource(ts))
}

func tokenSourceForAccount(ctx context.Context, email string) (oauth2.TokenSource, error) {
	creds, err := config.ReadClientCredentials()
	if err != nil {
		return nil, err
	}

	store, err := secrets.OpenDefault()
	if err != nil {
		return nil, err
	}
	tok, err := store.GetToken(email)
	if err != nil {
		if err == keyring.ErrKeyNotFound {
			return nil, &AuthRequiredError{Email: email, Cause: err}
		}
		return nil, err
	}

	cfg := oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       scopes,
	}

	return cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: tok.RefreshToken}), nil
}
