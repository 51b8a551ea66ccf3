package gcal

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/haldane-io/calsync/internal/config"
)

// Authorize runs a loopback OAuth authorization-code flow and returns the
// granted refresh token. The caller is responsible for storing it. openURL
// receives the consent URL; pass a function that prints or opens it.
func Authorize(ctx context.Context, openURL func(url string)) (string, error) {
	creds, err := config.ReadClientCredentials()
	if err != nil {
		return "", err
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", fmt.Errorf("listen for oauth redirect: %w", err)
	}
	defer ln.Close()

	cfg := oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       scopes,
		RedirectURL:  fmt.Sprintf("http://%s/", ln.Addr().String()),
	}

	state, err := randomState()
	if err != nil {
		return "", err
	}

	type callback struct {
		code string
		err  error
	}
	results := make(chan callback, 1)

	srv := &http.Server{
		ReadHeaderTimeout: 10 * time.Second,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			switch {
			case q.Get("state") != state:
				http.Error(w, "state mismatch", http.StatusBadRequest)
				results <- callback{err: errors.New("oauth state mismatch")}
			case q.Get("error") != "":
				http.Error(w, "authorization denied", http.StatusBadRequest)
				results <- callback{err: fmt.Errorf("authorization denied: %s", q.Get("error"))}
			case q.Get("code") == "":
				http.Error(w, "missing code", http.StatusBadRequest)
				results <- callback{err: errors.New("oauth redirect missing code")}
			default:
				fmt.Fprintln(w, "Authorized. You can close this tab.")
				results <- callback{code: q.Get("code")}
			}
		}),
	}
	go func() { _ = srv.Serve(ln) }()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	openURL(cfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce))

	var cb callback
	select {
	case cb = <-results:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	if cb.err != nil {
		return "", cb.err
	}

	tok, err := cfg.Exchange(ctx, cb.code)
	if err != nil {
		return "", fmt.Errorf("exchange authorization code: %w", err)
	}
	if tok.RefreshToken == "" {
		return "", errors.New("no refresh token granted (revoke prior access and retry)")
	}
	return tok.RefreshToken, nil
}

// Scopes returns the OAuth scopes the sync client requests.
func Scopes() []string {
	out := make([]string, len(scopes))
	copy(out, scopes)
	return out
}

func randomState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
