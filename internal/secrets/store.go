// Package secrets stores OAuth refresh tokens in the system keyring.
package secrets

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/99designs/keyring"

	"github.com/haldane-io/calsync/internal/config"
)

const serviceName = "calsync"

// StoredToken is the keyring payload for one account.
type StoredToken struct {
	RefreshToken string   `json:"refresh_token"`
	Scopes       []string `json:"scopes,omitempty"`
}

// KeyringStore persists tokens behind the platform keyring.
type KeyringStore struct {
	ring keyring.Keyring
}

// openKeyringFunc is swappable in tests.
var openKeyringFunc = func() (keyring.Keyring, error) {
	dir, err := config.EnsureDir()
	if err != nil {
		return nil, err
	}
	return keyring.Open(keyring.Config{
		ServiceName: serviceName,
		FileDir:     dir,
	})
}

// OpenDefault opens the default keyring-backed store.
func OpenDefault() (*KeyringStore, error) {
	ring, err := openKeyringFunc()
	if err != nil {
		return nil, fmt.Errorf("open keyring: %w", err)
	}
	return &KeyringStore{ring: ring}, nil
}

func tokenKey(email string) string {
	return "token:" + email
}

// ParseTokenKey extracts the account email from a token key.
func ParseTokenKey(key string) (string, bool) {
	email, ok := strings.CutPrefix(key, "token:")
	if !ok || email == "" {
		return "", false
	}
	return email, true
}

// GetToken retrieves the stored token for an account.
func (s *KeyringStore) GetToken(email string) (StoredToken, error) {
	item, err := s.ring.Get(tokenKey(email))
	if err != nil {
		return StoredToken{}, err
	}

	var tok StoredToken
	if err := json.Unmarshal(item.Data, &tok); err != nil {
		return StoredToken{}, fmt.Errorf("decode stored token: %w", err)
	}
	return tok, nil
}

// SetToken stores the token for an account.
func (s *KeyringStore) SetToken(email string, tok StoredToken) error {
	if email == "" {
		return fmt.Errorf("empty account email")
	}

	data, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("encode token: %w", err)
	}

	return s.ring.Set(keyring.Item{
		Key:   tokenKey(email),
		Data:  data,
		Label: serviceName + " " + email,
	})
}

// DeleteToken removes the stored token for an account.
func (s *KeyringStore) DeleteToken(email string) error {
	return s.ring.Remove(tokenKey(email))
}

// ListAccounts returns the emails with a stored token.
func (s *KeyringStore) ListAccounts() ([]string, error) {
	keys, err := s.ring.Keys()
	if err != nil {
		return nil, fmt.Errorf("list keyring keys: %w", err)
	}

	var emails []string
	for _, k := range keys {
		if email, ok := ParseTokenKey(k); ok {
			emails = append(emails, email)
		}
	}
	return emails, nil
}
