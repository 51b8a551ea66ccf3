package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

var errInvalidCredentials = errors.New("invalid credentials.json (expected installed/web client_id and client_secret)")

type ClientCredentials struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

type googleCredentialsFile struct {
	Installed *struct {
		ClientID     string `json:"client_id"`
		ClientSecret string `json:"client_secret"`
	} `json:"installed"`
	Web *struct {
		ClientID     string `json:"client_id"`
		ClientSecret string `json:"client_secret"`
	} `json:"web"`
}

func ParseGoogleOAuthClientJSON(b []byte) (ClientCredentials, error) {
	var f googleCredentialsFile
	if err := json.Unmarshal(b, &f); err != nil {
		return ClientCredentials{}, fmt.Errorf("decode credentials json: %w", err)
	}

	var clientID, clientSecret string
	if f.Installed != nil {
		clientID, clientSecret = f.Installed.ClientID, f.Installed.ClientSecret
	} else if f.Web != nil {
		clientID, clientSecret = f.Web.ClientID, f.Web.ClientSecret
	}

	if clientID == "" || clientSecret == "" {
		return ClientCredentials{}, errInvalidCredentials
	}

	return ClientCredentials{ClientID: clientID, ClientSecret: clientSecret}, nil
}

func ReadClientCredentials() (ClientCredentials, error) {
	path, err := ClientCredentialsPath()
	if err != nil {
		return ClientCredentials{}, err
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return ClientCredentials{}, fmt.Errorf("read credentials: %w", err)
	}

	return ParseGoogleOAuthClientJSON(b)
}

func WriteClientCredentials(c ClientCredentials) error {
	if _, err := EnsureDir(); err != nil {
		return fmt.Errorf("ensure config dir: %w", err)
	}

	path, err := ClientCredentialsPath()
	if err != nil {
		return fmt.Errorf("resolve credentials path: %w", err)
	}

	b, err := json.Marshal(map[string]any{
		"installed": map[string]string{
			"client_id":     c.ClientID,
			"client_secret": c.ClientSecret,
		},
	})
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}

	return os.WriteFile(path, b, 0o600)
}
