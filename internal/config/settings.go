package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Settings holds the user-tunable sync parameters, loaded from settings.yaml
// in the config directory. Missing file means defaults.
type Settings struct {
	// Account is the Google account email used for calendar API calls.
	Account string `yaml:"account"`

	// SyncInterval is how often the daemon runs an automatic sync pass.
	SyncInterval time.Duration `yaml:"sync_interval"`

	// WindowBack and WindowForward bound a full (non-incremental) fetch.
	WindowBack    time.Duration `yaml:"window_back"`
	WindowForward time.Duration `yaml:"window_forward"`

	// ConflictStrategy is the default strategy applied by `conflicts resolve`
	// when none is given on the command line.
	ConflictStrategy string `yaml:"conflict_strategy"`

	// MaxPushRetries bounds attempts for a queued outbound mutation.
	MaxPushRetries int `yaml:"max_push_retries"`
}

func DefaultSettings() Settings {
	return Settings{
		SyncInterval:     5 * time.Minute,
		WindowBack:       90 * 24 * time.Hour,
		WindowForward:    365 * 24 * time.Hour,
		ConflictStrategy: "merge-by-recency",
		MaxPushRetries:   5,
	}
}

// LoadSettings reads settings.yaml, applying defaults for missing fields.
// A missing file is not an error.
func LoadSettings() (Settings, error) {
	s := DefaultSettings()

	path, err := SettingsPath()
	if err != nil {
		return s, err
	}

	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return applyEnv(s), nil
		}
		return s, fmt.Errorf("read settings: %w", err)
	}

	if err := yaml.Unmarshal(b, &s); err != nil {
		return s, fmt.Errorf("parse settings: %w", err)
	}

	if s.SyncInterval <= 0 {
		s.SyncInterval = 5 * time.Minute
	}
	if s.WindowBack <= 0 {
		s.WindowBack = 90 * 24 * time.Hour
	}
	if s.WindowForward <= 0 {
		s.WindowForward = 365 * 24 * time.Hour
	}
	if s.MaxPushRetries <= 0 {
		s.MaxPushRetries = 5
	}

	return applyEnv(s), nil
}

// SaveSettings writes settings.yaml to the config directory.
func SaveSettings(s Settings) error {
	if _, err := EnsureDir(); err != nil {
		return fmt.Errorf("ensure config dir: %w", err)
	}

	path, err := SettingsPath()
	if err != nil {
		return err
	}

	b, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}

	return os.WriteFile(path, b, 0o600)
}

func applyEnv(s Settings) Settings {
	if v := os.Getenv("CALSYNC_SYNC_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			s.SyncInterval = d
		}
	}
	if v := os.Getenv("CALSYNC_ACCOUNT"); v != "" {
		s.Account = v
	}
	return s
}
