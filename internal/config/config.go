// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides unified configuration loading for driftchat.
//
// Configuration is TOML with sensible defaults, environment variable
// overrides, and validation.
//
// Locations (in order of precedence):
//   - $DRIFTCHAT_CONFIG (explicit path)
//   - ~/.driftchat/config.toml
//   - Built-in defaults
package config

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/jeranaias/driftchat/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config is the complete driftchat configuration.
type Config struct {
	Version string `toml:"version"`

	// Backend is the model endpoint configuration.
	Backend BackendConfig `toml:"backend"`

	// Sync is the chat sync service configuration.
	Sync SyncConfig `toml:"sync"`

	// Storage is the local persistence configuration.
	Storage StorageConfig `toml:"storage"`

	// Log is the logging configuration.
	Log LogConfig `toml:"log"`
}

// BackendConfig configures the model endpoint.
type BackendConfig struct {
	// BaseURL is the OpenAI-compatible API base URL.
	BaseURL string `toml:"base_url"`
	// APIKey authenticates against the backend.
	APIKey string `toml:"api_key"`
	// Model is the default model identifier for new chats.
	Model string `toml:"model"`
	// Temperature is the sampling temperature.
	Temperature float64 `toml:"temperature"`
	// MaxTokens caps the response length (0 = backend default).
	MaxTokens int `toml:"max_tokens"`
}

// SyncConfig configures the chat sync service.
type SyncConfig struct {
	// Enabled turns sync on. Sync still requires a signed-in account.
	Enabled bool `toml:"enabled"`
	// BaseURL is the sync service base URL.
	BaseURL string `toml:"base_url"`
	// Token authenticates against the sync service.
	Token string `toml:"token"`
	// AccountID is the account to sign in as on startup (optional).
	AccountID string `toml:"account_id"`
	// TOTPSecret enables second-factor verification on sign-in (optional).
	TOTPSecret string `toml:"totp_secret"`
	// DebounceMS is the settle time after the last local change.
	DebounceMS int `toml:"debounce_ms"`
	// MinIntervalMS is the minimum spacing between uploads.
	MinIntervalMS int `toml:"min_interval_ms"`
}

// StorageConfig configures local persistence.
type StorageConfig struct {
	// Path is the database file path (empty = ~/.driftchat/driftchat.db).
	Path string `toml:"path"`
	// CapacityBytes is the storage budget (0 = default).
	CapacityBytes int64 `toml:"capacity_bytes"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is one of: trace, debug, info, warn, error.
	Level string `toml:"level"`
	// Pretty enables human-readable console output.
	Pretty bool `toml:"pretty"`
}

// Debounce returns the configured debounce as a duration.
func (s SyncConfig) Debounce() time.Duration {
	return time.Duration(s.DebounceMS) * time.Millisecond
}

// MinInterval returns the configured minimum upload spacing.
func (s SyncConfig) MinInterval() time.Duration {
	return time.Duration(s.MinIntervalMS) * time.Millisecond
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Version: "1.0.0",
		Backend: BackendConfig{
			BaseURL:     "https://openrouter.ai/api/v1",
			Model:       "anthropic/claude-3.5-sonnet",
			Temperature: 0.7,
		},
		Sync: SyncConfig{
			Enabled:       false,
			DebounceMS:    2000,
			MinIntervalMS: 10000,
		},
		Storage: StorageConfig{
			CapacityBytes: 0, // kvstore default
		},
		Log: LogConfig{
			Level:  "info",
			Pretty: false,
		},
	}
}

// =============================================================================
// PATH HELPERS
// =============================================================================

// Dir returns the driftchat configuration directory path.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".driftchat"), nil
}

// Path returns the path to the TOML config file.
func Path() (string, error) {
	if p := os.Getenv("DRIFTCHAT_CONFIG"); p != "" {
		return p, nil
	}
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// StoragePath returns the database path, falling back to the default.
func (c *Config) StoragePath() (string, error) {
	if c.Storage.Path != "" {
		return c.Storage.Path, nil
	}
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "driftchat.db"), nil
}

// EnsureDir ensures the config directory exists.
func EnsureDir() error {
	dir, err := Dir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0755)
}

// =============================================================================
// LOAD / SAVE
// =============================================================================

// Load loads the configuration, applying env overrides and validation.
// A missing config file is not an error; defaults apply.
func Load() (*Config, error) {
	path, err := Path()
	if err != nil {
		return nil, err
	}
	cfg := Default()
	if _, statErr := os.Stat(path); statErr == nil {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", path, err)
		}
	}
	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadFromPath loads configuration from a specific file.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Save writes the configuration atomically with owner-only permissions;
// the file carries the API key.
func (c *Config) Save(path string) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	return util.AtomicWriteFile(path, buf.Bytes(), 0600)
}

// =============================================================================
// ENV OVERRIDES AND VALIDATION
// =============================================================================

// ApplyEnvOverrides applies DRIFTCHAT_* environment variables on top of
// the loaded values.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("DRIFTCHAT_API_KEY"); v != "" {
		c.Backend.APIKey = v
	}
	if v := os.Getenv("DRIFTCHAT_BASE_URL"); v != "" {
		c.Backend.BaseURL = v
	}
	if v := os.Getenv("DRIFTCHAT_MODEL"); v != "" {
		c.Backend.Model = v
	}
	if v := os.Getenv("DRIFTCHAT_SYNC_URL"); v != "" {
		c.Sync.BaseURL = v
		c.Sync.Enabled = true
	}
	if v := os.Getenv("DRIFTCHAT_SYNC_TOKEN"); v != "" {
		c.Sync.Token = v
	}
	if v := os.Getenv("DRIFTCHAT_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("DRIFTCHAT_STORAGE_CAPACITY"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			c.Storage.CapacityBytes = n
		}
	}
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	if c.Backend.BaseURL != "" {
		if _, err := url.ParseRequestURI(c.Backend.BaseURL); err != nil {
			return fmt.Errorf("backend.base_url: %w", err)
		}
	}
	if c.Sync.Enabled && c.Sync.BaseURL == "" {
		return fmt.Errorf("sync.enabled requires sync.base_url")
	}
	if c.Sync.BaseURL != "" {
		if _, err := url.ParseRequestURI(c.Sync.BaseURL); err != nil {
			return fmt.Errorf("sync.base_url: %w", err)
		}
	}
	if c.Backend.Temperature < 0 || c.Backend.Temperature > 2 {
		return fmt.Errorf("backend.temperature %v out of range [0, 2]", c.Backend.Temperature)
	}
	if c.Sync.DebounceMS < 0 || c.Sync.MinIntervalMS < 0 {
		return fmt.Errorf("sync timings must not be negative")
	}
	switch c.Log.Level {
	case "", "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q unknown", c.Log.Level)
	}
	if c.Storage.CapacityBytes < 0 {
		return fmt.Errorf("storage.capacity_bytes must not be negative")
	}
	return nil
}
