// Copyright (c) 2025 Evan Hallam
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/ehallam/strand/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete strand configuration.
type Config struct {
	Backend   BackendConfig   `toml:"backend"`
	Inference InferenceConfig `toml:"inference"`
	Server    ServerConfig    `toml:"server"`
	Store     StoreConfig     `toml:"store"`
	List      ListConfig      `toml:"list"`
}

// BackendConfig points at the sequences API.
type BackendConfig struct {
	// BaseURL is the backend API base URL
	BaseURL string `toml:"base_url"`
	// TimeoutSecs is the non-streaming request timeout in seconds
	TimeoutSecs int `toml:"timeout_secs"`
	// AttemptIntervalSecs is the pause between discovery retries in seconds
	AttemptIntervalSecs int `toml:"attempt_interval_secs"`
	// MaxDecodeFailures is the consecutive malformed stream events tolerated
	MaxDecodeFailures int `toml:"max_decode_failures"`
}

// InferenceConfig holds per-turn generation preferences.
type InferenceConfig struct {
	// DefaultModel is used when a turn does not name a model
	DefaultModel string `toml:"default_model"`
	// StayAwake holds a sleep inhibitor while a reply streams
	StayAwake bool `toml:"stay_awake"`
	// AutoRetrieval requests document retrieval on turns that don't set it
	AutoRetrieval bool `toml:"auto_retrieval"`
	// Temperature 0 means backend default
	Temperature float64 `toml:"temperature"`
	// TopP 0 means backend default
	TopP float64 `toml:"top_p"`
	// MaxTokens 0 means backend default
	MaxTokens int `toml:"max_tokens"`
}

// ServerConfig controls autostarting a local backend process.
type ServerConfig struct {
	// Autostart launches the backend when it is not already running
	Autostart bool `toml:"autostart"`
	// Executable is the backend binary, looked up on PATH when relative
	Executable string `toml:"executable"`
	// Args are passed to the backend on launch
	Args []string `toml:"args"`
}

// StoreConfig controls the local sequence snapshot database.
type StoreConfig struct {
	// Path to the sqlite file (empty = ~/.strand/sequences.db)
	Path string `toml:"path"`
}

// ListConfig holds defaults for the sequence listing.
type ListConfig struct {
	// Limit caps how many sequences are fetched (0 = backend default)
	Limit int `toml:"limit"`
	// LookbackDays restricts the listing window (0 = no restriction)
	LookbackDays int `toml:"lookback_days"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Backend: BackendConfig{
			BaseURL:             "http://127.0.0.1:8017",
			TimeoutSecs:         30,
			AttemptIntervalSecs: 1,
			MaxDecodeFailures:   5,
		},
		Inference: InferenceConfig{
			StayAwake: true,
		},
		Server: ServerConfig{
			Executable: "strand-backend",
			Args:       []string{"serve"},
		},
		List: ListConfig{
			Limit: 100,
		},
	}
}

// fillDefaults fills any missing values with defaults.
func fillDefaults(cfg *Config) {
	defaults := Default()

	if cfg.Backend.BaseURL == "" {
		cfg.Backend.BaseURL = defaults.Backend.BaseURL
	}
	if cfg.Backend.TimeoutSecs == 0 {
		cfg.Backend.TimeoutSecs = defaults.Backend.TimeoutSecs
	}
	if cfg.Backend.AttemptIntervalSecs == 0 {
		cfg.Backend.AttemptIntervalSecs = defaults.Backend.AttemptIntervalSecs
	}
	if cfg.Backend.MaxDecodeFailures == 0 {
		cfg.Backend.MaxDecodeFailures = defaults.Backend.MaxDecodeFailures
	}
	if cfg.Server.Executable == "" {
		cfg.Server.Executable = defaults.Server.Executable
	}
	if cfg.Server.Args == nil {
		cfg.Server.Args = defaults.Server.Args
	}
	if cfg.List.Limit == 0 {
		cfg.List.Limit = defaults.List.Limit
	}
}

// =============================================================================
// PATHS
// =============================================================================

// ConfigDir returns the strand configuration directory (~/.strand).
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to find home directory: %w", err)
	}
	return filepath.Join(home, ".strand"), nil
}

// ConfigPath returns the path to the TOML config file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// EnsureConfigDir creates the configuration directory if missing.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0700)
}

// StorePath resolves the sqlite snapshot path, applying the default location.
func (c *Config) StorePath() (string, error) {
	if c.Store.Path != "" {
		return c.Store.Path, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "sequences.db"), nil
}

// =============================================================================
// LOADING
// =============================================================================

// Load loads configuration from the default location, falls back to
// defaults, and applies environment overrides last.
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err == nil {
		if _, statErr := os.Stat(path); statErr == nil {
			return LoadFromPath(path)
		}
	}

	cfg := Default()
	cfg.ApplyEnvOverrides()
	return cfg, nil
}

// LoadFromPath loads configuration from a specific TOML file.
func LoadFromPath(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config file %s: %w", path, err)
	}
	fillDefaults(cfg)
	cfg.ApplyEnvOverrides()
	return cfg, nil
}

// ApplyEnvOverrides applies STRAND_* environment variables over the loaded
// values.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("STRAND_BACKEND_URL"); v != "" {
		c.Backend.BaseURL = v
	}
	if v := os.Getenv("STRAND_DEFAULT_MODEL"); v != "" {
		c.Inference.DefaultModel = v
	}
	if v := os.Getenv("STRAND_STAY_AWAKE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Inference.StayAwake = b
		}
	}
	if v := os.Getenv("STRAND_AUTO_RETRIEVAL"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Inference.AutoRetrieval = b
		}
	}
	if v := os.Getenv("STRAND_AUTOSTART"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Server.Autostart = b
		}
	}
	if v := os.Getenv("STRAND_STORE_PATH"); v != "" {
		c.Store.Path = v
	}
}

// =============================================================================
// SAVING
// =============================================================================

// Save writes the configuration to the default TOML file.
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	return SaveToPath(cfg, path)
}

// SaveToPath writes the configuration to a TOML file atomically with owner
// read/write permissions only.
func SaveToPath(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString("# strand configuration file\n")
	buf.WriteString("# edit with care; the file is watched and reloaded live\n\n")

	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := util.AtomicWriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// DERIVED VALUES
// =============================================================================

// Timeout returns the backend timeout as a duration.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.Backend.TimeoutSecs) * time.Second
}

// AttemptInterval returns the discovery retry interval as a duration.
func (c *Config) AttemptInterval() time.Duration {
	return time.Duration(c.Backend.AttemptIntervalSecs) * time.Second
}

// =============================================================================
// SESSION SETTINGS
// =============================================================================

// DefaultModel implements session.Settings.
func (c *Config) DefaultModel() string {
	return c.Inference.DefaultModel
}

// StayAwakeEnabled implements session.Settings.
func (c *Config) StayAwakeEnabled() bool {
	return c.Inference.StayAwake
}

// AutoRetrievalEnabled implements session.Settings.
func (c *Config) AutoRetrievalEnabled() bool {
	return c.Inference.AutoRetrieval
}

// Live is a settings view that reads the global config on every call, so a
// live reload reaches consumers that captured the view before the reload.
type Live struct{}

func (Live) DefaultModel() string       { return Global().DefaultModel() }
func (Live) StayAwakeEnabled() bool     { return Global().StayAwakeEnabled() }
func (Live) AutoRetrievalEnabled() bool { return Global().AutoRetrievalEnabled() }

// =============================================================================
// SINGLETON (THREAD-SAFE)
// =============================================================================

var (
	globalConfig     *Config
	globalConfigOnce sync.Once
	globalConfigMu   sync.RWMutex
)

// Global returns the global configuration, loading it on first access.
func Global() *Config {
	globalConfigOnce.Do(func() {
		cfg, err := Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v (using defaults)\n", err)
			cfg = Default()
			cfg.ApplyEnvOverrides()
		}
		globalConfig = cfg
	})

	globalConfigMu.RLock()
	defer globalConfigMu.RUnlock()
	return globalConfig
}

// ReloadGlobal reloads the global configuration from disk.
func ReloadGlobal() error {
	cfg, err := Load()
	if err != nil {
		return err
	}
	globalConfigMu.Lock()
	globalConfig = cfg
	globalConfigMu.Unlock()
	return nil
}

// SetGlobal replaces the global configuration.
func SetGlobal(cfg *Config) {
	// Consume the once so a later Global() does not reload over this value.
	globalConfigOnce.Do(func() {})
	globalConfigMu.Lock()
	globalConfig = cfg
	globalConfigMu.Unlock()
}

// ResetGlobalForTesting clears global state between test runs.
func ResetGlobalForTesting() {
	globalConfigMu.Lock()
	globalConfig = nil
	globalConfigOnce = sync.Once{}
	globalConfigMu.Unlock()
}
