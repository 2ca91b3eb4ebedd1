// Copyright 2026 The Keywarden Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/keywarden/keywarden/lib/ipc"
)

// Config is the master configuration for Keywarden.
type Config struct {
	// Database configures the credential store.
	Database DatabaseConfig `yaml:"database"`

	// Session configures unlock behavior and the inactivity timer.
	Session SessionConfig `yaml:"session"`

	// Autotype configures keystroke injection.
	Autotype AutotypeConfig `yaml:"autotype"`

	// Clipboard configures copy lifetimes.
	Clipboard ClipboardConfig `yaml:"clipboard"`

	// History configures the encrypted recent-entry list.
	History HistoryConfig `yaml:"history"`

	// Daemon configures the keywardend socket and behavior.
	Daemon DaemonConfig `yaml:"daemon"`

	// Logging configures the slog handler.
	Logging LoggingConfig `yaml:"logging"`
}

// DatabaseConfig configures the credential store.
type DatabaseConfig struct {
	// Path is the database file. Required.
	Path string `yaml:"path"`

	// Keyfile is an additional key file for the database. Optional.
	Keyfile string `yaml:"keyfile"`

	// CLI is the store tool binary.
	// Default: keepassxc-cli
	CLI string `yaml:"cli"`

	// Timeout bounds one store tool invocation.
	// Default: 15s
	Timeout string `yaml:"timeout"`
}

// SessionConfig configures unlock behavior.
type SessionConfig struct {
	// InactivityTimeout forces a lock after this long without
	// activity. "0" disables the timer.
	// Default: 5m
	InactivityTimeout string `yaml:"inactivity_timeout"`

	// AskpassCommand is the ssh-askpass style prompt program used for
	// interactive unlock.
	// Default: keywarden-askpass
	AskpassCommand string `yaml:"askpass_command"`

	// AskpassTimeout bounds how long the prompt may stay open.
	// Default: 2m
	AskpassTimeout string `yaml:"askpass_timeout"`
}

// AutotypeConfig configures keystroke injection.
type AutotypeConfig struct {
	// InjectTool is the keystroke injector binary.
	// Default: xdotool
	InjectTool string `yaml:"inject_tool"`

	// FocusInterval is the delay between focus probes.
	// Default: 100ms
	FocusInterval string `yaml:"focus_interval"`

	// FocusMaxAttempts is how many focus probes run before giving up.
	// Default: 20
	FocusMaxAttempts int `yaml:"focus_max_attempts"`
}

// ClipboardConfig configures copy lifetimes.
type ClipboardConfig struct {
	// ClearAfter is how long a copied secret stays on the clipboard.
	// Default: 10s
	ClearAfter string `yaml:"clear_after"`
}

// HistoryConfig configures the encrypted recent-entry list.
type HistoryConfig struct {
	// Enabled turns history tracking on.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Path is the history database file.
	// Default: $XDG_STATE_HOME/keywarden/history.db
	Path string `yaml:"path"`

	// KeyFile holds the history encryption key, created 0600 on first
	// use.
	// Default: $XDG_STATE_HOME/keywarden/history.key
	KeyFile string `yaml:"key_file"`

	// MaxEntries caps the recent list.
	// Default: 9
	MaxEntries int `yaml:"max_entries"`
}

// DaemonConfig configures keywardend.
type DaemonConfig struct {
	// SocketPath is the unix socket keywardend listens on.
	// Default: $XDG_RUNTIME_DIR/keywarden.sock
	SocketPath string `yaml:"socket_path"`

	// SearchLimit caps search results when the client does not say.
	// Default: 9
	SearchLimit int `yaml:"search_limit"`

	// WatchDatabase forces a lock when the database file changes.
	// Default: true
	WatchDatabase bool `yaml:"watch_database"`

	// Notifications sends desktop notifications for lock and copy
	// events.
	// Default: true
	Notifications bool `yaml:"notifications"`
}

// LoggingConfig configures the slog handler.
type LoggingConfig struct {
	// Level is debug, info, warn, or error.
	// Default: info
	Level string `yaml:"level"`

	// Format is text or json.
	// Default: text
	Format string `yaml:"format"`
}

// Default returns the default configuration. The database path has no
// default; everything else does.
func Default() *Config {
	stateDir := DefaultStateDir()
	return &Config{
		Database: DatabaseConfig{
			CLI:     "keepassxc-cli",
			Timeout: "15s",
		},
		Session: SessionConfig{
			InactivityTimeout: "5m",
			AskpassCommand:    "keywarden-askpass",
			AskpassTimeout:    "2m",
		},
		Autotype: AutotypeConfig{
			InjectTool:       "xdotool",
			FocusInterval:    "100ms",
			FocusMaxAttempts: 20,
		},
		Clipboard: ClipboardConfig{
			ClearAfter: "10s",
		},
		History: HistoryConfig{
			Enabled:    true,
			Path:       filepath.Join(stateDir, "history.db"),
			KeyFile:    filepath.Join(stateDir, "history.key"),
			MaxEntries: 9,
		},
		Daemon: DaemonConfig{
			SocketPath:    ipc.SocketPath(),
			SearchLimit:   9,
			WatchDatabase: true,
			Notifications: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// DefaultConfigDir returns $XDG_CONFIG_HOME/keywarden.
func DefaultConfigDir() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, _ := os.UserHomeDir()
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "keywarden")
}

// DefaultStateDir returns $XDG_STATE_HOME/keywarden, where the history
// database and its key live.
func DefaultStateDir() string {
	base := os.Getenv("XDG_STATE_HOME")
	if base == "" {
		home, _ := os.UserHomeDir()
		base = filepath.Join(home, ".local", "state")
	}
	return filepath.Join(base, "keywarden")
}

// Load loads configuration from KEYWARDEN_CONFIG if set, otherwise
// from the first of config.yaml, config.toml, config.jsonc under the
// default config directory. A missing file is not an error: defaults
// plus environment overrides apply.
func Load() (*Config, error) {
	if path := os.Getenv("KEYWARDEN_CONFIG"); path != "" {
		return LoadFile(path)
	}

	dir := DefaultConfigDir()
	for _, name := range []string{"config.yaml", "config.toml", "config.jsonc"} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return LoadFile(path)
		}
	}

	cfg := Default()
	cfg.applyEnv()
	return cfg, nil
}

// LoadFile loads configuration from a specific file. The format
// follows the extension: .yaml or .yml, .toml, and .json or .jsonc
// (JSON with comments). Environment overrides apply after the file.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	case ".toml":
		// TOML decodes through a generic map and re-enters through
		// YAML so one set of struct tags serves every format.
		var raw map[string]any
		if err := toml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", path, err)
		}
		bridged, err := yaml.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("config: bridging %s: %w", path, err)
		}
		if err := yaml.Unmarshal(bridged, cfg); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	case ".json", ".jsonc":
		// Comments stripped, then parsed as YAML: valid JSON is valid
		// YAML, and the yaml tags apply.
		plain := jsonc.ToJSON(data)
		if !json.Valid(plain) {
			return nil, fmt.Errorf("config: parsing %s: invalid JSON", path)
		}
		if err := yaml.Unmarshal(plain, cfg); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("config: unsupported extension on %s (use .yaml, .toml, or .jsonc)", path)
	}

	cfg.applyEnv()
	return cfg, nil
}

// applyEnv applies KEYWARDEN_* environment overrides on top of file
// values.
func (c *Config) applyEnv() {
	overrides := map[string]*string{
		"KEYWARDEN_DATABASE":           &c.Database.Path,
		"KEYWARDEN_KEYFILE":            &c.Database.Keyfile,
		"KEYWARDEN_CLI":                &c.Database.CLI,
		"KEYWARDEN_SOCKET":             &c.Daemon.SocketPath,
		"KEYWARDEN_INACTIVITY_TIMEOUT": &c.Session.InactivityTimeout,
		"KEYWARDEN_ASKPASS":            &c.Session.AskpassCommand,
		"KEYWARDEN_LOG_LEVEL":          &c.Logging.Level,
	}
	for name, target := range overrides {
		if value := os.Getenv(name); value != "" {
			*target = value
		}
	}
}

// Validate checks the configuration for errors, reporting all of them
// at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Database.Path == "" {
		errs = append(errs, fmt.Errorf("database.path is required (or set KEYWARDEN_DATABASE)"))
	}
	if c.Database.CLI == "" {
		errs = append(errs, fmt.Errorf("database.cli is required"))
	}

	durations := map[string]string{
		"database.timeout":           c.Database.Timeout,
		"session.inactivity_timeout": c.Session.InactivityTimeout,
		"session.askpass_timeout":    c.Session.AskpassTimeout,
		"autotype.focus_interval":    c.Autotype.FocusInterval,
		"clipboard.clear_after":      c.Clipboard.ClearAfter,
	}
	for field, value := range durations {
		if value == "" {
			continue
		}
		if _, err := parseFlexibleDuration(value); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", field, err))
		}
	}

	if c.Autotype.FocusMaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("autotype.focus_max_attempts must be at least 1"))
	}
	if c.History.MaxEntries < 1 {
		errs = append(errs, fmt.Errorf("history.max_entries must be at least 1"))
	}
	if c.Daemon.SearchLimit < 1 {
		errs = append(errs, fmt.Errorf("daemon.search_limit must be at least 1"))
	}

	levels := []string{"debug", "info", "warn", "error"}
	if !contains(levels, strings.ToLower(c.Logging.Level)) {
		errs = append(errs, fmt.Errorf("logging.level must be one of: %v", levels))
	}
	formats := []string{"text", "json"}
	if !contains(formats, strings.ToLower(c.Logging.Format)) {
		errs = append(errs, fmt.Errorf("logging.format must be one of: %v", formats))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Duration accessors. They assume a validated config and fall back to
// the default on anything unparseable.

// StoreTimeout returns database.timeout.
func (c *Config) StoreTimeout() time.Duration {
	return durationOr(c.Database.Timeout, 15*time.Second)
}

// InactivityTimeout returns session.inactivity_timeout. Zero means
// the timer is disabled.
func (c *Config) InactivityTimeout() time.Duration {
	return durationOr(c.Session.InactivityTimeout, 5*time.Minute)
}

// AskpassTimeout returns session.askpass_timeout.
func (c *Config) AskpassTimeout() time.Duration {
	return durationOr(c.Session.AskpassTimeout, 2*time.Minute)
}

// FocusInterval returns autotype.focus_interval.
func (c *Config) FocusInterval() time.Duration {
	return durationOr(c.Autotype.FocusInterval, 100*time.Millisecond)
}

// ClipboardClearAfter returns clipboard.clear_after.
func (c *Config) ClipboardClearAfter() time.Duration {
	return durationOr(c.Clipboard.ClearAfter, 10*time.Second)
}

// SlogLevel maps logging.level to a slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.Logging.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// parseFlexibleDuration accepts time.ParseDuration syntax plus a bare
// "0" for disabled timers.
func parseFlexibleDuration(value string) (time.Duration, error) {
	if value == "0" {
		return 0, nil
	}
	return time.ParseDuration(value)
}

func durationOr(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	parsed, err := parseFlexibleDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func contains(slice []string, s string) bool {
	for _, v := range slice {
		if v == s {
			return true
		}
	}
	return false
}
