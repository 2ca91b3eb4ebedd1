// Copyright 2026 The Keywarden Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Database.CLI != "keepassxc-cli" {
		t.Errorf("expected cli=keepassxc-cli, got %s", cfg.Database.CLI)
	}
	if cfg.Database.Path != "" {
		t.Errorf("expected no default database path, got %s", cfg.Database.Path)
	}
	if got := cfg.InactivityTimeout(); got != 5*time.Minute {
		t.Errorf("expected inactivity timeout 5m, got %s", got)
	}
	if got := cfg.ClipboardClearAfter(); got != 10*time.Second {
		t.Errorf("expected clear_after 10s, got %s", got)
	}
	if cfg.Autotype.FocusMaxAttempts != 20 {
		t.Errorf("expected focus_max_attempts=20, got %d", cfg.Autotype.FocusMaxAttempts)
	}
	if !cfg.Daemon.WatchDatabase {
		t.Error("expected watch_database=true")
	}
}

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoadFile_YAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
database:
  path: /vault/passwords.kdbx
  keyfile: /vault/key.bin
session:
  inactivity_timeout: 30s
logging:
  level: debug
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	if cfg.Database.Path != "/vault/passwords.kdbx" {
		t.Errorf("database.path = %q", cfg.Database.Path)
	}
	if cfg.Database.Keyfile != "/vault/key.bin" {
		t.Errorf("database.keyfile = %q", cfg.Database.Keyfile)
	}
	if got := cfg.InactivityTimeout(); got != 30*time.Second {
		t.Errorf("inactivity timeout = %s, want 30s", got)
	}
	if got := cfg.SlogLevel(); got != slog.LevelDebug {
		t.Errorf("slog level = %v, want debug", got)
	}
	// Untouched sections keep their defaults.
	if cfg.Database.CLI != "keepassxc-cli" {
		t.Errorf("database.cli = %q, want default", cfg.Database.CLI)
	}
}

func TestLoadFile_TOML(t *testing.T) {
	path := writeConfig(t, "config.toml", `
[database]
path = "/vault/passwords.kdbx"

[clipboard]
clear_after = "45s"

[daemon]
search_limit = 3
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	if cfg.Database.Path != "/vault/passwords.kdbx" {
		t.Errorf("database.path = %q", cfg.Database.Path)
	}
	if got := cfg.ClipboardClearAfter(); got != 45*time.Second {
		t.Errorf("clear_after = %s, want 45s", got)
	}
	if cfg.Daemon.SearchLimit != 3 {
		t.Errorf("daemon.search_limit = %d, want 3", cfg.Daemon.SearchLimit)
	}
}

func TestLoadFile_JSONC(t *testing.T) {
	path := writeConfig(t, "config.jsonc", `{
  // the vault lives on the encrypted partition
  "database": {"path": "/vault/passwords.kdbx"},
  "session": {"inactivity_timeout": "2m"}
}`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	if cfg.Database.Path != "/vault/passwords.kdbx" {
		t.Errorf("database.path = %q", cfg.Database.Path)
	}
	if got := cfg.InactivityTimeout(); got != 2*time.Minute {
		t.Errorf("inactivity timeout = %s, want 2m", got)
	}
}

func TestLoadFile_UnsupportedExtension(t *testing.T) {
	path := writeConfig(t, "config.ini", "[database]\npath=/x\n")

	if _, err := LoadFile(path); err == nil {
		t.Fatal("expected error for unsupported extension")
	}
}

func TestEnvOverrides(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
database:
  path: /vault/from-file.kdbx
`)
	t.Setenv("KEYWARDEN_DATABASE", "/vault/from-env.kdbx")
	t.Setenv("KEYWARDEN_INACTIVITY_TIMEOUT", "90s")

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	if cfg.Database.Path != "/vault/from-env.kdbx" {
		t.Errorf("database.path = %q, want env override", cfg.Database.Path)
	}
	if got := cfg.InactivityTimeout(); got != 90*time.Second {
		t.Errorf("inactivity timeout = %s, want 90s", got)
	}
}

func TestLoad_DiscoversConfigDir(t *testing.T) {
	configHome := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", configHome)
	t.Setenv("KEYWARDEN_CONFIG", "")

	dir := filepath.Join(configHome, "keywarden")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	content := "database:\n  path: /vault/discovered.kdbx\n"
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.Path != "/vault/discovered.kdbx" {
		t.Errorf("database.path = %q, want discovered file", cfg.Database.Path)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("KEYWARDEN_CONFIG", "")
	t.Setenv("KEYWARDEN_DATABASE", "/vault/env-only.kdbx")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.Path != "/vault/env-only.kdbx" {
		t.Errorf("database.path = %q, want env value", cfg.Database.Path)
	}
	if cfg.Database.CLI != "keepassxc-cli" {
		t.Errorf("database.cli = %q, want default", cfg.Database.CLI)
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Session.InactivityTimeout = "not-a-duration"
	cfg.Logging.Level = "loud"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation errors")
	}
	message := err.Error()
	for _, want := range []string{
		"database.path is required",
		"session.inactivity_timeout",
		"logging.level",
	} {
		if !strings.Contains(message, want) {
			t.Errorf("validation error %q missing %q", message, want)
		}
	}

	cfg = Default()
	cfg.Database.Path = "/vault/passwords.kdbx"
	if err := cfg.Validate(); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}
}

func TestInactivityTimeout_ZeroDisables(t *testing.T) {
	cfg := Default()
	cfg.Database.Path = "/vault/passwords.kdbx"
	cfg.Session.InactivityTimeout = "0"

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if got := cfg.InactivityTimeout(); got != 0 {
		t.Errorf("inactivity timeout = %s, want 0", got)
	}
}
