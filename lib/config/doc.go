// Copyright 2026 The Keywarden Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for Keywarden.
//
// Configuration comes from one file, located by the KEYWARDEN_CONFIG
// environment variable (via [Load]), a --config flag (via [LoadFile]),
// or discovery under $XDG_CONFIG_HOME/keywarden. YAML is the primary
// format; .toml and .jsonc files load through the same struct tags, so
// the three formats describe identical configurations.
//
// After the file, KEYWARDEN_* environment variables override
// individual values (KEYWARDEN_DATABASE, KEYWARDEN_SOCKET, and so on).
// Durations are strings in time.ParseDuration syntax; a bare "0"
// disables the inactivity timer.
//
// Key exports:
//
//   - [Config] -- master struct with Database, Session, Autotype,
//     Clipboard, History, Daemon, Logging sections
//   - [Default] -- a Config with every default applied
//   - [Load] and [LoadFile] -- the two entry points for loading
//   - [Config.Validate] -- static validation, all errors at once
//
// Used by cmd/keywardend and cmd/keywardenctl. Depends on lib/ipc for
// the default socket path.
package config
