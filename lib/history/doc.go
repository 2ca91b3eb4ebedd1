// Copyright 2026 The Keywarden Authors
// SPDX-License-Identifier: Apache-2.0

// Package history persists the recently used entry list across daemon
// restarts, so the launcher can offer recent entries before the user
// types a query.
//
// Entry paths name accounts ("Web/GitHub", "Banking/HSBC") and are
// sensitive even when the passwords themselves stay in the locked
// database. Records are therefore encrypted at rest: each row's
// payload is a CBOR record sealed with XChaCha20-Poly1305 under a key
// derived from a master key file, and rows are addressed by a keyed
// BLAKE3 fingerprint of the entry path instead of the path itself.
// The SQLite file leaks only row counts and touch timestamps.
//
// The master key lives in a 0600 file next to the history database,
// generated on first open. Losing or replacing the key file makes
// existing records undecryptable; the store detects this through the
// database binding fingerprint on open and clears them rather than
// serving garbage. The same check clears the list when the configured
// password database changes, so recents from one vault are never
// offered against another.
//
// Key exports:
//   - [Store]: the persistent recent-entry list.
//   - [Open]: opens or creates the store, key file included.
//   - [Store.Touch]: records a use of an entry.
//   - [Store.Recent]: returns entries, most recently used first.
//   - [Store.Clear]: drops all records.
//
// Used by: keywardend (records autotype and clipboard use, serves the
// recents action).
//
// Depends on: lib/sqlitepool, lib/codec, lib/secret, lib/clock,
// golang.org/x/crypto (XChaCha20-Poly1305, HKDF),
// github.com/zeebo/blake3.
package history
