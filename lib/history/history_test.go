// Copyright 2026 The Keywarden Authors
// SPDX-License-Identifier: Apache-2.0

package history

import (
	"bytes"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/keywarden/keywarden/lib/clock"
)

var testBase = time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC)

func testConfig(t *testing.T, fake *clock.FakeClock) Config {
	t.Helper()

	dir := t.TempDir()
	return Config{
		Path:       filepath.Join(dir, "history.db"),
		KeyFile:    filepath.Join(dir, "history.key"),
		Database:   "/vaults/personal.kdbx",
		MaxEntries: 10,
		Clock:      fake,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func mustOpen(t *testing.T, cfg Config) *Store {
	t.Helper()

	store, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return store
}

func mustTouch(t *testing.T, store *Store, entryPath string) {
	t.Helper()

	if err := store.Touch(t.Context(), entryPath); err != nil {
		t.Fatalf("Touch(%q): %v", entryPath, err)
	}
}

func recentPaths(t *testing.T, store *Store, limit int) []string {
	t.Helper()

	entries, err := store.Recent(t.Context(), limit)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	paths := make([]string, len(entries))
	for i, entry := range entries {
		paths[i] = entry.Path
	}
	return paths
}

func TestOpenCreatesKeyFile(t *testing.T) {
	cfg := testConfig(t, clock.Fake(testBase))
	store := mustOpen(t, cfg)
	defer store.Close()

	info, err := os.Stat(cfg.KeyFile)
	if err != nil {
		t.Fatalf("Stat key file: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("key file mode = %o, want 600", perm)
	}
	if info.Size() != keySize {
		t.Errorf("key file size = %d, want %d", info.Size(), keySize)
	}
}

func TestOpenValidation(t *testing.T) {
	valid := testConfig(t, clock.Fake(testBase))

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing path", func(c *Config) { c.Path = "" }},
		{"missing key file", func(c *Config) { c.KeyFile = "" }},
		{"missing database", func(c *Config) { c.Database = "" }},
		{"missing clock", func(c *Config) { c.Clock = nil }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid
			tc.mutate(&cfg)
			if _, err := Open(cfg); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestTouchAndRecent(t *testing.T) {
	fake := clock.Fake(testBase)
	store := mustOpen(t, testConfig(t, fake))
	defer store.Close()

	mustTouch(t, store, "Web/GitHub")
	fake.Advance(time.Minute)
	mustTouch(t, store, "Banking/HSBC")
	fake.Advance(time.Minute)
	mustTouch(t, store, "Email/Fastmail")

	entries, err := store.Recent(t.Context(), 0)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}

	wantOrder := []string{"Email/Fastmail", "Banking/HSBC", "Web/GitHub"}
	for i, want := range wantOrder {
		if entries[i].Path != want {
			t.Errorf("entries[%d].Path = %q, want %q", i, entries[i].Path, want)
		}
		if entries[i].Uses != 1 {
			t.Errorf("entries[%d].Uses = %d, want 1", i, entries[i].Uses)
		}
	}
	if got := entries[2].Touched.Unix(); got != testBase.Unix() {
		t.Errorf("oldest Touched = %d, want %d", got, testBase.Unix())
	}
}

func TestTouchBumpsUses(t *testing.T) {
	fake := clock.Fake(testBase)
	store := mustOpen(t, testConfig(t, fake))
	defer store.Close()

	for range 3 {
		mustTouch(t, store, "Web/GitHub")
		fake.Advance(time.Minute)
	}

	entries, err := store.Recent(t.Context(), 0)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if entries[0].Uses != 3 {
		t.Errorf("Uses = %d, want 3", entries[0].Uses)
	}
	wantTouched := testBase.Add(2 * time.Minute).Unix()
	if got := entries[0].Touched.Unix(); got != wantTouched {
		t.Errorf("Touched = %d, want %d", got, wantTouched)
	}
}

func TestEvictionKeepsMostRecent(t *testing.T) {
	fake := clock.Fake(testBase)
	cfg := testConfig(t, fake)
	cfg.MaxEntries = 3
	store := mustOpen(t, cfg)
	defer store.Close()

	for _, path := range []string{"one", "two", "three", "four", "five"} {
		mustTouch(t, store, path)
		fake.Advance(time.Minute)
	}

	got := recentPaths(t, store, 0)
	want := []string{"five", "four", "three"}
	if len(got) != len(want) {
		t.Fatalf("got %d entries, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("paths[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestRecentLimit(t *testing.T) {
	fake := clock.Fake(testBase)
	store := mustOpen(t, testConfig(t, fake))
	defer store.Close()

	for _, path := range []string{"one", "two", "three", "four", "five"} {
		mustTouch(t, store, path)
		fake.Advance(time.Minute)
	}

	got := recentPaths(t, store, 2)
	if len(got) != 2 {
		t.Fatalf("got %d entries, want 2", len(got))
	}
	if got[0] != "five" || got[1] != "four" {
		t.Errorf("paths = %v, want [five four]", got)
	}
}

func TestClear(t *testing.T) {
	fake := clock.Fake(testBase)
	store := mustOpen(t, testConfig(t, fake))
	defer store.Close()

	mustTouch(t, store, "Web/GitHub")
	mustTouch(t, store, "Web/GitLab")

	if err := store.Clear(t.Context()); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if got := recentPaths(t, store, 0); len(got) != 0 {
		t.Errorf("got %d entries after Clear, want 0", len(got))
	}
}

func TestDatabaseChangeClears(t *testing.T) {
	fake := clock.Fake(testBase)
	cfg := testConfig(t, fake)

	store := mustOpen(t, cfg)
	mustTouch(t, store, "Old/Entry")
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Same store file and key, different password database.
	rebound := cfg
	rebound.Database = "/vaults/work.kdbx"
	store = mustOpen(t, rebound)
	if got := recentPaths(t, store, 0); len(got) != 0 {
		t.Fatalf("got %d entries after rebind, want 0", len(got))
	}
	mustTouch(t, store, "New/Entry")
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Reopening against the same database keeps the records.
	store = mustOpen(t, rebound)
	defer store.Close()
	got := recentPaths(t, store, 0)
	if len(got) != 1 || got[0] != "New/Entry" {
		t.Errorf("paths after reopen = %v, want [New/Entry]", got)
	}
}

func TestReplacedKeyFileClears(t *testing.T) {
	fake := clock.Fake(testBase)
	cfg := testConfig(t, fake)

	store := mustOpen(t, cfg)
	mustTouch(t, store, "Web/GitHub")
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// A lost key file regenerates on open. The old records are
	// undecryptable under the new key; the binding check clears them.
	if err := os.Remove(cfg.KeyFile); err != nil {
		t.Fatalf("Remove key file: %v", err)
	}
	store = mustOpen(t, cfg)
	defer store.Close()

	if got := recentPaths(t, store, 0); len(got) != 0 {
		t.Errorf("got %d entries under replaced key, want 0", len(got))
	}
}

func TestPlaintextNeverOnDisk(t *testing.T) {
	fake := clock.Fake(testBase)
	cfg := testConfig(t, fake)

	store := mustOpen(t, cfg)
	mustTouch(t, store, "Web/Sensitive Account")
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	for _, path := range []string{cfg.Path, cfg.Path + "-wal", cfg.Path + "-shm"} {
		raw, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			t.Fatalf("ReadFile(%s): %v", path, err)
		}
		if bytes.Contains(raw, []byte("Sensitive")) {
			t.Errorf("%s contains the entry path in plaintext", path)
		}
	}
}

func TestCorruptRecordSkipped(t *testing.T) {
	fake := clock.Fake(testBase)
	store := mustOpen(t, testConfig(t, fake))
	defer store.Close()

	mustTouch(t, store, "Web/GitHub")
	fake.Advance(time.Minute)
	mustTouch(t, store, "Web/GitLab")

	// Truncate the newest row's sealed blob below the minimum size.
	conn, err := store.pool.Take(t.Context())
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	err = sqlitex.Execute(conn, `
		UPDATE recents SET record = ? WHERE id = (
			SELECT id FROM recents ORDER BY touched DESC, id DESC LIMIT 1
		)`,
		&sqlitex.ExecOptions{
			Args: []any{[]byte{0x01, 0xde, 0xad}},
		})
	store.pool.Put(conn)
	if err != nil {
		t.Fatalf("UPDATE: %v", err)
	}

	got := recentPaths(t, store, 0)
	if len(got) != 1 || got[0] != "Web/GitHub" {
		t.Errorf("paths = %v, want [Web/GitHub]", got)
	}
}

func TestSealRecordBindsFingerprint(t *testing.T) {
	fake := clock.Fake(testBase)
	store := mustOpen(t, testConfig(t, fake))
	defer store.Close()

	sealed, err := store.sealRecord([]byte("payload"), "row-a")
	if err != nil {
		t.Fatalf("sealRecord: %v", err)
	}

	plaintext, err := store.openRecord(sealed, "row-a")
	if err != nil {
		t.Fatalf("openRecord: %v", err)
	}
	if string(plaintext) != "payload" {
		t.Errorf("plaintext = %q, want %q", plaintext, "payload")
	}

	// Sealed under row-a, presented as row-b: authentication fails.
	if _, err := store.openRecord(sealed, "row-b"); err == nil {
		t.Error("expected error for mismatched fingerprint")
	}

	// Flipping a ciphertext byte fails authentication.
	tampered := bytes.Clone(sealed)
	tampered[len(tampered)-1] ^= 0x01
	if _, err := store.openRecord(tampered, "row-a"); err == nil {
		t.Error("expected error for tampered ciphertext")
	}
}
