// Copyright 2026 The Keywarden Authors
// SPDX-License-Identifier: Apache-2.0

package watcher

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/keywarden/keywarden/lib/testutil"
)

// newTestWatcher starts a watcher over a real database file in a
// temporary directory with a short debounce. Change callbacks land on
// the returned channel.
func newTestWatcher(t *testing.T) (string, *Watcher, chan struct{}) {
	t.Helper()

	dir := t.TempDir()
	dbPath := filepath.Join(dir, "vault.kdbx")
	if err := os.WriteFile(dbPath, []byte("v1"), 0o600); err != nil {
		t.Fatalf("writing database: %v", err)
	}

	changes := make(chan struct{}, 8)
	w, err := New(Config{
		Path:     dbPath,
		Debounce: 150 * time.Millisecond,
		OnChange: func() { changes <- struct{}{} },
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		if err := w.Stop(); err != nil {
			t.Errorf("Stop: %v", err)
		}
	})
	return dbPath, w, changes
}

func waitChange(t *testing.T, changes chan struct{}) {
	t.Helper()
	testutil.RequireReceive(t, changes, 3*time.Second, "change callback")
}

func assertQuiet(t *testing.T, changes chan struct{}, window time.Duration) {
	t.Helper()

	select {
	case <-changes:
		t.Fatal("unexpected change callback")
	case <-time.After(window):
	}
}

func TestWriteTriggersChange(t *testing.T) {
	dbPath, _, changes := newTestWatcher(t)

	if err := os.WriteFile(dbPath, []byte("v2"), 0o600); err != nil {
		t.Fatalf("writing database: %v", err)
	}
	waitChange(t, changes)
}

func TestBurstCoalesced(t *testing.T) {
	dbPath, _, changes := newTestWatcher(t)

	for i := range 5 {
		if err := os.WriteFile(dbPath, []byte{byte(i)}, 0o600); err != nil {
			t.Fatalf("writing database: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	waitChange(t, changes)
	assertQuiet(t, changes, 400*time.Millisecond)
}

func TestAtomicReplaceTriggersChange(t *testing.T) {
	dbPath, _, changes := newTestWatcher(t)

	// KeePassXC-style save: temporary file renamed over the target.
	tmpPath := dbPath + ".tmp"
	if err := os.WriteFile(tmpPath, []byte("v2"), 0o600); err != nil {
		t.Fatalf("writing temp file: %v", err)
	}
	if err := os.Rename(tmpPath, dbPath); err != nil {
		t.Fatalf("renaming over database: %v", err)
	}
	waitChange(t, changes)
}

func TestSiblingFileIgnored(t *testing.T) {
	dbPath, _, changes := newTestWatcher(t)

	sibling := filepath.Join(filepath.Dir(dbPath), "other.kdbx")
	if err := os.WriteFile(sibling, []byte("x"), 0o600); err != nil {
		t.Fatalf("writing sibling: %v", err)
	}
	assertQuiet(t, changes, 400*time.Millisecond)
}

func TestRemoveTriggersChange(t *testing.T) {
	dbPath, _, changes := newTestWatcher(t)

	if err := os.Remove(dbPath); err != nil {
		t.Fatalf("removing database: %v", err)
	}
	waitChange(t, changes)
}

func TestStopPreventsCallbacks(t *testing.T) {
	dbPath, w, changes := newTestWatcher(t)

	if err := w.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := os.WriteFile(dbPath, []byte("v2"), 0o600); err != nil {
		t.Fatalf("writing database: %v", err)
	}
	assertQuiet(t, changes, 400*time.Millisecond)

	// Second Stop is a no-op.
	if err := w.Stop(); err != nil {
		t.Errorf("second Stop: %v", err)
	}
}

func TestNewValidation(t *testing.T) {
	if _, err := New(Config{OnChange: func() {}}); err == nil {
		t.Error("expected error for missing Path")
	}
	if _, err := New(Config{Path: "/tmp/x.kdbx"}); err == nil {
		t.Error("expected error for missing OnChange")
	}
}
