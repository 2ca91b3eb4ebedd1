// Copyright 2026 The Keywarden Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/keywarden/keywarden/lib/clock"
	"github.com/keywarden/keywarden/lib/focus"
	"github.com/keywarden/keywarden/lib/runner"
	"github.com/keywarden/keywarden/lib/secret"
	"github.com/keywarden/keywarden/lib/store"
)

// newInteractiveManager wires a Manager with window tooling against
// shim scripts, on the real clock with short focus intervals. The shim
// directory is the whole PATH and WAYLAND_DISPLAY is cleared so the
// X11 confirmation path runs.
func newInteractiveManager(t *testing.T, askpassScript, xdotoolScript, storeScript string) *Manager {
	t.Helper()
	dir := t.TempDir()
	writeShim(t, dir, "fake-askpass", askpassScript)
	writeShim(t, dir, "keepassxc-cli", storeScript)
	if xdotoolScript != "" {
		writeShim(t, dir, "xdotool", xdotoolScript)
	}
	t.Setenv("PATH", dir)
	t.Setenv("WAYLAND_DISPLAY", "")

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	run := runner.New(logger)
	tool := focus.NewTool(run, time.Second, logger)
	client, err := store.New(store.Config{
		Database: filepath.Join(dir, "vault.kdbx"),
		Runner:   run,
		Logger:   logger,
	})
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	manager, err := New(Config{
		Store:            client,
		Runner:           run,
		Clock:            clock.Real(),
		Poller:           focus.NewPoller(tool, clock.Real(), logger),
		WindowTool:       tool,
		AskpassCommand:   "fake-askpass",
		AskpassTimeout:   10 * time.Second,
		FocusInterval:    10 * time.Millisecond,
		FocusMaxAttempts: 5,
		Logger:           logger,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return manager
}

func TestManager_UnlockInteractive_FocusConfirmed(t *testing.T) {
	xdotool := `case "$1" in
search) echo 777 ;;
windowactivate) exit 0 ;;
getactivewindow) echo 777 ;;
esac`
	manager := newInteractiveManager(t,
		`sleep 0.2; echo "correct horse"`, xdotool, "exit 0")

	if err := manager.UnlockInteractive(t.Context()); err != nil {
		t.Fatalf("UnlockInteractive: %v", err)
	}
	if got := manager.State(); got != StateUnlocked {
		t.Fatalf("state = %v, want %v", got, StateUnlocked)
	}
	if manager.PromptFocusDegraded() {
		t.Error("prompt focus reported degraded on the confirmed path")
	}

	var seen string
	err := manager.WithPassphrase(func(p *secret.Buffer) error {
		return p.WithBytes(func(data []byte) error {
			seen = string(data)
			return nil
		})
	})
	if err != nil {
		t.Fatalf("WithPassphrase: %v", err)
	}
	if seen != "correct horse" {
		t.Errorf("cached passphrase = %q, want %q", seen, "correct horse")
	}
}

func TestManager_UnlockInteractive_FocusTimeout(t *testing.T) {
	// The active window never matches the prompt's, so confirmation
	// must exhaust its attempts, kill the prompt unread, and abort.
	xdotool := `case "$1" in
search) echo 777 ;;
windowactivate) exit 0 ;;
getactivewindow) echo 999 ;;
esac`
	manager := newInteractiveManager(t, "sleep 30", xdotool, "exit 0")

	start := time.Now()
	err := manager.UnlockInteractive(t.Context())
	var focusErr *UnlockFocusError
	if !errors.As(err, &focusErr) {
		t.Fatalf("UnlockInteractive error = %v, want *UnlockFocusError", err)
	}
	if focusErr.WindowID != "777" || focusErr.Attempts != 5 {
		t.Errorf("UnlockFocusError = %+v, want window 777 after 5 attempts", focusErr)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("abort took %v, prompt process not killed", elapsed)
	}
	if got := manager.State(); got != StateLocked {
		t.Errorf("state after focus abort = %v, want %v", got, StateLocked)
	}
}

func TestManager_UnlockInteractive_Cancelled(t *testing.T) {
	manager := newInteractiveManager(t, "exit 1", "exit 1", "exit 0")

	err := manager.UnlockInteractive(t.Context())
	if !errors.Is(err, ErrPromptCancelled) {
		t.Fatalf("UnlockInteractive error = %v, want ErrPromptCancelled", err)
	}
	if got := manager.State(); got != StateLocked {
		t.Errorf("state after cancel = %v, want %v", got, StateLocked)
	}
}

func TestManager_UnlockInteractive_NoWindowDegrades(t *testing.T) {
	// The window search never matches (tty askpass has no window); the
	// unlock proceeds without focus confirmation and flags the
	// degradation.
	manager := newInteractiveManager(t, `echo "correct horse"`, "exit 1", "exit 0")

	if err := manager.UnlockInteractive(t.Context()); err != nil {
		t.Fatalf("UnlockInteractive: %v", err)
	}
	if got := manager.State(); got != StateUnlocked {
		t.Fatalf("state = %v, want %v", got, StateUnlocked)
	}
	if !manager.PromptFocusDegraded() {
		t.Error("degraded prompt focus not flagged")
	}
}

func TestManager_UnlockInteractive_WrongPassphrase(t *testing.T) {
	storeScript := `echo "Error while reading the database: Invalid credentials provided" >&2; exit 1`
	manager := newInteractiveManager(t, `echo "wrong"`, "exit 1", storeScript)

	err := manager.UnlockInteractive(t.Context())
	if !errors.Is(err, store.ErrInvalidPassphrase) {
		t.Fatalf("UnlockInteractive error = %v, want store.ErrInvalidPassphrase", err)
	}
	if got := manager.State(); got != StateLocked {
		t.Errorf("state after wrong passphrase = %v, want %v", got, StateLocked)
	}
}

func TestPackagePassphrase(t *testing.T) {
	source := []byte("  spaced pass  \n")
	buffer, err := packagePassphrase(source)
	if err != nil {
		t.Fatalf("packagePassphrase: %v", err)
	}
	defer buffer.Wipe()

	err = buffer.WithBytes(func(data []byte) error {
		if string(data) != "  spaced pass  " {
			t.Errorf("packaged passphrase = %q, want %q", data, "  spaced pass  ")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithBytes: %v", err)
	}
	if !bytes.Equal(source, make([]byte, len(source))) {
		t.Error("source bytes not zeroed after packaging")
	}

	if _, err := packagePassphrase([]byte("\n")); err == nil {
		t.Error("empty prompt output did not error")
	}
}
