// Copyright 2026 The Keywarden Authors
// SPDX-License-Identifier: Apache-2.0

package notify

import (
	"io"
	"log/slog"
	"testing"

	"github.com/godbus/dbus/v5"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestUnreachableBusDisables(t *testing.T) {
	t.Setenv("DBUS_SESSION_BUS_ADDRESS", "unix:path=/nonexistent/keywarden-test-bus")

	n := New(testLogger())
	if n.Enabled() {
		t.Fatal("notifier enabled with unreachable bus")
	}

	// Sends on a disabled notifier are silent no-ops.
	n.Send("session locked", "inactivity")
	n.Send("copied", "Web/GitHub")

	if err := n.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if err := n.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestCallArgs(t *testing.T) {
	n := &Notifier{lastID: 42}
	args := n.callArgs("session locked", "inactivity timeout")

	if len(args) != 8 {
		t.Fatalf("got %d args, want 8", len(args))
	}
	if args[0] != "keywarden" {
		t.Errorf("app name = %v, want keywarden", args[0])
	}
	if args[1] != uint32(42) {
		t.Errorf("replaces id = %v, want 42", args[1])
	}
	if args[3] != "session locked" {
		t.Errorf("summary = %v", args[3])
	}
	if args[4] != "inactivity timeout" {
		t.Errorf("body = %v", args[4])
	}

	hints, ok := args[6].(map[string]dbus.Variant)
	if !ok {
		t.Fatalf("hints have type %T, want map[string]dbus.Variant", args[6])
	}
	if _, present := hints["urgency"]; !present {
		t.Error("hints missing urgency")
	}
	if args[7] != expireMillis {
		t.Errorf("expire = %v, want %d", args[7], expireMillis)
	}
}
