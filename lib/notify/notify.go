// Copyright 2026 The Keywarden Authors
// SPDX-License-Identifier: Apache-2.0

// Package notify posts desktop notifications over D-Bus
// (org.freedesktop.Notifications). The daemon uses it to announce
// session locks and clipboard hand-offs, which matter exactly when the
// user is not looking at a terminal.
//
// Notifications are best effort. When the session bus is unreachable
// (no graphical session, daemon started from a console) the notifier
// disables itself and every Send is a silent no-op; a failed send
// disables it the same way. Nothing in the engine depends on a
// notification being delivered, and notification bodies never carry
// secret material, only entry paths and reasons.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
)

const (
	busName    = "org.freedesktop.Notifications"
	objectPath = dbus.ObjectPath("/org/freedesktop/Notifications")
	methodName = "org.freedesktop.Notifications.Notify"

	// callTimeout bounds a Notify call so a wedged notification daemon
	// cannot stall the engine's lock path.
	callTimeout = 2 * time.Second

	// expireMillis asks the notification daemon to drop the popup
	// after five seconds.
	expireMillis = int32(5000)
)

// Notifier posts notifications on the session bus. Safe for concurrent
// use. The zero value is not usable; call New.
type Notifier struct {
	mu       sync.Mutex
	conn     *dbus.Conn
	disabled bool
	lastID   uint32
	logger   *slog.Logger
}

// New connects to the session bus. If the bus is unreachable the
// returned notifier is permanently disabled; this is logged once at
// debug level and is not an error.
func New(logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		logger.Debug("desktop notifications disabled", "error", err)
		return &Notifier{disabled: true, logger: logger}
	}
	return &Notifier{conn: conn, logger: logger}
}

// Enabled reports whether the session bus connection is up.
func (n *Notifier) Enabled() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return !n.disabled
}

// Send posts a notification, replacing the previous keywarden
// notification if it is still on screen so lock/copy notices never
// stack. Failures disable the notifier after a single warning.
func (n *Notifier) Send(summary, body string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.disabled {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	call := n.conn.Object(busName, objectPath).CallWithContext(ctx, methodName, 0, n.callArgs(summary, body)...)
	if call.Err != nil {
		n.logger.Warn("desktop notification failed, disabling notifications", "error", call.Err)
		n.disabled = true
		return
	}

	var id uint32
	if err := call.Store(&id); err == nil {
		n.lastID = id
	}
}

// callArgs builds the eight arguments of the Notify method in wire
// order: app name, replaces id, icon, summary, body, actions, hints,
// expire timeout.
func (n *Notifier) callArgs(summary, body string) []any {
	return []any{
		"keywarden",
		n.lastID,
		"dialog-password",
		summary,
		body,
		[]string{},
		map[string]dbus.Variant{
			"urgency":   dbus.MakeVariant(byte(1)),
			"transient": dbus.MakeVariant(true),
		},
		expireMillis,
	}
}

// Close releases the bus connection. Safe on a disabled notifier and
// safe to call more than once.
func (n *Notifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.conn == nil {
		return nil
	}
	conn := n.conn
	n.conn = nil
	n.disabled = true
	return conn.Close()
}
