// Copyright 2026 The Keywarden Authors
// SPDX-License-Identifier: Apache-2.0

// Package clipboard places credentials on the system clipboard with a
// bounded lifetime.
//
// The store tool owns the actual clipboard write and the clear
// countdown; the coordinator's job is the parts around it: confirming
// a clipboard backend exists before any secret is fetched, delivering
// the passphrase over stdin, and supervising the clear so a failure is
// visible in the log rather than silent. The passphrase working buffer
// is wiped whether or not a backend exists.
package clipboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/keywarden/keywarden/lib/clock"
	"github.com/keywarden/keywarden/lib/focus"
	"github.com/keywarden/keywarden/lib/runner"
	"github.com/keywarden/keywarden/lib/secret"
	"github.com/keywarden/keywarden/lib/session"
	"github.com/keywarden/keywarden/lib/store"
)

// ErrUnavailable reports that no clipboard tool resolves on PATH. The
// store tool would fail in the middle of the copy otherwise; checking
// first keeps the failure clean and early.
var ErrUnavailable = errors.New("clipboard: no clipboard tool available")

// DefaultClearAfter is how long a copied secret stays on the clipboard
// when the caller does not say.
const DefaultClearAfter = 10 * time.Second

// defaultAckWindow is how long Copy waits for the store tool to fail
// fast before declaring the copy placed.
const defaultAckWindow = 2 * time.Second

// Transfer is a copy in flight: the secret is on the clipboard and the
// store tool is counting down to the clear.
type Transfer struct {
	Kind          secret.Kind
	ClearDeadline time.Time

	proc *runner.Proc
}

// Done is closed when the clear countdown finishes and the store tool
// exits.
func (t *Transfer) Done() <-chan struct{} { return t.proc.Done() }

// Wait blocks until the clear completes and returns its outcome.
func (t *Transfer) Wait() error {
	<-t.proc.Done()
	_, err := t.proc.Result()
	return err
}

// Config configures a Coordinator.
type Config struct {
	Store   *store.Client    // required
	Session *session.Manager // required
	Runner  *runner.Runner   // required
	Clock   clock.Clock      // required

	// AckWindow bounds how long Copy waits for an early store tool
	// failure. Zero selects the default.
	AckWindow time.Duration

	Logger *slog.Logger
}

// Coordinator copies credentials to the clipboard.
type Coordinator struct {
	store     *store.Client
	session   *session.Manager
	runner    *runner.Runner
	clock     clock.Clock
	ackWindow time.Duration
	logger    *slog.Logger
}

// New returns a Coordinator.
func New(config Config) (*Coordinator, error) {
	if config.Store == nil {
		return nil, fmt.Errorf("clipboard: Store is required")
	}
	if config.Session == nil {
		return nil, fmt.Errorf("clipboard: Session is required")
	}
	if config.Runner == nil {
		return nil, fmt.Errorf("clipboard: Runner is required")
	}
	if config.Clock == nil {
		return nil, fmt.Errorf("clipboard: Clock is required")
	}
	if config.AckWindow <= 0 {
		config.AckWindow = defaultAckWindow
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	return &Coordinator{
		store:     config.Store,
		session:   config.Session,
		runner:    config.Runner,
		clock:     config.Clock,
		ackWindow: config.AckWindow,
		logger:    config.Logger,
	}, nil
}

// Copy places one attribute of an entry on the clipboard for
// clearAfter (DefaultClearAfter when zero). It returns once the copy
// is placed; the clear countdown continues in the background and is
// observable through the returned Transfer.
func (c *Coordinator) Copy(ctx context.Context, entry string, kind secret.Kind, clearAfter time.Duration) (*Transfer, error) {
	if _, err := c.backend(); err != nil {
		return nil, err
	}
	if clearAfter <= 0 {
		clearAfter = DefaultClearAfter
	}

	var proc *runner.Proc
	err := c.session.WithPassphrase(func(pass *secret.Buffer) error {
		var startErr error
		proc, startErr = c.store.StartClip(ctx, pass, entry, kind, clearAfter)
		return startErr
	})
	if err != nil {
		return nil, err
	}
	deadline := c.clock.Now().Add(clearAfter)

	// The store tool copies immediately and then sleeps out the
	// countdown, so anything it has to say about a bad entry or a
	// clipboard failure arrives fast.
	select {
	case <-proc.Done():
		if _, err := proc.Result(); err != nil {
			return nil, fmt.Errorf("clipboard: copy failed: %w", err)
		}
	case <-c.clock.After(c.ackWindow):
	}

	go func() {
		<-proc.Done()
		if _, err := proc.Result(); err != nil {
			c.logger.Warn("clipboard clear did not complete",
				"kind", kind.String(), "error", err)
			return
		}
		c.logger.Debug("clipboard cleared", "kind", kind.String())
	}()

	c.logger.Info("copied to clipboard",
		"entry", entry,
		"kind", kind.String(),
		"clear_after", clearAfter,
	)
	return &Transfer{Kind: kind, ClearDeadline: deadline, proc: proc}, nil
}

// backend returns the first clipboard tool on PATH, preferring the
// native one for the session type.
func (c *Coordinator) backend() (string, error) {
	order := []string{"xclip", "xsel", "wl-copy"}
	if focus.Wayland() {
		order = []string{"wl-copy", "xclip", "xsel"}
	}
	for _, tool := range order {
		if _, err := c.runner.LookPath(tool, ""); err == nil {
			return tool, nil
		}
	}
	return "", fmt.Errorf("%w (install wl-clipboard, xclip, or xsel)", ErrUnavailable)
}
