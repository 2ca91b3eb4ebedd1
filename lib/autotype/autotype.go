// Copyright 2026 The Keywarden Authors
// SPDX-License-Identifier: Apache-2.0

// Package autotype types credentials into the window that held focus
// when the user asked for them.
//
// A request moves through a strict phase order: every field is
// resolved into its own buffer first, then the target window is polled
// until it confirms focus, and only then do keystrokes flow. A focus
// confirmation that times out aborts the whole request before a single
// keystroke is injected; there is no partial injection into an
// unconfirmed window. Secrets reach the injection tool only through
// its stdin.
package autotype

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/keywarden/keywarden/lib/binpin"
	"github.com/keywarden/keywarden/lib/focus"
	"github.com/keywarden/keywarden/lib/runner"
	"github.com/keywarden/keywarden/lib/secret"
	"github.com/keywarden/keywarden/lib/session"
	"github.com/keywarden/keywarden/lib/store"
)

const injectHint = "install it with: apt install xdotool"

// defaultInjectTimeout bounds a single injection tool invocation.
const defaultInjectTimeout = 30 * time.Second

// Phase is the autotype state machine position.
type Phase int

const (
	// PhaseIdle: no request in flight.
	PhaseIdle Phase = iota
	// PhaseResolving: fetching field values from the store.
	PhaseResolving
	// PhaseAwaitingFocus: polling the target window for focus.
	PhaseAwaitingFocus
	// PhaseInjecting: keystrokes in flight.
	PhaseInjecting
	// PhaseDone: the last request completed.
	PhaseDone
	// PhaseAborted: the last request stopped before completing.
	PhaseAborted
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseResolving:
		return "resolving"
	case PhaseAwaitingFocus:
		return "awaiting-focus"
	case PhaseInjecting:
		return "injecting"
	case PhaseDone:
		return "done"
	case PhaseAborted:
		return "aborted"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Request names an entry, the fields to inject in order, and the
// window that must hold focus before any keystroke lands.
type Request struct {
	Entry  string
	Fields []secret.Kind

	// WindowID is the injection target, captured when the user issued
	// the command. Empty means no window was captured; injection then
	// proceeds without focus confirmation.
	WindowID string
}

// Config configures a Driver.
type Config struct {
	Store   *store.Client    // required
	Session *session.Manager // required
	Runner  *runner.Runner   // required

	// Poller confirms target focus and Tool reports probe tool
	// availability. Optional; without them injection is never gated
	// on focus.
	Poller *focus.Poller
	Tool   *focus.Tool

	// InjectTool is the keystroke injector binary.
	InjectTool string

	// FocusInterval / FocusMaxAttempts shape focus polling. Zero
	// selects the focus package defaults.
	FocusInterval    time.Duration
	FocusMaxAttempts int

	Logger *slog.Logger
}

// Driver performs autotype requests one at a time.
type Driver struct {
	store   *store.Client
	session *session.Manager
	runner  *runner.Runner
	poller  *focus.Poller
	tool    *focus.Tool
	pins    *binpin.Set
	logger  *slog.Logger

	injectTool    string
	injectTimeout time.Duration
	interval      time.Duration
	maxAttempts   int

	mu         sync.Mutex
	phase      Phase
	degraded   string
	warnedOnce bool
}

// New returns an idle Driver.
func New(config Config) (*Driver, error) {
	if config.Store == nil {
		return nil, fmt.Errorf("autotype: Store is required")
	}
	if config.Session == nil {
		return nil, fmt.Errorf("autotype: Session is required")
	}
	if config.Runner == nil {
		return nil, fmt.Errorf("autotype: Runner is required")
	}
	if config.InjectTool == "" {
		config.InjectTool = "xdotool"
	}
	if config.FocusInterval <= 0 {
		config.FocusInterval = focus.DefaultInterval
	}
	if config.FocusMaxAttempts <= 0 {
		config.FocusMaxAttempts = focus.DefaultMaxAttempts
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	return &Driver{
		store:         config.Store,
		session:       config.Session,
		runner:        config.Runner,
		poller:        config.Poller,
		tool:          config.Tool,
		pins:          config.Session.Pins(),
		logger:        config.Logger,
		injectTool:    config.InjectTool,
		injectTimeout: defaultInjectTimeout,
		interval:      config.FocusInterval,
		maxAttempts:   config.FocusMaxAttempts,
		phase:         PhaseIdle,
	}, nil
}

// Phase returns the driver's current phase.
func (d *Driver) Phase() Phase {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.phase
}

func (d *Driver) setPhase(phase Phase) {
	d.mu.Lock()
	d.phase = phase
	d.mu.Unlock()
}

// Perform resolves the requested fields, waits for the target window
// to confirm focus, and injects them. Every resolved buffer is wiped
// exactly once before return, whatever the outcome. The returned phase
// is PhaseDone or PhaseAborted.
func (d *Driver) Perform(ctx context.Context, request Request) (Phase, error) {
	if request.Entry == "" {
		return PhaseAborted, fmt.Errorf("autotype: entry path is required")
	}
	if len(request.Fields) == 0 {
		return PhaseAborted, fmt.Errorf("autotype: at least one field is required")
	}

	d.mu.Lock()
	d.degraded = ""
	d.mu.Unlock()

	d.setPhase(PhaseResolving)
	resolved, err := d.resolve(ctx, request)
	if err != nil {
		d.setPhase(PhaseAborted)
		return PhaseAborted, err
	}
	defer d.wipeResolved(resolved)

	d.setPhase(PhaseAwaitingFocus)
	if err := d.awaitFocus(ctx, request.WindowID); err != nil {
		d.setPhase(PhaseAborted)
		return PhaseAborted, err
	}

	if err := d.verifyInjector(); err != nil {
		d.setPhase(PhaseAborted)
		return PhaseAborted, err
	}

	d.setPhase(PhaseInjecting)
	if err := d.inject(ctx, resolved); err != nil {
		d.setPhase(PhaseAborted)
		return PhaseAborted, err
	}

	d.setPhase(PhaseDone)
	d.logger.Info("autotype complete",
		"entry", request.Entry,
		"fields", len(request.Fields),
	)
	return PhaseDone, nil
}

// resolve fetches every requested field into its own tracked buffer.
// On failure the partial set is wiped before returning.
func (d *Driver) resolve(ctx context.Context, request Request) ([]*secret.Buffer, error) {
	resolved := make([]*secret.Buffer, 0, len(request.Fields))
	for _, kind := range request.Fields {
		var buffer *secret.Buffer
		err := d.session.WithPassphrase(func(pass *secret.Buffer) error {
			var resolveErr error
			buffer, resolveErr = d.store.Attribute(ctx, pass, request.Entry, kind)
			return resolveErr
		})
		if err != nil {
			d.wipeResolved(resolved)
			return nil, fmt.Errorf("autotype: resolving %s for %s: %w", kind, request.Entry, err)
		}
		if err := d.session.Track(buffer); err != nil {
			d.wipeResolved(resolved)
			return nil, err
		}
		resolved = append(resolved, buffer)
	}
	return resolved, nil
}

// awaitFocus gates injection on the target window holding focus. A
// missing target or missing probe tooling degrades to unconfirmed
// injection with a one-time warning; a window that never confirms is
// a *focus.Error and nothing is injected.
func (d *Driver) awaitFocus(ctx context.Context, windowID string) error {
	if windowID == "" {
		d.degrade("no target window captured")
		return nil
	}
	if d.poller == nil || d.tool == nil {
		d.degrade("no focus tooling configured")
		return nil
	}
	if focus.Wayland() {
		d.degrade("wayland session, focus not observable")
		return nil
	}
	if err := d.tool.Available(); err != nil {
		d.degrade("focus tool unavailable")
		return nil
	}

	result, err := d.poller.WaitForFocus(ctx, windowID, d.interval, d.maxAttempts)
	if err != nil {
		return err
	}
	if result != focus.Focused {
		return &focus.Error{WindowID: windowID, Attempts: d.maxAttempts}
	}
	return nil
}

// verifyInjector checks the injection tool against its pinned digest.
// A tool that appeared after unlock is pinned now; a tool whose digest
// changed mid-session is refused.
func (d *Driver) verifyInjector() error {
	err := d.pins.Verify(d.injectTool)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, binpin.ErrNotPinned):
		path, lookErr := d.runner.LookPath(d.injectTool, injectHint)
		if lookErr != nil {
			return lookErr
		}
		if pinErr := d.pins.Pin(d.injectTool, path); pinErr != nil {
			return fmt.Errorf("autotype: pinning injection tool: %w", pinErr)
		}
		d.logger.Debug("injection tool pinned at first use", "tool", d.injectTool)
		return nil
	default:
		return fmt.Errorf("autotype: refusing injection: %w", err)
	}
}

// inject types the resolved fields in order: Tab between fields, and a
// final Return only after a multi-field sequence. A single field is
// typed bare so the caller decides when to submit.
func (d *Driver) inject(ctx context.Context, resolved []*secret.Buffer) error {
	for i, buffer := range resolved {
		if i > 0 {
			if err := d.pressKey(ctx, "Tab"); err != nil {
				return err
			}
		}
		if err := d.typeBuffer(ctx, buffer); err != nil {
			return err
		}
	}
	if len(resolved) > 1 {
		return d.pressKey(ctx, "Return")
	}
	return nil
}

// typeBuffer streams one buffer to the injector's stdin. The value
// never appears in the tool's argv or environment.
func (d *Driver) typeBuffer(ctx context.Context, buffer *secret.Buffer) error {
	_, err := d.runner.Run(ctx, runner.Spec{
		Command: d.injectTool,
		Args:    []string{"type", "--clearmodifiers", "--file", "-"},
		Stdin:   buffer,
		Timeout: d.injectTimeout,
		Hint:    injectHint,
	})
	if err != nil {
		return fmt.Errorf("autotype: typing %s field: %w", buffer.Kind(), err)
	}
	return nil
}

func (d *Driver) pressKey(ctx context.Context, name string) error {
	_, err := d.runner.Run(ctx, runner.Spec{
		Command: d.injectTool,
		Args:    []string{"key", name},
		Timeout: d.injectTimeout,
		Hint:    injectHint,
	})
	if err != nil {
		return fmt.Errorf("autotype: pressing %s: %w", name, err)
	}
	return nil
}

// wipeResolved wipes and unregisters every resolved buffer. Wipe is
// idempotent, so a buffer a concurrent force lock already wiped passes
// through quietly.
func (d *Driver) wipeResolved(resolved []*secret.Buffer) {
	for _, buffer := range resolved {
		if err := buffer.Wipe(); err != nil {
			d.logger.Warn("wiping autotype buffer",
				"kind", buffer.Kind().String(), "error", err)
		}
		d.session.Untrack(buffer)
	}
}

// degrade records that the current request injects without focus
// confirmation. The log line fires once per driver; the reason rides
// on every affected response.
func (d *Driver) degrade(reason string) {
	d.mu.Lock()
	d.degraded = reason
	warned := d.warnedOnce
	d.warnedOnce = true
	d.mu.Unlock()
	if !warned {
		d.logger.Warn("degraded autotype", "reason", reason)
	}
}

// DegradedReason reports why the last request skipped focus
// confirmation, or empty when focus was confirmed.
func (d *Driver) DegradedReason() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.degraded
}
