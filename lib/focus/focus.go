// Copyright 2026 The Keywarden Authors
// SPDX-License-Identifier: Apache-2.0

// Package focus confirms which window holds keyboard focus.
//
// Keystrokes injected into the wrong window are a credential leak, so
// the autotype driver and the unlock flow both gate on an explicit
// focus confirmation: probe the active window, compare it to the
// target, and only proceed on a match. The poller never uses a fixed
// sleep as a stand-in for confirmation; it probes on an injectable
// clock and reports TimedOut when the budget is exhausted, leaving the
// abort decision to the caller.
package focus

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/keywarden/keywarden/lib/clock"
)

// Polling defaults. A fifth of a second of latency is imperceptible
// next to window-manager animation; two seconds total is enough for
// any compositor to settle after an activation request.
const (
	DefaultInterval    = 100 * time.Millisecond
	DefaultMaxAttempts = 20
)

// Result is the outcome of a focus wait.
type Result int

const (
	// Focused means the target window held focus at some probe.
	Focused Result = iota
	// TimedOut means the probe budget was exhausted without a match.
	// TimedOut is an outcome, not an error; callers decide whether it
	// aborts the operation.
	TimedOut
)

func (r Result) String() string {
	switch r {
	case Focused:
		return "focused"
	case TimedOut:
		return "timed-out"
	default:
		return fmt.Sprintf("result(%d)", int(r))
	}
}

// Error reports that a target window failed to take focus within the
// polling budget. The autotype driver aborts with this error rather
// than inject into whatever window happens to be active.
type Error struct {
	WindowID string
	Attempts int
}

func (e *Error) Error() string {
	return fmt.Sprintf("window %s did not take focus after %d checks", e.WindowID, e.Attempts)
}

// Prober reports the currently focused window. The production
// implementation is Tool; tests script their own.
type Prober interface {
	ActiveWindow(ctx context.Context) (string, error)
}

// Poller polls a Prober until a target window holds focus or a probe
// budget runs out.
type Poller struct {
	prober Prober
	clock  clock.Clock
	logger *slog.Logger
}

// NewPoller returns a Poller probing through prober on clk.
func NewPoller(prober Prober, clk clock.Clock, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Poller{
		prober: prober,
		clock:  clk,
		logger: logger,
	}
}

// WaitForFocus probes until windowID holds focus, waiting interval
// between probes. It returns Focused as soon as a probe matches, and
// TimedOut with a nil error after exactly maxAttempts non-matching
// probes. A probe that errors consumes an attempt; the window tool may
// recover on the next one. Window ids in decimal and hex forms compare
// equal.
//
// The first probe happens immediately; intervals separate probes, so a
// call makes maxAttempts probes and maxAttempts-1 waits.
func (p *Poller) WaitForFocus(ctx context.Context, windowID string, interval time.Duration, maxAttempts int) (Result, error) {
	if maxAttempts < 1 {
		return TimedOut, fmt.Errorf("focus: max attempts must be at least 1, got %d", maxAttempts)
	}
	target, err := NormalizeWindowID(windowID)
	if err != nil {
		return TimedOut, fmt.Errorf("focus: target window: %w", err)
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return TimedOut, ctx.Err()
			case <-p.clock.After(interval):
			}
		}

		active, err := p.prober.ActiveWindow(ctx)
		if err != nil {
			p.logger.Debug("focus probe failed", "attempt", attempt, "error", err)
			continue
		}
		if normalized, err := NormalizeWindowID(active); err == nil && normalized == target {
			p.logger.Debug("focus confirmed", "window", target, "attempt", attempt)
			return Focused, nil
		}
	}

	p.logger.Debug("focus wait exhausted", "window", target, "attempts", maxAttempts)
	return TimedOut, nil
}
