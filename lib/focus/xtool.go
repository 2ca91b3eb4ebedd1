// Copyright 2026 The Keywarden Authors
// SPDX-License-Identifier: Apache-2.0

package focus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/keywarden/keywarden/lib/runner"
)

const (
	xdotoolHint = "install xdotool (e.g. sudo apt install xdotool)"
	xpropHint   = "install x11-utils for xprop (e.g. sudo apt install x11-utils)"

	defaultProbeTimeout = 2 * time.Second
)

// ErrNoWindow reports that a window lookup matched nothing. The unlock
// flow treats it as a degraded condition (a terminal prompt has no X
// window to find), not a failure.
var ErrNoWindow = errors.New("focus: no window found")

// Tool queries and manipulates windows by shelling out to xdotool,
// with an xprop fallback for the active-window probe. Both read the
// same _NET_ACTIVE_WINDOW root property; xprop ships with the X11
// base utilities and survives on systems without xdotool.
//
// Under Wayland these tools only see XWayland windows; Wayland reports
// that so the daemon can warn once.
type Tool struct {
	runner  *runner.Runner
	timeout time.Duration
	logger  *slog.Logger
}

// NewTool returns a Tool running probes through r. probeTimeout bounds
// each tool invocation; zero selects a default.
func NewTool(r *runner.Runner, probeTimeout time.Duration, logger *slog.Logger) *Tool {
	if probeTimeout <= 0 {
		probeTimeout = defaultProbeTimeout
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Tool{
		runner:  r,
		timeout: probeTimeout,
		logger:  logger,
	}
}

// Available reports whether the primary window tool resolves on PATH.
// A miss is a *runner.ToolNotFoundError carrying an install hint; the
// daemon degrades focus confirmation rather than refusing to start.
func (t *Tool) Available() error {
	_, err := t.runner.LookPath("xdotool", xdotoolHint)
	return err
}

// ActiveWindow returns the normalized id of the currently focused
// window.
func (t *Tool) ActiveWindow(ctx context.Context) (string, error) {
	result, err := t.runner.Run(ctx, runner.Spec{
		Command: "xdotool",
		Args:    []string{"getactivewindow"},
		Timeout: t.timeout,
		Hint:    xdotoolHint,
	})
	if err == nil {
		return NormalizeWindowID(string(result.Stdout))
	}

	// xdotool missing or unable to query. xprop reads the same root
	// property through a separate client, so try it before giving up.
	xpropResult, xpropErr := t.runner.Run(ctx, runner.Spec{
		Command: "xprop",
		Args:    []string{"-root", "_NET_ACTIVE_WINDOW"},
		Timeout: t.timeout,
		Hint:    xpropHint,
	})
	if xpropErr != nil {
		return "", fmt.Errorf("focus: active window: %w (xprop fallback: %v)", err, xpropErr)
	}
	return parseActiveWindow(string(xpropResult.Stdout))
}

// Activate asks the window manager to raise and focus the window.
// Activation is a request, not a guarantee; callers confirm with
// Poller.WaitForFocus before trusting that input flows to the window.
func (t *Tool) Activate(ctx context.Context, windowID string) error {
	id, err := NormalizeWindowID(windowID)
	if err != nil {
		return fmt.Errorf("focus: activate: %w", err)
	}

	_, err = t.runner.Run(ctx, runner.Spec{
		Command: "xdotool",
		Args:    []string{"windowactivate", id},
		Timeout: t.timeout,
		Hint:    xdotoolHint,
	})
	if err != nil {
		return fmt.Errorf("focus: activating window %s: %w", id, err)
	}
	return nil
}

// WindowByPID returns the id of a visible window owned by the process,
// or ErrNoWindow when the process has none. With several matches the
// last is returned; for a freshly spawned prompt there is normally
// exactly one.
func (t *Tool) WindowByPID(ctx context.Context, pid int) (string, error) {
	result, err := t.runner.Run(ctx, runner.Spec{
		Command: "xdotool",
		Args:    []string{"search", "--onlyvisible", "--pid", strconv.Itoa(pid)},
		Timeout: t.timeout,
		Hint:    xdotoolHint,
	})
	if err != nil {
		// search exits 1 with no output when nothing matches.
		var toolErr *runner.ToolError
		if errors.As(err, &toolErr) && toolErr.ExitCode == 1 {
			return "", ErrNoWindow
		}
		return "", fmt.Errorf("focus: window search for pid %d: %w", pid, err)
	}

	ids := strings.Fields(string(result.Stdout))
	if len(ids) == 0 {
		return "", ErrNoWindow
	}
	return NormalizeWindowID(ids[len(ids)-1])
}

// Wayland reports whether the session runs a Wayland compositor, where
// X11 window tools only see XWayland clients and focus confirmation is
// unreliable for native windows.
func Wayland() bool {
	return os.Getenv("WAYLAND_DISPLAY") != ""
}

// NormalizeWindowID converts a window id in decimal (xdotool) or hex
// (xprop) form to a canonical decimal string, so ids captured by
// different tools compare equal.
func NormalizeWindowID(id string) (string, error) {
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return "", errors.New("empty window id")
	}
	value, err := strconv.ParseUint(trimmed, 0, 64)
	if err != nil {
		return "", fmt.Errorf("window id %q is not numeric", trimmed)
	}
	return strconv.FormatUint(value, 10), nil
}

// parseActiveWindow extracts the window id from xprop output of the
// form "_NET_ACTIVE_WINDOW(WINDOW): window id # 0x1400007".
func parseActiveWindow(output string) (string, error) {
	fields := strings.Fields(output)
	if len(fields) < 5 {
		return "", fmt.Errorf("focus: unexpected xprop output %q", strings.TrimSpace(output))
	}
	id, err := NormalizeWindowID(fields[len(fields)-1])
	if err != nil {
		return "", fmt.Errorf("focus: xprop active window: %w", err)
	}
	if id == "0" {
		return "", errors.New("focus: no active window")
	}
	return id, nil
}
