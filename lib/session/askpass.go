// Copyright 2026 The Keywarden Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/keywarden/keywarden/lib/focus"
	"github.com/keywarden/keywarden/lib/runner"
	"github.com/keywarden/keywarden/lib/secret"
)

const askpassHint = "keywarden-askpass ships with the daemon; set session.askpass_command to use another ssh-askpass provider"

// promptWindowAttempts bounds how long UnlockInteractive waits for the
// prompt process to map a window before degrading.
const promptWindowAttempts = 10

// UnlockInteractive collects the passphrase through the configured
// askpass program and unlocks with it. The prompt's window is located
// by pid, activated, and polled for focus before any keystroke lands
// in it; if focus cannot be confirmed the prompt is killed unread and
// a *UnlockFocusError returned, safe to retry. An unlocatable prompt
// window (tty askpass, Wayland) degrades to an unconfirmed prompt with
// a one-time warning.
//
// The passphrase travels only through the child's stdout pipe. A
// cancelled prompt is ErrPromptCancelled; a wrong passphrase is
// store.ErrInvalidPassphrase.
func (m *Manager) UnlockInteractive(ctx context.Context) error {
	if err := m.beginUnlock(); err != nil {
		return err
	}

	pass, err := m.collectPassphrase(ctx)
	if err != nil {
		m.mu.Lock()
		m.state = StateLocked
		m.mu.Unlock()
		return err
	}
	return m.completeUnlock(ctx, pass)
}

// PromptFocusDegraded reports whether a passphrase prompt has run
// without focus confirmation this process lifetime.
func (m *Manager) PromptFocusDegraded() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.warnedNoPromptWindow
}

// collectPassphrase spawns the prompt, confirms its window is focused,
// and packages its stdout into a buffer.
func (m *Manager) collectPassphrase(ctx context.Context) (*secret.Buffer, error) {
	prompt := fmt.Sprintf("Unlock %s", filepath.Base(m.store.Database()))
	proc, err := m.runner.Start(ctx, runner.Spec{
		Command: m.askpassCommand,
		Args:    []string{prompt},
		Timeout: m.askpassTimeout,
		Hint:    askpassHint,
	})
	if err != nil {
		return nil, err
	}

	if err := m.confirmPromptFocused(ctx, proc); err != nil {
		proc.Kill()
		<-proc.Done()
		if result, _ := proc.Result(); len(result.Stdout) > 0 {
			secret.Zero(result.Stdout)
		}
		return nil, err
	}

	<-proc.Done()
	result, runErr := proc.Result()
	if runErr != nil {
		secret.Zero(result.Stdout)
		var toolErr *runner.ToolError
		if errors.As(runErr, &toolErr) {
			m.logger.Debug("passphrase prompt exited non-zero",
				"exit_code", toolErr.ExitCode)
			return nil, ErrPromptCancelled
		}
		return nil, runErr
	}
	return packagePassphrase(result.Stdout)
}

// confirmPromptFocused locates the prompt window and polls until it
// holds focus. Missing window tooling or an unlocatable window degrade
// rather than fail; only a located window that never takes focus is an
// error.
func (m *Manager) confirmPromptFocused(ctx context.Context, proc *runner.Proc) error {
	if m.windowTool == nil || m.poller == nil {
		m.warnPromptOnce("no window tooling configured, prompt focus not confirmed")
		return nil
	}
	if focus.Wayland() {
		m.warnPromptOnce("wayland session, prompt focus not confirmed")
		return nil
	}

	windowID, err := m.locatePromptWindow(ctx, proc.PID())
	if err != nil {
		var notFound *runner.ToolNotFoundError
		if errors.Is(err, focus.ErrNoWindow) || errors.As(err, &notFound) {
			m.warnPromptOnce("prompt window not locatable, focus not confirmed")
			return nil
		}
		return err
	}

	if err := m.windowTool.Activate(ctx, windowID); err != nil {
		m.logger.Debug("activating prompt window", "window", windowID, "error", err)
	}
	result, err := m.poller.WaitForFocus(ctx, windowID, m.focusInterval, m.focusMaxAttempts)
	if err != nil {
		return err
	}
	if result != focus.Focused {
		return &UnlockFocusError{WindowID: windowID, Attempts: m.focusMaxAttempts}
	}
	m.logger.Debug("prompt window focused", "window", windowID)
	return nil
}

// locatePromptWindow polls for the window owned by pid. The prompt
// needs a moment to map its window after exec, so ErrNoWindow retries
// until the attempt budget runs out.
func (m *Manager) locatePromptWindow(ctx context.Context, pid int) (string, error) {
	for attempt := 1; ; attempt++ {
		windowID, err := m.windowTool.WindowByPID(ctx, pid)
		if err == nil {
			return windowID, nil
		}
		if !errors.Is(err, focus.ErrNoWindow) {
			return "", err
		}
		if attempt >= promptWindowAttempts {
			return "", focus.ErrNoWindow
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-m.clock.After(m.focusInterval):
		}
	}
}

func (m *Manager) warnPromptOnce(reason string) {
	m.mu.Lock()
	warned := m.warnedNoPromptWindow
	m.warnedNoPromptWindow = true
	m.mu.Unlock()
	if !warned {
		m.logger.Warn("degraded passphrase prompt", "reason", reason)
	}
}

// packagePassphrase moves the prompt's stdout into a buffer, stripping
// the trailing newline the askpass contract appends. Interior and
// leading whitespace is preserved; only line endings are trimmed.
func packagePassphrase(stdout []byte) (*secret.Buffer, error) {
	view := bytes.TrimRight(stdout, "\r\n")
	if len(view) == 0 {
		secret.Zero(stdout)
		return nil, fmt.Errorf("session: passphrase prompt returned no input")
	}
	buffer, err := secret.New(secret.KindPassword, view)
	secret.Zero(stdout)
	if err != nil {
		return nil, fmt.Errorf("session: storing passphrase: %w", err)
	}
	return buffer, nil
}
