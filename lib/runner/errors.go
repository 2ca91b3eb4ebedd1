// Copyright 2026 The Keywarden Authors
// SPDX-License-Identifier: Apache-2.0

package runner

import (
	"fmt"
	"time"
)

// ToolNotFoundError reports that an external tool is not on PATH. Hint,
// when set, tells the user how to install the tool and is surfaced
// verbatim in user-facing messages.
type ToolNotFoundError struct {
	Tool string
	Hint string
}

func (e *ToolNotFoundError) Error() string {
	if e.Hint == "" {
		return fmt.Sprintf("tool %q not found in PATH", e.Tool)
	}
	return fmt.Sprintf("tool %q not found in PATH (%s)", e.Tool, e.Hint)
}

// TimeoutError reports that a tool was forcibly terminated because it
// exceeded its time budget.
type TimeoutError struct {
	Tool    string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("tool %q killed after %s timeout", e.Tool, e.Timeout)
}

// ToolError reports a tool that ran to completion with a non-zero exit
// code. Stderr holds the tool's trimmed error output; a tool that
// failed silently still yields a ToolError rather than a fake success.
type ToolError struct {
	Tool     string
	ExitCode int
	Stderr   string
}

func (e *ToolError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("tool %q failed with exit code %d", e.Tool, e.ExitCode)
	}
	return fmt.Sprintf("tool %q failed with exit code %d: %s", e.Tool, e.ExitCode, e.Stderr)
}
