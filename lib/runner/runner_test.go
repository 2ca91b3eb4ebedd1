// Copyright 2026 The Keywarden Authors
// SPDX-License-Identifier: Apache-2.0

package runner

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/keywarden/keywarden/lib/secret"
	"github.com/keywarden/keywarden/lib/testutil"
)

func testRunner() *Runner {
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRun_CapturesStdout(t *testing.T) {
	result, err := testRunner().Run(t.Context(), Spec{
		Command: "sh",
		Args:    []string{"-c", "printf 'hello from tool'"},
		Timeout: 10 * time.Second,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := string(result.Stdout); got != "hello from tool" {
		t.Errorf("stdout = %q, want %q", got, "hello from tool")
	}
	if result.ExitCode != 0 {
		t.Errorf("exit code = %d, want 0", result.ExitCode)
	}
}

func TestRun_NonZeroExitIsToolError(t *testing.T) {
	_, err := testRunner().Run(t.Context(), Spec{
		Command: "sh",
		Args:    []string{"-c", "echo oops >&2; exit 3"},
		Timeout: 10 * time.Second,
	})
	var toolErr *ToolError
	if !errors.As(err, &toolErr) {
		t.Fatalf("Run error = %v, want *ToolError", err)
	}
	if toolErr.ExitCode != 3 {
		t.Errorf("exit code = %d, want 3", toolErr.ExitCode)
	}
	if toolErr.Stderr != "oops" {
		t.Errorf("stderr = %q, want %q (trimmed)", toolErr.Stderr, "oops")
	}
	if toolErr.Tool != "sh" {
		t.Errorf("tool = %q, want sh", toolErr.Tool)
	}
}

func TestRun_MissingToolIsToolNotFoundError(t *testing.T) {
	_, err := testRunner().Run(t.Context(), Spec{
		Command: "keywarden-test-no-such-tool",
		Hint:    "install the tool to proceed",
	})
	var notFound *ToolNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("Run error = %v, want *ToolNotFoundError", err)
	}
	if notFound.Tool != "keywarden-test-no-such-tool" {
		t.Errorf("tool = %q", notFound.Tool)
	}
	if !strings.Contains(notFound.Error(), "install the tool to proceed") {
		t.Errorf("error message %q missing install hint", notFound.Error())
	}
}

func TestRun_StdinPayloadDelivered(t *testing.T) {
	payload, err := secret.New(secret.KindPassword, []byte("swordfish"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer payload.Wipe()

	result, err := testRunner().Run(t.Context(), Spec{
		Command: "cat",
		Stdin:   payload,
		Timeout: 10 * time.Second,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := string(result.Stdout); got != "swordfish" {
		t.Errorf("child received %q on stdin, want %q", got, "swordfish")
	}

	// Delivering the payload must not consume the buffer; the caller
	// decides when to wipe.
	if payload.Wiped() {
		t.Error("buffer wiped by Run; wipe belongs to the caller")
	}
}

// TestRun_PayloadAbsentFromArgvAndEnvironment probes the child's own
// view of its command line and environment: the payload travels only
// through the stdin pipe.
func TestRun_PayloadAbsentFromArgvAndEnvironment(t *testing.T) {
	const plaintext = "hunter2-argv-probe-payload"
	payload, err := secret.New(secret.KindPassword, []byte(plaintext))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer payload.Wipe()

	result, err := testRunner().Run(t.Context(), Spec{
		Command: "sh",
		Args:    []string{"-c", `tr '\0' '\n' < /proc/self/cmdline; env`},
		Stdin:   payload,
		Timeout: 10 * time.Second,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if strings.Contains(string(result.Stdout), plaintext) {
		t.Error("payload visible in child argv or environment")
	}
}

func TestRun_TimeoutKillsChild(t *testing.T) {
	start := time.Now()
	_, err := testRunner().Run(t.Context(), Spec{
		Command: "sh",
		Args:    []string{"-c", "sleep 30"},
		Timeout: 100 * time.Millisecond,
	})
	elapsed := time.Since(start)

	var timeoutErr *TimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("Run error = %v, want *TimeoutError", err)
	}
	if timeoutErr.Timeout != 100*time.Millisecond {
		t.Errorf("timeout = %v, want 100ms", timeoutErr.Timeout)
	}
	if elapsed > 5*time.Second {
		t.Errorf("Run blocked %v after timeout; child not killed promptly", elapsed)
	}
}

// TestRun_TimeoutKillsProcessGroup starts a shell whose child inherits
// stdout. Killing only the shell would leave the child holding the
// pipe and Run blocked until the child exits on its own.
func TestRun_TimeoutKillsProcessGroup(t *testing.T) {
	start := time.Now()
	_, err := testRunner().Run(t.Context(), Spec{
		Command: "sh",
		Args:    []string{"-c", "sleep 30 & wait"},
		Timeout: 100 * time.Millisecond,
	})
	elapsed := time.Since(start)

	var timeoutErr *TimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("Run error = %v, want *TimeoutError", err)
	}
	if elapsed > 5*time.Second {
		t.Errorf("Run blocked %v; process group not killed", elapsed)
	}
}

func TestRun_ParentContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := testRunner().Run(ctx, Spec{
		Command: "sh",
		Args:    []string{"-c", "sleep 30"},
		Timeout: 10 * time.Second,
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run error = %v, want context.Canceled", err)
	}
	var timeoutErr *TimeoutError
	if errors.As(err, &timeoutErr) {
		t.Error("parent cancellation misreported as tool timeout")
	}
}

func TestRun_WipedStdinBuffer(t *testing.T) {
	payload, err := secret.New(secret.KindPassword, []byte("gone"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := payload.Wipe(); err != nil {
		t.Fatalf("Wipe: %v", err)
	}

	_, err = testRunner().Run(t.Context(), Spec{
		Command: "cat",
		Stdin:   payload,
		Timeout: 10 * time.Second,
	})
	if !errors.Is(err, secret.ErrWiped) {
		t.Fatalf("Run error = %v, want wrapped secret.ErrWiped", err)
	}
}

func TestRun_EmptyCommand(t *testing.T) {
	_, err := testRunner().Run(t.Context(), Spec{})
	if err == nil {
		t.Fatal("Run with empty command succeeded")
	}
}

func TestStart_ResultBeforeExit(t *testing.T) {
	proc, err := testRunner().Start(t.Context(), Spec{
		Command: "sh",
		Args:    []string{"-c", "sleep 30"},
		Timeout: 10 * time.Second,
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		proc.Kill()
		<-proc.Done()
	}()

	if _, err := proc.Result(); err == nil {
		t.Error("Result before exit succeeded, want still-running error")
	}
	if proc.PID() <= 0 {
		t.Errorf("PID = %d", proc.PID())
	}
}

func TestStart_KillThenResult(t *testing.T) {
	proc, err := testRunner().Start(t.Context(), Spec{
		Command: "sh",
		Args:    []string{"-c", "sleep 30"},
		Timeout: 10 * time.Second,
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	proc.Kill()
	testutil.RequireClosed(t, proc.Done(), 5*time.Second, "child exit after Kill")

	_, err = proc.Result()
	var toolErr *ToolError
	if !errors.As(err, &toolErr) {
		t.Fatalf("Result error = %v, want *ToolError for killed child", err)
	}
	if toolErr.ExitCode != -1 {
		t.Errorf("exit code = %d, want -1 for signal death", toolErr.ExitCode)
	}
}

func TestStart_CompletesNormally(t *testing.T) {
	proc, err := testRunner().Start(t.Context(), Spec{
		Command: "sh",
		Args:    []string{"-c", "printf done"},
		Timeout: 10 * time.Second,
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	testutil.RequireClosed(t, proc.Done(), 5*time.Second, "child exit")

	result, err := proc.Result()
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	if got := string(result.Stdout); got != "done" {
		t.Errorf("stdout = %q", got)
	}
}

func TestLookPath_Found(t *testing.T) {
	path, err := testRunner().LookPath("sh", "")
	if err != nil {
		t.Fatalf("LookPath(sh): %v", err)
	}
	if path == "" {
		t.Error("LookPath returned empty path")
	}
}

func TestRun_StderrCapped(t *testing.T) {
	// 64 KiB of stderr; the captured portion is bounded and the child
	// still drains without blocking on a full pipe.
	_, err := testRunner().Run(t.Context(), Spec{
		Command: "sh",
		Args:    []string{"-c", "yes error-line | head -c 65536 >&2; exit 1"},
		Timeout: 10 * time.Second,
	})
	var toolErr *ToolError
	if !errors.As(err, &toolErr) {
		t.Fatalf("Run error = %v, want *ToolError", err)
	}
	if len(toolErr.Stderr) > stderrLimit {
		t.Errorf("captured stderr %d bytes, limit %d", len(toolErr.Stderr), stderrLimit)
	}
}

func TestScrubBuffer_ZeroesOutgrownArrays(t *testing.T) {
	var buffer scrubBuffer
	buffer.append([]byte("first"))
	old := buffer.data

	// Force growth past the first array's capacity.
	buffer.append([]byte(strings.Repeat("x", 4096)))

	for i, b := range old[:5] {
		if b != 0 {
			t.Fatalf("outgrown array byte %d = %q, want zeroed", i, b)
		}
	}
	if !strings.HasPrefix(string(buffer.data), "first") {
		t.Errorf("grown buffer lost prefix: %q", buffer.data[:10])
	}
}
