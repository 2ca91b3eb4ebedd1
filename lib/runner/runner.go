// Copyright 2026 The Keywarden Authors
// SPDX-License-Identifier: Apache-2.0

// Package runner executes the external tools the engine orchestrates:
// the credential store CLI, the window tool, and the keystroke
// injector. It is the only package that spawns processes.
//
// The runner's contract is the engine's secret-transport rule: a
// payload travels to a child exclusively through its stdin pipe,
// streamed directly from the caller's locked buffer. It never rides
// in argv, the environment, or a log line.
// Every call carries a timeout; a child that exceeds it is killed and
// reported as a TimeoutError, and a child that exits non-zero is
// reported as a ToolError carrying its stderr, so no tool failure
// passes silently.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/keywarden/keywarden/lib/secret"
)

// stderrLimit bounds captured stderr. Tool diagnostics beyond this are
// discarded; the leading bytes carry the actual error.
const stderrLimit = 4096

// Spec describes one tool invocation.
type Spec struct {
	// Command is the tool name (resolved via PATH) or an absolute
	// path.
	Command string

	// Args is the argument list. Secret material must never appear
	// here; use Stdin.
	Args []string

	// Stdin, when non-nil, is streamed to the child's stdin pipe and
	// the pipe closed promptly afterward to signal end-of-input. The
	// bytes move directly from the locked buffer to the pipe with no
	// intermediate heap copy.
	Stdin *secret.Buffer

	// Timeout bounds the child's lifetime. Zero means the call is
	// bounded only by the caller's context.
	Timeout time.Duration

	// Hint is an installation hint included in ToolNotFoundError,
	// e.g. "install xdotool: sudo apt install xdotool".
	Hint string
}

// Result holds a completed invocation's output.
//
// Stdout is returned as a byte slice because it may carry secret
// material (an attribute fetch); callers that move it into a
// secret.Buffer must zero the slice afterward with secret.Zero.
type Result struct {
	Stdout   []byte
	ExitCode int
}

// Runner spawns and supervises external tools.
type Runner struct {
	logger *slog.Logger

	// lookPath resolves a command name. Defaults to exec.LookPath;
	// injectable so tests can simulate missing tools.
	lookPath func(name string) (string, error)
}

// New returns a Runner logging through logger.
func New(logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Runner{
		logger:   logger,
		lookPath: exec.LookPath,
	}
}

// LookPath reports whether the named tool resolves on PATH, returning
// its path. A miss is a *ToolNotFoundError carrying hint.
func (r *Runner) LookPath(name, hint string) (string, error) {
	path, err := r.lookPath(name)
	if err != nil {
		return "", &ToolNotFoundError{Tool: name, Hint: hint}
	}
	return path, nil
}

// Run executes the tool described by spec and blocks until it exits or
// its timeout elapses. On timeout the child is killed and the call
// fails with *TimeoutError; a non-zero exit fails with *ToolError.
func (r *Runner) Run(ctx context.Context, spec Spec) (Result, error) {
	proc, err := r.Start(ctx, spec)
	if err != nil {
		return Result{ExitCode: -1}, err
	}
	<-proc.Done()
	return proc.Result()
}

// Start launches the tool and returns without waiting for it to exit.
// The two supervised callers are the clipboard coordinator (the clip
// tool holds the clipboard for its clear countdown) and the unlock
// prompt (the askpass child runs while the user types). Everyone else
// uses Run.
//
// The stdin payload, if any, is fully written and the pipe closed
// before Start returns.
func (r *Runner) Start(ctx context.Context, spec Spec) (*Proc, error) {
	if spec.Command == "" {
		return nil, fmt.Errorf("runner: empty command")
	}

	path, err := r.LookPath(spec.Command, spec.Hint)
	if err != nil {
		return nil, err
	}

	runCtx := ctx
	cancel := context.CancelFunc(func() {})
	if spec.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, spec.Timeout)
	}

	command := exec.CommandContext(runCtx, path, spec.Args...)
	// The environment is inherited untouched: the runner never adds
	// anything, so the payload cannot leak through it.

	// Run the tool in its own process group so a timeout kill reaches
	// the tool and all its children. Without Setpgid, only the tool
	// receives the signal; a forked child (wl-copy daemonizes to serve
	// the clipboard) would survive holding the inherited stdout pipe,
	// blocking the output readers past the deadline.
	command.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	command.Cancel = func() error {
		return syscall.Kill(-command.Process.Pid, syscall.SIGKILL)
	}

	stdoutPipe, err := command.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("runner: stdout pipe for %s: %w", spec.Command, err)
	}
	stderrPipe, err := command.StderrPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("runner: stderr pipe for %s: %w", spec.Command, err)
	}

	var stdinPipe io.WriteCloser
	if spec.Stdin != nil {
		stdinPipe, err = command.StdinPipe()
		if err != nil {
			cancel()
			return nil, fmt.Errorf("runner: stdin pipe for %s: %w", spec.Command, err)
		}
	}

	if err := command.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("runner: starting %s: %w", spec.Command, err)
	}

	r.logger.Debug("tool started",
		"tool", spec.Command,
		"args", len(spec.Args),
		"pid", command.Process.Pid,
		"stdin_payload", spec.Stdin != nil,
	)

	proc := &Proc{
		tool:      spec.Command,
		timeout:   spec.Timeout,
		command:   command,
		runCtx:    runCtx,
		parentCtx: ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	// Stream the payload straight from the locked buffer into the
	// pipe. The buffer's mutex is held for the write, so a concurrent
	// wipe is ordered entirely before (write fails with ErrWiped) or
	// entirely after it. A child that never reads is killed by the
	// timeout context, which unblocks the write with EPIPE.
	if spec.Stdin != nil {
		writeErr := spec.Stdin.WithBytes(func(data []byte) error {
			_, err := stdinPipe.Write(data)
			return err
		})
		if closeErr := stdinPipe.Close(); writeErr == nil {
			writeErr = closeErr
		}
		proc.payloadErr = writeErr
	}

	go proc.supervise(stdoutPipe, stderrPipe)
	return proc, nil
}

// Proc is a started tool invocation. Wait for Done, then read Result.
type Proc struct {
	tool      string
	timeout   time.Duration
	command   *exec.Cmd
	runCtx    context.Context
	parentCtx context.Context
	cancel    context.CancelFunc
	done      chan struct{}

	payloadErr error
	result     Result
	runErr     error
}

// Done is closed when the child has exited and its output has been
// collected.
func (p *Proc) Done() <-chan struct{} { return p.done }

// PID returns the child's process id.
func (p *Proc) PID() int { return p.command.Process.Pid }

// Kill forcibly terminates the child and its process group. The
// supervising goroutine still collects the exit status; wait for Done
// before reading Result.
func (p *Proc) Kill() {
	// ESRCH from an already-exited group is harmless.
	_ = syscall.Kill(-p.command.Process.Pid, syscall.SIGKILL)
}

// Result returns the collected output and the classified error. Only
// valid after Done is closed.
func (p *Proc) Result() (Result, error) {
	select {
	case <-p.done:
	default:
		return Result{ExitCode: -1}, fmt.Errorf("runner: %s still running", p.tool)
	}
	return p.result, p.runErr
}

// supervise collects output, waits for exit, and classifies the
// outcome.
func (p *Proc) supervise(stdoutPipe, stderrPipe io.Reader) {
	defer close(p.done)
	defer p.cancel()

	var stdout scrubBuffer
	var stderr bytes.Buffer

	var readers sync.WaitGroup
	readers.Add(2)
	go func() {
		defer readers.Done()
		stdout.readFrom(stdoutPipe)
	}()
	go func() {
		defer readers.Done()
		readLimited(&stderr, stderrPipe, stderrLimit)
	}()
	readers.Wait()

	waitErr := p.command.Wait()

	exitCode := 0
	if p.command.ProcessState != nil {
		exitCode = p.command.ProcessState.ExitCode()
	}
	p.result = Result{Stdout: stdout.data, ExitCode: exitCode}
	p.runErr = p.classify(waitErr, strings.TrimSpace(stderr.String()))
}

// classify maps a wait outcome onto the error taxonomy. Order matters:
// a timeout kill also surfaces as an ExitError, so the context is
// checked first.
func (p *Proc) classify(waitErr error, stderrText string) error {
	if p.runCtx.Err() == context.DeadlineExceeded && p.parentCtx.Err() == nil {
		return &TimeoutError{Tool: p.tool, Timeout: p.timeout}
	}
	if p.parentCtx.Err() != nil {
		return fmt.Errorf("runner: %s: %w", p.tool, p.parentCtx.Err())
	}

	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		return &ToolError{Tool: p.tool, ExitCode: exitErr.ExitCode(), Stderr: stderrText}
	}
	if waitErr != nil {
		return fmt.Errorf("runner: waiting for %s: %w", p.tool, waitErr)
	}
	if p.payloadErr != nil {
		return fmt.Errorf("runner: writing payload to %s stdin: %w", p.tool, p.payloadErr)
	}
	return nil
}

// scrubBuffer accumulates subprocess stdout, zeroing every outgrown
// backing array so secret-bearing output leaves no stale heap copies
// behind. The final array is handed to the caller, whose duty it is to
// zero it after use.
type scrubBuffer struct {
	data []byte
}

func (s *scrubBuffer) readFrom(r io.Reader) {
	chunk := make([]byte, 4096)
	defer secret.Zero(chunk)

	for {
		n, err := r.Read(chunk)
		if n > 0 {
			s.append(chunk[:n])
		}
		if err != nil {
			return
		}
	}
}

func (s *scrubBuffer) append(chunk []byte) {
	if len(s.data)+len(chunk) > cap(s.data) {
		grown := make([]byte, len(s.data), max(2*cap(s.data), len(s.data)+len(chunk)))
		copy(grown, s.data)
		secret.Zero(s.data)
		s.data = grown
	}
	s.data = append(s.data, chunk...)
}

// readLimited copies up to limit bytes from r into buffer, then
// discards the remainder.
func readLimited(buffer *bytes.Buffer, r io.Reader, limit int64) {
	io.Copy(buffer, io.LimitReader(r, limit))
	io.Copy(io.Discard, r)
}
