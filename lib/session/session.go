// Copyright 2026 The Keywarden Authors
// SPDX-License-Identifier: Apache-2.0

// Package session owns the engine's lock state machine and everything
// whose lifetime is bound to it: the sealed passphrase cache, the
// registry of live secret buffers, the inactivity timer, and the tool
// binary pins.
//
// The manager's mutex guards state transitions and the registry. It is
// never held across a subprocess call, so a stalled store invocation
// cannot delay the inactivity timer's force-lock: the timer fires on
// its own schedule, wipes every registered buffer, and forces the
// state to Locked regardless of what else is in flight.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/keywarden/keywarden/lib/binpin"
	"github.com/keywarden/keywarden/lib/clock"
	"github.com/keywarden/keywarden/lib/focus"
	"github.com/keywarden/keywarden/lib/runner"
	"github.com/keywarden/keywarden/lib/sealed"
	"github.com/keywarden/keywarden/lib/secret"
	"github.com/keywarden/keywarden/lib/store"
)

// State is the session lock state.
type State int

const (
	// StateLocked: no cached passphrase, no live buffers.
	StateLocked State = iota
	// StateUnlocking: a passphrase is being collected or verified.
	StateUnlocking
	// StateUnlocked: passphrase sealed in memory, operations allowed.
	StateUnlocked
	// StateForceLocking: a lock is wiping buffers; transient.
	StateForceLocking
)

func (s State) String() string {
	switch s {
	case StateLocked:
		return "locked"
	case StateUnlocking:
		return "unlocking"
	case StateUnlocked:
		return "unlocked"
	case StateForceLocking:
		return "force-locking"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ErrLocked reports an operation that requires an unlocked session.
var ErrLocked = errors.New("session: locked")

// ErrAlreadyUnlocked reports an unlock of an unlocked session.
var ErrAlreadyUnlocked = errors.New("session: already unlocked")

// ErrBusy reports an unlock attempted while another unlock or a force
// lock is in flight.
var ErrBusy = errors.New("session: operation in progress")

// ErrPromptCancelled reports that the user dismissed the passphrase
// prompt.
var ErrPromptCancelled = errors.New("session: passphrase prompt cancelled")

// UnlockFocusError reports that the passphrase prompt's window could
// not be confirmed focused. The prompt was killed before any input was
// read; the unlock is safe to retry.
type UnlockFocusError struct {
	WindowID string
	Attempts int
}

func (e *UnlockFocusError) Error() string {
	return fmt.Sprintf("session: passphrase prompt window %s did not take focus after %d checks", e.WindowID, e.Attempts)
}

// Config configures a Manager.
type Config struct {
	// Store queries the credential database. Required.
	Store *store.Client

	// Runner spawns the passphrase prompt. Required.
	Runner *runner.Runner

	// Clock drives the inactivity timer. Required.
	Clock clock.Clock

	// Poller confirms prompt focus and WindowTool locates the prompt
	// window. Both optional; without them UnlockInteractive runs
	// degraded (no focus confirmation).
	Poller     *focus.Poller
	WindowTool *focus.Tool

	// Pins records trusted tool digests at unlock. Optional.
	Pins *binpin.Set

	// InactivityTimeout forces a lock after this long without
	// activity. Zero disables the timer entirely: the session stays
	// unlocked until an explicit lock.
	InactivityTimeout time.Duration

	// AskpassCommand is the ssh-askpass style prompt program. The
	// prompt text is its single argument; the passphrase is its
	// stdout; a non-zero exit means cancel.
	AskpassCommand string

	// AskpassTimeout bounds how long the prompt may stay open.
	AskpassTimeout time.Duration

	// FocusInterval / FocusMaxAttempts shape the prompt focus
	// confirmation polling. Zero selects the focus package defaults.
	FocusInterval    time.Duration
	FocusMaxAttempts int

	// InjectTool is the keystroke injector binary pinned at unlock.
	InjectTool string

	// OnLock, when set, is called after every completed lock with the
	// lock's reason. Runs outside the manager mutex.
	OnLock func(reason string)

	Logger *slog.Logger
}

// Manager is the session state machine. Safe for concurrent use.
type Manager struct {
	store      *store.Client
	runner     *runner.Runner
	clock      clock.Clock
	poller     *focus.Poller
	windowTool *focus.Tool
	pins       *binpin.Set
	logger     *slog.Logger

	inactivityTimeout time.Duration
	askpassCommand    string
	askpassTimeout    time.Duration
	focusInterval     time.Duration
	focusMaxAttempts  int
	injectTool        string
	onLock            func(reason string)

	mu           sync.Mutex
	state        State
	identity     *sealed.Identity
	ciphertext   []byte
	timer        *clock.Timer
	buffers      map[*secret.Buffer]struct{}
	lastActivity time.Time

	warnedNoPromptWindow bool
}

// New returns a locked Manager.
func New(config Config) (*Manager, error) {
	if config.Store == nil {
		return nil, fmt.Errorf("session: Store is required")
	}
	if config.Runner == nil {
		return nil, fmt.Errorf("session: Runner is required")
	}
	if config.Clock == nil {
		return nil, fmt.Errorf("session: Clock is required")
	}
	if config.AskpassCommand == "" {
		config.AskpassCommand = "keywarden-askpass"
	}
	if config.AskpassTimeout <= 0 {
		config.AskpassTimeout = 2 * time.Minute
	}
	if config.FocusInterval <= 0 {
		config.FocusInterval = focus.DefaultInterval
	}
	if config.FocusMaxAttempts <= 0 {
		config.FocusMaxAttempts = focus.DefaultMaxAttempts
	}
	if config.InjectTool == "" {
		config.InjectTool = "xdotool"
	}
	if config.Pins == nil {
		config.Pins = binpin.NewSet()
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}

	return &Manager{
		store:             config.Store,
		runner:            config.Runner,
		clock:             config.Clock,
		poller:            config.Poller,
		windowTool:        config.WindowTool,
		pins:              config.Pins,
		logger:            config.Logger,
		inactivityTimeout: config.InactivityTimeout,
		askpassCommand:    config.AskpassCommand,
		askpassTimeout:    config.AskpassTimeout,
		focusInterval:     config.FocusInterval,
		focusMaxAttempts:  config.FocusMaxAttempts,
		injectTool:        config.InjectTool,
		onLock:            config.OnLock,
		state:             StateLocked,
		buffers:           make(map[*secret.Buffer]struct{}),
	}, nil
}

// State returns the current lock state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// LastActivity returns the time of the last touch while unlocked.
func (m *Manager) LastActivity() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastActivity
}

// TrackedCount returns the number of registered live buffers.
func (m *Manager) TrackedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buffers)
}

// Pins returns the session's tool pin set.
func (m *Manager) Pins() *binpin.Set { return m.pins }

// Unlock verifies the passphrase against the database and, on success,
// seals it into the in-memory cache and arms the inactivity timer.
//
// Unlock consumes the buffer: it is wiped before return on every path,
// success or failure. A wrong passphrase is store.ErrInvalidPassphrase
// and leaves the session locked.
func (m *Manager) Unlock(ctx context.Context, pass *secret.Buffer) error {
	if err := m.beginUnlock(); err != nil {
		pass.Wipe()
		return err
	}
	return m.completeUnlock(ctx, pass)
}

// beginUnlock transitions Locked to Unlocking.
func (m *Manager) beginUnlock() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case StateLocked:
		m.state = StateUnlocking
		return nil
	case StateUnlocked:
		return ErrAlreadyUnlocked
	default:
		return ErrBusy
	}
}

// completeUnlock verifies and seals a passphrase. Entered in state
// Unlocking; leaves the state Unlocked on success and Locked on
// failure. Wipes pass on every path.
func (m *Manager) completeUnlock(ctx context.Context, pass *secret.Buffer) error {
	defer func() {
		if err := pass.Wipe(); err != nil {
			m.logger.Warn("wiping unlock passphrase buffer", "error", err)
		}
	}()

	abort := func(err error) error {
		m.mu.Lock()
		m.state = StateLocked
		m.mu.Unlock()
		return err
	}

	if err := m.store.VerifyPassphrase(ctx, pass); err != nil {
		return abort(err)
	}

	identity, err := sealed.NewIdentity()
	if err != nil {
		return abort(fmt.Errorf("session: creating passphrase cache: %w", err))
	}
	ciphertext, err := identity.Seal(pass)
	if err != nil {
		identity.Close()
		return abort(fmt.Errorf("session: sealing passphrase: %w", err))
	}

	m.pinTools()

	m.mu.Lock()
	if m.state != StateUnlocking {
		// A concurrent force lock won while the passphrase was being
		// verified. It must stay won: discard the fresh cache.
		state := m.state
		m.mu.Unlock()
		identity.Close()
		return fmt.Errorf("session: state changed to %s during unlock", state)
	}
	m.identity = identity
	m.ciphertext = ciphertext
	m.state = StateUnlocked
	m.lastActivity = m.clock.Now()
	m.armTimerLocked()
	m.mu.Unlock()

	m.logger.Info("session unlocked",
		"database", m.store.Database(),
		"inactivity_timeout", m.inactivityTimeout,
	)
	return nil
}

// pinTools records digests of the binaries that will receive secrets
// this session. Best effort: a tool that cannot be pinned now is
// pinned at first use instead.
func (m *Manager) pinTools() {
	for _, tool := range []string{m.store.CLI(), m.injectTool} {
		path, err := m.runner.LookPath(tool, "")
		if err != nil {
			m.logger.Debug("tool not pinned, not on PATH", "tool", tool)
			continue
		}
		if err := m.pins.Pin(tool, path); err != nil {
			m.logger.Warn("pinning tool binary", "tool", tool, "error", err)
		}
	}
}

// WithPassphrase opens the sealed passphrase into a fresh buffer, runs
// fn with it, and wipes the buffer when fn returns. The buffer must
// not be retained. A successful fn counts as activity and resets the
// inactivity timer.
func (m *Manager) WithPassphrase(fn func(pass *secret.Buffer) error) error {
	m.mu.Lock()
	if m.state != StateUnlocked {
		m.mu.Unlock()
		return ErrLocked
	}
	identity := m.identity
	ciphertext := m.ciphertext
	m.mu.Unlock()

	pass, err := identity.Open(ciphertext, secret.KindPassword)
	if err != nil {
		// A concurrent lock closed the identity between the state
		// check and the open.
		if errors.Is(err, secret.ErrWiped) {
			return ErrLocked
		}
		return fmt.Errorf("session: opening passphrase cache: %w", err)
	}
	defer func() {
		if wipeErr := pass.Wipe(); wipeErr != nil {
			m.logger.Warn("wiping passphrase working buffer", "error", wipeErr)
		}
	}()

	if err := fn(pass); err != nil {
		return err
	}
	m.Touch()
	return nil
}

// Touch records activity and pushes the inactivity deadline out.
func (m *Manager) Touch() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateUnlocked {
		return
	}
	m.lastActivity = m.clock.Now()
	if m.timer != nil {
		m.timer.Reset(m.inactivityTimeout)
	}
}

// Track registers a live buffer for wipe-on-lock. If the session is
// not unlocked the buffer is wiped immediately and ErrLocked returned,
// so a fetch that races a lock cannot leave plaintext alive.
func (m *Manager) Track(buffer *secret.Buffer) error {
	m.mu.Lock()
	if m.state != StateUnlocked {
		m.mu.Unlock()
		buffer.Wipe()
		return ErrLocked
	}
	m.buffers[buffer] = struct{}{}
	m.mu.Unlock()
	return nil
}

// Untrack removes a buffer from the registry. Consumers call it after
// their own wipe-on-return, so the registry only ever holds buffers
// that still need wiping.
func (m *Manager) Untrack(buffer *secret.Buffer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.buffers, buffer)
}

// Lock locks the session, wiping the passphrase cache and every
// registered buffer. No-op when already locked.
func (m *Manager) Lock() error {
	return m.ForceLock("requested")
}

// ForceLock drives the session to Locked unconditionally: the timer is
// stopped, the passphrase cache destroyed, every registered buffer
// wiped, and the tool pins cleared. Wipe failures are logged and
// returned but never leave the state anything other than Locked.
func (m *Manager) ForceLock(reason string) error {
	m.mu.Lock()
	if m.state == StateLocked {
		m.mu.Unlock()
		return nil
	}
	m.state = StateForceLocking
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	identity := m.identity
	m.identity = nil
	m.ciphertext = nil
	tracked := make([]*secret.Buffer, 0, len(m.buffers))
	for buffer := range m.buffers {
		tracked = append(tracked, buffer)
	}
	m.buffers = make(map[*secret.Buffer]struct{})
	onLock := m.onLock
	m.mu.Unlock()

	var firstErr error
	if identity != nil {
		if err := identity.Close(); err != nil {
			m.logger.Warn("closing passphrase cache", "error", err)
			firstErr = err
		}
	}
	for _, buffer := range tracked {
		if err := buffer.Wipe(); err != nil {
			m.logger.Warn("wiping tracked buffer", "kind", buffer.Kind().String(), "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	m.pins.Clear()

	m.mu.Lock()
	m.state = StateLocked
	m.mu.Unlock()

	m.logger.Info("session locked", "reason", reason, "buffers_wiped", len(tracked))
	if onLock != nil {
		onLock(reason)
	}
	return firstErr
}

// armTimerLocked arms the inactivity timer. A zero timeout never arms
// one: the session stays unlocked indefinitely. Must be called with
// m.mu held.
func (m *Manager) armTimerLocked() {
	if m.inactivityTimeout <= 0 {
		return
	}
	m.timer = m.clock.AfterFunc(m.inactivityTimeout, m.onInactivityDeadline)
}

// onInactivityDeadline fires when the timer elapses. A Touch can race
// the firing, so the idle span is re-checked: if activity landed since
// the timer was armed, the timer re-arms for the remainder instead of
// locking.
func (m *Manager) onInactivityDeadline() {
	m.mu.Lock()
	if m.state != StateUnlocked {
		m.mu.Unlock()
		return
	}
	idle := m.clock.Now().Sub(m.lastActivity)
	if idle < m.inactivityTimeout {
		if m.timer != nil {
			m.timer.Reset(m.inactivityTimeout - idle)
		}
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()
	m.ForceLock("inactivity")
}
