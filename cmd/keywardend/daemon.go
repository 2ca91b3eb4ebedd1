// Copyright 2026 The Keywarden Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"log/slog"
	"path"
	"sync"

	"github.com/keywarden/keywarden/lib/autotype"
	"github.com/keywarden/keywarden/lib/clipboard"
	"github.com/keywarden/keywarden/lib/clock"
	"github.com/keywarden/keywarden/lib/config"
	"github.com/keywarden/keywarden/lib/focus"
	"github.com/keywarden/keywarden/lib/history"
	"github.com/keywarden/keywarden/lib/notify"
	"github.com/keywarden/keywarden/lib/runner"
	"github.com/keywarden/keywarden/lib/session"
	"github.com/keywarden/keywarden/lib/store"
	"github.com/keywarden/keywarden/lib/watcher"
)

// engine is one wiring of the automation stack against one loaded
// configuration. Reload builds a fresh engine and swaps it in whole,
// so a handler never sees a store client from one config and a session
// from another.
type engine struct {
	cfg       *config.Config
	store     *store.Client
	session   *session.Manager
	autotype  *autotype.Driver
	clipboard *clipboard.Coordinator

	// history and databaseWatcher are nil when disabled by config or
	// when their setup failed. Both are conveniences the daemon runs
	// without.
	history         *history.Store
	databaseWatcher *watcher.Watcher
}

// daemon owns the socket, the notifier, and the current engine.
type daemon struct {
	configPath string
	socketPath string
	logger     *slog.Logger
	notifier   *notify.Notifier
	clk        clock.Clock

	// automation serializes the long actions. TryLock instead of Lock:
	// a queued autotype would fire into whatever window is focused
	// when it finally dequeues.
	automation sync.Mutex

	// mu guards engine. Quick actions hold it for their whole body so
	// a reload cannot close the history store out from under them.
	mu     sync.Mutex
	engine *engine

	connections sync.WaitGroup
}

// newDaemon wires the initial engine. The socket path is fixed for the
// daemon's lifetime; a reload that changes it logs a restart hint
// instead of rebinding.
func newDaemon(configPath string, cfg *config.Config, logger *slog.Logger) (*daemon, error) {
	d := &daemon{
		configPath: configPath,
		socketPath: cfg.Daemon.SocketPath,
		logger:     logger,
		notifier:   notify.New(logger),
		clk:        clock.Real(),
	}
	eng, err := d.buildEngine(cfg)
	if err != nil {
		d.notifier.Close()
		return nil, err
	}
	d.engine = eng
	return d, nil
}

// buildEngine constructs a full stack from one configuration. The
// store tool and the database file are checked here so a bad path
// fails the daemon (or the reload) immediately instead of on the
// first unlock.
func (d *daemon) buildEngine(cfg *config.Config) (*engine, error) {
	run := runner.New(d.logger)

	storeClient, err := store.New(store.Config{
		CLI:      cfg.Database.CLI,
		Database: cfg.Database.Path,
		Keyfile:  cfg.Database.Keyfile,
		Timeout:  cfg.StoreTimeout(),
		Runner:   run,
		Logger:   d.logger,
	})
	if err != nil {
		return nil, err
	}
	if err := storeClient.Available(); err != nil {
		return nil, err
	}
	if err := storeClient.CheckDatabase(); err != nil {
		return nil, err
	}

	windowTool := focus.NewTool(run, 0, d.logger)
	poller := focus.NewPoller(windowTool, d.clk, d.logger)

	sessionManager, err := session.New(session.Config{
		Store:             storeClient,
		Runner:            run,
		Clock:             d.clk,
		Poller:            poller,
		WindowTool:        windowTool,
		InactivityTimeout: cfg.InactivityTimeout(),
		AskpassCommand:    cfg.Session.AskpassCommand,
		AskpassTimeout:    cfg.AskpassTimeout(),
		FocusInterval:     cfg.FocusInterval(),
		FocusMaxAttempts:  cfg.Autotype.FocusMaxAttempts,
		InjectTool:        cfg.Autotype.InjectTool,
		OnLock:            d.onLock,
		Logger:            d.logger,
	})
	if err != nil {
		return nil, err
	}

	autotypeDriver, err := autotype.New(autotype.Config{
		Store:            storeClient,
		Session:          sessionManager,
		Runner:           run,
		Poller:           poller,
		Tool:             windowTool,
		InjectTool:       cfg.Autotype.InjectTool,
		FocusInterval:    cfg.FocusInterval(),
		FocusMaxAttempts: cfg.Autotype.FocusMaxAttempts,
		Logger:           d.logger,
	})
	if err != nil {
		return nil, err
	}

	clipboardCoordinator, err := clipboard.New(clipboard.Config{
		Store:   storeClient,
		Session: sessionManager,
		Runner:  run,
		Clock:   d.clk,
		Logger:  d.logger,
	})
	if err != nil {
		return nil, err
	}

	eng := &engine{
		cfg:       cfg,
		store:     storeClient,
		session:   sessionManager,
		autotype:  autotypeDriver,
		clipboard: clipboardCoordinator,
	}

	if cfg.History.Enabled {
		historyStore, err := history.Open(history.Config{
			Path:       cfg.History.Path,
			KeyFile:    cfg.History.KeyFile,
			Database:   cfg.Database.Path,
			MaxEntries: cfg.History.MaxEntries,
			Clock:      d.clk,
			Logger:     d.logger,
		})
		if err != nil {
			// History is a convenience. The daemon serves credentials
			// without it.
			d.logger.Warn("history disabled", "error", err)
		} else {
			eng.history = historyStore
		}
	}

	if cfg.Daemon.WatchDatabase {
		databaseWatcher, err := watcher.New(watcher.Config{
			Path: cfg.Database.Path,
			OnChange: func() {
				if err := sessionManager.ForceLock("database changed on disk"); err != nil {
					d.logger.Warn("lock after database change", "error", err)
				}
			},
			Clock:  d.clk,
			Logger: d.logger,
		})
		if err != nil {
			d.logger.Warn("database watch disabled", "error", err)
		} else if err := databaseWatcher.Start(); err != nil {
			d.logger.Warn("database watch disabled", "error", err)
		} else {
			eng.databaseWatcher = databaseWatcher
		}
	}

	return eng, nil
}

// close tears an engine down: the watcher stops, the session locks
// (wiping the passphrase cache and every live buffer), the history
// store closes. reason is the lock reason for the log line.
func (e *engine) close(reason string, logger *slog.Logger) {
	if e.databaseWatcher != nil {
		if err := e.databaseWatcher.Stop(); err != nil {
			logger.Warn("stopping database watcher", "error", err)
		}
	}
	if err := e.session.ForceLock(reason); err != nil {
		logger.Warn("locking session", "error", err)
	}
	if e.history != nil {
		if err := e.history.Close(); err != nil {
			logger.Warn("closing history store", "error", err)
		}
	}
}

// currentEngine returns the engine for long actions, which already
// hold the automation lock and so cannot race a reload's swap.
func (d *daemon) currentEngine() *engine {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.engine
}

// withEngine runs fn under the engine mutex. Quick actions use it so
// their whole body sees one engine.
func (d *daemon) withEngine(fn func(eng *engine) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return fn(d.engine)
}

// reload loads the configuration again, builds a fresh engine, and
// swaps it in. The old session is force-locked. Caller holds the
// automation lock.
func (d *daemon) reload() error {
	cfg, err := loadConfig(d.configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	fresh, err := d.buildEngine(cfg)
	if err != nil {
		// The old engine stays in service.
		return fmt.Errorf("rebuilding engine: %w", err)
	}

	d.mu.Lock()
	old := d.engine
	d.engine = fresh
	d.mu.Unlock()

	old.close("configuration reloaded", d.logger)

	if cfg.Daemon.SocketPath != d.socketPath {
		d.logger.Warn("socket path changed in configuration, restart to apply",
			"active", d.socketPath,
			"configured", cfg.Daemon.SocketPath,
		)
	}
	d.logger.Info("configuration reloaded", "database", cfg.Database.Path)
	return nil
}

// onLock runs after every completed lock. Reason strings are fixed
// phrases from the session package, never user data.
func (d *daemon) onLock(reason string) {
	if !d.notificationsEnabled() {
		return
	}
	d.notifier.Send("Database locked", reason)
}

// notifyCopied announces a successful copy. The body names the entry
// title and the countdown, never the credential.
func (d *daemon) notifyCopied(entry, kind string, clearSeconds int) {
	if !d.notificationsEnabled() {
		return
	}
	d.notifier.Send(
		fmt.Sprintf("Copied %s for %s", kind, path.Base(entry)),
		fmt.Sprintf("Clipboard clears in %ds", clearSeconds),
	)
}

func (d *daemon) notificationsEnabled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.engine.cfg.Daemon.Notifications
}

// Close releases everything Serve does not: the engine and the
// notifier. Safe after a failed Serve.
func (d *daemon) Close() {
	d.mu.Lock()
	eng := d.engine
	d.mu.Unlock()
	eng.close("daemon shutting down", d.logger)
	if err := d.notifier.Close(); err != nil {
		d.logger.Warn("closing notifier", "error", err)
	}
}
