// Copyright 2026 The Keywarden Authors
// SPDX-License-Identifier: Apache-2.0

// Package watcher detects external changes to the password database
// file. A database modified behind the daemon's back invalidates the
// cached passphrase verification and any assumptions about entry
// paths, so the daemon force-locks when the file changes.
//
// The watch covers the database's parent directory, not the file
// itself. KeePassXC and most editors save atomically by writing a
// temporary file and renaming it over the target, which replaces the
// inode; a watch on the file itself goes silent after the first save.
// Events for sibling files are filtered out by path.
//
// Save operations produce bursts of events (create, write, rename).
// A debounce timer coalesces each burst into a single OnChange call.
package watcher

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/keywarden/keywarden/lib/clock"
)

// defaultDebounce is the quiet period after the last event before
// OnChange fires.
const defaultDebounce = 2 * time.Second

// Config holds the parameters for watching a database file.
type Config struct {
	// Path is the database file to watch. Required.
	Path string

	// Debounce is the quiet period after the last filesystem event
	// before OnChange fires. Defaults to 2s.
	Debounce time.Duration

	// OnChange is called once per coalesced burst of changes to the
	// watched file, including its removal. Called from the watcher's
	// timer goroutine. Required.
	OnChange func()

	// Clock drives the debounce timer. Defaults to the real clock.
	Clock clock.Clock

	// Logger receives operational messages. If nil, a no-op logger is
	// used.
	Logger *slog.Logger
}

// Watcher watches one database file. Create with New, then Start.
type Watcher struct {
	path     string
	dir      string
	debounce time.Duration
	onChange func()
	clock    clock.Clock
	logger   *slog.Logger

	fsWatcher *fsnotify.Watcher

	mu      sync.Mutex
	timer   *clock.Timer
	stopped bool

	done chan struct{}
	wg   sync.WaitGroup
}

// New validates the configuration and creates a watcher. The watch
// does not start until Start is called.
func New(cfg Config) (*Watcher, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("watcher: Path is required")
	}
	if cfg.OnChange == nil {
		return nil, fmt.Errorf("watcher: OnChange is required")
	}

	absPath, err := filepath.Abs(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("watcher: resolving %s: %w", cfg.Path, err)
	}

	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watcher: %w", err)
	}

	return &Watcher{
		path:      absPath,
		dir:       filepath.Dir(absPath),
		debounce:  debounce,
		onChange:  cfg.OnChange,
		clock:     clk,
		logger:    logger,
		fsWatcher: fsWatcher,
		done:      make(chan struct{}),
	}, nil
}

// Start adds the directory watch and begins delivering events. The
// parent directory must exist; the database file itself may appear
// later.
func (w *Watcher) Start() error {
	if err := w.fsWatcher.Add(w.dir); err != nil {
		return fmt.Errorf("watcher: watching %s: %w", w.dir, err)
	}

	w.wg.Add(1)
	go w.loop()

	w.logger.Debug("watching database",
		"path", w.path,
		"debounce", w.debounce.String(),
	)
	return nil
}

// Stop cancels the watch and any pending debounce timer. OnChange is
// not called after Stop returns. Safe to call more than once.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	close(w.done)
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.mu.Unlock()

	err := w.fsWatcher.Close()
	w.wg.Wait()
	return err
}

// loop filters filesystem events down to the watched file and bumps
// the debounce timer on each hit.
func (w *Watcher) loop() {
	defer w.wg.Done()

	const ops = fsnotify.Write | fsnotify.Create | fsnotify.Rename | fsnotify.Remove

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&ops == 0 {
				continue
			}
			w.logger.Debug("database event", "op", event.Op.String())
			w.bump()

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("database watch error", "error", err)
		}
	}
}

// bump starts the debounce timer or pushes its deadline out.
func (w *Watcher) bump() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return
	}
	if w.timer == nil {
		w.timer = w.clock.AfterFunc(w.debounce, w.fire)
		return
	}
	w.timer.Reset(w.debounce)
}

// fire runs after the quiet period. The timer slot is cleared first so
// a change arriving during OnChange starts a fresh debounce window.
func (w *Watcher) fire() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.timer = nil
	w.mu.Unlock()

	w.logger.Info("database changed on disk", "path", w.path)
	w.onChange()
}
