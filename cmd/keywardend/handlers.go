// Copyright 2026 The Keywarden Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/keywarden/keywarden/lib/autotype"
	"github.com/keywarden/keywarden/lib/bm25"
	"github.com/keywarden/keywarden/lib/clipboard"
	"github.com/keywarden/keywarden/lib/focus"
	"github.com/keywarden/keywarden/lib/ipc"
	"github.com/keywarden/keywarden/lib/runner"
	"github.com/keywarden/keywarden/lib/secret"
	"github.com/keywarden/keywarden/lib/session"
	"github.com/keywarden/keywarden/lib/store"
	"github.com/keywarden/keywarden/lib/version"
)

// errAutomationBusy reports a long action attempted while another is
// in progress.
var errAutomationBusy = errors.New("another operation is in progress")

// badRequestError marks a request the client phrased wrong: missing
// fields, unknown kinds, unknown actions.
type badRequestError struct{ msg string }

func (e *badRequestError) Error() string { return e.msg }

func badRequestf(format string, args ...any) error {
	return &badRequestError{msg: fmt.Sprintf(format, args...)}
}

// dispatch routes one request. Every response carries the request id,
// the session state, the database path, and the daemon version; on
// failure the error kind lets the client phrase the failure without
// parsing strings.
func (d *daemon) dispatch(ctx context.Context, request *ipc.Request) ipc.Response {
	if request.RequestID == "" {
		request.RequestID = uuid.NewString()
	}
	logger := d.logger.With("request_id", request.RequestID, "action", request.Action)
	logger.Debug("request received")

	var (
		response ipc.Response
		err      error
	)
	switch request.Action {
	case ipc.ActionStatus:
		response, err = d.handleStatus(ctx, request)
	case ipc.ActionUnlock:
		response, err = d.handleUnlock(ctx, request)
	case ipc.ActionLock:
		response, err = d.handleLock(ctx, request)
	case ipc.ActionSearch:
		response, err = d.handleSearch(ctx, request)
	case ipc.ActionShow:
		response, err = d.handleShow(ctx, request)
	case ipc.ActionAutotype:
		response, err = d.handleAutotype(ctx, request)
	case ipc.ActionCopy:
		response, err = d.handleCopy(ctx, request)
	case ipc.ActionRecents:
		response, err = d.handleRecents(ctx, request)
	case ipc.ActionReload:
		response, err = d.handleReload(ctx, request)
	case "":
		err = badRequestf("missing required field: action")
	default:
		err = badRequestf("unknown action %q", request.Action)
	}

	if err != nil {
		// Keep whatever the handler filled in (a failed autotype still
		// reports its terminal phase) and overlay the error fields.
		response.OK = false
		response.Error = err.Error()
		response.ErrorKind = classify(err)
		logger.Debug("request failed", "kind", response.ErrorKind, "error", err)
	} else {
		response.OK = true
	}
	response.RequestID = request.RequestID
	return d.stamped(response)
}

// stamped fills the fields every response carries.
func (d *daemon) stamped(response ipc.Response) ipc.Response {
	d.mu.Lock()
	eng := d.engine
	d.mu.Unlock()
	response.State = eng.session.State().String()
	response.Database = eng.store.Database()
	response.Version = version.Info()
	return response
}

// acquireAutomation takes the single-flight lock for a long action.
func (d *daemon) acquireAutomation() (release func(), err error) {
	if !d.automation.TryLock() {
		return nil, errAutomationBusy
	}
	return d.automation.Unlock, nil
}

func (d *daemon) handleStatus(_ context.Context, _ *ipc.Request) (ipc.Response, error) {
	var response ipc.Response
	if focus.Wayland() {
		response.Warnings = append(response.Warnings,
			"Wayland session: window focus is only visible for XWayland windows")
	}
	return response, nil
}

func (d *daemon) handleUnlock(ctx context.Context, request *ipc.Request) (ipc.Response, error) {
	release, err := d.acquireAutomation()
	if err != nil {
		return ipc.Response{}, err
	}
	defer release()

	eng := d.currentEngine()
	var response ipc.Response

	if len(request.Passphrase) > 0 {
		pass, err := secret.New(secret.KindPassword, request.Passphrase)
		if err != nil {
			return response, badRequestf("passphrase: %v", err)
		}
		request.Passphrase = nil
		if err := eng.session.Unlock(ctx, pass); err != nil {
			return response, err
		}
		return response, nil
	}

	if err := eng.session.UnlockInteractive(ctx); err != nil {
		return response, err
	}
	if eng.session.PromptFocusDegraded() {
		response.Warnings = append(response.Warnings,
			"passphrase prompt focus could not be confirmed")
	}
	return response, nil
}

func (d *daemon) handleLock(_ context.Context, _ *ipc.Request) (ipc.Response, error) {
	var response ipc.Response
	err := d.withEngine(func(eng *engine) error {
		return eng.session.Lock()
	})
	return response, err
}

func (d *daemon) handleSearch(ctx context.Context, request *ipc.Request) (ipc.Response, error) {
	var response ipc.Response
	query := strings.TrimSpace(request.Query)
	if query == "" {
		return response, badRequestf("search requires a query (recents serves the empty query)")
	}

	release, err := d.acquireAutomation()
	if err != nil {
		return response, err
	}
	defer release()

	eng := d.currentEngine()
	limit := request.Limit
	if limit <= 0 {
		limit = eng.cfg.Daemon.SearchLimit
	}

	// The store decides what matches; the index only reorders, so a
	// ranked result set is never smaller than the match set the limit
	// cuts from.
	var paths []string
	err = eng.session.WithPassphrase(func(pass *secret.Buffer) error {
		var searchErr error
		paths, searchErr = eng.store.Search(ctx, pass, query, 0)
		return searchErr
	})
	if err != nil {
		return response, err
	}

	ranked := rankEntries(paths, query, limit)
	response.Entries = make([]ipc.Entry, len(ranked))
	for i, entryPath := range ranked {
		response.Entries[i] = ipc.Entry{Path: entryPath}
	}
	return response, nil
}

func (d *daemon) handleShow(ctx context.Context, request *ipc.Request) (ipc.Response, error) {
	var response ipc.Response
	if request.Entry == "" {
		return response, badRequestf("show requires an entry path")
	}

	release, err := d.acquireAutomation()
	if err != nil {
		return response, err
	}
	defer release()

	eng := d.currentEngine()
	var meta store.Meta
	err = eng.session.WithPassphrase(func(pass *secret.Buffer) error {
		var metaErr error
		meta, metaErr = eng.store.EntryMeta(ctx, pass, request.Entry)
		return metaErr
	})
	if err != nil {
		return response, err
	}

	response.Entries = []ipc.Entry{{
		Path:     request.Entry,
		UserName: meta.UserName,
		URL:      meta.URL,
		HasTOTP:  meta.HasTOTP,
	}}
	return response, nil
}

func (d *daemon) handleAutotype(ctx context.Context, request *ipc.Request) (ipc.Response, error) {
	var response ipc.Response
	if request.Entry == "" {
		return response, badRequestf("autotype requires an entry path")
	}
	fields, err := parseKinds(request.Kinds)
	if err != nil {
		return response, err
	}
	if len(fields) == 0 {
		fields = []secret.Kind{secret.KindUsername, secret.KindPassword}
	}

	release, err := d.acquireAutomation()
	if err != nil {
		return response, err
	}
	defer release()

	eng := d.currentEngine()
	phase, err := eng.autotype.Perform(ctx, autotype.Request{
		Entry:    request.Entry,
		Fields:   fields,
		WindowID: request.WindowID,
	})
	response.Phase = phase.String()
	if reason := eng.autotype.DegradedReason(); reason != "" {
		response.Warnings = append(response.Warnings,
			"injected without focus confirmation: "+reason)
	}
	if err != nil {
		return response, err
	}

	d.touchHistory(ctx, eng, request.Entry)
	return response, nil
}

func (d *daemon) handleCopy(ctx context.Context, request *ipc.Request) (ipc.Response, error) {
	var response ipc.Response
	if request.Entry == "" {
		return response, badRequestf("copy requires an entry path")
	}
	kinds, err := parseKinds(request.Kinds)
	if err != nil {
		return response, err
	}
	var kind secret.Kind
	switch len(kinds) {
	case 0:
		kind = secret.KindPassword
	case 1:
		kind = kinds[0]
	default:
		return response, badRequestf("copy takes exactly one kind, got %d", len(kinds))
	}

	release, err := d.acquireAutomation()
	if err != nil {
		return response, err
	}
	defer release()

	eng := d.currentEngine()
	clearAfter := eng.cfg.ClipboardClearAfter()
	if request.ClearSeconds > 0 {
		clearAfter = time.Duration(request.ClearSeconds) * time.Second
	}

	transfer, err := eng.clipboard.Copy(ctx, request.Entry, kind, clearAfter)
	if err != nil {
		return response, err
	}
	response.ClearSeconds = int(clearAfter / time.Second)

	d.touchHistory(ctx, eng, request.Entry)
	d.notifyCopied(request.Entry, transfer.Kind.String(), response.ClearSeconds)
	return response, nil
}

func (d *daemon) handleRecents(ctx context.Context, request *ipc.Request) (ipc.Response, error) {
	var response ipc.Response
	err := d.withEngine(func(eng *engine) error {
		if eng.history == nil {
			return nil
		}
		limit := request.Limit
		if limit <= 0 {
			limit = eng.cfg.History.MaxEntries
		}
		entries, err := eng.history.Recent(ctx, limit)
		if err != nil {
			return err
		}
		response.Entries = make([]ipc.Entry, len(entries))
		for i, entry := range entries {
			response.Entries[i] = ipc.Entry{
				Path:    entry.Path,
				Touched: entry.Touched.Unix(),
				Uses:    entry.Uses,
			}
		}
		return nil
	})
	return response, err
}

func (d *daemon) handleReload(_ context.Context, _ *ipc.Request) (ipc.Response, error) {
	var response ipc.Response
	release, err := d.acquireAutomation()
	if err != nil {
		return response, err
	}
	defer release()

	return response, d.reload()
}

// rankEntries orders the store's matches for presentation, title
// matches above group matches. It reorders only; every match stays in
// the list until the limit cuts it.
func rankEntries(paths []string, query string, limit int) []string {
	return bm25.NewEntryIndex(paths).Rank(query, limit)
}

// touchHistory records a successful use of an entry. Failures are
// logged, never surfaced: the credential already reached its target.
func (d *daemon) touchHistory(ctx context.Context, eng *engine, entry string) {
	if eng.history == nil {
		return
	}
	if err := eng.history.Touch(ctx, entry); err != nil {
		d.logger.Warn("recording history", "error", err)
	}
}

// parseKinds converts wire kind names. An unknown name is the client's
// mistake, not an internal error.
func parseKinds(names []string) ([]secret.Kind, error) {
	if len(names) == 0 {
		return nil, nil
	}
	kinds := make([]secret.Kind, 0, len(names))
	for _, name := range names {
		kind, err := secret.ParseKind(name)
		if err != nil {
			return nil, badRequestf("%v", err)
		}
		kinds = append(kinds, kind)
	}
	return kinds, nil
}

// classify maps an error to its wire kind. Ordering matters: the
// specific sentinel and typed checks come before the broad tool-error
// fallbacks.
func classify(err error) string {
	var (
		badRequest  *badRequestError
		unlockFocus *session.UnlockFocusError
		focusErr    *focus.Error
		notFound    *runner.ToolNotFoundError
		timeout     *runner.TimeoutError
		toolErr     *runner.ToolError
	)
	switch {
	case errors.As(err, &badRequest), errors.Is(err, store.ErrAttributeEmpty):
		return ipc.ErrKindBadRequest
	case errors.Is(err, errAutomationBusy), errors.Is(err, session.ErrBusy):
		return ipc.ErrKindBusy
	case errors.Is(err, session.ErrLocked):
		return ipc.ErrKindLocked
	case errors.Is(err, session.ErrAlreadyUnlocked):
		return ipc.ErrKindAlreadyUnlocked
	case errors.Is(err, store.ErrInvalidPassphrase):
		return ipc.ErrKindInvalidPassphrase
	case errors.Is(err, session.ErrPromptCancelled):
		return ipc.ErrKindPromptCancelled
	case errors.As(err, &unlockFocus):
		return ipc.ErrKindUnlockFocus
	case errors.As(err, &focusErr):
		return ipc.ErrKindFocus
	case errors.Is(err, clipboard.ErrUnavailable):
		return ipc.ErrKindClipboard
	case errors.Is(err, store.ErrDatabaseNotFound), errors.Is(err, fs.ErrNotExist):
		return ipc.ErrKindDatabase
	case errors.As(err, &notFound):
		return ipc.ErrKindToolNotFound
	case errors.As(err, &timeout), errors.Is(err, context.DeadlineExceeded):
		return ipc.ErrKindTimeout
	case errors.As(err, &toolErr):
		return ipc.ErrKindToolFailed
	default:
		return ipc.ErrKindInternal
	}
}
