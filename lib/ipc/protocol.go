// Copyright 2026 The Keywarden Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/keywarden/keywarden/lib/secret"
)

// Actions a client can ask of the daemon. Quick actions answer from
// daemon state; long actions run external tools and are single-flight.
const (
	ActionStatus   = "status"
	ActionUnlock   = "unlock"
	ActionLock     = "lock"
	ActionSearch   = "search"
	ActionShow     = "show"
	ActionAutotype = "autotype"
	ActionCopy     = "copy"
	ActionRecents  = "recents"
	ActionReload   = "reload"
)

// Error kinds let the client phrase failures without parsing error
// strings.
const (
	ErrKindLocked            = "locked"
	ErrKindAlreadyUnlocked   = "already-unlocked"
	ErrKindInvalidPassphrase = "invalid-passphrase"
	ErrKindPromptCancelled   = "prompt-cancelled"
	ErrKindUnlockFocus       = "unlock-focus"
	ErrKindFocus             = "focus"
	ErrKindToolNotFound      = "tool-not-found"
	ErrKindToolFailed        = "tool-failed"
	ErrKindTimeout           = "timeout"
	ErrKindClipboard         = "clipboard-unavailable"
	ErrKindDatabase          = "database"
	ErrKindBusy              = "busy"
	ErrKindBadRequest        = "bad-request"
	ErrKindInternal          = "internal"
)

// Request is one command to the daemon. A connection carries exactly
// one request and receives exactly one response.
type Request struct {
	Action    string `json:"action"`
	RequestID string `json:"request_id,omitempty"`

	// Query selects entries for search.
	Query string `json:"query,omitempty"`

	// Entry is the full entry path for show, autotype, and copy.
	Entry string `json:"entry,omitempty"`

	// Kinds are the credential kinds to inject (autotype) or the one
	// kind to copy, as secret.Kind names.
	Kinds []string `json:"kinds,omitempty"`

	// WindowID is the injection target, captured by the client when
	// the user issued the command.
	WindowID string `json:"window_id,omitempty"`

	// Passphrase is the database passphrase for unlock. Empty means
	// the daemon should prompt interactively. Both ends zero it after
	// use.
	Passphrase []byte `json:"passphrase,omitempty"`

	// ClearSeconds overrides the clipboard clear countdown for copy.
	ClearSeconds int `json:"clear_seconds,omitempty"`

	// Limit caps search results.
	Limit int `json:"limit,omitempty"`
}

// ZeroPassphrase scrubs the passphrase bytes in place.
func (r *Request) ZeroPassphrase() {
	secret.Zero(r.Passphrase)
	r.Passphrase = nil
}

// Entry is one credential entry on the wire. Search results carry
// paths only; show fills the attribute metadata; recents add the touch
// metadata.
type Entry struct {
	Path     string `json:"path"`
	UserName string `json:"username,omitempty"`
	URL      string `json:"url,omitempty"`
	HasTOTP  bool   `json:"has_totp,omitempty"`

	// Touched (unix seconds) and Uses are set on recents results.
	Touched int64 `json:"touched,omitempty"`
	Uses    int64 `json:"uses,omitempty"`
}

// Response is the daemon's answer to one Request.
type Response struct {
	OK        bool   `json:"ok"`
	RequestID string `json:"request_id,omitempty"`

	// Error and ErrorKind are set when OK is false.
	Error     string `json:"error,omitempty"`
	ErrorKind string `json:"error_kind,omitempty"`

	// State is the session lock state, included on every response.
	State    string `json:"state,omitempty"`
	Database string `json:"database,omitempty"`
	Version  string `json:"version,omitempty"`

	// Entries carries search results, recents, or the single entry a
	// show resolved.
	Entries []Entry `json:"entries,omitempty"`

	// Phase is the terminal autotype phase.
	Phase string `json:"phase,omitempty"`

	// ClearSeconds is the clipboard countdown a copy armed.
	ClearSeconds int `json:"clear_seconds,omitempty"`

	// Warnings carry degraded-mode notes (missing tools, unconfirmed
	// focus) that the client should show once.
	Warnings []string `json:"warnings,omitempty"`
}

// SocketPath returns the per-user daemon socket path:
// $XDG_RUNTIME_DIR/keywarden.sock, or a uid-scoped /tmp fallback when
// XDG_RUNTIME_DIR is unset.
func SocketPath() string {
	if runtimeDir := os.Getenv("XDG_RUNTIME_DIR"); runtimeDir != "" {
		return filepath.Join(runtimeDir, "keywarden.sock")
	}
	return filepath.Join(os.TempDir(), fmt.Sprintf("keywarden-%d.sock", os.Getuid()))
}
