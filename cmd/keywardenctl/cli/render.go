// Copyright 2026 The Keywarden Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"time"

	"github.com/keywarden/keywarden/lib/ipc"
)

// DefaultTimeout bounds one daemon call. Interactive unlock holds the
// connection open while the user types, so the bound is generous: the
// daemon's own prompt timeout fires first.
const DefaultTimeout = 3 * time.Minute

// RenderError phrases a failure response for a person at a terminal.
// Kinds whose daemon message is already precise (missing tools carry
// install hints, database errors carry the path) pass through
// verbatim; the rest get a human phrasing.
func RenderError(response ipc.Response) string {
	switch response.ErrorKind {
	case ipc.ErrKindLocked:
		return "the database is locked (run 'keywardenctl unlock')"
	case ipc.ErrKindAlreadyUnlocked:
		return "the database is already unlocked"
	case ipc.ErrKindInvalidPassphrase:
		return "wrong passphrase"
	case ipc.ErrKindPromptCancelled:
		return "unlock cancelled"
	case ipc.ErrKindBusy:
		return "the daemon is busy with another operation, try again"
	default:
		return response.Error
	}
}
