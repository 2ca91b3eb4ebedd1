// Copyright 2026 The Keywarden Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"testing"

	"github.com/keywarden/keywarden/lib/ipc"
)

func TestRenderError(t *testing.T) {
	tests := []struct {
		name     string
		response ipc.Response
		want     string
	}{
		{
			name:     "locked",
			response: ipc.Response{ErrorKind: ipc.ErrKindLocked, Error: "session is locked"},
			want:     "the database is locked (run 'keywardenctl unlock')",
		},
		{
			name:     "already unlocked",
			response: ipc.Response{ErrorKind: ipc.ErrKindAlreadyUnlocked},
			want:     "the database is already unlocked",
		},
		{
			name:     "invalid passphrase",
			response: ipc.Response{ErrorKind: ipc.ErrKindInvalidPassphrase, Error: "invalid passphrase"},
			want:     "wrong passphrase",
		},
		{
			name:     "prompt cancelled",
			response: ipc.Response{ErrorKind: ipc.ErrKindPromptCancelled},
			want:     "unlock cancelled",
		},
		{
			name:     "busy",
			response: ipc.Response{ErrorKind: ipc.ErrKindBusy},
			want:     "the daemon is busy with another operation, try again",
		},
		{
			name: "tool not found passes through",
			response: ipc.Response{
				ErrorKind: ipc.ErrKindToolNotFound,
				Error:     `required tool "xdotool" not found in PATH (install the xdotool package)`,
			},
			want: `required tool "xdotool" not found in PATH (install the xdotool package)`,
		},
		{
			name: "database passes through",
			response: ipc.Response{
				ErrorKind: ipc.ErrKindDatabase,
				Error:     "database not found at /home/user/vault.kdbx",
			},
			want: "database not found at /home/user/vault.kdbx",
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := RenderError(test.response); got != test.want {
				t.Errorf("RenderError() = %q, want %q", got, test.want)
			}
		})
	}
}
