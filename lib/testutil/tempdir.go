// Copyright 2026 The Keywarden Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"os"
	"testing"
)

// SocketDir creates a temporary directory suitable for Unix domain
// sockets and removes it when the test completes.
//
// Socket paths are capped at 108 bytes (sun_path in sockaddr_un), and
// t.TempDir() nests under the test binary's tmpdir, which in sandboxed
// builds can exceed that on its own; the bind then fails with "invalid
// argument". This creates a short-named directory directly in /tmp
// instead.
func SocketDir(t testing.TB) string {
	t.Helper()
	directory, err := os.MkdirTemp("/tmp", "keywarden-test-*")
	if err != nil {
		t.Fatalf("creating socket directory: %v", err)
	}
	t.Cleanup(func() {
		os.RemoveAll(directory)
	})
	return directory
}
