// Copyright 2026 The Keywarden Authors
// SPDX-License-Identifier: Apache-2.0

// Keywardend is the per-user credential automation daemon. It holds
// the database session (the sealed passphrase cache and its
// inactivity timer), runs the store tool on behalf of clients, and
// serves a one-request-per-connection CBOR protocol on an owner-only
// unix socket at $XDG_RUNTIME_DIR/keywarden.sock.
//
// Quick actions (status, lock, recents, reload) answer from daemon
// state. Long actions (unlock, search, show, autotype, copy) run
// external tools and are single-flight: a second long action while
// one is in progress fails with the busy error kind instead of
// queueing, because a stale autotype into whatever window is focused
// by the time it dequeues is worse than asking the user to retry.
//
// The daemon never prints a secret. Credentials move from the store
// tool's stdout into locked memory, and leave only through the
// keystroke injector or the clipboard tool.
package main
