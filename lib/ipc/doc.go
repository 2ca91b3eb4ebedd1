// Copyright 2026 The Keywarden Authors
// SPDX-License-Identifier: Apache-2.0

// Package ipc defines the wire protocol between keywardenctl and
// keywardend: CBOR-encoded Request and Response structs over a
// per-user unix socket, one request per connection.
//
// The protocol is deliberately flat. Every command is a Request naming
// an action; every answer is a Response with OK, an error kind the
// client can switch on, and whatever payload the action produced. The
// passphrase field of an unlock request is the only secret that ever
// crosses the socket, and both ends zero it after use; credential
// values themselves never do.
//
// Key exports:
//
//   - Request, Response, Entry: the wire types.
//   - Action* and ErrKind* constants: the protocol vocabulary.
//   - Client: one-shot request-response exchanges.
//   - SocketPath: the per-user daemon socket location.
//
// Used by cmd/keywardenctl (client side) and cmd/keywardend (server
// side). Depends on lib/codec for encoding and lib/secret for
// passphrase scrubbing.
package ipc
