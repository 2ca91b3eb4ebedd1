// Copyright 2026 The Keywarden Authors
// SPDX-License-Identifier: Apache-2.0

// Keywardenctl is the command-line client for keywardend. It captures
// the active window before anything else (so autotype targets the
// window the user was in, not the terminal the command ran from),
// sends one CBOR request over the daemon socket, and renders the
// response for a terminal or as JSON for scripts and launchers.
//
// Secrets never pass through this process except the passphrase a
// user explicitly supplies via --passphrase-file or --prompt, which
// is zeroed after the call.
package main
