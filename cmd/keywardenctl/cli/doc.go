// Copyright 2026 The Keywarden Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli provides the command-line framework for keywardenctl.
//
// The central type is [Command], which represents a named subcommand
// with optional nested [Command.Subcommands], a [pflag.FlagSet]
// factory, and a Run function. Commands are assembled into a tree in
// cmd/keywardenctl/main.go and dispatched via [Command.Execute], which
// handles flag parsing, subcommand routing, and structured help output
// with examples.
//
// When a user types an unknown subcommand or flag, the framework
// computes Levenshtein edit distance against all known names and
// suggests the closest match (threshold: distance <= 3). This is
// implemented in suggest.go.
//
// [RenderError] turns a daemon failure response into the line a person
// sees; [ExitError] lets a command that already produced its output
// (JSON mode) exit non-zero without an extra error line. The daemon
// transport itself lives in lib/ipc.
package cli
