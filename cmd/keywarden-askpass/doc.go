// Copyright 2026 The Keywarden Authors
// SPDX-License-Identifier: Apache-2.0

// keywarden-askpass is the passphrase prompt keywardend spawns for
// interactive unlock. It follows the ssh-askpass contract: the prompt
// text arrives as the only argument, the passphrase leaves on stdout
// with a trailing newline, and a cancelled prompt exits nonzero with
// nothing on stdout.
//
// The dialog renders on /dev/tty, keeping stdout clean for the
// passphrase. Sessions without a controlling terminal need a graphical
// provider instead; any ssh-askpass implementation can replace this
// binary through the session.askpass_command config key.
package main
