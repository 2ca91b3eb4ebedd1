// Copyright 2026 The Keywarden Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"

	"github.com/keywarden/keywarden/lib/secret"
)

// readPassphraseFile reads a passphrase from a file or stdin ("-").
// Only the first line counts; the rest of the buffer is zeroed. A
// trailing newline is not part of the passphrase, interior whitespace
// is.
func readPassphraseFile(path string) ([]byte, error) {
	var (
		raw []byte
		err error
	)
	if path == "-" {
		raw, err = io.ReadAll(os.Stdin)
	} else {
		raw, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("reading passphrase: %w", err)
	}

	line := raw
	if index := bytes.IndexByte(raw, '\n'); index >= 0 {
		line = raw[:index]
		secret.Zero(raw[index:])
	}
	line = bytes.TrimSuffix(line, []byte("\r"))
	if len(line) == 0 {
		secret.Zero(raw)
		return nil, fmt.Errorf("passphrase source %s is empty", path)
	}

	pass := make([]byte, len(line))
	copy(pass, line)
	secret.Zero(raw)
	return pass, nil
}

// promptPassphrase reads a passphrase from the controlling terminal
// with echo off. The prompt goes to stderr so stdout stays clean for
// scripts.
func promptPassphrase() ([]byte, error) {
	tty, err := os.Open("/dev/tty")
	if err != nil {
		return nil, fmt.Errorf("no terminal for the passphrase prompt (use --passphrase-file, or let the daemon prompt): %w", err)
	}
	defer tty.Close()

	fmt.Fprint(os.Stderr, "Passphrase: ")
	pass, err := term.ReadPassword(int(tty.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("reading passphrase: %w", err)
	}
	if len(pass) == 0 {
		return nil, fmt.Errorf("empty passphrase")
	}
	return pass, nil
}
