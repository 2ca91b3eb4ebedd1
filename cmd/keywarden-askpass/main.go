// Copyright 2026 The Keywarden Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/keywarden/keywarden/lib/process"
	"github.com/keywarden/keywarden/lib/secret"
	"github.com/keywarden/keywarden/lib/version"
)

// errCancelled means the user dismissed the prompt. The askpass
// contract is a bare nonzero exit, no message.
var errCancelled = errors.New("cancelled")

func main() {
	if err := run(); err != nil {
		if errors.Is(err, errCancelled) {
			os.Exit(1)
		}
		process.Fatal(err)
	}
}

func run() error {
	args := os.Args[1:]
	if len(args) == 1 && (args[0] == "--version" || args[0] == "-version") {
		version.Print("keywarden-askpass")
		return nil
	}

	prompt := strings.Join(args, " ")
	if prompt == "" {
		prompt = "Passphrase:"
	}

	// The dialog lives on the controlling terminal; stdout carries
	// only the passphrase.
	tty, err := os.OpenFile("/dev/tty", os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("no controlling terminal: %w (set session.askpass_command to a graphical askpass provider)", err)
	}
	defer tty.Close()

	program := tea.NewProgram(newPromptModel(prompt), tea.WithInput(tty), tea.WithOutput(tty))
	final, err := program.Run()
	if err != nil {
		return fmt.Errorf("running prompt: %w", err)
	}

	dialog, ok := final.(promptModel)
	if !ok || !dialog.submitted {
		return errCancelled
	}

	pass := []byte(dialog.passphrase())
	os.Stdout.Write(pass)
	os.Stdout.Write([]byte{'\n'})
	secret.Zero(pass)
	return nil
}
