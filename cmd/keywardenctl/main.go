// Copyright 2026 The Keywarden Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"

	"github.com/keywarden/keywarden/cmd/keywardenctl/cli"
	"github.com/keywarden/keywarden/lib/version"
)

func main() {
	if err := run(); err != nil {
		// Commands that already wrote their own output (JSON mode)
		// return an ExitError; don't print a redundant error line.
		if coder, ok := err.(interface{ ExitCode() int }); ok {
			os.Exit(coder.ExitCode())
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	return rootCommand().Execute(os.Args[1:])
}

func rootCommand() *cli.Command {
	return &cli.Command{
		Name: "keywardenctl",
		Description: `Keywarden: credential automation for a locked password database.

Search entries, type credentials into the focused window, and copy
them to a self-clearing clipboard, all without the database passphrase
leaving the daemon.`,
		Subcommands: []*cli.Command{
			statusCommand(),
			unlockCommand(),
			lockCommand(),
			searchCommand(),
			showCommand(),
			autotypeCommand(),
			copyCommand(),
			recentsCommand(),
			reloadCommand(),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func(_ []string) error {
					version.Print("keywardenctl")
					return nil
				},
			},
		},
		Examples: []cli.Example{
			{
				Description: "Unlock with the graphical prompt",
				Command:     "keywardenctl unlock",
			},
			{
				Description: "Find entries, best match first",
				Command:     "keywardenctl search github",
			},
			{
				Description: "Type username, Tab, password, Enter into the focused window",
				Command:     "keywardenctl autotype 'Web/GitHub'",
			},
			{
				Description: "Copy a one-time code; the clipboard clears itself",
				Command:     "keywardenctl copy 'Web/GitHub' --kind totp",
			},
		},
	}
}
