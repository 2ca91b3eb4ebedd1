// Copyright 2026 The Keywarden Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/keywarden/keywarden/cmd/keywardenctl/cli"
	"github.com/keywarden/keywarden/lib/focus"
	"github.com/keywarden/keywarden/lib/ipc"
	"github.com/keywarden/keywarden/lib/runner"
)

// clientOptions are the flags every command carries.
type clientOptions struct {
	socket  string
	jsonOut bool
	timeout time.Duration
}

func (o *clientOptions) register(flags *pflag.FlagSet) {
	flags.StringVar(&o.socket, "socket", ipc.SocketPath(), "keywardend socket path")
	flags.BoolVar(&o.jsonOut, "json", false, "print the full response as JSON")
	flags.DurationVar(&o.timeout, "timeout", cli.DefaultTimeout, "daemon call timeout")
}

// run sends one request and handles the shared response surface:
// warnings to stderr, JSON mode, failure rendering. render produces
// the text output for a successful response and may be nil for
// commands whose success is silent.
func (o *clientOptions) run(request ipc.Request, render func(response ipc.Response)) error {
	ctx := context.Background()
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	response, err := ipc.NewClient(o.socket).Do(ctx, request)
	if err != nil {
		return err
	}

	if o.jsonOut {
		if err := printJSON(response); err != nil {
			return err
		}
		if !response.OK {
			return &cli.ExitError{Code: 1}
		}
		return nil
	}

	for _, warning := range response.Warnings {
		fmt.Fprintf(os.Stderr, "warning: %s\n", warning)
	}
	if !response.OK {
		return errors.New(cli.RenderError(response))
	}
	if render != nil {
		render(response)
	}
	return nil
}

func newFlagSet(name string, options *clientOptions) *pflag.FlagSet {
	flags := pflag.NewFlagSet(name, pflag.ContinueOnError)
	options.register(flags)
	return flags
}

func statusCommand() *cli.Command {
	options := &clientOptions{}
	return &cli.Command{
		Name:    "status",
		Summary: "Show the session state",
		Usage:   "keywardenctl status [flags]",
		Flags:   func() *pflag.FlagSet { return newFlagSet("status", options) },
		Run: func(args []string) error {
			if len(args) != 0 {
				return fmt.Errorf("status takes no arguments")
			}
			return options.run(ipc.Request{Action: ipc.ActionStatus}, func(response ipc.Response) {
				fmt.Printf("state:    %s\n", response.State)
				fmt.Printf("database: %s\n", response.Database)
				fmt.Printf("version:  %s\n", response.Version)
			})
		},
	}
}

func unlockCommand() *cli.Command {
	options := &clientOptions{}
	var (
		passphraseFile string
		promptLocal    bool
	)
	return &cli.Command{
		Name:    "unlock",
		Summary: "Unlock the database",
		Description: `Unlock the database for this session.

By default the daemon opens its graphical passphrase prompt. Use
--prompt to type the passphrase at this terminal instead (for SSH
sessions), or --passphrase-file to read it from a file or stdin.`,
		Usage: "keywardenctl unlock [flags]",
		Flags: func() *pflag.FlagSet {
			flags := newFlagSet("unlock", options)
			flags.StringVar(&passphraseFile, "passphrase-file", "", "read the passphrase from this file, or - for stdin")
			flags.BoolVar(&promptLocal, "prompt", false, "prompt for the passphrase at this terminal")
			return flags
		},
		Run: func(args []string) error {
			if len(args) != 0 {
				return fmt.Errorf("unlock takes no arguments")
			}
			if passphraseFile != "" && promptLocal {
				return fmt.Errorf("--passphrase-file and --prompt are mutually exclusive")
			}

			// The ipc client zeroes the passphrase before Do returns,
			// success or failure.
			request := ipc.Request{Action: ipc.ActionUnlock}
			switch {
			case passphraseFile != "":
				pass, err := readPassphraseFile(passphraseFile)
				if err != nil {
					return err
				}
				request.Passphrase = pass
			case promptLocal:
				pass, err := promptPassphrase()
				if err != nil {
					return err
				}
				request.Passphrase = pass
			}

			return options.run(request, func(ipc.Response) {
				fmt.Println("unlocked")
			})
		},
	}
}

func lockCommand() *cli.Command {
	options := &clientOptions{}
	return &cli.Command{
		Name:    "lock",
		Summary: "Lock the database and wipe cached secrets",
		Usage:   "keywardenctl lock [flags]",
		Flags:   func() *pflag.FlagSet { return newFlagSet("lock", options) },
		Run: func(args []string) error {
			if len(args) != 0 {
				return fmt.Errorf("lock takes no arguments")
			}
			return options.run(ipc.Request{Action: ipc.ActionLock}, func(ipc.Response) {
				fmt.Println("locked")
			})
		},
	}
}

func searchCommand() *cli.Command {
	options := &clientOptions{}
	var limit int
	return &cli.Command{
		Name:    "search",
		Summary: "Find entries matching a query",
		Usage:   "keywardenctl search <query>... [flags]",
		Flags: func() *pflag.FlagSet {
			flags := newFlagSet("search", options)
			flags.IntVar(&limit, "limit", 0, "maximum results (0 = daemon default)")
			return flags
		},
		Run: func(args []string) error {
			if len(args) == 0 {
				return fmt.Errorf("search requires a query")
			}
			request := ipc.Request{
				Action: ipc.ActionSearch,
				Query:  strings.Join(args, " "),
				Limit:  limit,
			}
			return options.run(request, func(response ipc.Response) {
				for _, entry := range response.Entries {
					fmt.Println(entry.Path)
				}
			})
		},
	}
}

func showCommand() *cli.Command {
	options := &clientOptions{}
	return &cli.Command{
		Name:    "show",
		Summary: "Show an entry's non-secret metadata",
		Usage:   "keywardenctl show <entry> [flags]",
		Flags:   func() *pflag.FlagSet { return newFlagSet("show", options) },
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("show takes exactly one entry path")
			}
			request := ipc.Request{Action: ipc.ActionShow, Entry: args[0]}
			return options.run(request, func(response ipc.Response) {
				if len(response.Entries) == 0 {
					return
				}
				entry := response.Entries[0]
				fmt.Printf("entry:    %s\n", entry.Path)
				if entry.UserName != "" {
					fmt.Printf("username: %s\n", entry.UserName)
				}
				if entry.URL != "" {
					fmt.Printf("url:      %s\n", entry.URL)
				}
				fmt.Printf("totp:     %s\n", yesNo(entry.HasTOTP))
			})
		},
	}
}

func autotypeCommand() *cli.Command {
	options := &clientOptions{}
	var (
		kinds    []string
		windowID string
	)
	return &cli.Command{
		Name:    "autotype",
		Summary: "Type an entry's credentials into the focused window",
		Description: `Type an entry's credentials into the window that was focused when
this command started. The default sequence is username, Tab,
password, Enter; --kinds overrides it (a single kind is typed bare,
without the final Enter).`,
		Usage: "keywardenctl autotype <entry> [flags]",
		Flags: func() *pflag.FlagSet {
			flags := newFlagSet("autotype", options)
			flags.StringSliceVar(&kinds, "kinds", nil, "credential kinds to type in order (username, password, totp, url)")
			flags.StringVar(&windowID, "window", "", "target window id (default: the active window at startup)")
			return flags
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("autotype takes exactly one entry path")
			}
			target := windowID
			if target == "" {
				target = captureActiveWindow()
			}
			request := ipc.Request{
				Action:   ipc.ActionAutotype,
				Entry:    args[0],
				Kinds:    kinds,
				WindowID: target,
			}
			return options.run(request, nil)
		},
	}
}

func copyCommand() *cli.Command {
	options := &clientOptions{}
	var (
		kind       string
		clearAfter time.Duration
	)
	return &cli.Command{
		Name:    "copy",
		Summary: "Copy a credential to the self-clearing clipboard",
		Usage:   "keywardenctl copy <entry> [flags]",
		Flags: func() *pflag.FlagSet {
			flags := newFlagSet("copy", options)
			flags.StringVar(&kind, "kind", "password", "credential kind to copy (username, password, totp, url)")
			flags.DurationVar(&clearAfter, "clear", 0, "how long until the clipboard clears (0 = daemon default)")
			return flags
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("copy takes exactly one entry path")
			}
			request := ipc.Request{
				Action:       ipc.ActionCopy,
				Entry:        args[0],
				Kinds:        []string{kind},
				ClearSeconds: int(clearAfter / time.Second),
			}
			return options.run(request, func(response ipc.Response) {
				fmt.Printf("%s copied, clears in %ds\n", kind, response.ClearSeconds)
			})
		},
	}
}

func recentsCommand() *cli.Command {
	options := &clientOptions{}
	var limit int
	return &cli.Command{
		Name:    "recents",
		Summary: "List recently used entries",
		Usage:   "keywardenctl recents [flags]",
		Flags: func() *pflag.FlagSet {
			flags := newFlagSet("recents", options)
			flags.IntVar(&limit, "limit", 0, "maximum entries (0 = daemon default)")
			return flags
		},
		Run: func(args []string) error {
			if len(args) != 0 {
				return fmt.Errorf("recents takes no arguments")
			}
			request := ipc.Request{Action: ipc.ActionRecents, Limit: limit}
			return options.run(request, printRecents)
		},
	}
}

func reloadCommand() *cli.Command {
	options := &clientOptions{}
	return &cli.Command{
		Name:    "reload",
		Summary: "Reload the daemon configuration (locks the session)",
		Usage:   "keywardenctl reload [flags]",
		Flags:   func() *pflag.FlagSet { return newFlagSet("reload", options) },
		Run: func(args []string) error {
			if len(args) != 0 {
				return fmt.Errorf("reload takes no arguments")
			}
			return options.run(ipc.Request{Action: ipc.ActionReload}, func(ipc.Response) {
				fmt.Println("reloaded")
			})
		},
	}
}

// captureActiveWindow probes the focused window so autotype can gate
// on it. A probe failure (Wayland, missing tools) degrades to an
// empty id: the daemon then injects without focus confirmation and
// says so in its warnings.
func captureActiveWindow() string {
	logger := slog.New(slog.DiscardHandler)
	tool := focus.NewTool(runner.New(logger), 0, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	windowID, err := tool.ActiveWindow(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "warning: could not capture the active window; injection will not wait for focus")
		return ""
	}
	return windowID
}
