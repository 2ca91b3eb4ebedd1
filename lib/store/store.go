// Copyright 2026 The Keywarden Authors
// SPDX-License-Identifier: Apache-2.0

// Package store wraps the KeePassXC command-line tool behind a typed
// client. Every invocation authenticates by streaming the database
// passphrase to the tool's stdin through lib/runner, so the passphrase
// never appears in argv, the environment, or a log line. Secret-bearing
// output (attribute values, TOTP codes) is moved into lib/secret
// buffers and the intermediate copies zeroed before a method returns.
package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/keywarden/keywarden/lib/runner"
	"github.com/keywarden/keywarden/lib/secret"
)

const (
	defaultCLI     = "keepassxc-cli"
	defaultTimeout = 15 * time.Second

	cliHint = "install KeePassXC (e.g. sudo apt install keepassxc)"

	// clipExitGrace pads the clip tool's supervision timeout past its
	// clear countdown so a healthy run never counts as a timeout.
	clipExitGrace = 5 * time.Second
)

// ErrInvalidPassphrase reports that the store tool rejected the
// supplied passphrase. Detected from the tool's stderr so callers can
// re-prompt instead of surfacing a generic tool failure.
var ErrInvalidPassphrase = errors.New("store: invalid passphrase")

// ErrDatabaseNotFound reports that the configured database file does
// not exist.
var ErrDatabaseNotFound = errors.New("store: database file not found")

// ErrAttributeEmpty reports that an entry exists but the requested
// attribute holds no value. Distinct from a tool failure: the fetch
// worked, there is simply nothing to inject or copy.
var ErrAttributeEmpty = errors.New("store: attribute is empty")

// ErrNoTOTP reports that an entry has no TOTP secret configured.
var ErrNoTOTP = errors.New("store: entry has no TOTP configured")

// Meta is the non-secret display metadata of an entry.
type Meta struct {
	UserName string
	URL      string
	HasTOTP  bool
}

// Config configures a Client.
type Config struct {
	// CLI is the store tool name or path. Defaults to keepassxc-cli.
	CLI string

	// Database is the path to the database file. Required.
	Database string

	// Keyfile is an optional key file path, passed to the tool as a
	// flag. The path is not secret; the file contents never transit
	// this process.
	Keyfile string

	// Timeout bounds each tool invocation. Defaults to 15s; unlocking
	// a database with an expensive KDF can take several seconds.
	Timeout time.Duration

	// Runner executes the tool. Required.
	Runner *runner.Runner

	Logger *slog.Logger
}

// Client is a typed wrapper around one database. Methods are safe for
// concurrent use; each spawns an independent tool process.
type Client struct {
	cli      string
	database string
	keyfile  string
	timeout  time.Duration
	runner   *runner.Runner
	logger   *slog.Logger
}

// New returns a Client for the configured database.
func New(config Config) (*Client, error) {
	if config.Database == "" {
		return nil, fmt.Errorf("store: Database is required")
	}
	if config.Runner == nil {
		return nil, fmt.Errorf("store: Runner is required")
	}
	if config.CLI == "" {
		config.CLI = defaultCLI
	}
	if config.Timeout <= 0 {
		config.Timeout = defaultTimeout
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	return &Client{
		cli:      config.CLI,
		database: config.Database,
		keyfile:  config.Keyfile,
		timeout:  config.Timeout,
		runner:   config.Runner,
		logger:   config.Logger,
	}, nil
}

// Database returns the configured database path.
func (c *Client) Database() string { return c.database }

// CLI returns the configured store tool name.
func (c *Client) CLI() string { return c.cli }

// Available reports whether the store tool resolves on PATH. A miss is
// a *runner.ToolNotFoundError with an install hint.
func (c *Client) Available() error {
	_, err := c.runner.LookPath(c.cli, cliHint)
	return err
}

// CheckDatabase verifies that the database file exists.
func (c *Client) CheckDatabase() error {
	if _, err := os.Stat(c.database); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrDatabaseNotFound, c.database)
		}
		return fmt.Errorf("store: checking database %s: %w", c.database, err)
	}
	return nil
}

// VerifyPassphrase checks the passphrase against the database by
// listing its top level. A wrong passphrase is ErrInvalidPassphrase;
// the buffer is left alive for the caller to seal or wipe.
func (c *Client) VerifyPassphrase(ctx context.Context, pass *secret.Buffer) error {
	output, err := c.run(ctx, pass, "ls", nil)
	secret.Zero(output)
	return err
}

// Search returns the entry paths matching query, at most limit of them
// (limit <= 0 means all). Ranking is the store tool's; the order is
// preserved. A search that matches nothing returns an empty slice and
// no error.
func (c *Client) Search(ctx context.Context, pass *secret.Buffer, query string, limit int) ([]string, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("store: empty search query")
	}

	output, err := c.run(ctx, pass, "locate", nil, query)
	if err != nil {
		var toolErr *runner.ToolError
		if errors.As(err, &toolErr) && strings.Contains(toolErr.Stderr, "No results") {
			return nil, nil
		}
		return nil, err
	}
	return parseEntryList(output, limit), nil
}

// List returns every entry path in the database.
func (c *Client) List(ctx context.Context, pass *secret.Buffer) ([]string, error) {
	output, err := c.run(ctx, pass, "ls", []string{"-R", "-f"})
	if err != nil {
		return nil, err
	}
	return parseEntryList(output, 0), nil
}

// Attribute fetches one attribute of an entry into a secret buffer.
// The intermediate tool output is zeroed before return. An entry whose
// attribute holds no value is ErrAttributeEmpty.
func (c *Client) Attribute(ctx context.Context, pass *secret.Buffer, entry string, kind secret.Kind) (*secret.Buffer, error) {
	if kind == secret.KindTOTP {
		return c.TOTP(ctx, pass, entry)
	}

	output, err := c.run(ctx, pass, "show", []string{"-a", attributeName(kind)}, entry)
	if err != nil {
		return nil, err
	}
	return packageSecret(output, kind, entry)
}

// TOTP fetches the entry's current time-based one-time code. The code
// is generated for the current time step; callers use it immediately
// and never cache it across steps.
func (c *Client) TOTP(ctx context.Context, pass *secret.Buffer, entry string) (*secret.Buffer, error) {
	output, err := c.run(ctx, pass, "show", []string{"-t"}, entry)
	if err != nil {
		var toolErr *runner.ToolError
		if errors.As(err, &toolErr) && strings.Contains(toolErr.Stderr, "TOTP") {
			return nil, fmt.Errorf("%w: %s", ErrNoTOTP, entry)
		}
		return nil, err
	}
	return packageSecret(output, secret.KindTOTP, entry)
}

// EntryMeta fetches the non-secret display metadata of an entry. An
// attribute without a value comes back empty rather than failing the
// whole fetch.
func (c *Client) EntryMeta(ctx context.Context, pass *secret.Buffer, entry string) (Meta, error) {
	userName, err := c.metaAttribute(ctx, pass, entry, "UserName")
	if err != nil {
		return Meta{}, err
	}
	url, err := c.metaAttribute(ctx, pass, entry, "URL")
	if err != nil {
		return Meta{}, err
	}

	meta := Meta{UserName: userName, URL: url}

	// Probe for a TOTP secret by fetching the current code; the code
	// itself is discarded.
	code, err := c.TOTP(ctx, pass, entry)
	switch {
	case err == nil:
		code.Wipe()
		meta.HasTOTP = true
	case errors.Is(err, ErrNoTOTP):
	default:
		return Meta{}, err
	}
	return meta, nil
}

// StartClip launches the store tool's clip mode: the tool places the
// attribute on the system clipboard and blocks until its clear
// countdown finishes. The returned Proc is supervised by the clipboard
// coordinator; its timeout is the countdown plus a small grace.
func (c *Client) StartClip(ctx context.Context, pass *secret.Buffer, entry string, kind secret.Kind, clearAfter time.Duration) (*runner.Proc, error) {
	if pass == nil {
		return nil, fmt.Errorf("store: clip: passphrase buffer required")
	}

	seconds := int(clearAfter / time.Second)
	if seconds < 1 {
		seconds = 1
	}

	args := []string{"clip", "-q"}
	if kind == secret.KindTOTP {
		args = append(args, "-t")
	} else {
		args = append(args, "-a", attributeName(kind))
	}
	if c.keyfile != "" {
		args = append(args, "-k", c.keyfile)
	}
	args = append(args, c.database, entry, strconv.Itoa(seconds))

	c.logger.Debug("store clip starting", "kind", kind.String(), "clear_seconds", seconds)
	return c.runner.Start(ctx, runner.Spec{
		Command: c.cli,
		Args:    args,
		Stdin:   pass,
		Timeout: clearAfter + clipExitGrace,
		Hint:    cliHint,
	})
}

// run invokes one store tool subcommand with the passphrase on stdin.
// Options precede the database path, positionals follow it, matching
// the tool's canonical argument order.
func (c *Client) run(ctx context.Context, pass *secret.Buffer, command string, options []string, positionals ...string) ([]byte, error) {
	if pass == nil {
		return nil, fmt.Errorf("store: %s: passphrase buffer required", command)
	}

	args := append([]string{command, "-q"}, options...)
	if c.keyfile != "" {
		args = append(args, "-k", c.keyfile)
	}
	args = append(args, c.database)
	args = append(args, positionals...)

	c.logger.Debug("store cli call", "command", command)
	result, err := c.runner.Run(ctx, runner.Spec{
		Command: c.cli,
		Args:    args,
		Stdin:   pass,
		Timeout: c.timeout,
		Hint:    cliHint,
	})
	if err != nil {
		var toolErr *runner.ToolError
		if errors.As(err, &toolErr) && strings.Contains(toolErr.Stderr, "Invalid credentials") {
			return nil, fmt.Errorf("store: %s: %w", command, ErrInvalidPassphrase)
		}
		return nil, err
	}
	return result.Stdout, nil
}

// metaAttribute fetches an attribute as a plain string for display.
// Only call for attributes that are not secret.
func (c *Client) metaAttribute(ctx context.Context, pass *secret.Buffer, entry, attr string) (string, error) {
	output, err := c.run(ctx, pass, "show", []string{"-a", attr}, entry)
	if err != nil {
		return "", err
	}
	return string(bytes.TrimSpace(output)), nil
}

// packageSecret moves trimmed tool output into a secret buffer and
// zeroes the intermediate slice, including the bytes outside the
// trimmed view.
func packageSecret(output []byte, kind secret.Kind, entry string) (*secret.Buffer, error) {
	view := bytes.TrimSpace(output)
	if len(view) == 0 {
		secret.Zero(output)
		return nil, fmt.Errorf("store: entry %q %s: %w", entry, kind, ErrAttributeEmpty)
	}

	buffer, err := secret.New(kind, view)
	secret.Zero(output)
	if err != nil {
		return nil, err
	}
	return buffer, nil
}

// attributeName maps a secret kind to the store's attribute name.
func attributeName(kind secret.Kind) string {
	switch kind {
	case secret.KindPassword:
		return "Password"
	case secret.KindUsername:
		return "UserName"
	case secret.KindURL:
		return "URL"
	default:
		return kind.String()
	}
}

// parseEntryList splits tool output into entry paths, dropping group
// lines (trailing slash) and the tool's empty-group marker.
func parseEntryList(output []byte, limit int) []string {
	var entries []string
	for _, line := range strings.Split(string(output), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || line == "[empty]" || strings.HasSuffix(line, "/") {
			continue
		}
		entries = append(entries, line)
		if limit > 0 && len(entries) >= limit {
			break
		}
	}
	return entries
}
