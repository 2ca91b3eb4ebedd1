// Copyright 2026 The Keywarden Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/keywarden/keywarden/lib/config"
	"github.com/keywarden/keywarden/lib/process"
	"github.com/keywarden/keywarden/lib/version"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		configPath  string
		socketPath  string
		logLevel    string
		showVersion bool
	)

	flag.StringVar(&configPath, "config", "", "path to config file (default: first of config.yaml, config.toml, config.jsonc under $XDG_CONFIG_HOME/keywarden)")
	flag.StringVar(&socketPath, "socket", "", "unix socket path (overrides config)")
	flag.StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, or error (overrides config)")
	flag.BoolVar(&showVersion, "version", false, "print version information and exit")
	flag.Parse()

	if showVersion {
		version.Print("keywardend")
		return nil
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if socketPath != "" {
		cfg.Daemon.SocketPath = socketPath
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	daemon, err := newDaemon(configPath, cfg, logger)
	if err != nil {
		return err
	}
	defer daemon.Close()

	logger.Info("keywardend starting",
		"version", version.Info(),
		"database", cfg.Database.Path,
		"socket", cfg.Daemon.SocketPath,
	)

	if err := daemon.Serve(ctx); err != nil {
		return err
	}
	logger.Info("keywardend stopped")
	return nil
}

// loadConfig resolves the configuration: an explicit --config path, or
// the standard search (KEYWARDEN_CONFIG, then the config directory).
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

// newLogger builds the slog handler the config asks for. Logs go to
// stderr; entry names and secrets never appear in log output, so the
// stream is safe to persist through the service manager.
func newLogger(cfg *config.Config) *slog.Logger {
	options := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if strings.EqualFold(cfg.Logging.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, options))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, options))
}
