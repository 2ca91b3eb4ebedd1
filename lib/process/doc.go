// Copyright 2026 The Keywarden Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides binary entrypoint helpers shared by the
// keywarden binaries. It centralizes the one legitimate raw-stderr
// pattern that exists before the structured logger: fatal error
// reporting from main() when run() fails during startup, where the
// slog handler may not be configured yet.
package process
