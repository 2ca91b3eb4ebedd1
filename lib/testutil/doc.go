// Copyright 2026 The Keywarden Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for keywarden
// packages.
//
// [SocketDir] creates a short-pathed temporary directory for Unix
// domain sockets: sun_path caps socket paths at 108 bytes, and test
// tmpdirs under deep build trees overflow that, so t.TempDir() is not
// safe for socket files.
//
// [RequireReceive] and [RequireClosed] wrap the select-with-timeout
// safety valve so tests waiting on daemon callbacks or child-process
// exits cannot hang the suite. The timeout is a hang stop, never a
// timing assertion; tests that assert on time drive it through the
// lib/clock fake.
package testutil
