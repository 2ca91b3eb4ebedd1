// Copyright 2026 The Keywarden Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time abstraction for testability.
//
// Production code accepts a Clock interface parameter instead of
// calling time.Now, time.After, or time.AfterFunc directly. In
// production, Real() provides the standard library behavior. In tests,
// Fake() provides a deterministic clock that advances only when Advance
// is called.
//
// The two timing-sensitive subsystems both depend on this package: the
// session manager's inactivity timer (which must fire even while an
// external tool call is blocked) and the focus poller's bounded retry
// loop. Their tests assert exact firing behavior with FakeClock rather
// than sleeping real time.
//
// # Wiring Pattern
//
// Add a Clock field to structs that use time:
//
//	type Manager struct {
//	    clock clock.Clock
//	    // ...
//	}
//
// In production:
//
//	m := session.New(session.Options{Clock: clock.Real()})
//
// In tests:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	m := session.New(session.Options{Clock: c})
//	// ... trigger activity ...
//	c.WaitForTimers(1)             // wait for the inactivity timer to arm
//	c.Advance(90 * time.Second)    // fire it deterministically
//
// # FakeClock Synchronization
//
// When a goroutine calls After or AfterFunc on a FakeClock, it
// registers a pending waiter. Use WaitForTimers to block until a
// specific number of waiters are registered before calling Advance.
// This eliminates the race between timer registration and time
// advancement that plagues tests using real sleeps for
// synchronization.
package clock
