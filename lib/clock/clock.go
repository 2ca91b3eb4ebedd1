// Copyright 2026 The Keywarden Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import "time"

// Clock abstracts the time operations the engine depends on: the
// session inactivity timer, the focus poller's retry waits, and
// clipboard clear deadlines. Production code injects Real(); tests
// inject Fake() and advance time deterministically.
//
// Every production function that would call time.Now, time.After, or
// time.AfterFunc accepts a Clock (or is a method on a struct with a
// Clock field) instead of calling the time package directly. There is
// deliberately no Sleep: a fixed sleep is never a substitute for a
// confirmed state check.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the current time after
	// duration d elapses. Equivalent to time.After. If d <= 0, the
	// channel receives immediately.
	After(d time.Duration) <-chan time.Time

	// AfterFunc waits for duration d, then calls f in its own
	// goroutine. Returns a Timer whose Stop cancels the pending call
	// and whose Reset re-arms it. If d <= 0, f runs immediately.
	AfterFunc(d time.Duration, f func()) *Timer
}

// Timer is a scheduled AfterFunc call.
type Timer struct {
	stopFunc  func() bool
	resetFunc func(time.Duration) bool
}

// Stop prevents the Timer from firing. Returns true if the call stops
// the timer, false if the timer has already fired or been stopped.
func (t *Timer) Stop() bool { return t.stopFunc() }

// Reset changes the timer to fire after duration d. Returns true if
// the timer was active before the reset.
func (t *Timer) Reset(d time.Duration) bool { return t.resetFunc(d) }
