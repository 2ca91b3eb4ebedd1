// Copyright 2026 The Keywarden Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/keywarden/keywarden/lib/testutil"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFakeClockNow(t *testing.T) {
	clock := Fake(epoch)
	if got := clock.Now(); !got.Equal(epoch) {
		t.Fatalf("Now() = %v, want %v", got, epoch)
	}
	clock.Advance(5 * time.Second)
	want := epoch.Add(5 * time.Second)
	if got := clock.Now(); !got.Equal(want) {
		t.Fatalf("Now() after Advance = %v, want %v", got, want)
	}
}

func TestFakeClockAfterFiresOnAdvance(t *testing.T) {
	clock := Fake(epoch)
	channel := clock.After(3 * time.Second)

	select {
	case <-channel:
		t.Fatal("After fired before Advance")
	default:
	}

	clock.Advance(3 * time.Second)

	select {
	case <-channel:
	default:
		t.Fatal("After did not fire after Advance")
	}
}

func TestFakeClockAfterZeroDuration(t *testing.T) {
	clock := Fake(epoch)
	channel := clock.After(0)

	select {
	case <-channel:
	default:
		t.Fatal("After(0) should fire immediately")
	}
}

func TestFakeClockAfterPartialAdvance(t *testing.T) {
	clock := Fake(epoch)
	channel := clock.After(10 * time.Second)

	clock.Advance(9 * time.Second)
	select {
	case <-channel:
		t.Fatal("After fired before its deadline")
	default:
	}

	clock.Advance(1 * time.Second)
	select {
	case <-channel:
	default:
		t.Fatal("After did not fire at its deadline")
	}
}

func TestFakeClockAfterFuncFiresInDeadlineOrder(t *testing.T) {
	clock := Fake(epoch)

	var order []int
	clock.AfterFunc(3*time.Second, func() { order = append(order, 3) })
	clock.AfterFunc(1*time.Second, func() { order = append(order, 1) })
	clock.AfterFunc(2*time.Second, func() { order = append(order, 2) })

	clock.Advance(5 * time.Second)

	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("callbacks fired in order %v, want [1 2 3]", order)
	}
}

func TestFakeClockAfterFuncStop(t *testing.T) {
	clock := Fake(epoch)

	var fired atomic.Bool
	timer := clock.AfterFunc(5*time.Second, func() { fired.Store(true) })

	if !timer.Stop() {
		t.Fatal("Stop() on an armed timer should return true")
	}
	clock.Advance(10 * time.Second)

	if fired.Load() {
		t.Fatal("stopped timer fired")
	}
	if timer.Stop() {
		t.Fatal("second Stop() should return false")
	}
}

func TestFakeClockAfterFuncReset(t *testing.T) {
	clock := Fake(epoch)

	var fireCount atomic.Int32
	timer := clock.AfterFunc(5*time.Second, func() { fireCount.Add(1) })

	// Advancing 4s then resetting pushes the deadline to t+9s.
	clock.Advance(4 * time.Second)
	if !timer.Reset(5 * time.Second) {
		t.Fatal("Reset() on an armed timer should return true")
	}

	clock.Advance(4 * time.Second)
	if fireCount.Load() != 0 {
		t.Fatal("timer fired before its reset deadline")
	}

	clock.Advance(1 * time.Second)
	if fireCount.Load() != 1 {
		t.Fatalf("fireCount = %d after reset deadline, want 1", fireCount.Load())
	}
}

func TestFakeClockAfterFuncResetAfterFire(t *testing.T) {
	clock := Fake(epoch)

	var fireCount atomic.Int32
	timer := clock.AfterFunc(1*time.Second, func() { fireCount.Add(1) })

	clock.Advance(1 * time.Second)
	if fireCount.Load() != 1 {
		t.Fatalf("fireCount = %d, want 1", fireCount.Load())
	}

	// Re-arming a fired timer registers it again.
	if timer.Reset(2 * time.Second) {
		t.Fatal("Reset() on a fired timer should return false")
	}
	clock.Advance(2 * time.Second)
	if fireCount.Load() != 2 {
		t.Fatalf("fireCount = %d after re-arm, want 2", fireCount.Load())
	}
}

func TestFakeClockAfterFuncImmediate(t *testing.T) {
	clock := Fake(epoch)

	var fired atomic.Bool
	clock.AfterFunc(0, func() { fired.Store(true) })

	if !fired.Load() {
		t.Fatal("AfterFunc(0) should fire synchronously")
	}
}

func TestFakeClockWaitForTimers(t *testing.T) {
	clock := Fake(epoch)

	registered := make(chan struct{})
	fired := make(chan struct{})
	go func() {
		channel := clock.After(2 * time.Second)
		close(registered)
		<-channel
		close(fired)
	}()

	clock.WaitForTimers(1)
	<-registered
	clock.Advance(2 * time.Second)

	testutil.RequireClosed(t, fired, 5*time.Second, "waiter fire after Advance")
}

func TestFakeClockPendingCount(t *testing.T) {
	clock := Fake(epoch)

	if got := clock.PendingCount(); got != 0 {
		t.Fatalf("PendingCount() = %d on a fresh clock, want 0", got)
	}

	clock.After(1 * time.Second)
	timer := clock.AfterFunc(2*time.Second, func() {})
	if got := clock.PendingCount(); got != 2 {
		t.Fatalf("PendingCount() = %d, want 2", got)
	}

	timer.Stop()
	if got := clock.PendingCount(); got != 1 {
		t.Fatalf("PendingCount() = %d after Stop, want 1", got)
	}
}
