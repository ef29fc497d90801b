// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/bureau-foundation/mailroom/lib/clock"
)

var testEpoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func TestNowAdvances(t *testing.T) {
	fake := clock.Fake(testEpoch)
	if got := fake.Now(); !got.Equal(testEpoch) {
		t.Fatalf("Now() = %v, want %v", got, testEpoch)
	}
	fake.Advance(90 * time.Second)
	if got, want := fake.Now(), testEpoch.Add(90*time.Second); !got.Equal(want) {
		t.Fatalf("Now() after advance = %v, want %v", got, want)
	}
}

func TestAfterFiresAtDeadline(t *testing.T) {
	fake := clock.Fake(testEpoch)
	waiting := fake.After(time.Minute)

	fake.Advance(59 * time.Second)
	select {
	case <-waiting:
		t.Fatal("After fired before its deadline")
	default:
	}

	fake.Advance(time.Second)
	select {
	case fired := <-waiting:
		if want := testEpoch.Add(time.Minute); !fired.Equal(want) {
			t.Errorf("fire time = %v, want %v", fired, want)
		}
	default:
		t.Fatal("After did not fire at its deadline")
	}
}

func TestAfterNonPositiveDelivery(t *testing.T) {
	fake := clock.Fake(testEpoch)
	select {
	case <-fake.After(0):
	default:
		t.Fatal("After(0) should deliver immediately")
	}
}

func TestAfterFuncStop(t *testing.T) {
	fake := clock.Fake(testEpoch)
	var calls atomic.Int32
	timer := fake.AfterFunc(time.Minute, func() { calls.Add(1) })

	if !timer.Stop() {
		t.Fatal("Stop before firing should report true")
	}
	fake.Advance(2 * time.Minute)
	if calls.Load() != 0 {
		t.Fatal("stopped AfterFunc still ran")
	}
	if timer.Stop() {
		t.Fatal("second Stop should report false")
	}
}

func TestTickerFiresPerInterval(t *testing.T) {
	fake := clock.Fake(testEpoch)
	ticker := fake.NewTicker(10 * time.Second)
	defer ticker.Stop()

	// The channel holds one tick; an advance spanning three
	// intervals delivers the first and drops the overflow.
	fake.Advance(30 * time.Second)
	ticks := 0
	for {
		select {
		case <-ticker.C:
			ticks++
			continue
		default:
		}
		break
	}
	if ticks != 1 {
		t.Fatalf("buffered ticks = %d, want 1 (capacity-one channel)", ticks)
	}

	fake.Advance(10 * time.Second)
	select {
	case <-ticker.C:
	default:
		t.Fatal("ticker did not reschedule after firing")
	}
}

func TestSleepBlocksUntilAdvance(t *testing.T) {
	fake := clock.Fake(testEpoch)
	done := make(chan struct{})
	go func() {
		fake.Sleep(5 * time.Second)
		close(done)
	}()

	fake.WaitForTimers(1)
	select {
	case <-done:
		t.Fatal("Sleep returned before the clock advanced")
	default:
	}

	fake.Advance(5 * time.Second)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Sleep did not wake after Advance")
	}
}

func TestWaitForTimersCountsLiveEntries(t *testing.T) {
	fake := clock.Fake(testEpoch)
	fake.After(time.Minute)
	fake.After(time.Hour)
	fake.WaitForTimers(2)
	if got := fake.PendingCount(); got != 2 {
		t.Fatalf("PendingCount = %d, want 2", got)
	}
}
