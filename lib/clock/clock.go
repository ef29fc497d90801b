// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import "time"

// Clock is the time surface mailroom components depend on. Anything
// that reads the current time, waits for a deadline, or ticks on an
// interval takes a Clock instead of calling the time package, so the
// fake can stand in during tests.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives once, after d has
	// elapsed. A non-positive d delivers immediately.
	After(d time.Duration) <-chan time.Time

	// AfterFunc schedules f to run once d has elapsed. Stop on the
	// returned Timer cancels the pending call; it reports whether
	// the cancellation happened before f ran.
	AfterFunc(d time.Duration, f func()) *Timer

	// NewTicker delivers a tick every d on the returned Ticker's C.
	// Panics if d is not positive.
	NewTicker(d time.Duration) *Ticker

	// Sleep blocks the calling goroutine for at least d.
	Sleep(d time.Duration)
}

// Timer is a pending AfterFunc call.
type Timer struct {
	stop func() bool
}

// Stop cancels the pending call. It reports whether the timer was
// still pending; false means the function already ran or the timer
// was stopped earlier.
func (t *Timer) Stop() bool { return t.stop() }

// Ticker delivers periodic ticks on C. C is buffered with capacity
// one: when the consumer falls behind, ticks are dropped, never
// queued, matching time.Ticker.
type Ticker struct {
	C <-chan time.Time

	stop func()
}

// Stop ends the tick stream. C is not closed; pending buffered ticks
// remain readable.
func (t *Ticker) Stop() { t.stop() }

// Real returns the Clock backed by the standard time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

func (realClock) AfterFunc(d time.Duration, f func()) *Timer {
	timer := time.AfterFunc(d, f)
	return &Timer{stop: timer.Stop}
}

func (realClock) NewTicker(d time.Duration) *Ticker {
	ticker := time.NewTicker(d)
	return &Ticker{C: ticker.C, stop: ticker.Stop}
}

func (realClock) Sleep(d time.Duration) { time.Sleep(d) }
