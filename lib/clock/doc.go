// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts time so that every duration-sensitive path
// in mailroom — reservation expiry, lock and admission timeouts, drain
// grace periods, sweep schedules — can run against a deterministic
// fake in tests.
//
// Production code receives a Clock through its Config and calls it
// instead of the time package; Real() supplies standard behavior.
// Tests inject Fake(initial) and drive it with Advance. WaitForTimers
// closes the race between a goroutine registering a timer and the test
// advancing past its deadline.
package clock
