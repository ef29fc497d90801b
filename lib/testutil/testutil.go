// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides the shared helpers the mailroom test
// suites lean on: bounded channel operations, unique identifiers, and
// short socket paths.
//
// [RequireReceive], [RequireSend], and [RequireClosed] wrap select
// with a real-time fallback so a broken channel fails the test instead
// of hanging it. They are the only sanctioned use of wall-clock
// timeouts in tests; everything duration-sensitive goes through
// lib/clock's fake.
//
// All helpers call t.Fatalf on failure: test setup problems are not
// recoverable conditions.
package testutil

import (
	"fmt"
	"os"
	"sync/atomic"
	"testing"
	"time"
)

// failer is the subset of *testing.T the channel helpers need. Taking
// the interface keeps them usable from helpers that wrap testing.T.
type failer interface {
	Helper()
	Fatalf(format string, args ...any)
}

// RequireReceive reads one value from ch within timeout or fails the
// test.
//
//	grant := testutil.RequireReceive(t, grants, 5*time.Second, "waiting for grant")
func RequireReceive[T any](t failer, ch <-chan T, timeout time.Duration, msgAndArgs ...any) T {
	t.Helper()
	select {
	case value, ok := <-ch:
		if !ok {
			t.Fatalf("channel closed without a value: %s", message(msgAndArgs))
		}
		return value
	case <-time.After(timeout):
		t.Fatalf("timed out after %v: %s", timeout, message(msgAndArgs))
	}
	panic("unreachable")
}

// RequireSend sends value on ch within timeout or fails the test.
func RequireSend[T any](t failer, ch chan<- T, value T, timeout time.Duration, msgAndArgs ...any) {
	t.Helper()
	select {
	case ch <- value:
	case <-time.After(timeout):
		t.Fatalf("timed out after %v: %s", timeout, message(msgAndArgs))
	}
}

// RequireClosed waits for ch to close (or deliver) within timeout or
// fails the test. Readiness channels that signal by closing are the
// usual argument.
func RequireClosed(t failer, ch <-chan struct{}, timeout time.Duration, msgAndArgs ...any) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(timeout):
		t.Fatalf("timed out after %v waiting for close: %s", timeout, message(msgAndArgs))
	}
}

func message(msgAndArgs []any) string {
	switch len(msgAndArgs) {
	case 0:
		return "(no message)"
	case 1:
		if s, ok := msgAndArgs[0].(string); ok {
			return s
		}
		return fmt.Sprintf("%v", msgAndArgs[0])
	}
	if format, ok := msgAndArgs[0].(string); ok {
		return fmt.Sprintf(format, msgAndArgs[1:]...)
	}
	return fmt.Sprintf("%v", msgAndArgs)
}

var uniqueCounter atomic.Uint64

// UniqueID returns "prefix-N" with a process-wide increasing N. Use
// it for test identities — agent names, project keys, subjects — that
// must not collide across parallel tests.
func UniqueID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, uniqueCounter.Add(1))
}

// SocketDir creates a short-pathed temporary directory for Unix
// socket files. Unix socket paths are limited to 108 bytes, which
// deeply nested test tmpdirs can exceed, so this allocates directly
// under /tmp. Removed when the test finishes.
func SocketDir(t *testing.T) string {
	t.Helper()
	directory, err := os.MkdirTemp("/tmp", "mailroom-test-*")
	if err != nil {
		t.Fatalf("creating socket directory: %v", err)
	}
	t.Cleanup(func() {
		_ = os.RemoveAll(directory)
	})
	return directory
}
