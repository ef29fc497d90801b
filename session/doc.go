// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package session manages the lifecycle of live remote-call contexts:
// a readiness barrier that keeps admission closed until the internal
// delivery consumer has acknowledged it is running, bounded-slot
// admission for concurrent callers, and a drain sequence that
// distinguishes deliberate shutdown cancellation from genuine faults.
package session
