// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"errors"
	"fmt"
	"time"
)

// ShutdownCancelled is the distinguished cancellation signal for
// sessions cut off by a drain. It is an expected outcome of shutdown,
// never a fault: drain logic matches on it explicitly, logs it at
// info, and must not absorb it into a generic failure path.
var ShutdownCancelled = errors.New("session cancelled: server shutting down")

// OverloadedError reports that no concurrency slot freed up within
// the admission timeout. Retriable with backoff.
type OverloadedError struct {
	// Waited is how long the caller queued for a slot.
	Waited time.Duration

	// MaxSessions is the configured concurrency bound.
	MaxSessions int64
}

func (e *OverloadedError) Error() string {
	return fmt.Sprintf("no session slot within %s (%d concurrent sessions allowed)", e.Waited, e.MaxSessions)
}

// ErrorCode implements the socket protocol's error classification.
func (e *OverloadedError) ErrorCode() (string, bool) {
	return "overloaded", true
}
