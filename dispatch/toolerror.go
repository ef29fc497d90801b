// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/bureau-foundation/mailroom/archive"
	"github.com/bureau-foundation/mailroom/lockreg"
	"github.com/bureau-foundation/mailroom/project"
	"github.com/bureau-foundation/mailroom/session"
	"github.com/bureau-foundation/mailroom/store"
)

// ErrorCategory classifies operation failures so that callers can
// make programmatic decisions (retry, fix input, escalate) without
// parsing error message text.
type ErrorCategory string

const (
	// CategoryValidation indicates the caller provided invalid input:
	// missing required parameters, unknown operation, unparseable
	// values. The caller should fix the input and retry.
	CategoryValidation ErrorCategory = "validation"

	// CategoryNotFound indicates a referenced entity does not exist:
	// unknown agent, missing message, unresolvable resource URI.
	// Retrying with the same parameters will not help.
	CategoryNotFound ErrorCategory = "not_found"

	// CategoryForbidden indicates the caller may not perform the
	// operation: acting on another agent's delivery or reservation.
	CategoryForbidden ErrorCategory = "forbidden"

	// CategoryConflict indicates the operation conflicts with
	// existing state: a strict-mode reservation denial, a duplicate
	// registration under a different identity.
	CategoryConflict ErrorCategory = "conflict"

	// CategoryTransient indicates a temporary failure: lock or
	// admission timeout, storage headroom, a git commit that can be
	// retried. The caller should back off and retry.
	CategoryTransient ErrorCategory = "transient"

	// CategoryInternal indicates an unexpected error: bugs, broken
	// archive chains, I/O failures on data the system produced. The
	// caller should report the error rather than retry.
	CategoryInternal ErrorCategory = "internal"
)

// Retryable reports whether failures in the category are worth
// retrying with the same input.
func (c ErrorCategory) Retryable() bool {
	return c == CategoryTransient
}

// OpError is a categorized operation failure. The dispatcher wraps
// every handler error into one; RPC surfaces read the category and
// retryable flag off it instead of matching each typed error again.
type OpError struct {
	// Op is the operation wire name that failed.
	Op string

	// Category classifies the failure for programmatic handling.
	Category ErrorCategory

	// Err is the underlying error with the human-readable message.
	Err error
}

// Error returns the underlying error message prefixed with the
// operation name. The category travels separately in the response
// envelope, not in the text.
func (e *OpError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error so errors.Is and errors.As
// walk the full chain through the OpError wrapper.
func (e *OpError) Unwrap() error { return e.Err }

// ErrorCode implements the socket protocol's error surface: the
// category is the machine-readable code.
func (e *OpError) ErrorCode() (string, bool) {
	return string(e.Category), e.Category.Retryable()
}

// Validation creates a validation failure for the given operation.
func Validation(op, format string, args ...any) *OpError {
	return &OpError{Op: op, Category: CategoryValidation, Err: fmt.Errorf(format, args...)}
}

// NotFound creates a not-found failure for the given operation.
func NotFound(op, format string, args ...any) *OpError {
	return &OpError{Op: op, Category: CategoryNotFound, Err: fmt.Errorf(format, args...)}
}

// Forbidden creates a forbidden failure for the given operation.
func Forbidden(op, format string, args ...any) *OpError {
	return &OpError{Op: op, Category: CategoryForbidden, Err: fmt.Errorf(format, args...)}
}

// Conflict creates a conflicting-state failure for the given
// operation.
func Conflict(op, format string, args ...any) *OpError {
	return &OpError{Op: op, Category: CategoryConflict, Err: fmt.Errorf(format, args...)}
}

// classify wraps err into an OpError, mapping the typed errors of the
// storage and lifecycle packages onto categories. An error that is
// already an OpError passes through unchanged.
func classify(op string, err error) *OpError {
	var opErr *OpError
	if errors.As(err, &opErr) {
		return opErr
	}

	category := CategoryInternal
	switch {
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, archive.ErrNotFound),
		errors.Is(err, fs.ErrNotExist):
		category = CategoryNotFound
	case isTransient(err):
		category = CategoryTransient
	case isSequenceFault(err):
		// A chain that refuses an append under the exclusivity lock
		// is a bug, not a race; never retried.
		category = CategoryInternal
	case errors.Is(err, session.ShutdownCancelled):
		category = CategoryTransient
	}
	return &OpError{Op: op, Category: category, Err: err}
}

func isTransient(err error) bool {
	var (
		lockTimeout *lockreg.LockTimeoutError
		overloaded  *session.OverloadedError
		storageInit *project.StorageInitError
		writeFailed *archive.WriteError
	)
	return errors.As(err, &lockTimeout) ||
		errors.As(err, &overloaded) ||
		errors.As(err, &storageInit) ||
		errors.As(err, &writeFailed)
}

func isSequenceFault(err error) bool {
	var sequence *archive.SequenceError
	return errors.As(err, &sequence)
}
