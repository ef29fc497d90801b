// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a requested record does not exist in
// the committed chain.
var ErrNotFound = errors.New("record not found")

// SequenceError reports an append that does not extend the chain:
// the batch's first sequence number is not head+1, the batch skips a
// number internally, or the caller's expected head hash is stale.
// This is a caller bug (or a second writer, which the project
// exclusivity lock exists to prevent) — never retried.
type SequenceError struct {
	// ExpectedSeq is the sequence number the chain would accept next.
	ExpectedSeq int64

	// GotSeq is the sequence number the batch supplied.
	GotSeq int64

	// ExpectedHash is the hash of the current chain head.
	ExpectedHash string

	// GotHash is the head hash the caller expected, when the mismatch
	// is a stale-hash check rather than a numbering error.
	GotHash string
}

func (e *SequenceError) Error() string {
	if e.GotHash != "" && e.GotHash != e.ExpectedHash {
		return fmt.Sprintf("archive: append expects chain head %q but caller staged against %q (next seq %d)",
			e.ExpectedHash, e.GotHash, e.ExpectedSeq)
	}
	return fmt.Sprintf("archive: append seq %d does not extend the chain (want seq %d)",
		e.GotSeq, e.ExpectedSeq)
}

// WriteError reports a disk or git failure while persisting records.
// The chain head is only advanced after every file in a batch is in
// place, so a WriteError means the batch did not happen; retrying
// with the same sequence numbers is safe.
type WriteError struct {
	// Path is the file or git operation that failed.
	Path string

	// Err is the underlying failure.
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("archive: write %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
