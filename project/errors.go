// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package project

import "fmt"

// StorageInitError reports a project root that could not be created or
// opened: the data root is unwritable, the filesystem is out of
// headroom, or a component under the root failed to initialize. The
// condition is environmental, so callers may retry after the operator
// intervenes.
type StorageInitError struct {
	// Path is the filesystem location that failed.
	Path string

	// Err is the underlying failure.
	Err error
}

func (e *StorageInitError) Error() string {
	return fmt.Sprintf("project storage at %s: %v", e.Path, e.Err)
}

func (e *StorageInitError) Unwrap() error {
	return e.Err
}

// ErrorCode implements the socket protocol's error classification.
func (e *StorageInitError) ErrorCode() (string, bool) {
	return "storage_init", true
}
