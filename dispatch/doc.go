// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package dispatch routes named coordination operations to the
// components that serve them. It is the one place the index-then-
// archive write discipline lives: every mutating operation acquires
// the project exclusivity lock, writes the indexed store, stages the
// matching archive records, and rolls the store back if staging
// fails — the two stores are never divergent beyond the lock hold.
// Read-only operations go straight to the store and never lock.
package dispatch
