// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package store is the indexed half of mailroom's dual persistence: a
// per-project SQLite database holding agents, messages, deliveries,
// and file reservations, optimized for the filtered scans the RPC
// surface needs (inbox by recipient, thread listing, time windows,
// importance floors).
//
// The store is deliberately unaware of the archive and of locking.
// Cross-entity write sequences (index write, then archive append) are
// ordered by the dispatcher under the project's exclusivity lock; the
// store only guarantees that each of its own multi-row writes (a
// message plus its per-recipient deliveries) is a single SQLite
// transaction. Compensating deletes exist so the dispatcher can roll
// an index write back when the archive append behind it fails.
//
// Sequence ids come from a counter row incremented inside the same
// transaction as the message insert, so sequence order is creation
// order even under writer concurrency. A rolled-back send leaves a
// gap in the sequence; gaps are harmless, reuse would not be.
package store
