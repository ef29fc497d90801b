// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package archive implements the append-only half of mailroom's dual
// persistence: a git repository of human-readable JSON records, one
// per mutating operation, forming a single hash chain per project.
// The indexed store answers queries; the archive answers "what
// happened, in what order, and can I prove it" — with ordinary git
// tooling, no mailroom binary required.
//
// Records are staged as files under
// projects/<slug>/agents/<agentSlug>/<kind>/<seq>.json and chained
// through keyed BLAKE3 hashes; the current chain position lives in
// chain/HEAD.json. Staging validates sequence continuity before
// touching disk and writes every file atomically, so a reader never
// observes a partially applied batch. Git commits record durability
// and may cover several staged batches at once; the files themselves
// are the source of truth between commits.
//
// The archive performs no locking of its own. Callers serialize
// appends through the project's exclusivity lock; reads are lock-free
// snapshots keyed off the committed chain head.
package archive
