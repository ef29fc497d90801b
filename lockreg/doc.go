// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package lockreg provides per-project coordination primitives: one
// FIFO exclusivity lock serializing mutating operations per project,
// and one commit queue coalescing archive commits per project. The
// registry is explicit and injectable — tests construct isolated
// registries, nothing lives at package level.
package lockreg
