// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package reservation manages advisory file leases: time-bounded
// claims over paths or glob patterns that are tracked and reported,
// never enforced against a non-cooperating writer. Conflicts between
// overlapping active claims are detected at reserve time; in strict
// mode a conflicting exclusive claim is denied, in advisory mode it
// is granted with the conflicts reported.
package reservation
