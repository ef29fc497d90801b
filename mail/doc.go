// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package mail defines the domain types shared by every mailroom
// component: agents, messages, per-recipient deliveries, and file
// reservations, together with the validation and slug-derivation
// rules that keep free-text identities out of filesystem paths.
//
// Types in this package are plain values. Persistence lives in the
// store and archive packages; this package only knows what the data
// is, not where it goes.
package mail
