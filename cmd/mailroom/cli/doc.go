// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli provides the command tree, daemon connection, and output
// helpers shared by mailroom's subcommands.
package cli
