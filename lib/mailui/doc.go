// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package mailui is the interactive inbox viewer behind "mailroom
// watch": a two-pane terminal UI listing deliveries with a markdown
// detail view, refreshed by signal-file notifications with a polling
// fallback.
package mailui
