// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package notify fans coordination events out to interested parties:
// in-process subscribers (the SSE bridge), and signal files that
// editor and CLI integrations watch with fsnotify instead of polling
// the store.
package notify
