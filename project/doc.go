// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package project maps human-supplied project keys to isolated on-disk
// coordination roots. Each root owns one SQLite store and one archive
// repository; the registry creates roots idempotently on first
// reference and caches open handles for the life of the registry.
package project
