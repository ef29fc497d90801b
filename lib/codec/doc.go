// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides Mailroom's standard CBOR encoding configuration.
//
// Mailroom uses two serialization formats with a clear boundary:
//
//   - JSON for durable and human-facing data: archive records (which
//     must stay readable in git diffs), policy files, signal files,
//     CLI --json output, and the HTTP event stream.
//   - CBOR for the service socket protocol between the daemon and its
//     clients (CLI, MCP bridge, watch TUI).
//
// This package provides the shared CBOR encoding and decoding modes so
// that every Mailroom package encodes identically without duplicating
// configuration. The encoder uses Core Deterministic Encoding (RFC 8949
// §4.2): sorted map keys, smallest integer encoding, no
// indefinite-length items. Same logical data always produces identical
// bytes.
//
// For buffer-oriented operations:
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// For stream-oriented operations (the service socket):
//
//	encoder := codec.NewEncoder(conn)
//	decoder := codec.NewDecoder(conn)
//
// # Struct Tag Rules
//
// The struct tag on a type documents its serialization format:
//
//   - `cbor` tag: this type is ONLY ever serialized as CBOR. It will
//     never be marshaled to JSON. Examples: the socket request and
//     response envelopes.
//   - `json` tag: this type may be serialized as BOTH JSON and CBOR.
//     fxamacker/cbor v2 reads `json` tags as fallback when `cbor`
//     tags are absent, so a single `json` tag controls field naming
//     and omitempty for both formats. Examples: the mail domain types,
//     which flow over the socket as CBOR and into the archive and CLI
//     output as JSON.
//
// Never use both `cbor` and `json` tags on the same field. The tag
// choice documents the contract — doubling up is noise that obscures
// whether a type participates in JSON serialization.
package codec
