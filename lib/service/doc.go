// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package service provides the daemon's two transport servers and the
// matching socket client.
//
// [SocketServer] serves the coordination RPC protocol on a Unix
// socket: one CBOR request-response cycle per connection, with an
// envelope carrying the action name, the caller's identity, and an
// action-specific payload. The CLI, the MCP bridge, and the watch TUI
// all speak this protocol through [Client].
//
// [HTTPServer] hosts the read-only HTTP surface (the event stream and
// the health endpoint). It exists as a separate listener so that
// browser-side and remote consumers never touch the mutating socket
// protocol.
//
// Both servers follow the same lifecycle: construct with a validated
// config, call Serve(ctx) which blocks, watch Ready() for the moment
// the listener is bound, and cancel the context to trigger graceful
// shutdown with in-flight work draining.
package service
