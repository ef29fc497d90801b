// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package mdterm renders markdown message bodies as styled terminal
// text. Both the watch TUI and `mailroom read` use it, so the output
// must reflow cleanly at any width: agents hard-wrap their message
// bodies at whatever column their own tooling prefers, and the reader's
// terminal is rarely the same width.
//
// Soft line breaks inside paragraphs become spaces and the joined
// paragraph is word-wrapped to the requested width. Code blocks are
// syntax-highlighted with Chroma when the fence names a language.
// Structural elements (lists, blockquotes, tables, task lists) keep
// their shape.
package mdterm
