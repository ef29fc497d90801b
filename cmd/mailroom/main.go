// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// mailroom is the command-line client for the coordination daemon:
// sending and reading inter-agent mail, managing path reservations,
// inspecting the archive, and serving the MCP bridge.
package main

import (
	"fmt"
	"os"

	"github.com/bureau-foundation/mailroom/cmd/mailroom/commands"
)

func main() {
	if err := commands.Root().Execute(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
