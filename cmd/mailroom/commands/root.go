// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"

	"github.com/bureau-foundation/mailroom/cmd/mailroom/cli"
	"github.com/bureau-foundation/mailroom/lib/version"
)

// Root returns the top-level mailroom command.
func Root() *cli.Command {
	return &cli.Command{
		Name:    "mailroom",
		Summary: "Coordination client for concurrent coding agents.",
		Description: "mailroom coordinates concurrent coding agents working in the same\n" +
			"repository: a shared ordered mailbox, advisory file reservations, and\n" +
			"a tamper-evident archive of everything that happened.",
		Subcommands: []*cli.Command{
			registerCommand(),
			agentsCommand(),
			sendCommand(),
			replyCommand(),
			inboxCommand(),
			checkCommand(),
			readCommand(),
			ackCommand(),
			threadCommand(),
			reserveCommand(),
			releaseCommand(),
			reservationsCommand(),
			archiveCommand(),
			mcpCommand(),
			watchCommand(),
			versionCommand(),
		},
	}
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:    "version",
		Summary: "Print version information.",
		Run: func(args []string) error {
			fmt.Println("mailroom " + version.Full())
			return nil
		},
	}
}
