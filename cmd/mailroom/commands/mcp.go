// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/mailroom/cmd/mailroom/cli"
	"github.com/bureau-foundation/mailroom/dispatch"
	"github.com/bureau-foundation/mailroom/lockreg"
	"github.com/bureau-foundation/mailroom/mcp"
	"github.com/bureau-foundation/mailroom/notify"
	"github.com/bureau-foundation/mailroom/project"
)

func mcpCommand() *cli.Command {
	return &cli.Command{
		Name:    "mcp",
		Summary: "Model Context Protocol integration.",
		Subcommands: []*cli.Command{
			mcpServeCommand(),
		},
	}
}

func mcpServeCommand() *cli.Command {
	var dataRoot string
	return &cli.Command{
		Name:    "serve",
		Summary: "Serve mailroom operations as MCP tools on stdio.",
		Description: "Runs an MCP server speaking JSON-RPC on stdin/stdout, exposing every\n" +
			"mailroom operation as a tool. The server opens the project storage\n" +
			"directly, so it works with or without a running daemon; concurrent\n" +
			"access is safe (SQLite WAL plus a commit lock on the archive).\n\n" +
			"The caller identity is fixed for the server's lifetime: the MCP\n" +
			"client speaks as MAILROOM_AGENT in MAILROOM_PROJECT.",
		Examples: []cli.Example{
			{
				Description: "Typical MCP client registration",
				Command:     `MAILROOM_AGENT=alice mailroom mcp serve --data-root /var/lib/mailroom`,
			},
		},
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("serve", pflag.ContinueOnError)
			flags.StringVar(&dataRoot, "data-root", "", "storage directory (default $MAILROOM_DATA)")
			return flags
		},
		Run: func(args []string) error {
			if dataRoot == "" {
				dataRoot = os.Getenv("MAILROOM_DATA")
			}
			if dataRoot == "" {
				return fmt.Errorf("no data root: pass --data-root or set MAILROOM_DATA")
			}
			id, err := cli.ResolveIdentity()
			if err != nil {
				return err
			}

			// Log to stderr; stdout belongs to the JSON-RPC stream.
			logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
				Level: slog.LevelWarn,
			}))

			projects, err := project.NewRegistry(project.Config{
				DataRoot: dataRoot,
				Logger:   logger,
			})
			if err != nil {
				return fmt.Errorf("opening project registry: %w", err)
			}
			defer projects.Close()

			locks := lockreg.New(lockreg.Config{Logger: logger})
			defer locks.Close()

			hub := notify.NewHub(notify.Config{
				SignalDir: dataRoot,
				Logger:    logger,
			})

			dispatcher := dispatch.New(dispatch.Config{
				Projects: projects,
				Locks:    locks,
				Hub:      hub,
				Logger:   logger,
			})

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			server := mcp.NewServer(dispatcher, dispatch.Caller{
				Project: id.Project,
				Agent:   id.Agent,
			})
			return server.Serve(ctx)
		},
	}
}
