// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/mailroom/cmd/mailroom/cli"
	"github.com/bureau-foundation/mailroom/dispatch"
)

func archiveCommand() *cli.Command {
	return &cli.Command{
		Name:    "archive",
		Summary: "Inspect and export the project's tamper-evident archive.",
		Subcommands: []*cli.Command{
			archiveHeadCommand(),
			archiveExportCommand(),
		},
	}
}

func archiveHeadCommand() *cli.Command {
	var asJSON bool
	return &cli.Command{
		Name:    "head",
		Summary: "Show the archive chain head (sequence and hash).",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("head", pflag.ContinueOnError)
			flags.BoolVar(&asJSON, "json", false, "output as JSON")
			return flags
		},
		Run: func(args []string) error {
			id, err := cli.ResolveIdentity()
			if err != nil {
				return err
			}
			ctx, cancel := cli.CallContext()
			defer cancel()

			var result dispatch.HeadResult
			if err := id.Client().Call(ctx, "archive.head", nil, &result); err != nil {
				return err
			}
			if asJSON {
				return cli.WriteJSON(result)
			}
			fmt.Printf("seq %d  hash %s\n", result.Seq, result.Hash)
			return nil
		},
	}
}

func archiveExportCommand() *cli.Command {
	var (
		compression string
		keyHex      string
		asJSON      bool
	)
	return &cli.Command{
		Name:    "export",
		Summary: "Export the archive as a portable bundle.",
		Usage:   "mailroom archive export [flags] <path>",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("export", pflag.ContinueOnError)
			flags.StringVar(&compression, "compression", "", "bundle codec: zstd (default) or lz4")
			flags.StringVar(&keyHex, "key-hex", "", "hex-encoded encryption key; empty writes plaintext")
			flags.BoolVar(&asJSON, "json", false, "output as JSON")
			return flags
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("exactly one output path is required")
			}
			path, err := filepath.Abs(args[0])
			if err != nil {
				return fmt.Errorf("resolving output path: %w", err)
			}

			id, err := cli.ResolveIdentity()
			if err != nil {
				return err
			}
			ctx, cancel := cli.CallContext()
			defer cancel()

			var result dispatch.ExportResult
			err = id.Client().Call(ctx, "archive.export", dispatch.ExportArgs{
				Path:        path,
				Compression: compression,
				KeyHex:      keyHex,
			}, &result)
			if err != nil {
				return err
			}
			if asJSON {
				return cli.WriteJSON(result)
			}
			state := "plaintext"
			if result.Encrypted {
				state = "encrypted"
			}
			fmt.Printf("exported %d bytes (%s) to %s\n", result.Bytes, state, result.Path)
			return nil
		},
	}
}
