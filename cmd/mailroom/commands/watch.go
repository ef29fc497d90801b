// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/bureau-foundation/mailroom/cmd/mailroom/cli"
	"github.com/bureau-foundation/mailroom/lib/mailui"
	"github.com/bureau-foundation/mailroom/mail"
	"github.com/bureau-foundation/mailroom/notify"
)

func watchCommand() *cli.Command {
	var dataRoot string
	return &cli.Command{
		Name:    "watch",
		Summary: "Interactive inbox viewer with live updates.",
		Description: "Opens a terminal UI over the inbox. New deliveries appear as they\n" +
			"arrive: the daemon's signal file is watched when a data root is\n" +
			"known, with periodic polling as a fallback.",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("watch", pflag.ContinueOnError)
			flags.StringVar(&dataRoot, "data-root", "", "daemon storage directory, enables instant updates (default $MAILROOM_DATA)")
			return flags
		},
		Run: func(args []string) error {
			if !term.IsTerminal(int(os.Stdout.Fd())) {
				return fmt.Errorf("watch needs a terminal; use 'mailroom inbox' for scripted output")
			}
			id, err := cli.ResolveIdentity()
			if err != nil {
				return err
			}
			if dataRoot == "" {
				dataRoot = os.Getenv("MAILROOM_DATA")
			}

			var signals <-chan struct{}
			if dataRoot != "" {
				path := notify.SignalPath(dataRoot, mail.ProjectSlug(id.Project), id.Agent)
				watcher, err := mailui.NewSignalWatcher(path)
				if err == nil {
					defer watcher.Close()
					signals = watcher.Events()
				}
				// A failed watch (signal directory not created yet) is
				// not fatal; polling covers it.
			}

			model := mailui.NewModel(mailui.Config{
				Source:  &mailui.ClientSource{Client: id.Client()},
				Signals: signals,
				Title:   fmt.Sprintf("%s @ %s", id.Agent, id.Project),
			})
			program := tea.NewProgram(model, tea.WithAltScreen())
			_, err = program.Run()
			return err
		},
	}
}
