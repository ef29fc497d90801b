// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/mailroom/cmd/mailroom/cli"
	"github.com/bureau-foundation/mailroom/dispatch"
)

func registerCommand() *cli.Command {
	var (
		program string
		model   string
		task    string
		asJSON  bool
	)
	return &cli.Command{
		Name:    "register",
		Summary: "Register this agent in the project (idempotent).",
		Usage:   "mailroom register [flags] [name]",
		Description: "Registers the calling agent in the current project, creating the\n" +
			"project's storage on first use. Re-registering the same name updates\n" +
			"the profile and reactivates the agent; it never forks an identity.",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("register", pflag.ContinueOnError)
			flags.StringVar(&program, "program", "", "software driving the agent, e.g. \"claude-code\"")
			flags.StringVar(&model, "model", "", "model identifier")
			flags.StringVar(&task, "task", "", "what the agent is working on")
			flags.BoolVar(&asJSON, "json", false, "output as JSON")
			return flags
		},
		Run: func(args []string) error {
			if len(args) > 1 {
				return fmt.Errorf("at most one agent name, got %d", len(args))
			}
			id, err := cli.ResolveIdentity()
			if err != nil {
				return err
			}
			registerArgs := dispatch.RegisterArgs{
				Program:         program,
				Model:           model,
				TaskDescription: task,
			}
			if len(args) == 1 {
				registerArgs.Name = args[0]
			}

			ctx, cancel := cli.CallContext()
			defer cancel()

			// Ensure the project exists first so a fresh checkout needs
			// no separate setup step.
			var ensured dispatch.EnsureResult
			if err := id.Client().Call(ctx, "project.ensure", nil, &ensured); err != nil {
				return err
			}
			if err := id.Client().Call(ctx, "agent.register", registerArgs, nil); err != nil {
				return err
			}
			if asJSON {
				return cli.WriteJSON(ensured)
			}
			name := registerArgs.Name
			if name == "" {
				name = id.Agent
			}
			fmt.Printf("registered %q in project %s\n", name, ensured.Slug)
			return nil
		},
	}
}

func agentsCommand() *cli.Command {
	var (
		includeInactive bool
		asJSON          bool
	)
	return &cli.Command{
		Name:    "agents",
		Summary: "List agents registered in the project.",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("agents", pflag.ContinueOnError)
			flags.BoolVarP(&includeInactive, "all", "a", false, "include deregistered agents")
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

			var result dispatch.ListAgentsResult
			err = id.Client().Call(ctx, "agent.list", dispatch.ListAgentsArgs{
				IncludeInactive: includeInactive,
			}, &result)
			if err != nil {
				return err
			}
			if asJSON {
				return cli.WriteJSON(result.Agents)
			}
			if len(result.Agents) == 0 {
				fmt.Println("no agents registered")
				return nil
			}
			tw := tabwriter.NewWriter(os.Stdout, 2, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tPROGRAM\tTASK\tLAST ACTIVE")
			for _, agent := range result.Agents {
				name := agent.Name
				if agent.Inactive {
					name += " (inactive)"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
					name,
					agent.Program,
					agent.TaskDescription,
					agent.LastActiveAt.Local().Format("Jan 2 15:04"),
				)
			}
			return tw.Flush()
		},
	}
}
