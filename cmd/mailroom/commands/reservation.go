// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/mailroom/cmd/mailroom/cli"
	"github.com/bureau-foundation/mailroom/dispatch"
	"github.com/bureau-foundation/mailroom/reservation"
)

func reserveCommand() *cli.Command {
	var (
		ttl       string
		exclusive bool
		reason    string
		asJSON    bool
	)
	return &cli.Command{
		Name:    "reserve",
		Summary: "Reserve paths or glob patterns with a TTL lease.",
		Usage:   "mailroom reserve [flags] <path|glob>...",
		Examples: []cli.Example{
			{
				Description: "Claim the parser for an hour",
				Command:     `mailroom reserve --ttl 1h --exclusive --reason "rewriting error recovery" "src/parser/**"`,
			},
		},
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("reserve", pflag.ContinueOnError)
			flags.StringVar(&ttl, "ttl", "", "lease duration, e.g. \"15m\"; empty uses the project default")
			flags.BoolVarP(&exclusive, "exclusive", "x", false, "claim sole write intent")
			flags.StringVar(&reason, "reason", "", "free text shown to conflicting agents")
			flags.BoolVar(&asJSON, "json", false, "output as JSON")
			return flags
		},
		Run: func(args []string) error {
			if len(args) == 0 {
				return fmt.Errorf("at least one path or pattern is required")
			}
			id, err := cli.ResolveIdentity()
			if err != nil {
				return err
			}
			ctx, cancel := cli.CallContext()
			defer cancel()

			var grant reservation.Grant
			err = id.Client().Call(ctx, "reservation.reserve", dispatch.ReserveArgs{
				Paths:     args,
				TTL:       ttl,
				Exclusive: exclusive,
				Reason:    reason,
			}, &grant)
			if err != nil {
				return err
			}
			if asJSON {
				return cli.WriteJSON(grant)
			}
			for _, granted := range grant.Granted {
				fmt.Printf("reserved %s until %s\n",
					granted.PathPattern, granted.ExpiresAt.Local().Format("15:04:05"))
			}
			denied := 0
			for _, conflict := range grant.Conflicts {
				verb := "note:"
				if conflict.Denied {
					verb = "denied:"
					denied++
				}
				for _, holder := range conflict.With {
					reason := ""
					if holder.Reason != "" {
						reason = " (" + holder.Reason + ")"
					}
					fmt.Printf("%s %s overlaps %s held by %s%s\n",
						verb, conflict.PathPattern, holder.PathPattern, holder.Agent, reason)
				}
			}
			if denied > 0 {
				return fmt.Errorf("%d pattern(s) denied", denied)
			}
			return nil
		},
	}
}

func releaseCommand() *cli.Command {
	var asJSON bool
	return &cli.Command{
		Name:    "release",
		Summary: "Release reservations; no arguments releases everything held.",
		Usage:   "mailroom release [<path|glob>...]",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("release", pflag.ContinueOnError)
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

			var result dispatch.ReleaseResult
			err = id.Client().Call(ctx, "reservation.release", dispatch.ReleaseArgs{
				Paths: args,
			}, &result)
			if err != nil {
				return err
			}
			if asJSON {
				return cli.WriteJSON(result.Released)
			}
			if len(result.Released) == 0 {
				fmt.Println("nothing to release")
				return nil
			}
			for _, released := range result.Released {
				fmt.Printf("released %s\n", released.PathPattern)
			}
			return nil
		},
	}
}

func reservationsCommand() *cli.Command {
	var (
		agent  string
		asJSON bool
	)
	return &cli.Command{
		Name:    "reservations",
		Summary: "List live reservations in the project.",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("reservations", pflag.ContinueOnError)
			flags.StringVar(&agent, "agent", "", "narrow to one holder")
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

			var result dispatch.ListReservationsResult
			err = id.Client().Call(ctx, "reservation.list", dispatch.ListReservationsArgs{
				Agent: agent,
			}, &result)
			if err != nil {
				return err
			}
			if asJSON {
				return cli.WriteJSON(result.Reservations)
			}
			if len(result.Reservations) == 0 {
				fmt.Println("no live reservations")
				return nil
			}
			now := time.Now()
			tw := tabwriter.NewWriter(os.Stdout, 2, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "PATTERN\tAGENT\tMODE\tEXPIRES\tREASON")
			for _, r := range result.Reservations {
				mode := "shared"
				if r.Exclusive {
					mode = "exclusive"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					r.PathPattern,
					r.Agent,
					mode,
					r.ExpiresAt.Sub(now).Round(time.Second),
					r.Reason,
				)
			}
			return tw.Flush()
		},
	}
}
