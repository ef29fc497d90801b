// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/mailroom/cmd/mailroom/cli"
	"github.com/bureau-foundation/mailroom/dispatch"
	"github.com/bureau-foundation/mailroom/store"
)

func sendCommand() *cli.Command {
	var (
		subject     string
		body        string
		importance  string
		ackRequired bool
		asJSON      bool
	)
	return &cli.Command{
		Name:    "send",
		Summary: "Send a message to one or more agents.",
		Usage:   "mailroom send [flags] <agent>...",
		Examples: []cli.Example{
			{
				Description: "Warn another agent about an upcoming refactor",
				Command:     `mailroom send --subject "renaming store package" --body "hold off on store/ until I'm done" bob`,
			},
			{
				Description: "Read the body from stdin",
				Command:     `git diff --stat | mailroom send --subject "touched files" --body - bob carol`,
			},
		},
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("send", pflag.ContinueOnError)
			flags.StringVarP(&subject, "subject", "s", "", "single-line subject (required)")
			flags.StringVarP(&body, "body", "b", "", "markdown body; \"-\" reads stdin")
			flags.StringVar(&importance, "importance", "", "low, normal, high, or urgent")
			flags.BoolVar(&ackRequired, "ack", false, "request an explicit acknowledgment")
			flags.BoolVar(&asJSON, "json", false, "output as JSON")
			return flags
		},
		Run: func(args []string) error {
			return runSend(args, dispatch.SendArgs{
				Subject:     subject,
				Body:        body,
				Importance:  importance,
				AckRequired: ackRequired,
			}, "message.send", asJSON)
		},
	}
}

func replyCommand() *cli.Command {
	var (
		parentSeq   int64
		subject     string
		body        string
		importance  string
		ackRequired bool
		asJSON      bool
	)
	return &cli.Command{
		Name:    "reply",
		Summary: "Reply to a message, keeping its thread.",
		Usage:   "mailroom reply [flags] --to-seq <seq> <agent>...",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("reply", pflag.ContinueOnError)
			flags.Int64Var(&parentSeq, "to-seq", 0, "sequence id of the message being answered (required)")
			flags.StringVarP(&subject, "subject", "s", "", "single-line subject (required)")
			flags.StringVarP(&body, "body", "b", "", "markdown body; \"-\" reads stdin")
			flags.StringVar(&importance, "importance", "", "low, normal, high, or urgent")
			flags.BoolVar(&ackRequired, "ack", false, "request an explicit acknowledgment")
			flags.BoolVar(&asJSON, "json", false, "output as JSON")
			return flags
		},
		Run: func(args []string) error {
			return runSend(args, dispatch.SendArgs{
				Subject:     subject,
				Body:        body,
				Importance:  importance,
				AckRequired: ackRequired,
				ParentSeq:   parentSeq,
			}, "message.reply", asJSON)
		},
	}
}

func runSend(recipients []string, args dispatch.SendArgs, action string, asJSON bool) error {
	if len(recipients) == 0 {
		return fmt.Errorf("at least one recipient agent is required")
	}
	if args.Body == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("reading body from stdin: %w", err)
		}
		args.Body = string(data)
	}
	args.To = recipients

	id, err := cli.ResolveIdentity()
	if err != nil {
		return err
	}
	ctx, cancel := cli.CallContext()
	defer cancel()

	var result dispatch.SendResult
	if err := id.Client().Call(ctx, action, args, &result); err != nil {
		return err
	}
	if asJSON {
		return cli.WriteJSON(result)
	}
	fmt.Printf("sent #%d to %s (thread %d)\n",
		result.Seq, strings.Join(result.Recipients, ", "), result.ThreadRoot)
	return nil
}

func inboxCommand() *cli.Command {
	var (
		all           bool
		minImportance string
		limit         int
		asJSON        bool
	)
	return &cli.Command{
		Name:    "inbox",
		Summary: "List inbox messages, unread first by default.",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("inbox", pflag.ContinueOnError)
			flags.BoolVarP(&all, "all", "a", false, "include messages already marked read")
			flags.StringVar(&minImportance, "min-importance", "", "hide messages below this importance")
			flags.IntVarP(&limit, "limit", "n", 0, "maximum entries (0 = no limit)")
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

			var result dispatch.FetchResult
			err = id.Client().Call(ctx, "inbox.fetch", dispatch.FetchArgs{
				UnreadOnly:    !all,
				MinImportance: minImportance,
				Limit:         limit,
			}, &result)
			if err != nil {
				return err
			}
			if asJSON {
				return cli.WriteJSON(result.Entries)
			}
			if len(result.Entries) == 0 {
				fmt.Println("inbox is empty")
				return nil
			}
			printInbox(result.Entries)
			return nil
		},
	}
}

func printInbox(entries []store.InboxEntry) {
	tw := tabwriter.NewWriter(os.Stdout, 2, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tFROM\tSUBJECT\tIMPORTANCE\tSTATE\tAT")
	for _, entry := range entries {
		state := "unread"
		switch {
		case entry.Delivery.Acknowledged:
			state = "acked"
		case entry.Delivery.Read:
			state = "read"
		}
		if entry.Message.AckRequired && !entry.Delivery.Acknowledged {
			state += "!"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
			entry.Message.Seq,
			entry.Message.Sender,
			entry.Message.Subject,
			entry.Message.Importance,
			state,
			entry.Message.CreatedAt.Local().Format("Jan 2 15:04"),
		)
	}
	tw.Flush()
}

func checkCommand() *cli.Command {
	var asJSON bool
	return &cli.Command{
		Name:    "check",
		Summary: "Show the unread count, cheap enough for a shell prompt.",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("check", pflag.ContinueOnError)
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

			var result dispatch.CheckResult
			if err := id.Client().Call(ctx, "inbox.check", nil, &result); err != nil {
				return err
			}
			if asJSON {
				return cli.WriteJSON(result)
			}
			fmt.Printf("%d unread (latest #%d)\n", result.Unread, result.LatestSeq)
			return nil
		},
	}
}

func readCommand() *cli.Command {
	return deliveryFlipCommand("read", "Mark a delivered message as read.", "message.read")
}

func ackCommand() *cli.Command {
	return deliveryFlipCommand("ack", "Acknowledge a delivered message.", "message.ack")
}

func deliveryFlipCommand(name, summary, action string) *cli.Command {
	var asJSON bool
	return &cli.Command{
		Name:    name,
		Summary: summary,
		Usage:   "mailroom " + name + " <seq>...",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet(name, pflag.ContinueOnError)
			flags.BoolVar(&asJSON, "json", false, "output as JSON")
			return flags
		},
		Run: func(args []string) error {
			if len(args) == 0 {
				return fmt.Errorf("at least one message sequence id is required")
			}
			id, err := cli.ResolveIdentity()
			if err != nil {
				return err
			}
			for _, arg := range args {
				seq, err := strconv.ParseInt(arg, 10, 64)
				if err != nil {
					return fmt.Errorf("invalid sequence id %q", arg)
				}
				ctx, cancel := cli.CallContext()
				var result dispatch.DeliveryResult
				err = id.Client().Call(ctx, action, dispatch.DeliveryArgs{Seq: seq}, &result)
				cancel()
				if err != nil {
					return err
				}
				if asJSON {
					if err := cli.WriteJSON(result.Delivery); err != nil {
						return err
					}
					continue
				}
				fmt.Printf("#%d %s\n", seq, name)
			}
			return nil
		},
	}
}

func threadCommand() *cli.Command {
	var (
		limit  int
		asJSON bool
	)
	return &cli.Command{
		Name:    "thread",
		Summary: "List a thread's messages in order.",
		Usage:   "mailroom thread <root-seq>",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("thread", pflag.ContinueOnError)
			flags.IntVarP(&limit, "limit", "n", 0, "maximum messages (0 = no limit)")
			flags.BoolVar(&asJSON, "json", false, "output as JSON")
			return flags
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("exactly one thread root sequence id is required")
			}
			root, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid sequence id %q", args[0])
			}

			id, err := cli.ResolveIdentity()
			if err != nil {
				return err
			}
			ctx, cancel := cli.CallContext()
			defer cancel()

			var result dispatch.ThreadResult
			err = id.Client().Call(ctx, "thread.list", dispatch.ThreadArgs{
				Root:  root,
				Limit: limit,
			}, &result)
			if err != nil {
				return err
			}
			if asJSON {
				return cli.WriteJSON(result.Messages)
			}
			for i, message := range result.Messages {
				if i > 0 {
					fmt.Println()
				}
				fmt.Printf("#%d  %s -> %s  [%s]\n%s\n",
					message.Seq,
					message.Sender,
					strings.Join(message.Recipients, ", "),
					message.CreatedAt.Local().Format("Jan 2 15:04"),
					message.Subject,
				)
				if message.Body != "" {
					fmt.Println(indent(message.Body, "  "))
				}
			}
			return nil
		},
	}
}

func indent(text, prefix string) string {
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	for i, line := range lines {
		lines[i] = prefix + line
	}
	return strings.Join(lines, "\n")
}
