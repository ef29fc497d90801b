// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/bureau-foundation/mailroom/archive"
	"github.com/bureau-foundation/mailroom/mail"
	"github.com/bureau-foundation/mailroom/notify"
	"github.com/bureau-foundation/mailroom/project"
	"github.com/bureau-foundation/mailroom/store"
)

func (d *Dispatcher) registerMessageOps() {
	d.register("message.send", "Send a message to one or more agents.", true, d.messageSend)
	d.register("message.reply", "Reply to an existing message, extending its thread.", true, d.messageReply)
	d.register("inbox.fetch", "Fetch the caller's inbox entries.", false, d.inboxFetch)
	d.register("inbox.check", "Return the caller's unread count and latest sequence id.", false, d.inboxCheck)
	d.register("message.read", "Mark a delivered message as read.", true, d.messageRead)
	d.register("message.ack", "Acknowledge a delivered message.", true, d.messageAck)
	d.register("thread.list", "List the messages of one thread.", false, d.threadList)
}

// SendArgs are the message.send arguments. Reply reuses them with
// ParentSeq required.
type SendArgs struct {
	To          []string `json:"to"`
	Subject     string   `json:"subject"`
	Body        string   `json:"body,omitempty"`
	Importance  string   `json:"importance,omitempty"`
	AckRequired bool     `json:"ack_required,omitempty"`
	ParentSeq   int64    `json:"parent_seq,omitempty"`
}

// SendResult is the message.send / message.reply response.
type SendResult struct {
	Seq        int64     `json:"seq"`
	ThreadRoot int64     `json:"thread_root"`
	Recipients []string  `json:"recipients"`
	CreatedAt  time.Time `json:"created_at"`
}

func (d *Dispatcher) messageSend(ctx context.Context, caller Caller, decode Decoder) (any, error) {
	const op = "message.send"
	var args SendArgs
	if err := decodeInto(op, decode, &args); err != nil {
		return nil, err
	}
	if args.ParentSeq != 0 {
		return nil, Validation(op, "parent_seq is set; use message.reply")
	}
	return d.send(ctx, op, caller, args)
}

func (d *Dispatcher) messageReply(ctx context.Context, caller Caller, decode Decoder) (any, error) {
	const op = "message.reply"
	var args SendArgs
	if err := decodeInto(op, decode, &args); err != nil {
		return nil, err
	}
	if args.ParentSeq == 0 {
		return nil, Validation(op, "parent_seq is required")
	}
	return d.send(ctx, op, caller, args)
}

// send is the shared path of message.send and message.reply: validate
// sender, recipients, and subject; insert the message with its
// delivery fan-out in one store transaction; stage one outbox record
// plus one inbox record per recipient as a single archive batch.
// Store and archive agree or the message is deleted again before the
// lock releases.
func (d *Dispatcher) send(ctx context.Context, op string, caller Caller, args SendArgs) (any, error) {
	if len(args.To) == 0 {
		return nil, Validation(op, "at least one recipient is required")
	}
	// The recipient list is a set: a repeated name delivers once,
	// keeping first-occurrence order.
	seen := make(map[string]struct{}, len(args.To))
	to := make([]string, 0, len(args.To))
	for _, name := range args.To {
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		to = append(to, name)
	}
	args.To = to
	if err := mail.ValidateSubject(args.Subject); err != nil {
		return nil, Validation(op, "%v", err)
	}
	importance, err := mail.ParseImportance(args.Importance)
	if err != nil {
		return nil, Validation(op, "%v", err)
	}

	h, err := d.handle(ctx, op, caller)
	if err != nil {
		return nil, err
	}
	sender, err := d.requireAgent(ctx, op, h, caller.Agent)
	if err != nil {
		return nil, err
	}
	recipients := make([]*mail.Agent, len(args.To))
	for i, name := range args.To {
		recipient, err := d.requireAgent(ctx, op, h, name)
		if err != nil {
			return nil, err
		}
		recipients[i] = recipient
	}
	if args.ParentSeq != 0 {
		if _, err := h.Store().MessageBySeq(ctx, args.ParentSeq); err != nil {
			return nil, err
		}
	}

	message := &mail.Message{
		Sender:      sender.Name,
		Recipients:  args.To,
		Subject:     args.Subject,
		Body:        args.Body,
		Importance:  importance,
		AckRequired: args.AckRequired,
		ParentSeq:   args.ParentSeq,
	}
	err = d.mutate(ctx, h, func(ctx context.Context) (*archive.Staged, error) {
		message.CreatedAt = d.clock.Now().UTC()
		if err := h.Store().CreateMessage(ctx, message); err != nil {
			return nil, err
		}

		specs := make([]recordSpec, 0, 1+len(recipients))
		entities := []string{archive.MessageEntity(message.Seq)}
		specs = append(specs, recordSpec{
			kind:     archive.KindOutbox,
			agent:    sender.Name,
			entities: entities,
			payload:  message,
		})
		for _, recipient := range recipients {
			specs = append(specs, recordSpec{
				kind:     archive.KindInbox,
				agent:    recipient.Name,
				entities: append([]string{archive.AgentEntity(recipient.Name)}, entities...),
				payload: map[string]any{
					"seq":     message.Seq,
					"from":    sender.Name,
					"subject": message.Subject,
				},
			})
		}
		staged, err := d.stage(h, op, message.CreatedAt, specs)
		if err != nil {
			if revertErr := h.Store().DeleteMessage(ctx, message.Seq); revertErr != nil {
				d.logger.Error("rollback of message insert failed",
					"project", h.Slug(), "seq", message.Seq, "error", revertErr)
			}
			return nil, err
		}
		d.touch(ctx, h, sender.Name, message.CreatedAt)
		return staged, nil
	})
	if err != nil {
		return nil, err
	}

	d.publishDeliveries(ctx, h, message)
	return &SendResult{
		Seq:        message.Seq,
		ThreadRoot: message.ThreadRoot(),
		Recipients: message.Recipients,
		CreatedAt:  message.CreatedAt,
	}, nil
}

// publishDeliveries emits one message-delivered event per recipient,
// each carrying the recipient's post-delivery inbox status for the
// signal file. Runs after commit; a status read failure downgrades
// the event, never the send.
func (d *Dispatcher) publishDeliveries(ctx context.Context, h *project.Handle, message *mail.Message) {
	if d.hub == nil {
		return
	}
	for _, recipient := range message.Recipients {
		unread, latest, err := h.Store().InboxStatus(ctx, recipient)
		if err != nil {
			d.logger.Warn("inbox status for event", "project", h.Slug(), "agent", recipient, "error", err)
		}
		d.hub.Publish(notify.Event{
			Type:       notify.EventMessageDelivered,
			Project:    h.Slug(),
			Time:       message.CreatedAt,
			Agent:      recipient,
			Seq:        message.Seq,
			From:       message.Sender,
			Subject:    message.Subject,
			Importance: message.Importance,
			Unread:     unread,
			LatestSeq:  latest,
		})
	}
}

// FetchArgs are the inbox.fetch arguments.
type FetchArgs struct {
	UnreadOnly    bool   `json:"unread_only,omitempty"`
	MinImportance string `json:"min_importance,omitempty"`
	Descending    bool   `json:"descending,omitempty"`
	Limit         int    `json:"limit,omitempty"`
}

// FetchResult is the inbox.fetch response.
type FetchResult struct {
	Entries []store.InboxEntry `json:"entries"`
}

// inboxFetch is read-only: it reports delivery state without mutating
// it. Marking read is the explicit message.read operation, so that
// every state flip has an archive record.
func (d *Dispatcher) inboxFetch(ctx context.Context, caller Caller, decode Decoder) (any, error) {
	const op = "inbox.fetch"
	var args FetchArgs
	if err := decodeInto(op, decode, &args); err != nil {
		return nil, err
	}
	minImportance, err := mail.ParseImportance(args.MinImportance)
	if err != nil {
		return nil, Validation(op, "%v", err)
	}
	h, err := d.handle(ctx, op, caller)
	if err != nil {
		return nil, err
	}
	agent, err := d.requireAgent(ctx, op, h, caller.Agent)
	if err != nil {
		return nil, err
	}
	entries, err := h.Store().Inbox(ctx, agent.Name, store.InboxOptions{
		UnreadOnly:    args.UnreadOnly,
		MinImportance: minImportance,
		Descending:    args.Descending,
		Limit:         args.Limit,
	})
	if err != nil {
		return nil, err
	}
	return &FetchResult{Entries: entries}, nil
}

// CheckResult is the inbox.check response.
type CheckResult struct {
	Unread    int64 `json:"unread"`
	LatestSeq int64 `json:"latest_seq"`
}

func (d *Dispatcher) inboxCheck(ctx context.Context, caller Caller, decode Decoder) (any, error) {
	const op = "inbox.check"
	h, err := d.handle(ctx, op, caller)
	if err != nil {
		return nil, err
	}
	agent, err := d.requireAgent(ctx, op, h, caller.Agent)
	if err != nil {
		return nil, err
	}
	unread, latest, err := h.Store().InboxStatus(ctx, agent.Name)
	if err != nil {
		return nil, err
	}
	return &CheckResult{Unread: unread, LatestSeq: latest}, nil
}

// DeliveryArgs identify one delivery of the caller's.
type DeliveryArgs struct {
	Seq int64 `json:"seq"`
}

// DeliveryResult is the message.read / message.ack response: the
// caller's delivery after the flip.
type DeliveryResult struct {
	Delivery mail.Delivery `json:"delivery"`
}

func (d *Dispatcher) messageRead(ctx context.Context, caller Caller, decode Decoder) (any, error) {
	return d.flipDelivery(ctx, "message.read", caller, decode, false)
}

func (d *Dispatcher) messageAck(ctx context.Context, caller Caller, decode Decoder) (any, error) {
	return d.flipDelivery(ctx, "message.ack", caller, decode, true)
}

// flipDelivery marks the caller's delivery read (and acknowledged,
// for message.ack). Only the recipient mutates its own delivery; a
// flip that is already in effect is an idempotent no-op with no new
// archive record.
func (d *Dispatcher) flipDelivery(ctx context.Context, op string, caller Caller, decode Decoder, acknowledge bool) (any, error) {
	var args DeliveryArgs
	if err := decodeInto(op, decode, &args); err != nil {
		return nil, err
	}
	if args.Seq <= 0 {
		return nil, Validation(op, "seq is required")
	}
	h, err := d.handle(ctx, op, caller)
	if err != nil {
		return nil, err
	}
	agent, err := d.requireAgent(ctx, op, h, caller.Agent)
	if err != nil {
		return nil, err
	}

	var result mail.Delivery
	err = d.mutate(ctx, h, func(ctx context.Context) (*archive.Staged, error) {
		before, err := deliveryOf(ctx, h, args.Seq, agent.Name)
		if err != nil {
			return nil, err
		}
		if (acknowledge && before.Acknowledged) || (!acknowledge && before.Read) {
			result = before
			return nil, nil
		}

		now := d.clock.Now().UTC()
		if acknowledge {
			err = h.Store().Acknowledge(ctx, args.Seq, agent.Name, now)
		} else {
			err = h.Store().MarkRead(ctx, args.Seq, agent.Name, now)
		}
		if err != nil {
			return nil, err
		}

		after, err := deliveryOf(ctx, h, args.Seq, agent.Name)
		if err != nil {
			return nil, err
		}
		staged, err := d.stage(h, op, now, []recordSpec{{
			kind:     archive.KindAck,
			agent:    agent.Name,
			entities: []string{archive.MessageEntity(args.Seq)},
			payload:  after,
		}})
		if err != nil {
			d.revertDelivery(ctx, h, before, acknowledge)
			return nil, err
		}
		d.touch(ctx, h, agent.Name, now)
		result = after
		return staged, nil
	})
	if err != nil {
		return nil, err
	}
	return &DeliveryResult{Delivery: result}, nil
}

func (d *Dispatcher) revertDelivery(ctx context.Context, h *project.Handle, before mail.Delivery, acknowledge bool) {
	var err error
	if acknowledge {
		err = h.Store().RevertAcknowledge(ctx, before.MessageSeq, before.Recipient, before.Read, before.ReadAt)
	} else {
		err = h.Store().RevertRead(ctx, before.MessageSeq, before.Recipient)
	}
	if err != nil {
		d.logger.Error("rollback of delivery flip failed",
			"project", h.Slug(), "seq", before.MessageSeq, "recipient", before.Recipient, "error", err)
	}
}

// deliveryOf finds the recipient's delivery row for one message.
func deliveryOf(ctx context.Context, h *project.Handle, seq int64, recipient string) (mail.Delivery, error) {
	deliveries, err := h.Store().DeliveriesFor(ctx, seq)
	if err != nil {
		return mail.Delivery{}, err
	}
	for _, delivery := range deliveries {
		if delivery.Recipient == recipient {
			return delivery, nil
		}
	}
	return mail.Delivery{}, fmt.Errorf("message %d was not delivered to %q: %w", seq, recipient, store.ErrNotFound)
}

// ThreadArgs are the thread.list arguments.
type ThreadArgs struct {
	Root       int64 `json:"root"`
	Descending bool  `json:"descending,omitempty"`
	Limit      int   `json:"limit,omitempty"`
}

// ThreadResult is the thread.list response, ordered by sequence id.
type ThreadResult struct {
	Messages []mail.Message `json:"messages"`
}

func (d *Dispatcher) threadList(ctx context.Context, caller Caller, decode Decoder) (any, error) {
	const op = "thread.list"
	var args ThreadArgs
	if err := decodeInto(op, decode, &args); err != nil {
		return nil, err
	}
	if args.Root <= 0 {
		return nil, Validation(op, "root is required")
	}
	h, err := d.handle(ctx, op, caller)
	if err != nil {
		return nil, err
	}
	messages, err := h.Store().ListMessages(ctx, store.MessageFilter{
		Thread:     args.Root,
		Descending: args.Descending,
		Limit:      args.Limit,
	})
	if err != nil {
		return nil, err
	}
	return &ThreadResult{Messages: messages}, nil
}
