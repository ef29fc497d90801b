// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mailui

import (
	"context"
	"time"

	"github.com/bureau-foundation/mailroom/dispatch"
	"github.com/bureau-foundation/mailroom/lib/service"
	"github.com/bureau-foundation/mailroom/mail"
	"github.com/bureau-foundation/mailroom/store"
)

// Source supplies inbox data and delivery-state mutations. The viewer
// never touches storage itself; everything goes through here so tests
// can substitute a fake.
type Source interface {
	// Fetch returns the caller's inbox. When unreadOnly is set, only
	// deliveries not yet marked read are returned.
	Fetch(ctx context.Context, unreadOnly bool) ([]store.InboxEntry, error)

	// MarkRead flips one delivery to read.
	MarkRead(ctx context.Context, seq int64) (mail.Delivery, error)

	// Acknowledge flips one delivery to acknowledged.
	Acknowledge(ctx context.Context, seq int64) (mail.Delivery, error)
}

// callTimeout bounds each daemon round trip issued by the viewer.
const callTimeout = 15 * time.Second

// ClientSource is the daemon-backed Source used by "mailroom watch".
type ClientSource struct {
	Client *service.Client
}

func (c *ClientSource) Fetch(ctx context.Context, unreadOnly bool) ([]store.InboxEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	var result dispatch.FetchResult
	err := c.Client.Call(ctx, "inbox.fetch", dispatch.FetchArgs{UnreadOnly: unreadOnly}, &result)
	if err != nil {
		return nil, err
	}
	return result.Entries, nil
}

func (c *ClientSource) MarkRead(ctx context.Context, seq int64) (mail.Delivery, error) {
	return c.flip(ctx, "message.read", seq)
}

func (c *ClientSource) Acknowledge(ctx context.Context, seq int64) (mail.Delivery, error) {
	return c.flip(ctx, "message.ack", seq)
}

func (c *ClientSource) flip(ctx context.Context, action string, seq int64) (mail.Delivery, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	var result dispatch.DeliveryResult
	err := c.Client.Call(ctx, action, dispatch.DeliveryArgs{Seq: seq}, &result)
	if err != nil {
		return mail.Delivery{}, err
	}
	return result.Delivery, nil
}
