// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package store_test

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/bureau-foundation/mailroom/mail"
	"github.com/bureau-foundation/mailroom/store"
)

// sendTestMessage creates a message at baseTime plus the given offset
// and returns its assigned seq.
func sendTestMessage(t *testing.T, st *store.Store, message mail.Message, offset time.Duration) int64 {
	t.Helper()

	if message.CreatedAt.IsZero() {
		message.CreatedAt = baseTime.Add(offset)
	}
	if err := st.CreateMessage(context.Background(), &message); err != nil {
		t.Fatalf("CreateMessage(%q): %v", message.Subject, err)
	}
	return message.Seq
}

func TestCreateMessageAssignsSequence(t *testing.T) {
	st := openTestStore(t)

	for want := int64(1); want <= 3; want++ {
		message := mail.Message{
			Sender:     "alice",
			Recipients: []string{"bob"},
			Subject:    "ping",
			CreatedAt:  baseTime,
		}
		if err := st.CreateMessage(context.Background(), &message); err != nil {
			t.Fatalf("CreateMessage: %v", err)
		}
		if message.Seq != want {
			t.Fatalf("Seq = %d, want %d", message.Seq, want)
		}
	}

	last, err := st.LastSeq(context.Background())
	if err != nil {
		t.Fatalf("LastSeq: %v", err)
	}
	if last != 3 {
		t.Fatalf("LastSeq = %d, want 3", last)
	}
}

func TestCreateMessageRequiresRecipients(t *testing.T) {
	st := openTestStore(t)

	err := st.CreateMessage(context.Background(), &mail.Message{
		Sender:    "alice",
		Subject:   "to nobody",
		CreatedAt: baseTime,
	})
	if err == nil {
		t.Fatal("expected error for message without recipients")
	}
}

func TestCreateMessageResolvesThreadRoot(t *testing.T) {
	st := openTestStore(t)

	root := sendTestMessage(t, st, mail.Message{
		Sender: "alice", Recipients: []string{"bob"}, Subject: "design question",
	}, 0)
	reply := sendTestMessage(t, st, mail.Message{
		Sender: "bob", Recipients: []string{"alice"}, Subject: "Re: design question",
		ParentSeq: root,
	}, time.Minute)
	sendTestMessage(t, st, mail.Message{
		Sender: "alice", Recipients: []string{"bob"}, Subject: "Re: Re: design question",
		ParentSeq: reply,
	}, 2*time.Minute)

	// A reply to a reply lands in the root's thread.
	thread, err := st.ListMessages(context.Background(), store.MessageFilter{Thread: root})
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(thread) != 3 {
		t.Fatalf("thread has %d messages, want 3", len(thread))
	}
	for i, message := range thread {
		if message.Seq != int64(i+1) {
			t.Errorf("thread[%d].Seq = %d, want %d", i, message.Seq, i+1)
		}
	}
}

func TestCreateMessageDanglingParent(t *testing.T) {
	st := openTestStore(t)

	err := st.CreateMessage(context.Background(), &mail.Message{
		Sender:     "alice",
		Recipients: []string{"bob"},
		Subject:    "reply to nothing",
		ParentSeq:  99,
		CreatedAt:  baseTime,
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("CreateMessage error = %v, want ErrNotFound", err)
	}

	// The failed send must not consume a sequence id visible to later
	// sends: the transaction rolled the counter back.
	seq := sendTestMessage(t, st, mail.Message{
		Sender: "alice", Recipients: []string{"bob"}, Subject: "first real message",
	}, time.Minute)
	if seq != 1 {
		t.Fatalf("seq after failed send = %d, want 1", seq)
	}
}

func TestMessageBySeqRoundtrip(t *testing.T) {
	st := openTestStore(t)

	sent := mail.Message{
		Sender:      "alice",
		Recipients:  []string{"charlie", "bob", "dana"},
		Subject:     "rollout order",
		Body:        "charlie first, then **bob**.",
		Importance:  mail.ImportanceHigh,
		AckRequired: true,
		CreatedAt:   baseTime,
	}
	if err := st.CreateMessage(context.Background(), &sent); err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}

	got, err := st.MessageBySeq(context.Background(), sent.Seq)
	if err != nil {
		t.Fatalf("MessageBySeq: %v", err)
	}
	if got.Subject != sent.Subject || got.Body != sent.Body || got.Sender != "alice" {
		t.Errorf("message fields did not round-trip: %+v", got)
	}
	if got.Importance != mail.ImportanceHigh {
		t.Errorf("Importance = %v, want high", got.Importance)
	}
	if !got.AckRequired {
		t.Error("AckRequired lost")
	}
	if !got.CreatedAt.Equal(baseTime) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, baseTime)
	}
	// Recipient order is the sender's order, not alphabetical.
	want := []string{"charlie", "bob", "dana"}
	if !reflect.DeepEqual(got.Recipients, want) {
		t.Errorf("Recipients = %v, want %v", got.Recipients, want)
	}
}

func TestMessageBySeqNotFound(t *testing.T) {
	st := openTestStore(t)

	_, err := st.MessageBySeq(context.Background(), 42)
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("MessageBySeq error = %v, want ErrNotFound", err)
	}
}

func TestListMessagesFilters(t *testing.T) {
	st := openTestStore(t)

	sendTestMessage(t, st, mail.Message{
		Sender: "alice", Recipients: []string{"bob"}, Subject: "low noise",
		Importance: mail.ImportanceLow,
	}, 0)
	sendTestMessage(t, st, mail.Message{
		Sender: "bob", Recipients: []string{"alice"}, Subject: "status",
	}, 10*time.Minute)
	sendTestMessage(t, st, mail.Message{
		Sender: "alice", Recipients: []string{"bob"}, Subject: "prod is down",
		Importance: mail.ImportanceUrgent,
	}, 20*time.Minute)

	bySender, err := st.ListMessages(context.Background(), store.MessageFilter{Sender: "alice"})
	if err != nil {
		t.Fatalf("ListMessages(sender): %v", err)
	}
	if len(bySender) != 2 {
		t.Fatalf("sender filter returned %d, want 2", len(bySender))
	}

	important, err := st.ListMessages(context.Background(), store.MessageFilter{
		MinImportance: mail.ImportanceHigh,
	})
	if err != nil {
		t.Fatalf("ListMessages(importance): %v", err)
	}
	if len(important) != 1 || important[0].Subject != "prod is down" {
		t.Fatalf("importance filter = %+v, want the urgent message", important)
	}

	window, err := st.ListMessages(context.Background(), store.MessageFilter{
		Since: baseTime.Add(5 * time.Minute),
		Until: baseTime.Add(15 * time.Minute),
	})
	if err != nil {
		t.Fatalf("ListMessages(window): %v", err)
	}
	if len(window) != 1 || window[0].Subject != "status" {
		t.Fatalf("time window = %+v, want the status message", window)
	}
}

func TestListMessagesDescendingAndLimit(t *testing.T) {
	st := openTestStore(t)

	for i := 0; i < 5; i++ {
		sendTestMessage(t, st, mail.Message{
			Sender: "alice", Recipients: []string{"bob"}, Subject: "batch",
		}, time.Duration(i)*time.Minute)
	}

	got, err := st.ListMessages(context.Background(), store.MessageFilter{
		Descending: true,
		Limit:      2,
	})
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(got) != 2 || got[0].Seq != 5 || got[1].Seq != 4 {
		t.Fatalf("descending limit 2 = %v, want seqs [5 4]", seqsOf(got))
	}
}

func seqsOf(messages []mail.Message) []int64 {
	seqs := make([]int64, len(messages))
	for i, message := range messages {
		seqs[i] = message.Seq
	}
	return seqs
}

func TestInboxUnreadOnly(t *testing.T) {
	st := openTestStore(t)

	first := sendTestMessage(t, st, mail.Message{
		Sender: "alice", Recipients: []string{"bob"}, Subject: "one",
	}, 0)
	sendTestMessage(t, st, mail.Message{
		Sender: "alice", Recipients: []string{"bob"}, Subject: "two",
	}, time.Minute)
	sendTestMessage(t, st, mail.Message{
		Sender: "alice", Recipients: []string{"charlie"}, Subject: "not for bob",
	}, 2*time.Minute)

	inbox, err := st.Inbox(context.Background(), "bob", store.InboxOptions{})
	if err != nil {
		t.Fatalf("Inbox: %v", err)
	}
	if len(inbox) != 2 {
		t.Fatalf("inbox has %d entries, want 2", len(inbox))
	}
	if inbox[0].Delivery.Read || inbox[0].Delivery.Acknowledged {
		t.Errorf("fresh delivery already read/acked: %+v", inbox[0].Delivery)
	}

	if err := st.MarkRead(context.Background(), first, "bob", baseTime.Add(5*time.Minute)); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}

	unread, err := st.Inbox(context.Background(), "bob", store.InboxOptions{UnreadOnly: true})
	if err != nil {
		t.Fatalf("Inbox(unread): %v", err)
	}
	if len(unread) != 1 || unread[0].Message.Subject != "two" {
		t.Fatalf("unread inbox = %+v, want only message two", unread)
	}
}

func TestMarkReadIsIdempotent(t *testing.T) {
	st := openTestStore(t)
	seq := sendTestMessage(t, st, mail.Message{
		Sender: "alice", Recipients: []string{"bob"}, Subject: "ping",
	}, 0)

	firstRead := baseTime.Add(time.Minute)
	if err := st.MarkRead(context.Background(), seq, "bob", firstRead); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if err := st.MarkRead(context.Background(), seq, "bob", baseTime.Add(time.Hour)); err != nil {
		t.Fatalf("second MarkRead: %v", err)
	}

	deliveries, err := st.DeliveriesFor(context.Background(), seq)
	if err != nil {
		t.Fatalf("DeliveriesFor: %v", err)
	}
	if len(deliveries) != 1 {
		t.Fatalf("deliveries = %d, want 1", len(deliveries))
	}
	if !deliveries[0].ReadAt.Equal(firstRead) {
		t.Fatalf("ReadAt = %v, want the first read time %v", deliveries[0].ReadAt, firstRead)
	}
}

func TestAcknowledgeMarksRead(t *testing.T) {
	st := openTestStore(t)
	seq := sendTestMessage(t, st, mail.Message{
		Sender: "alice", Recipients: []string{"bob"}, Subject: "deploy?", AckRequired: true,
	}, 0)

	ackTime := baseTime.Add(2 * time.Minute)
	if err := st.Acknowledge(context.Background(), seq, "bob", ackTime); err != nil {
		t.Fatalf("Acknowledge: %v", err)
	}

	deliveries, err := st.DeliveriesFor(context.Background(), seq)
	if err != nil {
		t.Fatalf("DeliveriesFor: %v", err)
	}
	delivery := deliveries[0]
	if !delivery.Acknowledged || !delivery.Read {
		t.Fatalf("after ack: %+v, want read and acknowledged", delivery)
	}
	if !delivery.AckedAt.Equal(ackTime) || !delivery.ReadAt.Equal(ackTime) {
		t.Fatalf("AckedAt/ReadAt = %v/%v, want %v", delivery.AckedAt, delivery.ReadAt, ackTime)
	}

	// The acknowledged delivery leaves the unread set.
	unread, err := st.Inbox(context.Background(), "bob", store.InboxOptions{UnreadOnly: true})
	if err != nil {
		t.Fatalf("Inbox(unread): %v", err)
	}
	if len(unread) != 0 {
		t.Fatalf("unread after ack = %d entries, want 0", len(unread))
	}
}

func TestMarkReadMissingDelivery(t *testing.T) {
	st := openTestStore(t)
	seq := sendTestMessage(t, st, mail.Message{
		Sender: "alice", Recipients: []string{"bob"}, Subject: "ping",
	}, 0)

	err := st.MarkRead(context.Background(), seq, "charlie", baseTime)
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("MarkRead for non-recipient = %v, want ErrNotFound", err)
	}
}

func TestInboxStatus(t *testing.T) {
	st := openTestStore(t)

	unread, latest, err := st.InboxStatus(context.Background(), "bob")
	if err != nil {
		t.Fatalf("InboxStatus: %v", err)
	}
	if unread != 0 || latest != 0 {
		t.Fatalf("empty inbox status = %d/%d, want 0/0", unread, latest)
	}

	sendTestMessage(t, st, mail.Message{
		Sender: "alice", Recipients: []string{"bob"}, Subject: "one",
	}, 0)
	second := sendTestMessage(t, st, mail.Message{
		Sender: "alice", Recipients: []string{"bob"}, Subject: "two",
	}, time.Minute)

	if err := st.MarkRead(context.Background(), second, "bob", baseTime.Add(2*time.Minute)); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}

	unread, latest, err = st.InboxStatus(context.Background(), "bob")
	if err != nil {
		t.Fatalf("InboxStatus: %v", err)
	}
	if unread != 1 {
		t.Errorf("unread = %d, want 1", unread)
	}
	if latest != second {
		t.Errorf("latestSeq = %d, want %d", latest, second)
	}
}

func TestDeleteMessageRemovesDeliveries(t *testing.T) {
	st := openTestStore(t)

	seq := sendTestMessage(t, st, mail.Message{
		Sender: "alice", Recipients: []string{"bob", "charlie"}, Subject: "doomed",
	}, 0)

	if err := st.DeleteMessage(context.Background(), seq); err != nil {
		t.Fatalf("DeleteMessage: %v", err)
	}

	if _, err := st.MessageBySeq(context.Background(), seq); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("MessageBySeq after delete = %v, want ErrNotFound", err)
	}
	deliveries, err := st.DeliveriesFor(context.Background(), seq)
	if err != nil {
		t.Fatalf("DeliveriesFor: %v", err)
	}
	if len(deliveries) != 0 {
		t.Fatalf("deliveries after delete = %d, want 0", len(deliveries))
	}

	// The rolled-back seq is a permanent gap: the next send moves on.
	next := sendTestMessage(t, st, mail.Message{
		Sender: "alice", Recipients: []string{"bob"}, Subject: "after rollback",
	}, time.Minute)
	if next != seq+1 {
		t.Fatalf("seq after compensating delete = %d, want %d", next, seq+1)
	}
}
