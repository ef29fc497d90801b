// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mailui

import (
	"context"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/bureau-foundation/mailroom/mail"
	"github.com/bureau-foundation/mailroom/store"
)

type fakeSource struct {
	entries []store.InboxEntry
	flipped []int64
}

func (f *fakeSource) Fetch(ctx context.Context, unreadOnly bool) ([]store.InboxEntry, error) {
	return f.entries, nil
}

func (f *fakeSource) MarkRead(ctx context.Context, seq int64) (mail.Delivery, error) {
	f.flipped = append(f.flipped, seq)
	return mail.Delivery{MessageSeq: seq, Recipient: "alice", Read: true}, nil
}

func (f *fakeSource) Acknowledge(ctx context.Context, seq int64) (mail.Delivery, error) {
	f.flipped = append(f.flipped, seq)
	return mail.Delivery{MessageSeq: seq, Recipient: "alice", Read: true, Acknowledged: true}, nil
}

func testEntries() []store.InboxEntry {
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	return []store.InboxEntry{
		{
			Message:  mail.Message{Seq: 1, Sender: "bob", Recipients: []string{"alice"}, Subject: "first message", Body: "# hello\nbody text", CreatedAt: now},
			Delivery: mail.Delivery{MessageSeq: 1, Recipient: "alice"},
		},
		{
			Message:  mail.Message{Seq: 2, Sender: "carol", Recipients: []string{"alice"}, Subject: "second message", CreatedAt: now},
			Delivery: mail.Delivery{MessageSeq: 2, Recipient: "alice", Read: true},
		},
	}
}

func loaded(t *testing.T, source Source) Model {
	t.Helper()
	m := NewModel(Config{Source: source, Title: "alice @ acme"})
	updated, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	m = updated.(Model)
	entries, err := source.Fetch(context.Background(), true)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	updated, _ = m.Update(entriesMsg(entries))
	return updated.(Model)
}

func TestViewShowsEntriesAndDetail(t *testing.T) {
	m := loaded(t, &fakeSource{entries: testEntries()})
	view := m.View()
	if !strings.Contains(view, "first message") {
		t.Error("view is missing the first subject")
	}
	if !strings.Contains(view, "second message") {
		t.Error("view is missing the second subject")
	}
	// Detail pane shows the selected (first) message's metadata.
	if !strings.Contains(view, "from bob") {
		t.Error("detail pane is missing the sender")
	}
	if !strings.Contains(view, "2 messages") {
		t.Errorf("header does not report the count:\n%s", view)
	}
}

func TestCursorMovementClampsAtEnds(t *testing.T) {
	m := loaded(t, &fakeSource{entries: testEntries()})

	updated, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'k'}})
	m = updated.(Model)
	if m.cursor != 0 {
		t.Errorf("cursor = %d after up at top, want 0", m.cursor)
	}

	for range 5 {
		updated, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'j'}})
		m = updated.(Model)
	}
	if m.cursor != 1 {
		t.Errorf("cursor = %d after down past end, want 1", m.cursor)
	}
}

func TestAckFlipsSelectedMessage(t *testing.T) {
	source := &fakeSource{entries: testEntries()}
	m := loaded(t, source)

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'a'}})
	if cmd == nil {
		t.Fatal("ack produced no command")
	}
	msg := cmd()
	delivery, ok := msg.(deliveryMsg)
	if !ok {
		t.Fatalf("ack command returned %T, want deliveryMsg", msg)
	}
	if delivery.MessageSeq != 1 || !delivery.Acknowledged {
		t.Errorf("delivery = %+v, want seq 1 acknowledged", delivery)
	}
	if len(source.flipped) != 1 || source.flipped[0] != 1 {
		t.Errorf("flipped = %v, want [1]", source.flipped)
	}
}

func TestEntriesShrinkingClampsCursor(t *testing.T) {
	m := loaded(t, &fakeSource{entries: testEntries()})
	updated, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'j'}})
	m = updated.(Model)

	updated, _ = m.Update(entriesMsg(testEntries()[:1]))
	m = updated.(Model)
	if m.cursor != 0 {
		t.Errorf("cursor = %d after shrink, want 0", m.cursor)
	}
}

func TestFilterNarrowsList(t *testing.T) {
	m := loaded(t, &fakeSource{entries: testEntries()})

	updated, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'/'}})
	m = updated.(Model)
	for _, r := range "carol" {
		updated, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
		m = updated.(Model)
	}
	if len(m.visible) != 1 {
		t.Fatalf("visible = %d entries, want 1", len(m.visible))
	}
	if got := m.entries[m.visible[0]].Message.Sender; got != "carol" {
		t.Errorf("visible sender = %q, want carol", got)
	}

	// Escape clears the filter and restores the full list.
	updated, _ = m.Update(tea.KeyMsg{Type: tea.KeyEscape})
	m = updated.(Model)
	if len(m.visible) != 2 {
		t.Errorf("visible = %d entries after clear, want 2", len(m.visible))
	}
}

func TestErrorShownInStatusLine(t *testing.T) {
	m := loaded(t, &fakeSource{entries: testEntries()})
	updated, _ := m.Update(errMsg{err: context.DeadlineExceeded})
	m = updated.(Model)
	if !strings.Contains(m.View(), "error:") {
		t.Error("status line does not surface the error")
	}
}
