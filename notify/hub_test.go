// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package notify_test

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/mailroom/lib/testutil"
	"github.com/bureau-foundation/mailroom/mail"
	"github.com/bureau-foundation/mailroom/notify"
)

func newTestHub(t *testing.T, signalDir string) *notify.Hub {
	t.Helper()
	return notify.NewHub(notify.Config{
		SignalDir: signalDir,
		Logger:    slog.New(slog.DiscardHandler),
	})
}

func TestPublishReachesProjectSubscribers(t *testing.T) {
	hub := newTestHub(t, "")

	sub := hub.Subscribe("acme-1a2b3c4d")
	defer sub.Close()
	other := hub.Subscribe("other-99999999")
	defer other.Close()

	hub.Publish(notify.Event{
		Type:    notify.EventMessageDelivered,
		Project: "acme-1a2b3c4d",
		Agent:   "bob",
		Seq:     1,
		Subject: "hello",
	})

	event := testutil.RequireReceive(t, sub.Events(), time.Second, "subscriber missed event")
	if event.Subject != "hello" {
		t.Errorf("subject = %q, want hello", event.Subject)
	}
	select {
	case stray := <-other.Events():
		t.Fatalf("other project received %+v", stray)
	default:
	}
}

func TestSlowSubscriberDropsOldest(t *testing.T) {
	hub := newTestHub(t, "")
	sub := hub.Subscribe("acme-1a2b3c4d")
	defer sub.Close()

	// Publish well past the buffer without consuming.
	const published = 80
	for i := 1; i <= published; i++ {
		hub.Publish(notify.Event{
			Type:    notify.EventMessageDelivered,
			Project: "acme-1a2b3c4d",
			Seq:     int64(i),
		})
	}

	var got []int64
	for {
		select {
		case event := <-sub.Events():
			got = append(got, event.Seq)
			continue
		default:
		}
		break
	}
	if len(got) == 0 || len(got) > 50 {
		t.Fatalf("buffered %d events, want 1..50", len(got))
	}
	// The newest event survived; the shed ones were the oldest.
	if got[len(got)-1] != published {
		t.Errorf("newest buffered seq = %d, want %d", got[len(got)-1], published)
	}
}

func TestClosedSubscriberStopsReceiving(t *testing.T) {
	hub := newTestHub(t, "")
	sub := hub.Subscribe("acme-1a2b3c4d")
	sub.Close()

	hub.Publish(notify.Event{Type: notify.EventMessageDelivered, Project: "acme-1a2b3c4d", Seq: 1})
	select {
	case event := <-sub.Events():
		t.Fatalf("closed subscriber received %+v", event)
	default:
	}
}

func TestSignalFileWritten(t *testing.T) {
	dir := t.TempDir()
	hub := newTestHub(t, dir)

	hub.Publish(notify.Event{
		Type:       notify.EventMessageDelivered,
		Project:    "acme-1a2b3c4d",
		Agent:      "Bob the Builder!",
		Seq:        7,
		From:       "alice",
		Subject:    "roof",
		Importance: mail.ImportanceHigh,
		Unread:     3,
		LatestSeq:  7,
	})

	path := notify.SignalPath(dir, "acme-1a2b3c4d", "Bob the Builder!")
	signal, err := notify.ReadSignal(path)
	if err != nil {
		t.Fatalf("ReadSignal: %v", err)
	}
	if signal.Unread != 3 || signal.LatestSeq != 7 {
		t.Errorf("signal = %+v, want unread 3 latest 7", signal)
	}
	if signal.Latest.From != "alice" || signal.Latest.Importance != mail.ImportanceHigh {
		t.Errorf("latest = %+v", signal.Latest)
	}

	// The agent's free-text name must not appear as a path segment.
	if strings.Contains(path, "Bob the Builder!") {
		t.Errorf("signal path %q embeds the raw agent name", path)
	}

	// The payload is valid indented JSON a human can read.
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading signal file: %v", err)
	}
	if !json.Valid(raw) {
		t.Error("signal file is not valid JSON")
	}
}

func TestNonMessageEventsSkipSignals(t *testing.T) {
	dir := t.TempDir()
	hub := newTestHub(t, dir)

	hub.Publish(notify.Event{
		Type:        notify.EventReservationGranted,
		Project:     "acme-1a2b3c4d",
		Agent:       "alice",
		PathPattern: "src/**",
	})

	if _, err := os.Stat(notify.SignalPath(dir, "acme-1a2b3c4d", "alice")); err == nil {
		t.Error("reservation event wrote a signal file")
	}
}

func TestSSEHandlerStreamsEvents(t *testing.T) {
	hub := newTestHub(t, "")
	handler := notify.NewSSEHandler(hub, nil)

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest("GET", "/events?project=acme-1a2b3c4d", nil)
	ctx, cancel := context.WithCancel(request.Context())
	request = request.WithContext(ctx)

	served := make(chan struct{})
	go func() {
		handler.ServeHTTP(recorder, request)
		close(served)
	}()

	// Wait for the subscription, then publish and disconnect.
	deadline := time.Now().Add(time.Second)
	for {
		hub.Publish(notify.Event{
			Type:    notify.EventMessageDelivered,
			Project: "acme-1a2b3c4d",
			Seq:     42,
			Subject: "streamed",
		})
		if strings.Contains(recorder.Body.String(), "streamed") || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	testutil.RequireClosed(t, served, time.Second, "handler never returned after disconnect")

	body := recorder.Body.String()
	if !strings.Contains(body, fmt.Sprintf("event: %s\n", notify.EventMessageDelivered)) {
		t.Errorf("body missing event line:\n%s", body)
	}
	if !strings.Contains(body, `"seq":42`) {
		t.Errorf("body missing event payload:\n%s", body)
	}
}

func TestSSEHandlerRequiresProject(t *testing.T) {
	hub := newTestHub(t, "")
	handler := notify.NewSSEHandler(hub, nil)

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest("GET", "/events", nil))
	if recorder.Code != 400 {
		t.Errorf("status = %d, want 400", recorder.Code)
	}
}
