// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package integration exercises the daemon stack end to end: real
// socket server, session manager, dispatcher, SQLite store, and git
// archive, talked to through the same client the CLI uses.
package integration_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/mailroom/dispatch"
	"github.com/bureau-foundation/mailroom/lib/codec"
	"github.com/bureau-foundation/mailroom/lib/service"
	"github.com/bureau-foundation/mailroom/lockreg"
	"github.com/bureau-foundation/mailroom/mail"
	"github.com/bureau-foundation/mailroom/notify"
	"github.com/bureau-foundation/mailroom/project"
	"github.com/bureau-foundation/mailroom/session"
)

const testProject = "/work/integration"

// daemon is an in-process instance of the full service stack bound to
// a real Unix socket.
type daemon struct {
	dataRoot   string
	socketPath string
}

// client returns a daemon client speaking as the given agent.
func (d *daemon) client(agent string) *service.Client {
	return service.NewClient(d.socketPath, testProject, agent)
}

// startDaemon wires the stack exactly the way mailroom-service does
// and serves it on a socket under a short temp directory (Unix socket
// paths have a length ceiling).
func startDaemon(t *testing.T) *daemon {
	t.Helper()
	if _, err := exec.LookPath("flock"); err != nil {
		t.Skipf("flock not available: %v", err)
	}

	logger := slog.New(slog.DiscardHandler)
	dataRoot := t.TempDir()

	projects, err := project.NewRegistry(project.Config{
		DataRoot: dataRoot,
		Logger:   logger,
	})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	locks := lockreg.New(lockreg.Config{Logger: logger})

	hub := notify.NewHub(notify.Config{
		SignalDir: dataRoot,
		Logger:    logger,
	})

	dispatcher := dispatch.New(dispatch.Config{
		Projects: projects,
		Locks:    locks,
		Hub:      hub,
		Logger:   logger,
	})

	manager := session.NewManager(session.Config{
		Logger: logger,
		Handler: func(ctx context.Context, request any) (any, error) {
			call := request.(*opCall)
			return dispatcher.Invoke(ctx, call.op, call.caller, call.decode)
		},
	})
	ctx, cancel := context.WithCancel(context.Background())
	if err := manager.Start(ctx); err != nil {
		t.Fatalf("starting session manager: %v", err)
	}

	socketDir, err := os.MkdirTemp("", "mailroom-*")
	if err != nil {
		t.Fatalf("creating socket dir: %v", err)
	}
	socketPath := filepath.Join(socketDir, "daemon.sock")

	server := service.NewSocketServer(socketPath, logger)
	for _, op := range dispatcher.Operations() {
		server.Handle(op.Name, handlerFor(manager, op.Name))
	}

	serveDone := make(chan error, 1)
	go func() {
		serveDone <- server.Serve(ctx)
	}()
	select {
	case <-server.Ready():
	case err := <-serveDone:
		t.Fatalf("socket server exited before ready: %v", err)
	}

	t.Cleanup(func() {
		cancel()
		if err := <-serveDone; err != nil {
			t.Errorf("socket server: %v", err)
		}
		drainCtx, drainCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer drainCancel()
		if err := manager.Drain(drainCtx); err != nil {
			t.Errorf("draining sessions: %v", err)
		}
		locks.Close()
		if err := projects.Close(); err != nil {
			t.Errorf("closing registry: %v", err)
		}
		os.RemoveAll(socketDir)
	})

	return &daemon{dataRoot: dataRoot, socketPath: socketPath}
}

type opCall struct {
	op     string
	caller dispatch.Caller
	decode dispatch.Decoder
}

func handlerFor(manager *session.Manager, op string) service.HandlerFunc {
	return func(ctx context.Context, request *service.Request) (any, error) {
		sess, err := manager.Admit(ctx)
		if err != nil {
			return nil, err
		}
		defer sess.Close()

		var decode dispatch.Decoder
		if len(request.Payload) > 0 {
			payload := request.Payload
			decode = func(v any) error {
				return codec.Unmarshal(payload, v)
			}
		}
		return sess.Invoke(ctx, &opCall{
			op:     op,
			caller: dispatch.Caller{Project: request.Project, Agent: request.Agent},
			decode: decode,
		})
	}
}

func call(t *testing.T, client *service.Client, action string, payload, result any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := client.Call(ctx, action, payload, result); err != nil {
		t.Fatalf("%s: %v", action, err)
	}
}

func register(t *testing.T, d *daemon, agent string) *service.Client {
	t.Helper()
	client := d.client(agent)
	call(t, client, "project.ensure", nil, nil)
	call(t, client, "agent.register", nil, nil)
	return client
}

func TestMailFlowOverSocket(t *testing.T) {
	t.Parallel()
	d := startDaemon(t)
	alice := register(t, d, "alice")
	bob := register(t, d, "bob")

	var sent dispatch.SendResult
	call(t, alice, "message.send", dispatch.SendArgs{
		To:          []string{"bob"},
		Subject:     "store schema change",
		Body:        "deliveries table grows an acked_at column",
		AckRequired: true,
	}, &sent)
	if sent.Seq == 0 {
		t.Fatal("send returned no sequence id")
	}

	var inbox dispatch.FetchResult
	call(t, bob, "inbox.fetch", dispatch.FetchArgs{UnreadOnly: true}, &inbox)
	if len(inbox.Entries) != 1 {
		t.Fatalf("inbox has %d entries, want 1", len(inbox.Entries))
	}
	entry := inbox.Entries[0]
	if entry.Message.Subject != "store schema change" || entry.Message.Sender != "alice" {
		t.Errorf("unexpected entry: %+v", entry.Message)
	}

	var acked dispatch.DeliveryResult
	call(t, bob, "message.ack", dispatch.DeliveryArgs{Seq: sent.Seq}, &acked)
	if !acked.Delivery.Read || !acked.Delivery.Acknowledged {
		t.Errorf("delivery after ack = %+v, want read and acknowledged", acked.Delivery)
	}

	call(t, bob, "inbox.fetch", dispatch.FetchArgs{UnreadOnly: true}, &inbox)
	if len(inbox.Entries) != 0 {
		t.Errorf("inbox has %d unread entries after ack, want 0", len(inbox.Entries))
	}

	var check dispatch.CheckResult
	call(t, bob, "inbox.check", nil, &check)
	if check.Unread != 0 || check.LatestSeq != sent.Seq {
		t.Errorf("check = %+v, want 0 unread latest %d", check, sent.Seq)
	}
}

func TestSignalFileWrittenOnDelivery(t *testing.T) {
	t.Parallel()
	d := startDaemon(t)
	alice := register(t, d, "alice")
	register(t, d, "bob")

	var sent dispatch.SendResult
	call(t, alice, "message.send", dispatch.SendArgs{
		To:      []string{"bob"},
		Subject: "ping",
	}, &sent)

	path := notify.SignalPath(d.dataRoot, mail.ProjectSlug(testProject), "bob")
	signal, err := notify.ReadSignal(path)
	if err != nil {
		t.Fatalf("reading signal file: %v", err)
	}
	if signal.Latest.Seq != sent.Seq || signal.Latest.From != "alice" {
		t.Errorf("signal = %+v, want latest seq %d from alice", signal, sent.Seq)
	}
	if signal.Unread != 1 {
		t.Errorf("signal unread = %d, want 1", signal.Unread)
	}
}

func TestErrorCategoryCrossesTheWire(t *testing.T) {
	t.Parallel()
	d := startDaemon(t)
	alice := register(t, d, "alice")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	err := alice.Call(ctx, "message.send", dispatch.SendArgs{
		To:      []string{"nobody"},
		Subject: "hello?",
	}, nil)

	var callErr *service.CallError
	if !errors.As(err, &callErr) {
		t.Fatalf("error = %v (%T), want *service.CallError", err, err)
	}
	if callErr.Code != "not_found" {
		t.Errorf("code = %q, want not_found", callErr.Code)
	}
	if callErr.Retryable {
		t.Error("not_found marked retryable")
	}
}

func TestReservationConflictBetweenAgents(t *testing.T) {
	t.Parallel()
	d := startDaemon(t)
	alice := register(t, d, "alice")
	bob := register(t, d, "bob")

	call(t, alice, "reservation.reserve", dispatch.ReserveArgs{
		Paths:     []string{"src/store/**"},
		TTL:       "10m",
		Exclusive: true,
		Reason:    "schema migration",
	}, nil)

	type grant struct {
		Granted   []mail.Reservation `json:"granted"`
		Conflicts []struct {
			PathPattern string             `json:"path_pattern"`
			With        []mail.Reservation `json:"with"`
			Denied      bool               `json:"denied"`
		} `json:"conflicts"`
	}
	var got grant
	call(t, bob, "reservation.reserve", dispatch.ReserveArgs{
		Paths:     []string{"src/store/schema.go"},
		TTL:       "10m",
		Exclusive: true,
	}, &got)

	// Advisory mode: granted through the conflict, with the overlap
	// reported.
	if len(got.Granted) != 1 {
		t.Fatalf("granted %d reservations, want 1", len(got.Granted))
	}
	if len(got.Conflicts) != 1 || len(got.Conflicts[0].With) != 1 {
		t.Fatalf("conflicts = %+v, want one overlap", got.Conflicts)
	}
	if holder := got.Conflicts[0].With[0]; holder.Agent != "alice" || holder.Reason != "schema migration" {
		t.Errorf("conflict holder = %+v, want alice's reservation", holder)
	}

	var released dispatch.ReleaseResult
	call(t, bob, "reservation.release", dispatch.ReleaseArgs{}, &released)
	if len(released.Released) != 1 {
		t.Errorf("released %d reservations, want 1", len(released.Released))
	}
}

func TestConcurrentSendsAllArchived(t *testing.T) {
	t.Parallel()
	d := startDaemon(t)
	alice := register(t, d, "alice")
	bob := register(t, d, "bob")

	const senders = 8
	var wg sync.WaitGroup
	errs := make(chan error, senders)
	for i := range senders {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			errs <- alice.Call(ctx, "message.send", dispatch.SendArgs{
				To:      []string{"bob"},
				Subject: fmt.Sprintf("message %d", i),
			}, nil)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent send: %v", err)
		}
	}

	var inbox dispatch.FetchResult
	call(t, bob, "inbox.fetch", dispatch.FetchArgs{}, &inbox)
	if len(inbox.Entries) != senders {
		t.Errorf("inbox has %d entries, want %d", len(inbox.Entries), senders)
	}

	// Chain head: 1 project genesis + 2 agent registrations + per send
	// one outbox and one inbox record.
	var head dispatch.HeadResult
	call(t, alice, "archive.head", nil, &head)
	want := int64(1 + 2 + senders*2)
	if head.Seq != want {
		t.Errorf("archive head seq = %d, want %d", head.Seq, want)
	}
}

func TestThreadedConversationOverSocket(t *testing.T) {
	t.Parallel()
	d := startDaemon(t)
	alice := register(t, d, "alice")
	bob := register(t, d, "bob")

	var root dispatch.SendResult
	call(t, alice, "message.send", dispatch.SendArgs{
		To:      []string{"bob"},
		Subject: "api design",
	}, &root)

	var reply dispatch.SendResult
	call(t, bob, "message.reply", dispatch.SendArgs{
		To:        []string{"alice"},
		Subject:   "re: api design",
		ParentSeq: root.Seq,
	}, &reply)
	if reply.ThreadRoot != root.Seq {
		t.Errorf("reply thread root = %d, want %d", reply.ThreadRoot, root.Seq)
	}

	var thread dispatch.ThreadResult
	call(t, alice, "thread.list", dispatch.ThreadArgs{Root: root.Seq}, &thread)
	if len(thread.Messages) != 2 {
		t.Fatalf("thread has %d messages, want 2", len(thread.Messages))
	}
	if thread.Messages[0].Seq != root.Seq || thread.Messages[1].Seq != reply.Seq {
		t.Errorf("thread order = [%d %d], want [%d %d]",
			thread.Messages[0].Seq, thread.Messages[1].Seq, root.Seq, reply.Seq)
	}
}
