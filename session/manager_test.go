// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/mailroom/lib/clock"
	"github.com/bureau-foundation/mailroom/lib/testutil"
	"github.com/bureau-foundation/mailroom/session"
)

func echoHandler(_ context.Context, request any) (any, error) {
	return request, nil
}

func newReadyManager(t *testing.T, cfg session.Config) *session.Manager {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Handler == nil {
		cfg.Handler = echoHandler
	}
	manager := session.NewManager(cfg)
	if err := manager.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { manager.Drain(context.Background()) })
	return manager
}

func TestInvokeRoundTrip(t *testing.T) {
	manager := newReadyManager(t, session.Config{})
	ctx := context.Background()

	s, err := manager.Admit(ctx)
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	defer s.Close()

	result, err := s.Invoke(ctx, "hello")
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if result != "hello" {
		t.Errorf("result = %v, want hello", result)
	}
}

// TestAdmissionWaitsForConsumer holds the delivery consumer back with
// a start gate: no admission may complete before the consumer has
// acknowledged it is receiving, and the queued admissions must all
// complete — not be dropped — once it has.
func TestAdmissionWaitsForConsumer(t *testing.T) {
	gate := make(chan struct{})
	manager := session.NewManager(session.Config{
		Logger:    slog.New(slog.DiscardHandler),
		Handler:   echoHandler,
		StartGate: gate,
	})

	started := make(chan error, 1)
	go func() { started <- manager.Start(context.Background()) }()

	const waiters = 3
	admitted := make(chan *session.Session, waiters)
	for i := 0; i < waiters; i++ {
		go func() {
			s, err := manager.Admit(context.Background())
			if err != nil {
				t.Errorf("Admit: %v", err)
				return
			}
			admitted <- s
		}()
	}

	// The gate is closed, so the consumer has not started and nothing
	// may be admitted yet.
	time.Sleep(50 * time.Millisecond)
	select {
	case <-admitted:
		t.Fatal("session admitted before the delivery consumer started")
	default:
	}
	if got := manager.State(); got != session.StateStarting {
		t.Fatalf("state = %s, want starting", got)
	}

	close(gate)
	if err := testutil.RequireReceive(t, started, time.Second, "Start never returned"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Every queued admission completes; none was dropped.
	for i := 0; i < waiters; i++ {
		s := testutil.RequireReceive(t, admitted, time.Second, "queued admission was dropped")
		s.Close()
	}
	manager.Drain(context.Background())
}

func TestStartTwiceFails(t *testing.T) {
	manager := newReadyManager(t, session.Config{})
	if err := manager.Start(context.Background()); err == nil {
		t.Fatal("second Start succeeded")
	}
}

func TestAdmitOverloaded(t *testing.T) {
	fake := clock.Fake(time.Date(2026, time.March, 14, 9, 0, 0, 0, time.UTC))
	manager := newReadyManager(t, session.Config{
		MaxSessions:  1,
		AdmitTimeout: 5 * time.Second,
		Clock:        fake,
	})
	ctx := context.Background()

	first, err := manager.Admit(ctx)
	if err != nil {
		t.Fatalf("first Admit: %v", err)
	}
	defer first.Close()

	result := make(chan error, 1)
	go func() {
		_, err := manager.Admit(ctx)
		result <- err
	}()
	fake.WaitForTimers(1)
	fake.Advance(5 * time.Second)

	err = testutil.RequireReceive(t, result, 2*time.Second, "admission wait never timed out")
	var overloaded *session.OverloadedError
	if !errors.As(err, &overloaded) {
		t.Fatalf("second Admit error = %v, want *OverloadedError", err)
	}
	if overloaded.MaxSessions != 1 {
		t.Errorf("MaxSessions = %d, want 1", overloaded.MaxSessions)
	}
	if overloaded.Waited != 5*time.Second {
		t.Errorf("Waited = %v, want 5s", overloaded.Waited)
	}
}

func TestSlotFreedByClose(t *testing.T) {
	manager := newReadyManager(t, session.Config{
		MaxSessions:  1,
		AdmitTimeout: time.Second,
	})
	ctx := context.Background()

	first, err := manager.Admit(ctx)
	if err != nil {
		t.Fatalf("first Admit: %v", err)
	}

	second := make(chan error, 1)
	go func() {
		s, err := manager.Admit(ctx)
		if err == nil {
			s.Close()
		}
		second <- err
	}()

	first.Close()
	if err := testutil.RequireReceive(t, second, 2*time.Second, "waiter never admitted"); err != nil {
		t.Fatalf("second Admit: %v", err)
	}
}

func TestDrainRefusesNewAdmissions(t *testing.T) {
	manager := newReadyManager(t, session.Config{})
	if err := manager.Drain(context.Background()); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if got := manager.State(); got != session.StateStopped {
		t.Fatalf("state after drain = %s, want stopped", got)
	}

	_, err := manager.Admit(context.Background())
	if !errors.Is(err, session.ShutdownCancelled) {
		t.Fatalf("Admit after drain = %v, want ShutdownCancelled", err)
	}
}

// TestDrainLetsInFlightSessionsFinish: a session whose handler
// completes within the grace period succeeds; drain waits for it.
func TestDrainLetsInFlightSessionsFinish(t *testing.T) {
	release := make(chan struct{})
	manager := newReadyManager(t, session.Config{
		DrainGrace: 5 * time.Second,
		Handler: func(context.Context, any) (any, error) {
			<-release
			return "done", nil
		},
	})
	ctx := context.Background()

	s, err := manager.Admit(ctx)
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}

	invoked := make(chan error, 1)
	go func() {
		_, err := s.Invoke(ctx, nil)
		s.Close()
		invoked <- err
	}()
	// Let the invocation reach the handler before draining.
	time.Sleep(50 * time.Millisecond)

	drained := make(chan error, 1)
	go func() { drained <- manager.Drain(ctx) }()

	close(release)
	if err := testutil.RequireReceive(t, invoked, time.Second, "invoke never finished"); err != nil {
		t.Errorf("in-flight invoke during drain: %v", err)
	}
	if err := testutil.RequireReceive(t, drained, time.Second, "drain never finished"); err != nil {
		t.Errorf("Drain: %v", err)
	}
}

// TestDrainCancelsStragglers: a session that outlives the grace
// period is cancelled with the distinguished ShutdownCancelled
// signal, not a generic failure, and the manager still reaches
// Stopped.
func TestDrainCancelsStragglers(t *testing.T) {
	manager := newReadyManager(t, session.Config{
		DrainGrace: 50 * time.Millisecond,
		Handler: func(ctx context.Context, _ any) (any, error) {
			<-ctx.Done()
			return nil, context.Cause(ctx)
		},
	})
	ctx := context.Background()

	s, err := manager.Admit(ctx)
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}

	invoked := make(chan error, 1)
	go func() {
		_, err := s.Invoke(ctx, nil)
		invoked <- err
	}()
	time.Sleep(50 * time.Millisecond)

	if err := manager.Drain(ctx); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if got := manager.State(); got != session.StateStopped {
		t.Fatalf("state = %s, want stopped", got)
	}

	err = testutil.RequireReceive(t, invoked, time.Second, "straggler invoke never returned")
	if !errors.Is(err, session.ShutdownCancelled) {
		t.Fatalf("straggler error = %v, want ShutdownCancelled", err)
	}
}

func TestCallerCancellationIsNotShutdown(t *testing.T) {
	manager := newReadyManager(t, session.Config{
		Handler: func(ctx context.Context, _ any) (any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	})

	s, err := manager.Admit(context.Background())
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	invoked := make(chan error, 1)
	go func() {
		_, err := s.Invoke(ctx, nil)
		invoked <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	err = testutil.RequireReceive(t, invoked, time.Second, "invoke never returned")
	if errors.Is(err, session.ShutdownCancelled) {
		t.Fatal("caller cancellation surfaced as ShutdownCancelled")
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
}

func TestConcurrentSessions(t *testing.T) {
	manager := newReadyManager(t, session.Config{MaxSessions: 8})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := manager.Admit(ctx)
			if err != nil {
				t.Errorf("Admit %d: %v", i, err)
				return
			}
			defer s.Close()
			if _, err := s.Invoke(ctx, i); err != nil {
				t.Errorf("Invoke %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()
}
