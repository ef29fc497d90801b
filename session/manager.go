// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/bureau-foundation/mailroom/lib/clock"
)

// State is the manager's lifecycle position.
type State int32

const (
	StateUninitialized State = iota
	StateStarting
	StateReady
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Handler processes one admitted invocation. The request value is
// whatever the surface submitted through Session.Invoke; the manager
// never inspects it.
type Handler func(ctx context.Context, request any) (any, error)

// Config configures a Manager.
type Config struct {
	// MaxSessions bounds concurrent admitted sessions. Defaults to 32.
	MaxSessions int64

	// AdmitTimeout bounds how long Admit waits for a free slot before
	// failing with *OverloadedError. Defaults to 5 seconds.
	AdmitTimeout time.Duration

	// DrainGrace is how long Drain waits for in-flight sessions
	// before cancelling them with ShutdownCancelled. Defaults to 5
	// seconds.
	DrainGrace time.Duration

	// Clock drives the admission timeout and the drain grace period.
	// Defaults to the real clock.
	Clock clock.Clock

	// Logger is the structured logger. Required.
	Logger *slog.Logger

	// Handler processes invocations. Required.
	Handler Handler

	// StartGate, when non-nil, holds the delivery consumer back until
	// the channel is closed. Tests use it to verify that admission
	// waits for the consumer's readiness acknowledgment.
	StartGate <-chan struct{}
}

// Manager gates concurrent remote calls behind a readiness barrier,
// bounds them with concurrency slots, and drains them in an orderly
// way on shutdown.
//
// The barrier is deliberate: Start launches the delivery consumer and
// refuses to open admission until the consumer itself acknowledges it
// is receiving. The component that starts the consumer is the same
// component that gates admission, so the gate and the consumer cannot
// drift apart — a session admitted into a consumerless channel would
// block forever on its first submit with nothing ever observing it.
type Manager struct {
	maxSessions  int64
	admitTimeout time.Duration
	drainGrace   time.Duration
	clock        clock.Clock
	logger       *slog.Logger
	handler      Handler
	startGate    <-chan struct{}

	// started is closed by the delivery consumer once it is
	// receiving; ready is closed by Start after observing started.
	started chan struct{}
	ready   chan struct{}

	// draining is closed when Drain begins; admission stops then.
	draining chan struct{}

	invocations chan *invocation
	slots       *semaphore.Weighted

	loopCancel context.CancelFunc
	loopDone   chan struct{}

	mu       sync.Mutex
	state    State
	sessions map[*Session]struct{}
	active   sync.WaitGroup
}

type invocation struct {
	ctx     context.Context
	request any
	reply   chan invocationResult
}

type invocationResult struct {
	value any
	err   error
}

// NewManager creates a manager in StateUninitialized.
func NewManager(cfg Config) *Manager {
	if cfg.Logger == nil {
		panic("session.Manager: Logger is required")
	}
	if cfg.Handler == nil {
		panic("session.Manager: Handler is required")
	}
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = 32
	}
	if cfg.AdmitTimeout <= 0 {
		cfg.AdmitTimeout = 5 * time.Second
	}
	if cfg.DrainGrace <= 0 {
		cfg.DrainGrace = 5 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	return &Manager{
		maxSessions:  cfg.MaxSessions,
		admitTimeout: cfg.AdmitTimeout,
		drainGrace:   cfg.DrainGrace,
		clock:        cfg.Clock,
		logger:       cfg.Logger,
		handler:      cfg.Handler,
		startGate:    cfg.StartGate,
		started:      make(chan struct{}),
		ready:        make(chan struct{}),
		draining:     make(chan struct{}),
		invocations:  make(chan *invocation),
		slots:        semaphore.NewWeighted(cfg.MaxSessions),
		loopDone:     make(chan struct{}),
		state:        StateUninitialized,
		sessions:     make(map[*Session]struct{}),
	}
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Start launches the delivery consumer and blocks until it has
// acknowledged that it is receiving, then opens admission. Readiness
// is the consumer's explicit signal, never inferred from elapsed time
// or a flag set elsewhere.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateUninitialized {
		state := m.state
		m.mu.Unlock()
		return fmt.Errorf("session: Start in state %s", state)
	}
	m.state = StateStarting
	m.mu.Unlock()

	loopCtx, cancel := context.WithCancel(context.Background())
	m.loopCancel = cancel
	go m.deliveryLoop(loopCtx)

	select {
	case <-m.started:
	case <-ctx.Done():
		cancel()
		return fmt.Errorf("session: waiting for delivery consumer: %w", ctx.Err())
	}

	m.mu.Lock()
	m.state = StateReady
	m.mu.Unlock()
	close(m.ready)
	m.logger.Info("session manager ready", "max_sessions", m.maxSessions)
	return nil
}

// deliveryLoop is the consumer side of the invocation channel. It
// signals started only once it is actually about to receive; each
// invocation is served on its own goroutine so one slow handler does
// not head-of-line block the rest (concurrency is bounded upstream by
// admission slots).
func (m *Manager) deliveryLoop(ctx context.Context) {
	defer close(m.loopDone)

	if m.startGate != nil {
		select {
		case <-m.startGate:
		case <-ctx.Done():
			return
		}
	}
	close(m.started)

	for {
		select {
		case inv := <-m.invocations:
			go m.serve(inv)
		case <-ctx.Done():
			return
		}
	}
}

func (m *Manager) serve(inv *invocation) {
	value, err := m.handler(inv.ctx, inv.request)
	inv.reply <- invocationResult{value: value, err: err}
}

// Admit waits for readiness and a free concurrency slot, then returns
// a live session. Excess callers queue for a slot up to the admission
// timeout and then fail with *OverloadedError. During a drain, new
// admissions fail with ShutdownCancelled.
func (m *Manager) Admit(ctx context.Context) (*Session, error) {
	select {
	case <-m.ready:
	case <-m.draining:
		return nil, ShutdownCancelled
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case <-m.draining:
		return nil, ShutdownCancelled
	default:
	}

	// The admission wait runs on the injected clock, like every other
	// timeout in the tree.
	start := m.clock.Now()
	slotCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	timer := m.clock.AfterFunc(m.admitTimeout, cancel)
	defer timer.Stop()
	if err := m.slots.Acquire(slotCtx, 1); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &OverloadedError{
			Waited:      m.clock.Now().Sub(start),
			MaxSessions: m.maxSessions,
		}
	}

	// Drain may have begun while this caller queued for a slot.
	select {
	case <-m.draining:
		m.slots.Release(1)
		return nil, ShutdownCancelled
	default:
	}

	sessionCtx, sessionCancel := context.WithCancelCause(context.Background())
	s := &Session{
		id:        uuid.NewString(),
		manager:   m,
		startedAt: m.clock.Now(),
		ctx:       sessionCtx,
		cancel:    sessionCancel,
	}

	m.mu.Lock()
	m.sessions[s] = struct{}{}
	m.active.Add(1)
	m.mu.Unlock()

	return s, nil
}

// Drain stops admission, waits up to the grace period for in-flight
// sessions, cancels stragglers with ShutdownCancelled, then stops the
// delivery consumer. After Drain returns the manager is StateStopped
// and every session has been closed — none is left ambiguous.
func (m *Manager) Drain(ctx context.Context) error {
	m.mu.Lock()
	switch m.state {
	case StateStopped:
		m.mu.Unlock()
		return nil
	case StateDraining:
		m.mu.Unlock()
		return errors.New("session: Drain already in progress")
	}
	m.state = StateDraining
	m.mu.Unlock()
	close(m.draining)
	m.logger.Info("session manager draining")

	finished := make(chan struct{})
	go func() {
		m.active.Wait()
		close(finished)
	}()

	select {
	case <-finished:
	case <-m.clock.After(m.drainGrace):
		m.cancelStragglers()
		<-finished
	case <-ctx.Done():
		m.cancelStragglers()
		<-finished
	}

	if m.loopCancel != nil {
		m.loopCancel()
		<-m.loopDone
	}

	m.mu.Lock()
	m.state = StateStopped
	m.mu.Unlock()
	m.logger.Info("session manager stopped")
	return nil
}

// cancelStragglers cancels every open session with the distinguished
// shutdown cause and force-closes it, releasing its slot. The cause
// matters: callers blocked in Invoke see ShutdownCancelled, a
// deliberate signal they can tell apart from a genuine failure.
func (m *Manager) cancelStragglers() {
	m.mu.Lock()
	stragglers := make([]*Session, 0, len(m.sessions))
	for s := range m.sessions {
		stragglers = append(stragglers, s)
	}
	m.mu.Unlock()

	if len(stragglers) == 0 {
		return
	}
	m.logger.Info("cancelling sessions past drain grace", "sessions", len(stragglers))
	for _, s := range stragglers {
		s.cancel(ShutdownCancelled)
		s.Close()
	}
}

// Session is one live remote-call context: a concurrency slot, an
// identity for attribution, and a cancellation signal. It owns no
// persistent data.
type Session struct {
	id        string
	manager   *Manager
	startedAt time.Time

	ctx    context.Context
	cancel context.CancelCauseFunc

	closeOnce sync.Once
}

// ID returns the session's unique identity.
func (s *Session) ID() string { return s.id }

// StartedAt returns when the session was admitted.
func (s *Session) StartedAt() time.Time { return s.startedAt }

// Invoke submits a request to the delivery consumer and waits for its
// reply. A drain that cancels this session surfaces ShutdownCancelled;
// the caller's own context cancellation surfaces as usual. The
// handler observes the cancellation through its context — an
// operation that has already entered its critical section decides for
// itself when to stop.
func (s *Session) Invoke(ctx context.Context, request any) (any, error) {
	if err := s.cancelled(); err != nil {
		return nil, err
	}

	// The handler's context ends when either the request context or
	// the session is cancelled.
	invCtx, invCancel := context.WithCancelCause(ctx)
	stop := context.AfterFunc(s.ctx, func() {
		invCancel(context.Cause(s.ctx))
	})
	defer stop()
	defer invCancel(nil)

	inv := &invocation{
		ctx:     invCtx,
		request: request,
		reply:   make(chan invocationResult, 1),
	}

	select {
	case s.manager.invocations <- inv:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.ctx.Done():
		return nil, s.cancelled()
	}

	select {
	case result := <-inv.reply:
		return result.value, result.err
	case <-s.ctx.Done():
		return nil, s.cancelled()
	}
}

// cancelled returns the session's cancellation cause, mapping a
// drain-time cancellation to the ShutdownCancelled sentinel.
func (s *Session) cancelled() error {
	if s.ctx.Err() == nil {
		return nil
	}
	cause := context.Cause(s.ctx)
	if errors.Is(cause, ShutdownCancelled) {
		return ShutdownCancelled
	}
	return cause
}

// Close releases the session's slot. Idempotent; every admitted
// session must eventually be closed.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.cancel(nil)
		m := s.manager
		m.mu.Lock()
		delete(m.sessions, s)
		m.mu.Unlock()
		m.slots.Release(1)
		m.active.Done()
	})
}
