// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package lockreg

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bureau-foundation/mailroom/lib/clock"
)

// LockTimeoutError reports that a project's exclusivity lock was not
// acquired within the configured bound. Retriable: the holder will
// release.
type LockTimeoutError struct {
	// Slug identifies the contended project.
	Slug string

	// Waited is how long the caller queued before giving up.
	Waited time.Duration
}

func (e *LockTimeoutError) Error() string {
	return fmt.Sprintf("project %s: exclusivity lock not acquired within %s", e.Slug, e.Waited)
}

// ErrorCode implements the socket protocol's error classification.
func (e *LockTimeoutError) ErrorCode() (string, bool) {
	return "lock_timeout", true
}

// Config configures a Registry.
type Config struct {
	// AcquireTimeout bounds how long WithExclusiveAccess queues for a
	// contended lock. Defaults to 30 seconds if zero.
	AcquireTimeout time.Duration

	// CommitTimeout bounds each coalesced commit the queues run.
	// Defaults to 30 seconds if zero.
	CommitTimeout time.Duration

	// Clock drives timeout waits. Defaults to the real clock.
	Clock clock.Clock

	// Logger is the structured logger. Required.
	Logger *slog.Logger
}

// Registry holds per-project lock and commit-queue state, created
// lazily on first access and kept until Close. Keyed by project slug.
type Registry struct {
	acquireTimeout time.Duration
	commitTimeout  time.Duration
	clock          clock.Clock
	logger         *slog.Logger

	mu     sync.Mutex
	locks  map[string]*projectLock
	queues map[string]*CommitQueue
	closed bool
}

// New creates an empty registry.
func New(cfg Config) *Registry {
	if cfg.Logger == nil {
		panic("lockreg.Registry: Logger is required")
	}
	if cfg.AcquireTimeout == 0 {
		cfg.AcquireTimeout = 30 * time.Second
	}
	if cfg.CommitTimeout == 0 {
		cfg.CommitTimeout = 30 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	return &Registry{
		acquireTimeout: cfg.AcquireTimeout,
		commitTimeout:  cfg.CommitTimeout,
		clock:          cfg.Clock,
		logger:         cfg.Logger,
		locks:          make(map[string]*projectLock),
		queues:         make(map[string]*CommitQueue),
	}
}

// WithExclusiveAccess runs fn with the project's exclusivity lock
// held: at most one fn per project at a time, waiters served in
// arrival order. Acquisition is bounded by the registry's timeout and
// by ctx; fn itself is not — once the lock is held, the mutation runs
// to completion even if the caller has gone away.
func (r *Registry) WithExclusiveAccess(ctx context.Context, slug string, fn func(context.Context) error) error {
	lock := r.lockFor(slug)
	if err := lock.acquire(ctx, r.clock, r.acquireTimeout); err != nil {
		return err
	}
	defer lock.release()
	return fn(ctx)
}

// Queue returns the project's commit queue, creating it with the
// given commit function on first access. The commit function is bound
// once; later calls for the same slug ignore theirs.
func (r *Registry) Queue(slug string, commit CommitFunc) *CommitQueue {
	r.mu.Lock()
	defer r.mu.Unlock()
	if queue, ok := r.queues[slug]; ok {
		return queue
	}
	if r.closed {
		// No committer is started after Close; Enqueue reports
		// ErrQueueClosed and the batch rides the next process start.
		queue := &CommitQueue{slug: slug, closed: true, done: make(chan struct{})}
		close(queue.done)
		return queue
	}
	queue := newCommitQueue(slug, commit, r.commitTimeout, r.logger)
	r.queues[slug] = queue
	return queue
}

// Close stops every commit queue, flushing pending batches first.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	queues := make([]*CommitQueue, 0, len(r.queues))
	for _, queue := range r.queues {
		queues = append(queues, queue)
	}
	r.mu.Unlock()

	for _, queue := range queues {
		queue.Close()
	}
}

func (r *Registry) lockFor(slug string) *projectLock {
	r.mu.Lock()
	defer r.mu.Unlock()
	lock, ok := r.locks[slug]
	if !ok {
		lock = &projectLock{slug: slug}
		r.locks[slug] = lock
	}
	return lock
}

// projectLock is a FIFO mutex. Waiters queue in arrival order and
// ownership transfers directly to the head of the queue on release,
// so a stream of new arrivals cannot starve an early waiter.
type projectLock struct {
	slug string

	mu      sync.Mutex
	held    bool
	waiters []chan struct{}
}

func (l *projectLock) acquire(ctx context.Context, clk clock.Clock, timeout time.Duration) error {
	l.mu.Lock()
	if !l.held {
		l.held = true
		l.mu.Unlock()
		return nil
	}
	grant := make(chan struct{})
	l.waiters = append(l.waiters, grant)
	l.mu.Unlock()

	start := clk.Now()
	select {
	case <-grant:
		return nil
	case <-clk.After(timeout):
		return l.abandon(grant, &LockTimeoutError{Slug: l.slug, Waited: clk.Now().Sub(start)})
	case <-ctx.Done():
		return l.abandon(grant, ctx.Err())
	}
}

// abandon removes a timed-out or cancelled waiter from the queue. If
// the grant raced ahead of the timeout, the caller owns the lock and
// proceeds: a grant that has happened cannot be refused, only passed
// on by release.
func (l *projectLock) abandon(grant chan struct{}, cause error) error {
	l.mu.Lock()
	for i, waiter := range l.waiters {
		if waiter == grant {
			l.waiters = append(l.waiters[:i], l.waiters[i+1:]...)
			l.mu.Unlock()
			return cause
		}
	}
	l.mu.Unlock()
	// Not in the queue: release already granted us the lock.
	return nil
}

func (l *projectLock) release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.waiters) > 0 {
		next := l.waiters[0]
		l.waiters = l.waiters[1:]
		// Ownership transfers: held stays true.
		close(next)
		return
	}
	l.held = false
}
