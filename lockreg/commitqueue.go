// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package lockreg

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrQueueClosed is returned by Enqueue after the queue has shut
// down. Batches already staged remain on disk; the next process
// commit picks them up.
var ErrQueueClosed = errors.New("lockreg: commit queue is closed")

// CommitFunc runs one coalesced commit covering the given batch
// notes and returns the commit identity.
type CommitFunc func(ctx context.Context, notes []string) (string, error)

// CommitQueue coalesces archive commits for one project. Callers
// enqueue one note per staged batch and block until a commit covering
// their batch completes; a single committer goroutine drains whatever
// has queued up into one commit per cycle, so a burst of concurrent
// sends pays one commit, not one per message — while every batch
// stays individually staged, atomic, and ordered.
type CommitQueue struct {
	slug    string
	commit  CommitFunc
	timeout time.Duration
	logger  *slog.Logger

	mu      sync.Mutex
	pending []*pendingBatch
	closed  bool

	wake chan struct{}
	stop chan struct{}
	done chan struct{}
}

type pendingBatch struct {
	note string
	done chan commitResult
}

type commitResult struct {
	id  string
	err error
}

func newCommitQueue(slug string, commit CommitFunc, timeout time.Duration, logger *slog.Logger) *CommitQueue {
	queue := &CommitQueue{
		slug:    slug,
		commit:  commit,
		timeout: timeout,
		logger:  logger,
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go queue.run()
	return queue
}

// Enqueue submits one staged batch's note and blocks until the commit
// covering it completes, returning the commit identity. A cancelled
// ctx abandons the wait, not the commit: the batch is already staged
// and will be in the next commit regardless.
func (q *CommitQueue) Enqueue(ctx context.Context, note string) (string, error) {
	batch := &pendingBatch{note: note, done: make(chan commitResult, 1)}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return "", ErrQueueClosed
	}
	q.pending = append(q.pending, batch)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}

	select {
	case result := <-batch.done:
		return result.id, result.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Close flushes pending batches with a final commit and stops the
// committer. Idempotent.
func (q *CommitQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.done
		return
	}
	q.closed = true
	q.mu.Unlock()

	close(q.stop)
	<-q.done
}

func (q *CommitQueue) run() {
	defer close(q.done)
	for {
		select {
		case <-q.wake:
			q.drain()
		case <-q.stop:
			q.drain()
			return
		}
	}
}

// drain commits everything queued at the moment of the swap as one
// commit and fans the result out to every waiter.
func (q *CommitQueue) drain() {
	q.mu.Lock()
	batch := q.pending
	q.pending = nil
	q.mu.Unlock()
	if len(batch) == 0 {
		return
	}

	notes := make([]string, len(batch))
	for i, b := range batch {
		notes[i] = b.note
	}

	ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
	id, err := q.commit(ctx, notes)
	cancel()
	if err != nil {
		q.logger.Error("archive commit failed",
			"project", q.slug,
			"batches", len(batch),
			"error", err,
		)
	} else if len(batch) > 1 {
		q.logger.Debug("coalesced archive commit",
			"project", q.slug,
			"batches", len(batch),
			"commit", id,
		)
	}

	for _, b := range batch {
		b.done <- commitResult{id: id, err: err}
	}
}
