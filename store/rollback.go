// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"zombiezen.com/go/sqlite/sqlitex"
)

// Compensating writes for the dispatcher's archive-failure rollback.
// Each undoes exactly one mutating operation's store effect so the
// indexed store and the archive never stay divergent. These run while
// the caller still holds the project exclusivity lock, so no other
// writer can observe the intermediate state.

// RevertRead undoes MarkRead: the delivery returns to unread with no
// read timestamp.
func (s *Store) RevertRead(ctx context.Context, seq int64, recipient string) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("store: revert read: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `UPDATE deliveries
		SET read = 0, read_at = NULL
		WHERE message_seq = ? AND recipient = ?`, &sqlitex.ExecOptions{
		Args: []any{seq, recipient},
	})
	if err != nil {
		return fmt.Errorf("store: revert read %d for %q: %w", seq, recipient, err)
	}
	return nil
}

// RevertAcknowledge undoes Acknowledge, restoring the pre-call read
// state: wasRead preserves a read flag that predated the acknowledge.
func (s *Store) RevertAcknowledge(ctx context.Context, seq int64, recipient string, wasRead bool, readAt time.Time) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("store: revert acknowledge: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `UPDATE deliveries
		SET acknowledged = 0, acked_at = NULL, read = ?, read_at = ?
		WHERE message_seq = ? AND recipient = ?`, &sqlitex.ExecOptions{
		Args: []any{boolValue(wasRead), timeValue(readAt), seq, recipient},
	})
	if err != nil {
		return fmt.Errorf("store: revert acknowledge %d by %q: %w", seq, recipient, err)
	}
	return nil
}

// ReinstateReservations undoes ReleaseReservations for the given row
// ids: the rows return to the unreleased state.
func (s *Store) ReinstateReservations(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("store: reinstate reservations: %w", err)
	}
	defer s.pool.Put(conn)

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	err = sqlitex.ExecuteTransient(conn,
		"UPDATE reservations SET released_at = NULL WHERE id IN ("+placeholders+")",
		&sqlitex.ExecOptions{Args: args})
	if err != nil {
		return fmt.Errorf("store: reinstate reservations: %w", err)
	}
	return nil
}
