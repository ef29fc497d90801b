// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/mailroom/lib/sqlitepool"
)

// ErrNotFound is wrapped by lookups whose target row does not exist.
// Match with errors.Is.
var ErrNotFound = errors.New("not found")

// Store provides indexed access to one project's agents, messages,
// deliveries, and reservations. All methods are safe for concurrent
// use; each borrows a pooled connection for the duration of the call.
type Store struct {
	pool    *sqlitepool.Pool
	project string
}

// Open applies the schema to the pooled database and returns the
// store. The pool stays owned by the caller: closing the pool
// invalidates the store, not the other way around.
func Open(ctx context.Context, pool *sqlitepool.Pool, project string) (*Store, error) {
	if project == "" {
		return nil, fmt.Errorf("store: project slug is empty")
	}

	conn, err := pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	defer pool.Put(conn)

	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		return nil, fmt.Errorf("store: applying schema: %w", err)
	}

	return &Store{pool: pool, project: project}, nil
}

// Project returns the owning project's slug.
func (s *Store) Project() string {
	return s.project
}

// LastSeq returns the most recently issued message sequence id, or
// zero when no message has ever been sent.
func (s *Store) LastSeq(ctx context.Context) (int64, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, fmt.Errorf("store: last seq: %w", err)
	}
	defer s.pool.Put(conn)

	var value int64
	err = sqlitex.Execute(conn, "SELECT value FROM sequence_counter WHERE id = 1", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			value = stmt.ColumnInt64(0)
			return nil
		},
	})
	if err != nil {
		return 0, fmt.Errorf("store: last seq: %w", err)
	}
	return value, nil
}

// nextSeq increments the sequence counter and returns the new value.
// Must run inside the caller's transaction so the increment commits or
// rolls back with the insert it numbers.
func nextSeq(conn *sqlite.Conn) (int64, error) {
	if err := sqlitex.Execute(conn, "UPDATE sequence_counter SET value = value + 1 WHERE id = 1", nil); err != nil {
		return 0, fmt.Errorf("incrementing sequence counter: %w", err)
	}
	var seq int64
	err := sqlitex.Execute(conn, "SELECT value FROM sequence_counter WHERE id = 1", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			seq = stmt.ColumnInt64(0)
			return nil
		},
	})
	if err != nil {
		return 0, fmt.Errorf("reading sequence counter: %w", err)
	}
	return seq, nil
}

// timeValue converts a time for a nullable timestamp column: the zero
// time stores as NULL, everything else as Unix nanoseconds.
func timeValue(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UnixNano()
}

// columnTime reads a timestamp column; NULL maps to the zero time.
func columnTime(stmt *sqlite.Stmt, column int) time.Time {
	if stmt.ColumnIsNull(column) {
		return time.Time{}
	}
	return time.Unix(0, stmt.ColumnInt64(column)).UTC()
}

// columnBool reads an INTEGER column as a flag.
func columnBool(stmt *sqlite.Stmt, column int) bool {
	return stmt.ColumnInt64(column) != 0
}

// boolValue converts a flag for an INTEGER column.
func boolValue(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
