// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/mailroom/mail"
)

// InsertReservation persists a new reservation and fills in its row
// id. Conflict detection happens above the store, in the reservation
// manager; by the time a row lands here the write has been approved.
func (s *Store) InsertReservation(ctx context.Context, reservation *mail.Reservation) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("store: insert reservation: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `INSERT INTO reservations
		(agent, path_pattern, exclusive, reason, created_at, expires_at, released_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`, &sqlitex.ExecOptions{
		Args: []any{
			reservation.Agent,
			reservation.PathPattern,
			boolValue(reservation.Exclusive),
			reservation.Reason,
			reservation.CreatedAt.UnixNano(),
			reservation.ExpiresAt.UnixNano(),
			timeValue(reservation.ReleasedAt),
		},
	})
	if err != nil {
		return fmt.Errorf("store: insert reservation for %q: %w", reservation.Agent, err)
	}

	reservation.ID = conn.LastInsertRowID()
	reservation.Project = s.project
	return nil
}

// ActiveReservations returns every reservation live at the given
// instant: unreleased and unexpired, ordered by id (grant order).
// Expiry is a timestamp comparison, so a reservation whose TTL has
// lapsed disappears from this scan even if no sweep has run yet.
func (s *Store) ActiveReservations(ctx context.Context, now time.Time) ([]mail.Reservation, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: active reservations: %w", err)
	}
	defer s.pool.Put(conn)

	return s.queryReservations(conn,
		"released_at IS NULL AND expires_at > ?", []any{now.UnixNano()})
}

// AgentReservations returns the agent's live reservations.
func (s *Store) AgentReservations(ctx context.Context, agent string, now time.Time) ([]mail.Reservation, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: agent reservations: %w", err)
	}
	defer s.pool.Put(conn)

	return s.queryReservations(conn,
		"agent = ? AND released_at IS NULL AND expires_at > ?", []any{agent, now.UnixNano()})
}

// ReleaseReservations marks the agent's live reservations released
// and returns the rows it released. A non-empty patterns list
// restricts the release to exact pattern matches; an empty list
// releases everything the agent holds.
func (s *Store) ReleaseReservations(ctx context.Context, agent string, patterns []string, at time.Time) (released []mail.Reservation, err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: release reservations: %w", err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return nil, fmt.Errorf("store: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	condition := "agent = ? AND released_at IS NULL AND expires_at > ?"
	args := []any{agent, at.UnixNano()}
	if len(patterns) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(patterns)), ", ")
		condition += " AND path_pattern IN (" + placeholders + ")"
		for _, pattern := range patterns {
			args = append(args, pattern)
		}
	}

	released, err = s.queryReservations(conn, condition, args)
	if err != nil {
		return nil, err
	}
	if len(released) == 0 {
		return nil, nil
	}

	ids := make([]any, len(released))
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(released)), ", ")
	for i := range released {
		ids[i] = released[i].ID
	}
	err = sqlitex.ExecuteTransient(conn,
		"UPDATE reservations SET released_at = ? WHERE id IN ("+placeholders+")",
		&sqlitex.ExecOptions{Args: append([]any{at.UnixNano()}, ids...)})
	if err != nil {
		return nil, fmt.Errorf("store: release reservations for %q: %w", agent, err)
	}

	for i := range released {
		released[i].ReleasedAt = at.UTC()
	}
	return released, nil
}

// SweepExpired deletes rows that no longer matter: released
// reservations and reservations whose expiry has passed. Returns the
// number of rows reclaimed. Activity checks never depend on the
// sweep — this only keeps the table from growing without bound.
func (s *Store) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, fmt.Errorf("store: sweep reservations: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		"DELETE FROM reservations WHERE released_at IS NOT NULL OR expires_at <= ?",
		&sqlitex.ExecOptions{Args: []any{now.UnixNano()}})
	if err != nil {
		return 0, fmt.Errorf("store: sweep reservations: %w", err)
	}
	return int64(conn.Changes()), nil
}

// DeleteReservation removes one row by id. This is the compensating
// write for a reserve whose archive append failed.
func (s *Store) DeleteReservation(ctx context.Context, id int64) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("store: delete reservation: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, "DELETE FROM reservations WHERE id = ?", &sqlitex.ExecOptions{
		Args: []any{id},
	})
	if err != nil {
		return fmt.Errorf("store: delete reservation %d: %w", id, err)
	}
	return nil
}

// queryReservations runs a reservations SELECT with the given WHERE
// condition, ordered by id.
func (s *Store) queryReservations(conn *sqlite.Conn, condition string, args []any) ([]mail.Reservation, error) {
	query := `SELECT id, agent, path_pattern, exclusive, reason, created_at, expires_at, released_at
		FROM reservations WHERE ` + condition + " ORDER BY id"

	var reservations []mail.Reservation
	err := sqlitex.ExecuteTransient(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			reservations = append(reservations, mail.Reservation{
				ID:          stmt.ColumnInt64(0),
				Project:     s.project,
				Agent:       stmt.ColumnText(1),
				PathPattern: stmt.ColumnText(2),
				Exclusive:   columnBool(stmt, 3),
				Reason:      stmt.ColumnText(4),
				CreatedAt:   columnTime(stmt, 5),
				ExpiresAt:   columnTime(stmt, 6),
				ReleasedAt:  columnTime(stmt, 7),
			})
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("store: query reservations: %w", err)
	}
	return reservations, nil
}
