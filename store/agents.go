// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"fmt"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/mailroom/mail"
)

// InsertAgent persists a newly registered agent and fills in its row
// id. Name and slug uniqueness are enforced by the schema; the caller
// is expected to have checked for an existing registration first (the
// dispatcher does this under the project lock).
func (s *Store) InsertAgent(ctx context.Context, agent *mail.Agent) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("store: insert agent: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `INSERT INTO agents
		(name, slug, program, model, task_description, registered_at, last_active_at, inactive)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, &sqlitex.ExecOptions{
		Args: []any{
			agent.Name,
			agent.Slug,
			agent.Program,
			agent.Model,
			agent.TaskDescription,
			agent.RegisteredAt.UnixNano(),
			agent.LastActiveAt.UnixNano(),
			boolValue(agent.Inactive),
		},
	})
	if err != nil {
		return fmt.Errorf("store: insert agent %q: %w", agent.Name, err)
	}

	agent.ID = conn.LastInsertRowID()
	agent.Project = s.project
	return nil
}

// UpdateAgent rewrites the mutable fields of an existing registration:
// program, model, task description, activity time, and the inactive
// flag. Name and slug are immutable.
func (s *Store) UpdateAgent(ctx context.Context, agent *mail.Agent) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("store: update agent: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `UPDATE agents SET
		program = ?, model = ?, task_description = ?, last_active_at = ?, inactive = ?
		WHERE name = ?`, &sqlitex.ExecOptions{
		Args: []any{
			agent.Program,
			agent.Model,
			agent.TaskDescription,
			agent.LastActiveAt.UnixNano(),
			boolValue(agent.Inactive),
			agent.Name,
		},
	})
	if err != nil {
		return fmt.Errorf("store: update agent %q: %w", agent.Name, err)
	}
	if conn.Changes() == 0 {
		return fmt.Errorf("store: update agent %q: %w", agent.Name, ErrNotFound)
	}
	return nil
}

// TouchAgent bumps an agent's last-activity time. Called on every
// operation the agent performs; a missing registration is not an
// error here, so activity from names that never registered is simply
// dropped.
func (s *Store) TouchAgent(ctx context.Context, name string, at time.Time) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("store: touch agent: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, "UPDATE agents SET last_active_at = ? WHERE name = ?", &sqlitex.ExecOptions{
		Args: []any{at.UnixNano(), name},
	})
	if err != nil {
		return fmt.Errorf("store: touch agent %q: %w", name, err)
	}
	return nil
}

// AgentByName returns one agent by its exact name. Wraps ErrNotFound
// when no such registration exists.
func (s *Store) AgentByName(ctx context.Context, name string) (*mail.Agent, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: agent by name: %w", err)
	}
	defer s.pool.Put(conn)

	var agent *mail.Agent
	err = sqlitex.Execute(conn, `SELECT id, name, slug, program, model, task_description,
		registered_at, last_active_at, inactive
		FROM agents WHERE name = ?`, &sqlitex.ExecOptions{
		Args: []any{name},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			scanned := s.scanAgent(stmt)
			agent = &scanned
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("store: agent by name %q: %w", name, err)
	}
	if agent == nil {
		return nil, fmt.Errorf("store: agent %q: %w", name, ErrNotFound)
	}
	return agent, nil
}

// ListAgents returns the project's agents ordered by name. Inactive
// registrations are excluded unless includeInactive is set.
func (s *Store) ListAgents(ctx context.Context, includeInactive bool) ([]mail.Agent, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: list agents: %w", err)
	}
	defer s.pool.Put(conn)

	query := `SELECT id, name, slug, program, model, task_description,
		registered_at, last_active_at, inactive FROM agents`
	if !includeInactive {
		query += " WHERE inactive = 0"
	}
	query += " ORDER BY name"

	var agents []mail.Agent
	err = sqlitex.ExecuteTransient(conn, query, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			agents = append(agents, s.scanAgent(stmt))
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("store: list agents: %w", err)
	}
	return agents, nil
}

// DeleteAgent removes a registration row. This is the compensating
// write for a failed register operation; normal deactivation goes
// through UpdateAgent with Inactive set.
func (s *Store) DeleteAgent(ctx context.Context, name string) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("store: delete agent: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, "DELETE FROM agents WHERE name = ?", &sqlitex.ExecOptions{
		Args: []any{name},
	})
	if err != nil {
		return fmt.Errorf("store: delete agent %q: %w", name, err)
	}
	return nil
}

// scanAgent reads one agents row. Column order matches the SELECT
// lists above.
func (s *Store) scanAgent(stmt *sqlite.Stmt) mail.Agent {
	return mail.Agent{
		ID:              stmt.ColumnInt64(0),
		Project:         s.project,
		Name:            stmt.ColumnText(1),
		Slug:            stmt.ColumnText(2),
		Program:         stmt.ColumnText(3),
		Model:           stmt.ColumnText(4),
		TaskDescription: stmt.ColumnText(5),
		RegisteredAt:    columnTime(stmt, 6),
		LastActiveAt:    columnTime(stmt, 7),
		Inactive:        columnBool(stmt, 8),
	}
}
