// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package reservation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bureau-foundation/mailroom/lib/clock"
	"github.com/bureau-foundation/mailroom/mail"
	"github.com/bureau-foundation/mailroom/project"
	"github.com/bureau-foundation/mailroom/store"
)

// Conflict pairs one requested pattern with the active reservations
// it overlaps. Conflicts are a structured result, not an error: in
// advisory mode the reservation is granted anyway and the caller
// decides what to do.
type Conflict struct {
	// PathPattern is the requested pattern.
	PathPattern string `json:"path_pattern"`

	// With are the other agents' active reservations that overlap it.
	With []mail.Reservation `json:"with"`

	// Denied is set in strict mode when the overlap caused the
	// pattern to be refused — no row was written for it.
	Denied bool `json:"denied,omitempty"`
}

// Grant is the result of a Reserve call: the reservations written and
// the conflicts observed. Both can be non-empty at once (advisory
// mode grants through a conflict).
type Grant struct {
	Granted   []mail.Reservation `json:"granted"`
	Conflicts []Conflict         `json:"conflicts,omitempty"`
}

// Config configures a Manager.
type Config struct {
	// Store is the owning project's indexed store. Required.
	Store *store.Store

	// Clock supplies now for TTL arithmetic. Required.
	Clock clock.Clock

	// Mode selects advisory or strict conflict handling.
	Mode project.ReservationMode

	// DefaultTTL applies when a Reserve call passes no TTL. Required
	// positive.
	DefaultTTL time.Duration
}

// Manager tracks one project's advisory file leases on top of the
// indexed store. Mutating calls (Reserve, Release) must run under the
// project exclusivity lock — the manager reads active state and
// writes rows without internal locking, trusting its caller, like the
// store does.
type Manager struct {
	store      *store.Store
	clock      clock.Clock
	mode       project.ReservationMode
	defaultTTL time.Duration
}

// NewManager creates a manager for one project.
func NewManager(cfg Config) *Manager {
	if cfg.Store == nil {
		panic("reservation.Manager: Store is required")
	}
	if cfg.Clock == nil {
		panic("reservation.Manager: Clock is required")
	}
	if cfg.DefaultTTL <= 0 {
		panic("reservation.Manager: DefaultTTL must be positive")
	}
	if cfg.Mode == "" {
		cfg.Mode = project.ModeAdvisory
	}
	return &Manager{
		store:      cfg.Store,
		clock:      cfg.Clock,
		mode:       cfg.Mode,
		defaultTTL: cfg.DefaultTTL,
	}
}

// Reserve claims the given patterns for the agent. Every pattern is
// checked pairwise against all currently active reservations held by
// other agents; overlaps are reported per pattern. In advisory mode
// conflicting patterns are still granted. In strict mode an exclusive
// claim that overlaps another agent's exclusive reservation is denied
// (no row written for that pattern); non-exclusive reservations never
// deny anyone in either mode.
//
// A zero ttl means the manager's default. Expiry is creation time
// plus TTL, evaluated by timestamp comparison at every later read.
func (m *Manager) Reserve(ctx context.Context, agent string, patterns []string, ttl time.Duration, exclusive bool, reason string) (*Grant, error) {
	if agent == "" {
		return nil, errors.New("reservation: agent is empty")
	}
	if len(patterns) == 0 {
		return nil, errors.New("reservation: no paths given")
	}
	for _, pattern := range patterns {
		if pattern == "" {
			return nil, errors.New("reservation: empty path pattern")
		}
	}
	if ttl < 0 {
		return nil, fmt.Errorf("reservation: negative ttl %s", ttl)
	}
	if ttl == 0 {
		ttl = m.defaultTTL
	}

	now := m.clock.Now().UTC()
	active, err := m.store.ActiveReservations(ctx, now)
	if err != nil {
		return nil, err
	}

	grant := &Grant{}
	for _, pattern := range patterns {
		var overlapping []mail.Reservation
		for _, held := range active {
			if held.Agent == agent {
				continue
			}
			if PatternsConflict(pattern, held.PathPattern) {
				overlapping = append(overlapping, held)
			}
		}

		denied := false
		if len(overlapping) > 0 {
			denied = m.mode == project.ModeStrict && exclusive && anyExclusive(overlapping)
			grant.Conflicts = append(grant.Conflicts, Conflict{
				PathPattern: pattern,
				With:        overlapping,
				Denied:      denied,
			})
		}
		if denied {
			continue
		}

		reservation := mail.Reservation{
			Agent:       agent,
			PathPattern: pattern,
			Exclusive:   exclusive,
			Reason:      reason,
			CreatedAt:   now,
			ExpiresAt:   now.Add(ttl),
		}
		if err := m.store.InsertReservation(ctx, &reservation); err != nil {
			return nil, err
		}
		grant.Granted = append(grant.Granted, reservation)
	}
	return grant, nil
}

// Release marks the agent's live reservations released and returns
// them. Empty patterns releases everything the agent holds.
func (m *Manager) Release(ctx context.Context, agent string, patterns []string) ([]mail.Reservation, error) {
	if agent == "" {
		return nil, errors.New("reservation: agent is empty")
	}
	return m.store.ReleaseReservations(ctx, agent, patterns, m.clock.Now().UTC())
}

// Active returns every reservation live right now, or only the given
// agent's when agent is non-empty.
func (m *Manager) Active(ctx context.Context, agent string) ([]mail.Reservation, error) {
	now := m.clock.Now().UTC()
	if agent == "" {
		return m.store.ActiveReservations(ctx, now)
	}
	return m.store.AgentReservations(ctx, agent, now)
}

// SweepExpired reclaims released and expired rows. Activity checks
// never depend on the sweep running; this is storage maintenance,
// safe to run concurrently with reservation checks.
func (m *Manager) SweepExpired(ctx context.Context) (int64, error) {
	return m.store.SweepExpired(ctx, m.clock.Now().UTC())
}

func anyExclusive(reservations []mail.Reservation) bool {
	for _, r := range reservations {
		if r.Exclusive {
			return true
		}
	}
	return false
}
