// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/bureau-foundation/mailroom/mail"
	"github.com/bureau-foundation/mailroom/store"
)

// reserveTestPath inserts a reservation created at baseTime with the
// given TTL and returns it.
func reserveTestPath(t *testing.T, st *store.Store, agent, pattern string, ttl time.Duration, exclusive bool) *mail.Reservation {
	t.Helper()

	reservation := &mail.Reservation{
		Agent:       agent,
		PathPattern: pattern,
		Exclusive:   exclusive,
		CreatedAt:   baseTime,
		ExpiresAt:   baseTime.Add(ttl),
	}
	if err := st.InsertReservation(context.Background(), reservation); err != nil {
		t.Fatalf("InsertReservation(%q): %v", pattern, err)
	}
	return reservation
}

func TestInsertReservationAssignsID(t *testing.T) {
	st := openTestStore(t)

	first := reserveTestPath(t, st, "alice", "src/parser.go", time.Hour, true)
	second := reserveTestPath(t, st, "alice", "src/lexer.go", time.Hour, true)
	if first.ID == 0 || second.ID == 0 {
		t.Fatal("reservation ids not assigned")
	}
	if second.ID <= first.ID {
		t.Fatalf("ids not increasing: %d then %d", first.ID, second.ID)
	}
}

func TestActiveReservationsExpiryBoundary(t *testing.T) {
	st := openTestStore(t)
	reserveTestPath(t, st, "alice", "src/**", time.Minute, true)

	// One nanosecond before expiry the reservation is still active.
	active, err := st.ActiveReservations(context.Background(), baseTime.Add(time.Minute-time.Nanosecond))
	if err != nil {
		t.Fatalf("ActiveReservations: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("active before expiry = %d, want 1", len(active))
	}

	// At the expiry instant it is gone, sweep or no sweep.
	active, err = st.ActiveReservations(context.Background(), baseTime.Add(time.Minute))
	if err != nil {
		t.Fatalf("ActiveReservations: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("active at expiry = %d, want 0", len(active))
	}
}

func TestAgentReservations(t *testing.T) {
	st := openTestStore(t)
	reserveTestPath(t, st, "alice", "src/a.go", time.Hour, true)
	reserveTestPath(t, st, "bob", "src/b.go", time.Hour, true)

	mine, err := st.AgentReservations(context.Background(), "alice", baseTime.Add(time.Minute))
	if err != nil {
		t.Fatalf("AgentReservations: %v", err)
	}
	if len(mine) != 1 || mine[0].PathPattern != "src/a.go" {
		t.Fatalf("alice's reservations = %+v, want just src/a.go", mine)
	}
}

func TestReleaseAllForAgent(t *testing.T) {
	st := openTestStore(t)
	reserveTestPath(t, st, "alice", "src/a.go", time.Hour, true)
	reserveTestPath(t, st, "alice", "src/b.go", time.Hour, false)
	reserveTestPath(t, st, "bob", "src/c.go", time.Hour, true)

	releasedAt := baseTime.Add(10 * time.Minute)
	released, err := st.ReleaseReservations(context.Background(), "alice", nil, releasedAt)
	if err != nil {
		t.Fatalf("ReleaseReservations: %v", err)
	}
	if len(released) != 2 {
		t.Fatalf("released %d, want 2", len(released))
	}
	for _, reservation := range released {
		if !reservation.ReleasedAt.Equal(releasedAt) {
			t.Errorf("ReleasedAt = %v, want %v", reservation.ReleasedAt, releasedAt)
		}
	}

	active, err := st.ActiveReservations(context.Background(), releasedAt)
	if err != nil {
		t.Fatalf("ActiveReservations: %v", err)
	}
	if len(active) != 1 || active[0].Agent != "bob" {
		t.Fatalf("active after release = %+v, want only bob's", active)
	}
}

func TestReleaseSpecificPatterns(t *testing.T) {
	st := openTestStore(t)
	reserveTestPath(t, st, "alice", "src/a.go", time.Hour, true)
	reserveTestPath(t, st, "alice", "src/b.go", time.Hour, true)

	released, err := st.ReleaseReservations(context.Background(), "alice",
		[]string{"src/a.go"}, baseTime.Add(time.Minute))
	if err != nil {
		t.Fatalf("ReleaseReservations: %v", err)
	}
	if len(released) != 1 || released[0].PathPattern != "src/a.go" {
		t.Fatalf("released = %+v, want just src/a.go", released)
	}

	active, err := st.ActiveReservations(context.Background(), baseTime.Add(time.Minute))
	if err != nil {
		t.Fatalf("ActiveReservations: %v", err)
	}
	if len(active) != 1 || active[0].PathPattern != "src/b.go" {
		t.Fatalf("active = %+v, want just src/b.go", active)
	}
}

func TestReleaseWithNothingActive(t *testing.T) {
	st := openTestStore(t)

	released, err := st.ReleaseReservations(context.Background(), "alice", nil, baseTime)
	if err != nil {
		t.Fatalf("ReleaseReservations: %v", err)
	}
	if len(released) != 0 {
		t.Fatalf("released = %d, want 0", len(released))
	}
}

func TestSweepExpired(t *testing.T) {
	st := openTestStore(t)
	reserveTestPath(t, st, "alice", "expired.go", time.Minute, true)
	reserveTestPath(t, st, "bob", "live.go", time.Hour, true)
	reserveTestPath(t, st, "charlie", "released.go", time.Hour, true)

	if _, err := st.ReleaseReservations(context.Background(), "charlie", nil, baseTime.Add(time.Minute)); err != nil {
		t.Fatalf("ReleaseReservations: %v", err)
	}

	swept, err := st.SweepExpired(context.Background(), baseTime.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("SweepExpired: %v", err)
	}
	if swept != 2 {
		t.Fatalf("swept = %d, want 2 (the expired and the released)", swept)
	}

	active, err := st.ActiveReservations(context.Background(), baseTime.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("ActiveReservations: %v", err)
	}
	if len(active) != 1 || active[0].PathPattern != "live.go" {
		t.Fatalf("survivors = %+v, want just live.go", active)
	}
}

func TestDeleteReservation(t *testing.T) {
	st := openTestStore(t)
	reservation := reserveTestPath(t, st, "alice", "src/a.go", time.Hour, true)

	if err := st.DeleteReservation(context.Background(), reservation.ID); err != nil {
		t.Fatalf("DeleteReservation: %v", err)
	}

	active, err := st.ActiveReservations(context.Background(), baseTime)
	if err != nil {
		t.Fatalf("ActiveReservations: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("active after delete = %d, want 0", len(active))
	}
}
