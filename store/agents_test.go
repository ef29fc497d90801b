// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bureau-foundation/mailroom/mail"
	"github.com/bureau-foundation/mailroom/store"
)

func TestInsertAgentRoundtrip(t *testing.T) {
	st := openTestStore(t)

	inserted := &mail.Agent{
		Name:            "Release Captain",
		Slug:            mail.AgentSlug("Release Captain"),
		Program:         "claude-code",
		Model:           "opus",
		TaskDescription: "coordinating the 2.4 release",
		RegisteredAt:    baseTime,
		LastActiveAt:    baseTime.Add(time.Minute),
	}
	if err := st.InsertAgent(context.Background(), inserted); err != nil {
		t.Fatalf("InsertAgent: %v", err)
	}
	if inserted.ID == 0 {
		t.Fatal("InsertAgent did not assign an id")
	}
	if inserted.Project != "acme-1a2b3c4d" {
		t.Fatalf("Project = %q, want acme-1a2b3c4d", inserted.Project)
	}

	got, err := st.AgentByName(context.Background(), "Release Captain")
	if err != nil {
		t.Fatalf("AgentByName: %v", err)
	}
	if got.ID != inserted.ID {
		t.Errorf("ID = %d, want %d", got.ID, inserted.ID)
	}
	if got.Slug != inserted.Slug {
		t.Errorf("Slug = %q, want %q", got.Slug, inserted.Slug)
	}
	if got.TaskDescription != "coordinating the 2.4 release" {
		t.Errorf("TaskDescription = %q", got.TaskDescription)
	}
	if !got.RegisteredAt.Equal(baseTime) {
		t.Errorf("RegisteredAt = %v, want %v", got.RegisteredAt, baseTime)
	}
	if !got.LastActiveAt.Equal(baseTime.Add(time.Minute)) {
		t.Errorf("LastActiveAt = %v, want %v", got.LastActiveAt, baseTime.Add(time.Minute))
	}
	if got.Inactive {
		t.Error("new agent is marked inactive")
	}
}

func TestAgentByNameNotFound(t *testing.T) {
	st := openTestStore(t)

	_, err := st.AgentByName(context.Background(), "nobody")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("AgentByName error = %v, want ErrNotFound", err)
	}
}

func TestInsertAgentDuplicateName(t *testing.T) {
	st := openTestStore(t)
	registerTestAgent(t, st, "planner")

	duplicate := &mail.Agent{
		Name:         "planner",
		Slug:         mail.AgentSlug("planner"),
		RegisteredAt: baseTime,
		LastActiveAt: baseTime,
	}
	if err := st.InsertAgent(context.Background(), duplicate); err == nil {
		t.Fatal("expected unique constraint violation for duplicate name")
	}
}

func TestUpdateAgent(t *testing.T) {
	st := openTestStore(t)
	agent := registerTestAgent(t, st, "planner")

	agent.Program = "aider"
	agent.Model = "gpt"
	agent.TaskDescription = "schema migration"
	agent.LastActiveAt = baseTime.Add(time.Hour)
	agent.Inactive = true
	if err := st.UpdateAgent(context.Background(), agent); err != nil {
		t.Fatalf("UpdateAgent: %v", err)
	}

	got, err := st.AgentByName(context.Background(), "planner")
	if err != nil {
		t.Fatalf("AgentByName: %v", err)
	}
	if got.Program != "aider" || got.Model != "gpt" {
		t.Errorf("program/model = %q/%q, want aider/gpt", got.Program, got.Model)
	}
	if !got.Inactive {
		t.Error("Inactive flag did not persist")
	}
	if !got.LastActiveAt.Equal(baseTime.Add(time.Hour)) {
		t.Errorf("LastActiveAt = %v", got.LastActiveAt)
	}
}

func TestUpdateAgentMissing(t *testing.T) {
	st := openTestStore(t)

	err := st.UpdateAgent(context.Background(), &mail.Agent{
		Name:         "ghost",
		LastActiveAt: baseTime,
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("UpdateAgent error = %v, want ErrNotFound", err)
	}
}

func TestTouchAgent(t *testing.T) {
	st := openTestStore(t)
	registerTestAgent(t, st, "planner")

	later := baseTime.Add(30 * time.Minute)
	if err := st.TouchAgent(context.Background(), "planner", later); err != nil {
		t.Fatalf("TouchAgent: %v", err)
	}

	got, err := st.AgentByName(context.Background(), "planner")
	if err != nil {
		t.Fatalf("AgentByName: %v", err)
	}
	if !got.LastActiveAt.Equal(later) {
		t.Fatalf("LastActiveAt = %v, want %v", got.LastActiveAt, later)
	}

	// Touching a name that never registered is not an error.
	if err := st.TouchAgent(context.Background(), "ghost", later); err != nil {
		t.Fatalf("TouchAgent(ghost): %v", err)
	}
}

func TestListAgents(t *testing.T) {
	st := openTestStore(t)
	registerTestAgent(t, st, "zed")
	registerTestAgent(t, st, "alice")
	retired := registerTestAgent(t, st, "mallory")

	retired.Inactive = true
	if err := st.UpdateAgent(context.Background(), retired); err != nil {
		t.Fatalf("UpdateAgent: %v", err)
	}

	active, err := st.ListAgents(context.Background(), false)
	if err != nil {
		t.Fatalf("ListAgents: %v", err)
	}
	names := make([]string, len(active))
	for i, agent := range active {
		names[i] = agent.Name
	}
	if len(names) != 2 || names[0] != "alice" || names[1] != "zed" {
		t.Fatalf("active agents = %v, want [alice zed]", names)
	}

	all, err := st.ListAgents(context.Background(), true)
	if err != nil {
		t.Fatalf("ListAgents(includeInactive): %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("all agents = %d, want 3", len(all))
	}
}

func TestDeleteAgent(t *testing.T) {
	st := openTestStore(t)
	registerTestAgent(t, st, "planner")

	if err := st.DeleteAgent(context.Background(), "planner"); err != nil {
		t.Fatalf("DeleteAgent: %v", err)
	}
	_, err := st.AgentByName(context.Background(), "planner")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("AgentByName after delete = %v, want ErrNotFound", err)
	}
}
