// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"context"
	"errors"

	"github.com/bureau-foundation/mailroom/archive"
	"github.com/bureau-foundation/mailroom/mail"
	"github.com/bureau-foundation/mailroom/notify"
	"github.com/bureau-foundation/mailroom/project"
	"github.com/bureau-foundation/mailroom/store"
)

func makeAgentEvent(slug string, agent *mail.Agent) notify.Event {
	return notify.Event{
		Type:    notify.EventAgentRegistered,
		Project: slug,
		Time:    agent.LastActiveAt,
		Agent:   agent.Name,
	}
}

func (d *Dispatcher) registerIdentityOps() {
	d.register("project.ensure", "Create or open the caller's project root.", true, d.projectEnsure)
	d.register("agent.register", "Register the calling agent, or refresh its profile.", true, d.agentRegister)
	d.register("agent.list", "List the project's registered agents.", false, d.agentList)
}

// EnsureResult is the project.ensure response.
type EnsureResult struct {
	Project         string                  `json:"project"`
	Slug            string                  `json:"slug"`
	ReservationMode project.ReservationMode `json:"reservation_mode"`
	DefaultTTL      string                  `json:"default_ttl"`
	ArchiveSeq      int64                   `json:"archive_seq"`
}

// projectEnsure opens the caller's project, creating its root on
// first reference. The first ensure also writes the archive chain's
// project record — the one record without an acting agent — so every
// chain begins with its own provenance.
func (d *Dispatcher) projectEnsure(ctx context.Context, caller Caller, decode Decoder) (any, error) {
	const op = "project.ensure"
	h, err := d.handle(ctx, op, caller)
	if err != nil {
		return nil, err
	}

	err = d.mutate(ctx, h, func(ctx context.Context) (*archive.Staged, error) {
		head, err := h.Archive().Head()
		if err != nil {
			return nil, err
		}
		if head.Seq > 0 {
			// Chain already has its project record.
			return nil, nil
		}
		return d.stage(h, op, d.clock.Now().UTC(), []recordSpec{{
			kind:     archive.KindProject,
			entities: []string{archive.ProjectEntity(h.Slug())},
			payload: map[string]string{
				"human_key": h.HumanKey(),
				"slug":      h.Slug(),
			},
		}})
	})
	if err != nil {
		return nil, err
	}

	head, err := h.Archive().Head()
	if err != nil {
		return nil, err
	}
	policy := h.Policy()
	return &EnsureResult{
		Project:         h.HumanKey(),
		Slug:            h.Slug(),
		ReservationMode: policy.ReservationMode,
		DefaultTTL:      policy.DefaultTTL.String(),
		ArchiveSeq:      head.Seq,
	}, nil
}

// RegisterArgs are the agent.register arguments. Name defaults to the
// caller's envelope identity.
type RegisterArgs struct {
	Name            string `json:"name,omitempty"`
	Program         string `json:"program,omitempty"`
	Model           string `json:"model,omitempty"`
	TaskDescription string `json:"task_description,omitempty"`
}

// agentRegister creates the agent on first call and refreshes its
// profile (program, model, task description, activity time) on every
// subsequent one. Names are immutable and never reused; a previously
// deregistered agent re-registering under its own name comes back
// active.
func (d *Dispatcher) agentRegister(ctx context.Context, caller Caller, decode Decoder) (any, error) {
	const op = "agent.register"
	var args RegisterArgs
	if err := decodeInto(op, decode, &args); err != nil {
		return nil, err
	}
	name := args.Name
	if name == "" {
		name = caller.Agent
	}
	if err := mail.ValidateAgentName(name); err != nil {
		return nil, Validation(op, "%v", err)
	}

	h, err := d.handle(ctx, op, caller)
	if err != nil {
		return nil, err
	}

	var registered *mail.Agent
	err = d.mutate(ctx, h, func(ctx context.Context) (*archive.Staged, error) {
		now := d.clock.Now().UTC()

		existing, err := h.Store().AgentByName(ctx, name)
		switch {
		case err == nil:
			updated := *existing
			updated.Program = args.Program
			updated.Model = args.Model
			updated.TaskDescription = args.TaskDescription
			updated.LastActiveAt = now
			updated.Inactive = false
			if err := h.Store().UpdateAgent(ctx, &updated); err != nil {
				return nil, err
			}
			staged, err := d.stageIdentity(h, op, &updated)
			if err != nil {
				// Put the previous profile back before the lock is
				// released.
				if revertErr := h.Store().UpdateAgent(ctx, existing); revertErr != nil {
					d.logger.Error("rollback of agent update failed",
						"project", h.Slug(), "agent", name, "error", revertErr)
				}
				return nil, err
			}
			registered = &updated
			return staged, nil

		case errors.Is(err, store.ErrNotFound):
			created := &mail.Agent{
				Project:         h.Slug(),
				Name:            name,
				Slug:            mail.AgentSlug(name),
				Program:         args.Program,
				Model:           args.Model,
				TaskDescription: args.TaskDescription,
				RegisteredAt:    now,
				LastActiveAt:    now,
			}
			if err := h.Store().InsertAgent(ctx, created); err != nil {
				return nil, err
			}
			staged, err := d.stageIdentity(h, op, created)
			if err != nil {
				if revertErr := h.Store().DeleteAgent(ctx, name); revertErr != nil {
					d.logger.Error("rollback of agent insert failed",
						"project", h.Slug(), "agent", name, "error", revertErr)
				}
				return nil, err
			}
			registered = created
			return staged, nil

		default:
			return nil, err
		}
	})
	if err != nil {
		return nil, err
	}

	d.publish(makeAgentEvent(h.Slug(), registered))
	return registered, nil
}

func (d *Dispatcher) stageIdentity(h *project.Handle, op string, agent *mail.Agent) (*archive.Staged, error) {
	return d.stage(h, op, agent.LastActiveAt, []recordSpec{{
		kind:     archive.KindIdentity,
		agent:    agent.Name,
		entities: []string{archive.AgentEntity(agent.Name)},
		payload:  agent,
	}})
}

// ListAgentsArgs are the agent.list arguments.
type ListAgentsArgs struct {
	IncludeInactive bool `json:"include_inactive,omitempty"`
}

// ListAgentsResult is the agent.list response.
type ListAgentsResult struct {
	Agents []mail.Agent `json:"agents"`
}

func (d *Dispatcher) agentList(ctx context.Context, caller Caller, decode Decoder) (any, error) {
	const op = "agent.list"
	var args ListAgentsArgs
	if err := decodeInto(op, decode, &args); err != nil {
		return nil, err
	}
	h, err := d.handle(ctx, op, caller)
	if err != nil {
		return nil, err
	}
	agents, err := h.Store().ListAgents(ctx, args.IncludeInactive)
	if err != nil {
		return nil, err
	}
	return &ListAgentsResult{Agents: agents}, nil
}
