// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"context"
	"time"

	"github.com/bureau-foundation/mailroom/archive"
	"github.com/bureau-foundation/mailroom/mail"
	"github.com/bureau-foundation/mailroom/notify"
	"github.com/bureau-foundation/mailroom/project"
	"github.com/bureau-foundation/mailroom/reservation"
)

func (d *Dispatcher) registerReservationOps() {
	d.register("reservation.reserve", "Reserve file paths or glob patterns with a TTL lease.", true, d.reservationReserve)
	d.register("reservation.release", "Release the caller's reservations.", true, d.reservationRelease)
	d.register("reservation.list", "List active reservations.", false, d.reservationList)
	d.register("reservation.sweep", "Reclaim expired and released reservation rows.", false, d.reservationSweep)
}

// ReserveArgs are the reservation.reserve arguments. TTL is a Go
// duration string ("90s", "15m"); empty means the project policy
// default.
type ReserveArgs struct {
	Paths     []string `json:"paths"`
	TTL       string   `json:"ttl,omitempty"`
	Exclusive bool     `json:"exclusive,omitempty"`
	Reason    string   `json:"reason,omitempty"`
}

func (d *Dispatcher) reservationReserve(ctx context.Context, caller Caller, decode Decoder) (any, error) {
	const op = "reservation.reserve"
	var args ReserveArgs
	if err := decodeInto(op, decode, &args); err != nil {
		return nil, err
	}
	var ttl time.Duration
	if args.TTL != "" {
		parsed, err := time.ParseDuration(args.TTL)
		if err != nil {
			return nil, Validation(op, "parsing ttl: %v", err)
		}
		if parsed <= 0 {
			return nil, Validation(op, "ttl must be positive, got %s", parsed)
		}
		ttl = parsed
	}
	if len(args.Paths) == 0 {
		return nil, Validation(op, "at least one path is required")
	}

	h, err := d.handle(ctx, op, caller)
	if err != nil {
		return nil, err
	}
	agent, err := d.requireAgent(ctx, op, h, caller.Agent)
	if err != nil {
		return nil, err
	}
	manager := d.reservations(h)

	var grant *reservation.Grant
	err = d.mutate(ctx, h, func(ctx context.Context) (*archive.Staged, error) {
		result, err := manager.Reserve(ctx, agent.Name, args.Paths, ttl, args.Exclusive, args.Reason)
		if err != nil {
			return nil, err
		}
		grant = result
		if len(grant.Granted) == 0 {
			// Everything was denied; nothing to archive.
			return nil, nil
		}

		staged, err := d.stageReservations(h, op, agent.Name, grant.Granted)
		if err != nil {
			for _, granted := range grant.Granted {
				if revertErr := h.Store().DeleteReservation(ctx, granted.ID); revertErr != nil {
					d.logger.Error("rollback of reservation insert failed",
						"project", h.Slug(), "id", granted.ID, "error", revertErr)
				}
			}
			return nil, err
		}
		d.touch(ctx, h, agent.Name, d.clock.Now().UTC())
		return staged, nil
	})
	if err != nil {
		return nil, err
	}

	for _, granted := range grant.Granted {
		d.publish(notify.Event{
			Type:        notify.EventReservationGranted,
			Project:     h.Slug(),
			Time:        granted.CreatedAt,
			Agent:       agent.Name,
			PathPattern: granted.PathPattern,
		})
	}
	return grant, nil
}

// ReleaseArgs are the reservation.release arguments. Empty paths
// releases everything the caller holds.
type ReleaseArgs struct {
	Paths []string `json:"paths,omitempty"`
}

// ReleaseResult is the reservation.release response.
type ReleaseResult struct {
	Released []mail.Reservation `json:"released"`
}

func (d *Dispatcher) reservationRelease(ctx context.Context, caller Caller, decode Decoder) (any, error) {
	const op = "reservation.release"
	var args ReleaseArgs
	if err := decodeInto(op, decode, &args); err != nil {
		return nil, err
	}
	h, err := d.handle(ctx, op, caller)
	if err != nil {
		return nil, err
	}
	agent, err := d.requireAgent(ctx, op, h, caller.Agent)
	if err != nil {
		return nil, err
	}
	manager := d.reservations(h)

	var released []mail.Reservation
	err = d.mutate(ctx, h, func(ctx context.Context) (*archive.Staged, error) {
		result, err := manager.Release(ctx, agent.Name, args.Paths)
		if err != nil {
			return nil, err
		}
		released = result
		if len(released) == 0 {
			return nil, nil
		}

		staged, err := d.stageReservations(h, op, agent.Name, released)
		if err != nil {
			ids := make([]int64, len(released))
			for i, r := range released {
				ids[i] = r.ID
			}
			if revertErr := h.Store().ReinstateReservations(ctx, ids); revertErr != nil {
				d.logger.Error("rollback of reservation release failed",
					"project", h.Slug(), "agent", agent.Name, "error", revertErr)
			}
			return nil, err
		}
		d.touch(ctx, h, agent.Name, d.clock.Now().UTC())
		return staged, nil
	})
	if err != nil {
		return nil, err
	}

	for _, r := range released {
		d.publish(notify.Event{
			Type:        notify.EventReservationReleased,
			Project:     h.Slug(),
			Time:        r.ReleasedAt,
			Agent:       agent.Name,
			PathPattern: r.PathPattern,
		})
	}
	return &ReleaseResult{Released: released}, nil
}

func (d *Dispatcher) stageReservations(h *project.Handle, op, agent string, reservations []mail.Reservation) (*archive.Staged, error) {
	specs := make([]recordSpec, len(reservations))
	for i, r := range reservations {
		specs[i] = recordSpec{
			kind:     archive.KindReservation,
			agent:    agent,
			entities: []string{archive.ReservationEntity(r.ID)},
			payload:  r,
		}
	}
	return d.stage(h, op, d.clock.Now().UTC(), specs)
}

// ListReservationsArgs are the reservation.list arguments. Agent
// narrows to one holder; empty lists the whole project.
type ListReservationsArgs struct {
	Agent string `json:"agent,omitempty"`
}

// ListReservationsResult is the reservation.list response.
type ListReservationsResult struct {
	Reservations []mail.Reservation `json:"reservations"`
}

func (d *Dispatcher) reservationList(ctx context.Context, caller Caller, decode Decoder) (any, error) {
	const op = "reservation.list"
	var args ListReservationsArgs
	if err := decodeInto(op, decode, &args); err != nil {
		return nil, err
	}
	h, err := d.handle(ctx, op, caller)
	if err != nil {
		return nil, err
	}
	active, err := d.reservations(h).Active(ctx, args.Agent)
	if err != nil {
		return nil, err
	}
	return &ListReservationsResult{Reservations: active}, nil
}

// SweepResult is the reservation.sweep response.
type SweepResult struct {
	Reclaimed int64 `json:"reclaimed"`
}

// reservationSweep reclaims dead rows. Storage maintenance only — no
// exclusivity lock, no archive record: activity checks never depended
// on the swept rows, so nothing observable changes.
func (d *Dispatcher) reservationSweep(ctx context.Context, caller Caller, decode Decoder) (any, error) {
	const op = "reservation.sweep"
	h, err := d.handle(ctx, op, caller)
	if err != nil {
		return nil, err
	}
	reclaimed, err := d.reservations(h).SweepExpired(ctx)
	if err != nil {
		return nil, err
	}
	return &SweepResult{Reclaimed: reclaimed}, nil
}
