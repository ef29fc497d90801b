// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"time"

	"github.com/bureau-foundation/mailroom/archive"
	"github.com/bureau-foundation/mailroom/lib/clock"
	"github.com/bureau-foundation/mailroom/lockreg"
	"github.com/bureau-foundation/mailroom/mail"
	"github.com/bureau-foundation/mailroom/notify"
	"github.com/bureau-foundation/mailroom/project"
	"github.com/bureau-foundation/mailroom/reservation"
)

// Caller identifies the authenticated originator of an invocation.
// Project is the human project key (usually the working tree path);
// Agent is the caller's agent name within that project. Both arrive
// from the transport envelope — the dispatcher trusts them, because
// the surfaces it serves are pre-authenticated.
type Caller struct {
	Project string
	Agent   string
}

// Decoder unmarshals an operation's arguments into the handler's
// parameter struct. The socket surface backs it with CBOR, the MCP
// surface with JSON; handlers never know which.
type Decoder func(v any) error

// Operation describes one registered operation for surfaces that
// enumerate them (the MCP tool table).
type Operation struct {
	// Name is the wire name, e.g. "message.send".
	Name string

	// Summary is a one-line human description.
	Summary string

	// Mutating reports whether the operation takes the project
	// exclusivity lock and appends to the archive.
	Mutating bool
}

// Config configures a Dispatcher.
type Config struct {
	// Projects resolves human project keys to open handles. Required.
	Projects *project.Registry

	// Locks serializes mutations and coalesces archive commits.
	// Required.
	Locks *lockreg.Registry

	// Hub receives post-commit events. Optional; nil disables
	// notifications.
	Hub *notify.Hub

	// Clock supplies operation timestamps. Defaults to the real
	// clock.
	Clock clock.Clock

	// Logger is the structured logger. Required.
	Logger *slog.Logger
}

// Dispatcher routes operation invocations by wire name.
type Dispatcher struct {
	projects *project.Registry
	locks    *lockreg.Registry
	hub      *notify.Hub
	clock    clock.Clock
	logger   *slog.Logger

	ops map[string]registeredOp
}

type registeredOp struct {
	Operation
	handler func(ctx context.Context, caller Caller, decode Decoder) (any, error)
}

// New creates a dispatcher with the full operation set registered.
func New(cfg Config) *Dispatcher {
	if cfg.Projects == nil {
		panic("dispatch.Dispatcher: Projects is required")
	}
	if cfg.Locks == nil {
		panic("dispatch.Dispatcher: Locks is required")
	}
	if cfg.Logger == nil {
		panic("dispatch.Dispatcher: Logger is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	d := &Dispatcher{
		projects: cfg.Projects,
		locks:    cfg.Locks,
		hub:      cfg.Hub,
		clock:    cfg.Clock,
		logger:   cfg.Logger,
		ops:      make(map[string]registeredOp),
	}
	d.registerIdentityOps()
	d.registerMessageOps()
	d.registerReservationOps()
	d.registerAdminOps()
	return d
}

// Invoke runs the named operation. Errors are always *OpError, so
// surfaces can read the category and retryable flag directly.
func (d *Dispatcher) Invoke(ctx context.Context, op string, caller Caller, decode Decoder) (any, error) {
	registered, ok := d.ops[op]
	if !ok {
		return nil, Validation(op, "unknown operation %q", op)
	}
	result, err := registered.handler(ctx, caller, decode)
	if err != nil {
		opErr := classify(op, err)
		d.logger.Warn("operation failed",
			"op", op,
			"project", caller.Project,
			"agent", caller.Agent,
			"category", opErr.Category,
			"error", opErr.Err,
		)
		return nil, opErr
	}
	return result, nil
}

// Operations returns the registered operations sorted by name.
func (d *Dispatcher) Operations() []Operation {
	operations := make([]Operation, 0, len(d.ops))
	for _, registered := range d.ops {
		operations = append(operations, registered.Operation)
	}
	sort.Slice(operations, func(i, j int) bool {
		return operations[i].Name < operations[j].Name
	})
	return operations
}

func (d *Dispatcher) register(name, summary string, mutating bool, handler func(ctx context.Context, caller Caller, decode Decoder) (any, error)) {
	if _, exists := d.ops[name]; exists {
		panic("dispatch: duplicate operation " + name)
	}
	d.ops[name] = registeredOp{
		Operation: Operation{Name: name, Summary: summary, Mutating: mutating},
		handler:   handler,
	}
}

// decodeInto unmarshals the invocation arguments. A nil decoder means
// the surface passed no arguments, which is fine for operations whose
// parameter struct is all-optional.
func decodeInto(op string, decode Decoder, v any) error {
	if decode == nil {
		return nil
	}
	if err := decode(v); err != nil {
		return Validation(op, "decoding arguments: %v", err)
	}
	return nil
}

// handle resolves the caller's project, creating its root on first
// reference.
func (d *Dispatcher) handle(ctx context.Context, op string, caller Caller) (*project.Handle, error) {
	if caller.Project == "" {
		return nil, Validation(op, "caller has no project key")
	}
	return d.projects.Ensure(ctx, caller.Project)
}

// requireAgent resolves a registered, active agent by name.
func (d *Dispatcher) requireAgent(ctx context.Context, op string, h *project.Handle, name string) (*mail.Agent, error) {
	if name == "" {
		return nil, Validation(op, "agent name is required")
	}
	agent, err := h.Store().AgentByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if agent.Inactive {
		return nil, Forbidden(op, "agent %q is inactive", name)
	}
	return agent, nil
}

// reservations builds the reservation manager for one project from
// its policy. The manager is stateless over the store, so building
// one per call is free.
func (d *Dispatcher) reservations(h *project.Handle) *reservation.Manager {
	policy := h.Policy()
	return reservation.NewManager(reservation.Config{
		Store:      h.Store(),
		Clock:      d.clock,
		Mode:       policy.ReservationMode,
		DefaultTTL: policy.DefaultTTL,
	})
}

// recordSpec describes one archive record of a batch before sequence
// numbers and hashes are assigned.
type recordSpec struct {
	kind     archive.Kind
	agent    string
	entities []string
	payload  any
}

// stage appends one batch's files to the archive tree, extending the
// current chain head. Must run under the project exclusivity lock —
// the head read and the staged write are only atomic together because
// the lock excludes other writers.
func (d *Dispatcher) stage(h *project.Handle, opName string, at time.Time, specs []recordSpec) (*archive.Staged, error) {
	head, err := h.Archive().Head()
	if err != nil {
		return nil, err
	}
	records := make([]archive.Record, len(specs))
	for i, spec := range specs {
		payload, err := json.Marshal(spec.payload)
		if err != nil {
			return nil, err
		}
		records[i] = archive.Record{
			Seq:       head.Seq + int64(i) + 1,
			Kind:      spec.kind,
			Op:        opName,
			Timestamp: at,
			Agent:     spec.agent,
			Entities:  spec.entities,
			Payload:   payload,
		}
	}
	return h.Archive().Stage(archive.Batch{
		Op:       opName,
		PrevHash: head.Hash,
		Records:  records,
	})
}

// mutate runs fn under the project exclusivity lock and then pushes
// the staged batch through the project's commit queue, outside the
// lock, so git never serializes unrelated mutations. fn performs its
// own compensating store rollback before returning an error; a nil
// staged result means the operation turned out to be a no-op and
// nothing needs committing.
//
// A commit failure after a successful stage is NOT rolled back: the
// records are durably staged and chain-valid, the git history is
// merely behind. The resulting *archive.WriteError is retriable and
// the next successful commit includes the stranded batch.
func (d *Dispatcher) mutate(ctx context.Context, h *project.Handle, fn func(ctx context.Context) (*archive.Staged, error)) error {
	var staged *archive.Staged
	err := d.locks.WithExclusiveAccess(ctx, h.Slug(), func(ctx context.Context) error {
		result, err := fn(ctx)
		if err != nil {
			return err
		}
		staged = result
		return nil
	})
	if err != nil {
		return err
	}
	if staged == nil {
		return nil
	}
	queue := d.locks.Queue(h.Slug(), func(ctx context.Context, notes []string) (string, error) {
		id, err := h.Archive().Commit(ctx, notes...)
		return string(id), err
	})
	_, err = queue.Enqueue(ctx, staged.Note())
	return err
}

// publish hands an event to the hub, if one is wired.
func (d *Dispatcher) publish(event notify.Event) {
	if d.hub != nil {
		d.hub.Publish(event)
	}
}

// touch updates the agent's last-activity time. Best effort: a failed
// touch never fails the operation that triggered it.
func (d *Dispatcher) touch(ctx context.Context, h *project.Handle, agent string, at time.Time) {
	if err := h.Store().TouchAgent(ctx, agent, at); err != nil {
		d.logger.Warn("touching agent", "project", h.Slug(), "agent", agent, "error", err)
	}
}
