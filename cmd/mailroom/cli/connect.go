// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/bureau-foundation/mailroom/lib/service"
)

// DefaultSocketPath is where the daemon listens unless overridden.
const DefaultSocketPath = "/run/mailroom.sock"

// Identity is the caller context every daemon request carries: which
// socket to reach, which project to speak in, and which agent is
// speaking.
type Identity struct {
	Socket  string
	Project string
	Agent   string
}

// ResolveIdentity builds the caller identity from the environment.
// MAILROOM_SOCKET, MAILROOM_PROJECT, and MAILROOM_AGENT override the
// defaults; the project defaults to the working directory (its path is
// the project's human key) and the agent to the login user.
func ResolveIdentity() (Identity, error) {
	id := Identity{
		Socket:  os.Getenv("MAILROOM_SOCKET"),
		Project: os.Getenv("MAILROOM_PROJECT"),
		Agent:   os.Getenv("MAILROOM_AGENT"),
	}
	if id.Socket == "" {
		id.Socket = DefaultSocketPath
	}
	if id.Project == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return Identity{}, fmt.Errorf("resolving project from working directory: %w", err)
		}
		id.Project = cwd
	}
	if id.Agent == "" {
		id.Agent = os.Getenv("USER")
	}
	if id.Agent == "" {
		return Identity{}, errors.New("no agent identity: set MAILROOM_AGENT (or USER)")
	}
	return id, nil
}

// Client returns a daemon client speaking as this identity.
func (id Identity) Client() *service.Client {
	return service.NewClient(id.Socket, id.Project, id.Agent)
}

// callTimeout bounds one CLI request-response cycle against the
// daemon. Generous relative to the daemon's lock timeout so a queued
// mutation is not abandoned by an impatient client.
const callTimeout = 45 * time.Second

// CallContext returns the context for one daemon call. The caller must
// defer cancel().
func CallContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), callTimeout)
}
