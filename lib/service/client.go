// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/bureau-foundation/mailroom/lib/codec"
)

// dialTimeout is the maximum time to wait for a connection to the
// daemon socket. This is separate from the server's read/write
// timeouts — it covers only the connect phase.
const dialTimeout = 5 * time.Second

// responseReadTimeout is how long the client waits for the server to
// send a response after writing the request. Matched to the server's
// readTimeout + writeTimeout to account for handler execution time.
const responseReadTimeout = 45 * time.Second

// maxResponseSize is the maximum size of a single CBOR response.
// Matches the server's maxRequestSize for symmetry.
const maxResponseSize = 1024 * 1024

// CallError is returned by Call when the daemon responds with
// ok=false. It carries the action that failed, the daemon's error
// message, and the machine-readable category when one was attached.
type CallError struct {
	Action    string
	Message   string
	Code      string
	Retryable bool
}

func (e *CallError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s failed (%s): %s", e.Action, e.Code, e.Message)
	}
	return fmt.Sprintf("%s failed: %s", e.Action, e.Message)
}

// ErrorCode implements ErrorCoder so a CallError forwarded through
// another server (the MCP bridge proxies socket calls) keeps its
// category.
func (e *CallError) ErrorCode() (string, bool) {
	return e.Code, e.Retryable
}

// Client sends CBOR requests to the daemon socket. Each Call opens a
// new connection (matching the server's one-request-per-connection
// model), sends the envelope, reads the response, and closes the
// connection.
//
// Project and Agent identify the caller on every request. A Client is
// cheap to construct; CLI commands build one per invocation.
type Client struct {
	socketPath string
	project    string
	agent      string
}

// NewClient creates a client that connects to socketPath and
// identifies as agent within project. Project and agent may be empty
// for actions that are not caller-scoped (status, project.list).
func NewClient(socketPath, project, agent string) *Client {
	return &Client{
		socketPath: socketPath,
		project:    project,
		agent:      agent,
	}
}

// Call sends one request to the daemon and decodes the response.
//
// The payload may be any CBOR-marshalable value holding the action's
// parameters; pass nil for actions that take none. On success
// (response ok=true), if result is non-nil and the response contains
// data, the data is CBOR-decoded into result.
//
// On failure (response ok=false), returns a *CallError carrying the
// daemon's message and category. Connection and encoding errors are
// returned as plain errors (not *CallError).
func (c *Client) Call(ctx context.Context, action string, payload any, result any) error {
	request := Request{
		Action:  action,
		Project: c.project,
		Agent:   c.agent,
	}
	if payload != nil {
		encoded, err := codec.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encoding payload for %q: %w", action, err)
		}
		request.Payload = encoded
	}

	response, err := c.send(ctx, &request)
	if err != nil {
		return fmt.Errorf("calling %q on %s: %w", action, c.socketPath, err)
	}

	if !response.OK {
		return &CallError{
			Action:    action,
			Message:   response.Error,
			Code:      response.Code,
			Retryable: response.Retryable,
		}
	}

	if result != nil && len(response.Data) > 0 {
		if err := codec.Unmarshal(response.Data, result); err != nil {
			return fmt.Errorf("decoding response data for %q: %w", action, err)
		}
	}

	return nil
}

// send connects to the socket, writes the request, and reads the
// response. Each call creates a new connection.
func (c *Client) send(ctx context.Context, request *Request) (*Response, error) {
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return nil, fmt.Errorf("connecting: %w", err)
	}
	defer conn.Close()

	if err := codec.NewEncoder(conn).Encode(request); err != nil {
		return nil, fmt.Errorf("writing request: %w", err)
	}

	// Half-close the write side. CBOR is self-delimiting so this
	// isn't strictly necessary, but it lets the server's read side
	// see EOF cleanly.
	if unixConn, ok := conn.(*net.UnixConn); ok {
		unixConn.CloseWrite()
	}

	conn.SetReadDeadline(time.Now().Add(responseReadTimeout))
	var response Response
	if err := codec.NewDecoder(io.LimitReader(conn, maxResponseSize)).Decode(&response); err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	return &response, nil
}
