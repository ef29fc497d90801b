// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/bureau-foundation/mailroom/lib/codec"
)

// Request is the wire-format envelope for all socket protocol
// requests. Action routes to a registered handler; Project and Agent
// identify the caller (socket peers are pre-authenticated by socket
// file permissions, so the identity is declarative); Payload carries
// the action-specific fields. ID is an optional client-chosen
// correlation value echoed back in the response.
type Request struct {
	ID      string           `cbor:"id,omitempty"`
	Action  string           `cbor:"action"`
	Project string           `cbor:"project,omitempty"`
	Agent   string           `cbor:"agent,omitempty"`
	Payload codec.RawMessage `cbor:"payload,omitempty"`
}

// Response is the wire-format envelope for all socket protocol
// responses. Handlers return a result value (or nil) and an error;
// the server wraps these into a Response before encoding. Code and
// Retryable are populated when the handler error carries a machine-
// readable category (see ErrorCoder).
type Response struct {
	ID        string           `cbor:"id,omitempty"`
	OK        bool             `cbor:"ok"`
	Error     string           `cbor:"error,omitempty"`
	Code      string           `cbor:"code,omitempty"`
	Retryable bool             `cbor:"retryable,omitempty"`
	Data      codec.RawMessage `cbor:"data,omitempty"`
}

// ErrorCoder lets a handler error attach a machine-readable category
// to the failure response. The dispatcher's typed errors implement it;
// plain errors produce a response with only the message.
type ErrorCoder interface {
	ErrorCode() (code string, retryable bool)
}

// HandlerFunc processes one socket request. The envelope is already
// decoded; the handler unmarshals request.Payload into its own
// parameter struct.
//
// Return a value to include in the success response, or an error for
// a failure response. If the returned value is nil, the response
// contains only {ok: true}. If non-nil, the value is marshaled as
// CBOR and placed in the response's "data" field.
type HandlerFunc func(ctx context.Context, request *Request) (any, error)

// SocketServer serves a CBOR request-response protocol on a Unix
// socket. Each connection handles exactly one request-response cycle:
// the client writes a CBOR envelope, the server processes it and
// writes a CBOR response, then the connection closes.
//
// Actions are registered with Handle before calling Serve. Unknown
// actions receive an error response.
type SocketServer struct {
	socketPath string
	handlers   map[string]HandlerFunc
	logger     *slog.Logger

	// ready is closed once the listener is bound.
	ready chan struct{}

	// activeConnections tracks in-flight request handlers for graceful
	// shutdown. Serve waits for all active connections to complete
	// before returning.
	activeConnections sync.WaitGroup
}

// NewSocketServer creates a server that will listen on socketPath.
// Register actions with Handle before calling Serve.
func NewSocketServer(socketPath string, logger *slog.Logger) *SocketServer {
	return &SocketServer{
		socketPath: socketPath,
		handlers:   make(map[string]HandlerFunc),
		logger:     logger,
		ready:      make(chan struct{}),
	}
}

// Handle registers a handler for the given action name. Panics if the
// action is already registered.
func (s *SocketServer) Handle(action string, handler HandlerFunc) {
	if _, exists := s.handlers[action]; exists {
		panic(fmt.Sprintf("service.SocketServer: duplicate handler for action %q", action))
	}
	s.handlers[action] = handler
}

// Ready returns a channel that is closed once the server is bound and
// accepting connections.
func (s *SocketServer) Ready() <-chan struct{} {
	return s.ready
}

// Serve starts accepting connections on the Unix socket and dispatches
// requests to registered action handlers. Blocks until ctx is
// cancelled, then stops accepting new connections and waits for active
// handlers to complete.
//
// Any existing socket file at the configured path is removed before
// listening. The socket file is removed on return.
func (s *SocketServer) Serve(ctx context.Context) error {
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing stale socket %s: %w", s.socketPath, err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.socketPath, err)
	}
	defer func() {
		listener.Close()
		os.Remove(s.socketPath)
	}()

	// Unblock Accept when the context is cancelled.
	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	s.logger.Info("socket server listening", "path", s.socketPath)
	close(s.ready)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			if errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Error("accept failed", "error", err)
			continue
		}

		s.activeConnections.Add(1)
		go func() {
			defer s.activeConnections.Done()
			s.handleConnection(ctx, conn)
		}()
	}

	s.activeConnections.Wait()
	return nil
}

// readTimeout is how long we wait for the client to send its request.
// A well-behaved client sends the request immediately after connecting.
const readTimeout = 30 * time.Second

// writeTimeout is how long we wait for the response to be written.
const writeTimeout = 10 * time.Second

// maxRequestSize is the maximum size of a single CBOR request. 1 MB is
// generous: the largest realistic request is a message send, and
// message bodies are prose, not payload dumps.
const maxRequestSize = 1024 * 1024

// handleConnection processes one request-response cycle.
func (s *SocketServer) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(readTimeout))

	// Decode one CBOR envelope from the connection. CBOR is self-
	// delimiting so no framing protocol is needed. LimitReader
	// prevents a malicious client from exhausting memory.
	var request Request
	if err := codec.NewDecoder(io.LimitReader(conn, maxRequestSize)).Decode(&request); err != nil {
		if errors.Is(err, io.EOF) {
			// Client connected but sent nothing.
			return
		}
		s.writeError(conn, "", fmt.Errorf("invalid request: %w", err))
		return
	}

	if request.Action == "" {
		s.writeError(conn, request.ID, errors.New("missing required field: action"))
		return
	}

	handler, exists := s.handlers[request.Action]
	if !exists {
		s.writeError(conn, request.ID, fmt.Errorf("unknown action %q", request.Action))
		return
	}

	result, err := handler(ctx, &request)
	if err != nil {
		s.logger.Debug("action failed",
			"action", request.Action,
			"agent", request.Agent,
			"error", err,
		)
		s.writeError(conn, request.ID, err)
		return
	}

	s.writeSuccess(conn, request.ID, result)
}

// writeError sends a failure response: {ok: false, error: "..."},
// plus code/retryable when the error implements ErrorCoder. Write
// failures are logged at debug level; the connection is closing
// regardless, and the caller has already received the error.
func (s *SocketServer) writeError(conn net.Conn, id string, failure error) {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))

	response := Response{
		ID:    id,
		OK:    false,
		Error: failure.Error(),
	}
	var coder ErrorCoder
	if errors.As(failure, &coder) {
		response.Code, response.Retryable = coder.ErrorCode()
	}

	if err := codec.NewEncoder(conn).Encode(response); err != nil {
		s.logger.Debug("failed to write error response", "error", err)
	}
}

// writeSuccess sends a success response. If result is nil, the
// response is {ok: true}. If non-nil, the value is marshaled as CBOR
// and placed in the "data" field: {ok: true, data: <cbor>}.
func (s *SocketServer) writeSuccess(conn net.Conn, id string, result any) {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))

	response := Response{ID: id, OK: true}

	if result != nil {
		data, err := codec.Marshal(result)
		if err != nil {
			s.writeError(conn, id, fmt.Errorf("internal: marshaling response: %w", err))
			return
		}
		response.Data = data
	}

	if err := codec.NewEncoder(conn).Encode(response); err != nil {
		s.logger.Debug("failed to write success response", "error", err)
	}
}
