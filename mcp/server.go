// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/bureau-foundation/mailroom/dispatch"
	"github.com/bureau-foundation/mailroom/lib/version"
)

// Server exposes the dispatcher's operations as MCP tools over
// JSON-RPC 2.0 on newline-delimited stdio. The caller identity is
// fixed at construction: an MCP server speaks for exactly one agent
// in exactly one project, the way "mailroom mcp serve" is launched.
type Server struct {
	dispatcher  *dispatch.Dispatcher
	caller      dispatch.Caller
	tools       []tool
	toolsByName map[string]*tool
	initialized bool
}

// tool is one dispatcher operation exposed as an MCP tool.
type tool struct {
	name        string
	op          dispatch.Operation
	inputSchema map[string]any
}

// NewServer builds the tool table from the dispatcher's operation
// registry.
func NewServer(dispatcher *dispatch.Dispatcher, caller dispatch.Caller) *Server {
	s := &Server{
		dispatcher: dispatcher,
		caller:     caller,
	}
	for _, op := range dispatcher.Operations() {
		s.tools = append(s.tools, tool{
			name:        nameForOp(op.Name),
			op:          op,
			inputSchema: schemaForOp(op.Name),
		})
	}
	s.toolsByName = make(map[string]*tool, len(s.tools))
	for i := range s.tools {
		s.toolsByName[s.tools[i].name] = &s.tools[i]
	}
	return s
}

// Serve reads from os.Stdin and writes to os.Stdout. This is the
// entry point for "mailroom mcp serve".
func (s *Server) Serve(ctx context.Context) error {
	return s.Run(ctx, os.Stdin, os.Stdout)
}

// Run processes JSON-RPC 2.0 requests from input and writes responses
// to output until input reaches EOF. Each request occupies a single
// line (newline-delimited JSON-RPC, not Content-Length framed).
func (s *Server) Run(ctx context.Context, input io.Reader, output io.Writer) error {
	scanner := bufio.NewScanner(input)
	// Tool arguments can carry whole message bodies.
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	encoder := json.NewEncoder(output)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req request
		if err := json.Unmarshal(line, &req); err != nil {
			if writeErr := writeError(encoder, json.RawMessage("null"), codeParseError, "parse error: "+err.Error()); writeErr != nil {
				return fmt.Errorf("writing parse error response: %w", writeErr)
			}
			continue
		}

		if req.JSONRPC != "2.0" {
			if !req.isNotification() {
				if writeErr := writeError(encoder, req.ID, codeInvalidRequest, "unsupported JSON-RPC version"); writeErr != nil {
					return fmt.Errorf("writing version error response: %w", writeErr)
				}
			}
			continue
		}

		// Notifications have no ID and receive no response.
		if req.isNotification() {
			continue
		}

		if err := s.dispatch(ctx, encoder, &req); err != nil {
			return err
		}
	}

	return scanner.Err()
}

// dispatch routes a JSON-RPC request to the appropriate handler.
func (s *Server) dispatch(ctx context.Context, encoder *json.Encoder, req *request) error {
	switch req.Method {
	case "initialize":
		return s.handleInitialize(encoder, req)
	case "ping":
		return writeResult(encoder, req.ID, map[string]any{})
	case "tools/list":
		if !s.initialized {
			return writeError(encoder, req.ID, codeInvalidRequest, "server not initialized (call initialize first)")
		}
		return s.handleToolsList(encoder, req)
	case "tools/call":
		if !s.initialized {
			return writeError(encoder, req.ID, codeInvalidRequest, "server not initialized (call initialize first)")
		}
		return s.handleToolsCall(ctx, encoder, req)
	default:
		return writeError(encoder, req.ID, codeMethodNotFound, "unknown method: "+req.Method)
	}
}

func (s *Server) handleInitialize(encoder *json.Encoder, req *request) error {
	if len(req.Params) == 0 {
		return writeError(encoder, req.ID, codeInvalidParams, "params required for initialize")
	}

	var params initializeParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return writeError(encoder, req.ID, codeInvalidParams, "invalid initialize params: "+err.Error())
	}

	// The MCP specification says the server responds with its own
	// protocol version and the client decides whether it can proceed.
	// Clients requesting a different version are not rejected — MCP
	// versions are additive, so older clients ignore unknown fields.
	s.initialized = true

	return writeResult(encoder, req.ID, initializeResult{
		ProtocolVersion: protocolVersion,
		Capabilities: serverCapabilities{
			Tools: &toolCapability{},
		},
		ServerInfo: serverInfo{
			Name:    "mailroom",
			Version: version.Short(),
		},
	})
}

func (s *Server) handleToolsList(encoder *json.Encoder, req *request) error {
	descriptions := make([]toolDescription, 0, len(s.tools))
	for _, t := range s.tools {
		descriptions = append(descriptions, toolDescription{
			Name:        t.name,
			Title:       t.op.Summary,
			Description: t.op.Summary,
			InputSchema: t.inputSchema,
			Annotations: annotationsFor(t.op),
		})
	}
	return writeResult(encoder, req.ID, toolsListResult{Tools: descriptions})
}

// annotationsFor translates the operation registry's metadata into
// MCP behavioral hints. Read-only operations are marked as such;
// mutating operations are idempotent-or-additive, never destructive —
// nothing in the operation set deletes user-visible state.
func annotationsFor(op dispatch.Operation) *toolAnnotations {
	readOnly := !op.Mutating
	return &toolAnnotations{
		ReadOnlyHint:    &readOnly,
		DestructiveHint: boolPtr(false),
		OpenWorldHint:   boolPtr(false),
	}
}

func boolPtr(value bool) *bool {
	return &value
}

func (s *Server) handleToolsCall(ctx context.Context, encoder *json.Encoder, req *request) error {
	if len(req.Params) == 0 {
		return writeError(encoder, req.ID, codeInvalidParams, "params required for tools/call")
	}

	var params toolsCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return writeError(encoder, req.ID, codeInvalidParams, "invalid tools/call params: "+err.Error())
	}

	t, ok := s.toolsByName[params.Name]
	if !ok {
		return writeError(encoder, req.ID, codeInvalidParams, "unknown tool: "+params.Name)
	}

	var decode dispatch.Decoder
	if len(params.Arguments) > 0 && string(params.Arguments) != "null" {
		arguments := params.Arguments
		decode = func(v any) error {
			return json.Unmarshal(arguments, v)
		}
	}

	value, runErr := s.dispatcher.Invoke(ctx, t.op.Name, s.caller, decode)
	return writeResult(encoder, req.ID, buildToolResult(value, runErr))
}

// buildToolResult assembles a toolsCallResult: the operation result
// as structured content plus its JSON serialization in a text block,
// or the error text with structured category metadata.
func buildToolResult(value any, runErr error) toolsCallResult {
	result := toolsCallResult{}
	if runErr != nil {
		result.IsError = true
		result.Content = []contentBlock{{Type: "text", Text: runErr.Error()}}
		result.ErrorInfo = classifyError(runErr)
		return result
	}

	if value != nil {
		data, err := json.Marshal(value)
		if err != nil {
			result.IsError = true
			result.Content = []contentBlock{{
				Type: "text",
				Text: fmt.Sprintf("encoding result: %v", err),
			}}
			result.ErrorInfo = &errorInfo{Category: string(dispatch.CategoryInternal)}
			return result
		}
		result.StructuredContent = value
		result.Content = []contentBlock{{Type: "text", Text: string(data)}}
	}
	// MCP requires at least one content block in the result.
	if len(result.Content) == 0 {
		result.Content = []contentBlock{{Type: "text", Text: ""}}
	}
	return result
}

// classifyError extracts structured error metadata from an error.
// Dispatcher errors carry their own category; anything else that
// reaches this point is a context cancellation or a bug.
func classifyError(err error) *errorInfo {
	var opErr *dispatch.OpError
	if errors.As(err, &opErr) {
		return &errorInfo{
			Category:  string(opErr.Category),
			Retryable: opErr.Category.Retryable(),
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &errorInfo{Category: string(dispatch.CategoryTransient), Retryable: true}
	}
	return &errorInfo{Category: string(dispatch.CategoryInternal)}
}

// writeResult sends a JSON-RPC 2.0 success response.
func writeResult(encoder *json.Encoder, id json.RawMessage, result any) error {
	return encoder.Encode(response{
		JSONRPC: "2.0",
		ID:      id,
		Result:  result,
	})
}

// writeError sends a JSON-RPC 2.0 error response.
func writeError(encoder *json.Encoder, id json.RawMessage, code int, message string) error {
	return encoder.Encode(response{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &rpcError{Code: code, Message: message},
	})
}
