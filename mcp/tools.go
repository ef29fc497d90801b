// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mcp

import "strings"

// toolNames maps operation wire names to MCP tool names. The verb
// comes first ("mailroom_send_message", not "mailroom_message_send")
// so tool catalogs read as actions.
var toolNames = map[string]string{
	"project.ensure":      "mailroom_ensure_project",
	"agent.register":      "mailroom_register_agent",
	"agent.list":          "mailroom_list_agents",
	"message.send":        "mailroom_send_message",
	"message.reply":       "mailroom_reply_message",
	"inbox.fetch":         "mailroom_fetch_inbox",
	"inbox.check":         "mailroom_check_inbox",
	"message.read":        "mailroom_read_message",
	"message.ack":         "mailroom_ack_message",
	"thread.list":         "mailroom_list_thread",
	"reservation.reserve": "mailroom_reserve_paths",
	"reservation.release": "mailroom_release_paths",
	"reservation.list":    "mailroom_list_reservations",
	"reservation.sweep":   "mailroom_sweep_reservations",
	"archive.head":        "mailroom_archive_head",
	"archive.export":      "mailroom_export_archive",
	"resource.read":       "mailroom_read_resource",
}

// nameForOp returns the MCP tool name for an operation, falling back
// to a mechanical translation for operations added without a curated
// name.
func nameForOp(op string) string {
	if name, ok := toolNames[op]; ok {
		return name
	}
	return "mailroom_" + strings.ReplaceAll(op, ".", "_")
}

// Schema shorthand. MCP input schemas are plain JSON Schema objects;
// the operations' argument structs are flat, so a few constructors
// cover everything.

func schemaObject(properties map[string]any, required ...string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func schemaString(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}

func schemaBool(description string) map[string]any {
	return map[string]any{"type": "boolean", "description": description}
}

func schemaInt(description string) map[string]any {
	return map[string]any{"type": "integer", "description": description}
}

func schemaStringArray(description string) map[string]any {
	return map[string]any{
		"type":        "array",
		"items":       map[string]any{"type": "string"},
		"description": description,
	}
}

func schemaImportance() map[string]any {
	return map[string]any{
		"type":        "string",
		"enum":        []string{"low", "normal", "high", "urgent"},
		"description": "Importance level.",
	}
}

// inputSchemas declares the JSON Schema for each operation's
// arguments. Operations absent here take no arguments.
var inputSchemas = map[string]map[string]any{
	"agent.register": schemaObject(map[string]any{
		"name":             schemaString("Agent name; defaults to the configured identity."),
		"program":          schemaString("Software driving the agent, e.g. \"claude-code\"."),
		"model":            schemaString("Model identifier."),
		"task_description": schemaString("What the agent is working on."),
	}),
	"agent.list": schemaObject(map[string]any{
		"include_inactive": schemaBool("Include deregistered agents."),
	}),
	"message.send": schemaObject(map[string]any{
		"to":           schemaStringArray("Recipient agent names."),
		"subject":      schemaString("Single-line subject."),
		"body":         schemaString("Markdown body."),
		"importance":   schemaImportance(),
		"ack_required": schemaBool("Request an explicit acknowledgment."),
	}, "to", "subject"),
	"message.reply": schemaObject(map[string]any{
		"to":           schemaStringArray("Recipient agent names."),
		"subject":      schemaString("Single-line subject."),
		"body":         schemaString("Markdown body."),
		"importance":   schemaImportance(),
		"ack_required": schemaBool("Request an explicit acknowledgment."),
		"parent_seq":   schemaInt("Sequence id of the message being answered."),
	}, "to", "subject", "parent_seq"),
	"inbox.fetch": schemaObject(map[string]any{
		"unread_only":    schemaBool("Only deliveries not yet marked read."),
		"min_importance": schemaImportance(),
		"descending":     schemaBool("Newest first."),
		"limit":          schemaInt("Maximum entries to return."),
	}),
	"message.read": schemaObject(map[string]any{
		"seq": schemaInt("Sequence id of the delivered message."),
	}, "seq"),
	"message.ack": schemaObject(map[string]any{
		"seq": schemaInt("Sequence id of the delivered message."),
	}, "seq"),
	"thread.list": schemaObject(map[string]any{
		"root":       schemaInt("Sequence id of the thread's root message."),
		"descending": schemaBool("Newest first."),
		"limit":      schemaInt("Maximum messages to return."),
	}, "root"),
	"reservation.reserve": schemaObject(map[string]any{
		"paths":     schemaStringArray("Paths or doublestar glob patterns to reserve."),
		"ttl":       schemaString("Lease duration, e.g. \"15m\"; empty uses the project default."),
		"exclusive": schemaBool("Claim sole write intent."),
		"reason":    schemaString("Free text shown to conflicting agents."),
	}, "paths"),
	"reservation.release": schemaObject(map[string]any{
		"paths": schemaStringArray("Patterns to release; empty releases everything held."),
	}),
	"reservation.list": schemaObject(map[string]any{
		"agent": schemaString("Narrow to one holder; empty lists the whole project."),
	}),
	"archive.export": schemaObject(map[string]any{
		"path":        schemaString("Absolute path for the bundle file."),
		"compression": schemaString("Bundle codec: zstd (default) or lz4."),
		"key_hex":     schemaString("Hex-encoded encryption key; empty writes plaintext."),
	}, "path"),
	"resource.read": schemaObject(map[string]any{
		"uri": schemaString("resource://agents/<slug> or resource://messages/<slug>/<seq>."),
	}, "uri"),
}

func schemaForOp(op string) map[string]any {
	if schema, ok := inputSchemas[op]; ok {
		return schema
	}
	return schemaObject(map[string]any{})
}
