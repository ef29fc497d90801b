// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bureau-foundation/mailroom/archive"
)

func (d *Dispatcher) registerAdminOps() {
	d.register("archive.head", "Return the archive chain head.", false, d.archiveHead)
	d.register("archive.export", "Export the archive as a compressed bundle file.", false, d.archiveExport)
	d.register("resource.read", "Read a resource:// URI.", false, d.resourceRead)
}

// HeadResult is the archive.head response.
type HeadResult struct {
	Seq  int64  `json:"seq"`
	Hash string `json:"hash"`
}

func (d *Dispatcher) archiveHead(ctx context.Context, caller Caller, decode Decoder) (any, error) {
	const op = "archive.head"
	h, err := d.handle(ctx, op, caller)
	if err != nil {
		return nil, err
	}
	head, err := h.Archive().Head()
	if err != nil {
		return nil, err
	}
	return &HeadResult{Seq: head.Seq, Hash: head.Hash}, nil
}

// ExportArgs are the archive.export arguments. Path is where the
// daemon writes the bundle; KeyHex, when set, encrypts it.
type ExportArgs struct {
	Path        string `json:"path"`
	Compression string `json:"compression,omitempty"`
	KeyHex      string `json:"key_hex,omitempty"`
}

// ExportResult is the archive.export response.
type ExportResult struct {
	Path      string `json:"path"`
	Bytes     int64  `json:"bytes"`
	Encrypted bool   `json:"encrypted,omitempty"`
}

// archiveExport streams the committed archive into a bundle file.
// Reads only committed state, so it takes no lock; a mutation racing
// the export lands in the next bundle.
func (d *Dispatcher) archiveExport(ctx context.Context, caller Caller, decode Decoder) (any, error) {
	const op = "archive.export"
	var args ExportArgs
	if err := decodeInto(op, decode, &args); err != nil {
		return nil, err
	}
	if args.Path == "" {
		return nil, Validation(op, "path is required")
	}
	if !filepath.IsAbs(args.Path) {
		return nil, Validation(op, "path must be absolute, got %q", args.Path)
	}
	var key []byte
	if args.KeyHex != "" {
		decoded, err := hex.DecodeString(args.KeyHex)
		if err != nil {
			return nil, Validation(op, "parsing key_hex: %v", err)
		}
		key = decoded
	}
	compression := archive.Compression(args.Compression)
	switch compression {
	case "", archive.CompressionZstd, archive.CompressionLZ4:
	default:
		return nil, Validation(op, "unknown compression %q (want zstd or lz4)", args.Compression)
	}

	h, err := d.handle(ctx, op, caller)
	if err != nil {
		return nil, err
	}

	file, err := os.OpenFile(args.Path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, fmt.Errorf("creating bundle file: %w", err)
	}
	exportErr := h.Archive().ExportBundle(ctx, file, archive.ExportOptions{
		Compression: compression,
		Key:         key,
	})
	closeErr := file.Close()
	if exportErr != nil {
		os.Remove(args.Path)
		return nil, exportErr
	}
	if closeErr != nil {
		os.Remove(args.Path)
		return nil, fmt.Errorf("closing bundle file: %w", closeErr)
	}

	info, err := os.Stat(args.Path)
	if err != nil {
		return nil, fmt.Errorf("stat bundle file: %w", err)
	}
	return &ExportResult{Path: args.Path, Bytes: info.Size(), Encrypted: len(key) > 0}, nil
}

// ResourceArgs are the resource.read arguments.
type ResourceArgs struct {
	URI string `json:"uri"`
}

// ResourceResult is the resource.read response: the resolved entity
// as JSON, tagged with its media type.
type ResourceResult struct {
	URI      string          `json:"uri"`
	MimeType string          `json:"mime_type"`
	Data     json.RawMessage `json:"data"`
}

// resourceRead resolves resource://agents/<projectSlug> and
// resource://messages/<projectSlug>/<seq>. The slug in the URI, not
// the caller's project key, selects the project, so resource readers
// can follow references out of archive records.
func (d *Dispatcher) resourceRead(ctx context.Context, caller Caller, decode Decoder) (any, error) {
	const op = "resource.read"
	var args ResourceArgs
	if err := decodeInto(op, decode, &args); err != nil {
		return nil, err
	}

	rest, ok := strings.CutPrefix(args.URI, "resource://")
	if !ok {
		return nil, Validation(op, "URI %q does not start with resource://", args.URI)
	}
	segments := strings.Split(rest, "/")

	var value any
	switch {
	case len(segments) == 2 && segments[0] == "agents":
		h, err := d.projects.BySlug(ctx, segments[1])
		if err != nil {
			return nil, err
		}
		agents, err := h.Store().ListAgents(ctx, true)
		if err != nil {
			return nil, err
		}
		value = agents

	case len(segments) == 3 && segments[0] == "messages":
		seq, err := strconv.ParseInt(segments[2], 10, 64)
		if err != nil || seq <= 0 {
			return nil, Validation(op, "URI %q has no valid message seq", args.URI)
		}
		h, err := d.projects.BySlug(ctx, segments[1])
		if err != nil {
			return nil, err
		}
		message, err := h.Store().MessageBySeq(ctx, seq)
		if err != nil {
			return nil, err
		}
		value = message

	default:
		return nil, Validation(op, "unresolvable resource URI %q", args.URI)
	}

	data, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	return &ResourceResult{URI: args.URI, MimeType: "application/json", Data: data}, nil
}
