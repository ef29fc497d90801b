// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mail

import (
	"encoding/hex"
	"strings"

	"github.com/zeebo/blake3"
)

// Slugs map free-text identities (project keys are usually absolute
// working-tree paths, agent names are whatever the agent called
// itself) to filesystem-safe path segments. A slug is a sanitized,
// truncated rendering of the identity for readability, joined to a
// short keyed-BLAKE3 digest of the full identity for collision
// resistance: two identities that sanitize identically still get
// distinct slugs, and the mapping is deterministic across processes.

// domainKey is a 32-byte key for BLAKE3 keyed hashing. The byte
// values are the ASCII encoding of the domain name, zero-padded to
// 32 bytes: readable in hex dumps, and distinct per domain so project
// and agent slugs can never collide through the hash.
type domainKey [32]byte

var (
	projectSlugKey = domainKey{
		'm', 'a', 'i', 'l', 'r', 'o', 'o', 'm', '.', 's', 'l', 'u', 'g', '.',
		'p', 'r', 'o', 'j', 'e', 'c', 't', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}

	agentSlugKey = domainKey{
		'm', 'a', 'i', 'l', 'r', 'o', 'o', 'm', '.', 's', 'l', 'u', 'g', '.',
		'a', 'g', 'e', 'n', 't', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}
)

const (
	// slugDigestLength is the number of hex characters of the keyed
	// digest appended to every slug.
	slugDigestLength = 8

	// slugTextLength caps the sanitized human-readable prefix.
	slugTextLength = 40
)

// ProjectSlug derives the slug for a project from its human key. For
// path-like keys only the final path element feeds the readable
// prefix; the digest covers the whole key, so /home/a/repo and
// /home/b/repo stay distinct.
func ProjectSlug(humanKey string) string {
	base := strings.TrimRight(humanKey, "/")
	if i := strings.LastIndexByte(base, '/'); i >= 0 {
		base = base[i+1:]
	}
	return sanitizeSlugText(base) + "-" + slugDigest(projectSlugKey, humanKey)
}

// AgentSlug derives the slug for an agent name.
func AgentSlug(name string) string {
	return sanitizeSlugText(name) + "-" + slugDigest(agentSlugKey, name)
}

// sanitizeSlugText lowercases the input and collapses every run of
// characters outside [a-z0-9._] into a single '-', then trims leading
// and trailing separators and truncates. An input with no usable
// characters sanitizes to "x" so the slug never starts with its
// digest separator.
func sanitizeSlugText(text string) string {
	var builder strings.Builder
	builder.Grow(len(text))
	pendingSeparator := false
	for i := 0; i < len(text); i++ {
		c := text[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		safe := (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '.' || c == '_'
		if !safe {
			pendingSeparator = builder.Len() > 0
			continue
		}
		if pendingSeparator {
			builder.WriteByte('-')
			pendingSeparator = false
		}
		builder.WriteByte(c)
	}
	sanitized := builder.String()
	if len(sanitized) > slugTextLength {
		sanitized = strings.TrimRight(sanitized[:slugTextLength], "-.")
	}
	if sanitized == "" {
		return "x"
	}
	return sanitized
}

// slugDigest computes the short keyed-BLAKE3 digest of an identity.
func slugDigest(key domainKey, identity string) string {
	hasher, err := blake3.NewKeyed(key[:])
	if err != nil {
		// NewKeyed only fails for a wrong key length, which the
		// fixed-size type rules out.
		panic("mail: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write([]byte(identity))
	sum := hasher.Sum(nil)
	return hex.EncodeToString(sum)[:slugDigestLength]
}
