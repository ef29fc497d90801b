// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/zeebo/blake3"
)

// Kind classifies a record and determines the directory it is filed
// under inside the archive repository. The values are path segments —
// changing them orphans existing archives.
type Kind string

const (
	// KindProject records project creation. The only kind without an
	// acting agent.
	KindProject Kind = "project"

	// KindIdentity records an agent registration or profile update.
	KindIdentity Kind = "identity"

	// KindOutbox records a message as sent, filed under the sender.
	KindOutbox Kind = "outbox"

	// KindInbox records one recipient's delivery of a message, filed
	// under the recipient.
	KindInbox Kind = "inbox"

	// KindAck records a message acknowledgment, filed under the
	// acknowledging recipient.
	KindAck Kind = "acks"

	// KindReservation records a file reservation being taken or
	// released, filed under the owning agent.
	KindReservation Kind = "reservations"
)

func (k Kind) valid() bool {
	switch k {
	case KindProject, KindIdentity, KindOutbox, KindInbox, KindAck, KindReservation:
		return true
	}
	return false
}

// Record is one immutable entry in a project's archive chain. The
// JSON on disk is meant to be read by humans doing an audit: every
// field is self-describing and the payload is the domain object
// itself, not an encoded form of it.
//
// Seq is the position in the project's chain, starting at 1. PrevHash
// and Hash are assigned by the archive during staging; callers supply
// everything else.
type Record struct {
	Seq       int64           `json:"seq"`
	Kind      Kind            `json:"kind"`
	Op        string          `json:"op"`
	Timestamp time.Time       `json:"timestamp"`
	Agent     string          `json:"agent,omitempty"`
	AgentSlug string          `json:"agent_slug,omitempty"`
	Entities  []string        `json:"entities,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	PrevHash  string          `json:"prev_hash"`
	Hash      string          `json:"hash,omitempty"`
}

// relativePath returns the record's slash-separated path inside the
// archive repository. AgentSlug must already be assigned for kinds
// that carry one.
func (r *Record) relativePath(slug string) string {
	name := fmt.Sprintf("%08d.json", r.Seq)
	if r.Kind == KindProject {
		return path.Join("projects", slug, string(r.Kind), name)
	}
	return path.Join("projects", slug, "agents", r.AgentSlug, string(r.Kind), name)
}

// Head is a chain position: the sequence number and content hash of
// the most recent record. The zero Head is the empty chain.
type Head struct {
	Seq  int64  `json:"seq"`
	Hash string `json:"hash"`
}

// Entity reference helpers. Entity strings name the rows a record
// touched, in a form that is greppable across the whole archive.

// MessageEntity returns the entity reference for a message.
func MessageEntity(seq int64) string {
	return fmt.Sprintf("message/%d", seq)
}

// AgentEntity returns the entity reference for an agent.
func AgentEntity(name string) string {
	return "agent/" + name
}

// ReservationEntity returns the entity reference for a reservation.
func ReservationEntity(id int64) string {
	return fmt.Sprintf("reservation/%d", id)
}

// ProjectEntity returns the entity reference for a project.
func ProjectEntity(slug string) string {
	return "project/" + slug
}

// domainKey is a 32-byte key for BLAKE3 keyed hashing. The byte
// values are the ASCII encoding of the domain name, zero-padded to
// 32 bytes: readable in hex dumps, and distinct per domain so record
// hashes and bundle identities can never collide through the hash.
type domainKey [32]byte

var (
	recordDomainKey = domainKey{
		'm', 'a', 'i', 'l', 'r', 'o', 'o', 'm', '.', 'a', 'r', 'c', 'h', 'i', 'v', 'e',
		'.', 'r', 'e', 'c', 'o', 'r', 'd', 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}

	bundleDomainKey = domainKey{
		'm', 'a', 'i', 'l', 'r', 'o', 'o', 'm', '.', 'a', 'r', 'c', 'h', 'i', 'v', 'e',
		'.', 'b', 'u', 'n', 'd', 'l', 'e', 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}
)

// recordHash computes the hex content hash of a record. The hash
// covers the canonical compact JSON of the record with its Hash field
// empty, so it commits to the prev-hash link and everything the
// auditor sees, and can be recomputed from the file alone.
func recordHash(record Record) (string, error) {
	canonical, err := canonicalRecordBytes(record)
	if err != nil {
		return "", err
	}
	sum := keyedSum(recordDomainKey, canonical)
	return hex.EncodeToString(sum[:]), nil
}

// canonicalRecordBytes renders the hash input for a record: compact
// JSON with the Hash field cleared and the payload recompacted. The
// recompaction matters because record files are stored indented —
// a verifier round-tripping a file gets indented payload bytes back
// and must reach the same canonical form the writer hashed.
func canonicalRecordBytes(record Record) ([]byte, error) {
	record.Hash = ""
	if len(record.Payload) > 0 {
		var compact bytes.Buffer
		if err := json.Compact(&compact, record.Payload); err != nil {
			return nil, fmt.Errorf("compacting record %d payload: %w", record.Seq, err)
		}
		record.Payload = compact.Bytes()
	}
	return json.Marshal(record)
}

// keyedSum computes the BLAKE3 keyed hash of data under the given
// domain key.
func keyedSum(key domainKey, data []byte) [32]byte {
	hasher, err := blake3.NewKeyed(key[:])
	if err != nil {
		// NewKeyed only fails for a wrong key length, which the
		// fixed-size type rules out.
		panic("archive: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(data)
	var sum [32]byte
	copy(sum[:], hasher.Sum(nil))
	return sum
}
