// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mail

import (
	"errors"
	"fmt"
	"time"
)

// Importance orders messages by urgency. The numeric values are the
// storage representation and define the ordering used by minimum-
// importance inbox filters: Low < Normal < High < Urgent.
type Importance int

const (
	ImportanceLow    Importance = 0
	ImportanceNormal Importance = 1
	ImportanceHigh   Importance = 2
	ImportanceUrgent Importance = 3
)

// String returns the wire name of an importance level.
func (level Importance) String() string {
	switch level {
	case ImportanceLow:
		return "low"
	case ImportanceNormal:
		return "normal"
	case ImportanceHigh:
		return "high"
	case ImportanceUrgent:
		return "urgent"
	default:
		return fmt.Sprintf("importance(%d)", int(level))
	}
}

// ParseImportance parses a wire name into an importance level. The
// empty string parses as ImportanceNormal so callers can omit the
// field entirely.
func ParseImportance(name string) (Importance, error) {
	switch name {
	case "low":
		return ImportanceLow, nil
	case "normal", "":
		return ImportanceNormal, nil
	case "high":
		return ImportanceHigh, nil
	case "urgent":
		return ImportanceUrgent, nil
	default:
		return 0, fmt.Errorf("unknown importance %q (want low, normal, high, or urgent)", name)
	}
}

// MarshalJSON encodes the importance as its wire name, keeping archive
// records and RPC payloads human-readable.
func (level Importance) MarshalJSON() ([]byte, error) {
	return []byte(`"` + level.String() + `"`), nil
}

// UnmarshalJSON decodes an importance from its wire name.
func (level *Importance) UnmarshalJSON(data []byte) error {
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return fmt.Errorf("importance must be a JSON string, got %s", data)
	}
	parsed, err := ParseImportance(string(data[1 : len(data)-1]))
	if err != nil {
		return err
	}
	*level = parsed
	return nil
}

// Agent is a registered participant in a project. Agents are created
// on first registration and updated (LastActiveAt) on every subsequent
// call; they are never deleted, only marked inactive.
type Agent struct {
	// ID is the store row id. Zero until the agent is persisted.
	ID int64 `json:"id,omitempty"`

	// Project is the owning project's slug.
	Project string `json:"project"`

	// Name is the human-readable identity, unique within the
	// project and immutable once assigned. Names may contain spaces
	// and punctuation; they never appear in filesystem paths.
	Name string `json:"name"`

	// Slug is the filesystem-safe form of Name used for archive
	// paths and signal files. Derived, collision-resistant, stable.
	Slug string `json:"slug"`

	// Program and Model describe the software driving the agent
	// (e.g. "claude-code" / "opus"). Free text, informational only.
	Program string `json:"program,omitempty"`
	Model   string `json:"model,omitempty"`

	// TaskDescription is what the agent says it is working on.
	TaskDescription string `json:"task_description,omitempty"`

	RegisteredAt time.Time `json:"registered_at"`
	LastActiveAt time.Time `json:"last_active_at"`

	// Inactive marks an agent that has deregistered or gone stale.
	// Inactive agents keep their name: names are never reused for a
	// different identity.
	Inactive bool `json:"inactive,omitempty"`
}

// Message is one mail item. The Seq is assigned by the store inside
// the send transaction and is unique and monotonically increasing
// within the project; sequence order equals creation order equals
// archive commit order.
type Message struct {
	Seq     int64  `json:"seq"`
	Project string `json:"project"`

	// Sender is the sending agent's name.
	Sender string `json:"sender"`

	// Recipients are agent names in the order the sender listed
	// them. Every recipient gets exactly one Delivery.
	Recipients []string `json:"recipients"`

	Subject string `json:"subject"`

	// Body is markdown.
	Body string `json:"body,omitempty"`

	Importance  Importance `json:"importance"`
	AckRequired bool       `json:"ack_required,omitempty"`

	// ParentSeq links a reply to the message it answers. Zero means
	// the message starts a new thread. A thread is identified by its
	// root message's Seq.
	ParentSeq int64 `json:"parent_seq,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// ThreadRoot returns the sequence id identifying the thread this
// message belongs to: its parent chain root for replies, its own Seq
// otherwise. The store resolves the full chain; this helper only
// distinguishes root from reply.
func (m *Message) ThreadRoot() int64 {
	if m.ParentSeq != 0 {
		return m.ParentSeq
	}
	return m.Seq
}

// Delivery records one recipient's view of one message: exactly one
// Delivery exists per (message, recipient) pair, and only the
// recipient's own fetch/acknowledge calls mutate it.
type Delivery struct {
	MessageSeq int64  `json:"message_seq"`
	Recipient  string `json:"recipient"`

	Read         bool `json:"read"`
	Acknowledged bool `json:"acknowledged"`

	DeliveredAt time.Time `json:"delivered_at"`

	// ReadAt and AckedAt are zero until the corresponding state
	// flips; they never move backwards.
	ReadAt  time.Time `json:"read_at,omitzero"`
	AckedAt time.Time `json:"acked_at,omitzero"`
}

// Reservation is an advisory lease over a path or glob pattern.
type Reservation struct {
	ID      int64  `json:"id"`
	Project string `json:"project"`

	// Agent is the owning agent's name.
	Agent string `json:"agent"`

	// PathPattern is a repository-relative path or doublestar glob
	// (e.g. "src/parser.go", "src/**/*.go").
	PathPattern string `json:"path_pattern"`

	// Exclusive claims sole write intent. Non-exclusive reservations
	// announce interest without claiming exclusivity and never deny
	// anyone, even in strict mode.
	Exclusive bool `json:"exclusive"`

	// Reason is free text shown to conflicting agents.
	Reason string `json:"reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`

	// ExpiresAt bounds the lease. Expiry is evaluated by timestamp
	// comparison wherever activity matters; sweeping only reclaims
	// rows.
	ExpiresAt time.Time `json:"expires_at"`

	// ReleasedAt is zero while the reservation is held.
	ReleasedAt time.Time `json:"released_at,omitzero"`
}

// ActiveAt reports whether the reservation is live at the given
// instant: not released and not expired. The expiry bound is
// exclusive — a reservation is inactive the moment now reaches
// ExpiresAt.
func (r *Reservation) ActiveAt(now time.Time) bool {
	if !r.ReleasedAt.IsZero() {
		return false
	}
	return now.Before(r.ExpiresAt)
}

// Validation limits. Subjects and names are bounded so that archive
// records and signal payloads stay readable; bodies are bounded only
// by the transport.
const (
	MaxNameLength    = 120
	MaxSubjectLength = 200
)

// ValidateAgentName checks a human-supplied agent name: non-empty,
// within length bounds, no control characters. Spaces and punctuation
// are allowed — the slug, not the name, goes into paths.
func ValidateAgentName(name string) error {
	if name == "" {
		return errors.New("agent name is empty")
	}
	if len(name) > MaxNameLength {
		return fmt.Errorf("agent name is %d bytes, maximum is %d", len(name), MaxNameLength)
	}
	for i := 0; i < len(name); i++ {
		if name[i] < 0x20 || name[i] == 0x7f {
			return fmt.Errorf("agent name contains control character at position %d", i)
		}
	}
	return nil
}

// ValidateSubject checks a message subject: non-empty, within length
// bounds, single line.
func ValidateSubject(subject string) error {
	if subject == "" {
		return errors.New("subject is empty")
	}
	if len(subject) > MaxSubjectLength {
		return fmt.Errorf("subject is %d bytes, maximum is %d", len(subject), MaxSubjectLength)
	}
	for i := 0; i < len(subject); i++ {
		if subject[i] == '\n' || subject[i] == '\r' {
			return errors.New("subject must be a single line")
		}
	}
	return nil
}
