// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package project

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/tidwall/jsonc"
)

// policyFileName is the per-project policy file, hand-edited by
// operators. JSONC so the file can carry explanatory comments.
const policyFileName = "policy.jsonc"

// ReservationMode selects how reservation conflicts are handled.
type ReservationMode string

const (
	// ModeAdvisory reports conflicts but still grants the
	// reservation. The caller decides whether to proceed.
	ModeAdvisory ReservationMode = "advisory"

	// ModeStrict denies an exclusive claim that conflicts with
	// another agent's active exclusive reservation. Non-exclusive
	// reservations are never denied.
	ModeStrict ReservationMode = "strict"
)

// Policy is a project's coordination policy. The zero value is not
// valid; use DefaultPolicy or LoadPolicy.
type Policy struct {
	// ReservationMode is advisory or strict.
	ReservationMode ReservationMode

	// DefaultTTL applies to reservations whose caller did not specify
	// a TTL.
	DefaultTTL time.Duration

	// SweepSchedule overrides the daemon's reservation sweep cadence
	// for this project. Five-field cron syntax; empty means the
	// daemon default.
	SweepSchedule string
}

// DefaultPolicy returns the policy used when a project has no policy
// file.
func DefaultPolicy() Policy {
	return Policy{
		ReservationMode: ModeAdvisory,
		DefaultTTL:      time.Hour,
	}
}

// policyFile is the on-disk shape. Durations are strings so operators
// write "30m", not nanosecond counts.
type policyFile struct {
	ReservationMode string `json:"reservation_mode"`
	DefaultTTL      string `json:"default_ttl"`
	SweepSchedule   string `json:"sweep_schedule"`
}

// LoadPolicy reads the policy file from the project root directory.
// A missing file yields DefaultPolicy; a present but invalid file is
// an error, never a silent fallback.
func LoadPolicy(dir string) (Policy, error) {
	data, err := os.ReadFile(filepath.Join(dir, policyFileName))
	if errors.Is(err, fs.ErrNotExist) {
		return DefaultPolicy(), nil
	}
	if err != nil {
		return Policy{}, fmt.Errorf("reading project policy: %w", err)
	}

	var file policyFile
	if err := json.Unmarshal(jsonc.ToJSON(data), &file); err != nil {
		return Policy{}, fmt.Errorf("parsing project policy: %w", err)
	}

	policy := DefaultPolicy()
	switch ReservationMode(file.ReservationMode) {
	case "":
	case ModeAdvisory, ModeStrict:
		policy.ReservationMode = ReservationMode(file.ReservationMode)
	default:
		return Policy{}, fmt.Errorf("project policy: unknown reservation_mode %q (want advisory or strict)", file.ReservationMode)
	}
	if file.DefaultTTL != "" {
		ttl, err := time.ParseDuration(file.DefaultTTL)
		if err != nil {
			return Policy{}, fmt.Errorf("project policy: default_ttl: %w", err)
		}
		if ttl <= 0 {
			return Policy{}, fmt.Errorf("project policy: default_ttl must be positive, got %s", ttl)
		}
		policy.DefaultTTL = ttl
	}
	policy.SweepSchedule = file.SweepSchedule
	return policy, nil
}
