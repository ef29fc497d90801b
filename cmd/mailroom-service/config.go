// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/mailroom/lib/cronexpr"
)

// Duration is a time.Duration that unmarshals from YAML duration
// strings ("30s", "5m"), so operators never write nanosecond counts.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var text string
	if err := node.Decode(&text); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(text)
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", text, err)
	}
	*d = Duration(parsed)
	return nil
}

// Config is the daemon configuration file.
type Config struct {
	// DataRoot is the directory holding all project roots. Required.
	DataRoot string `yaml:"data_root"`

	// SocketPath is the Unix socket the CBOR RPC listens on. Required.
	SocketPath string `yaml:"socket_path"`

	// HTTPAddress is the TCP address for the events bridge and
	// healthz. Empty disables the HTTP server.
	HTTPAddress string `yaml:"http_address"`

	// LogLevel is debug, info, warn, or error. Defaults to info.
	LogLevel string `yaml:"log_level"`

	// MaxSessions bounds concurrent admitted calls. Defaults to 32.
	MaxSessions int64 `yaml:"max_sessions"`

	// AdmitTimeout bounds the wait for a session slot. Defaults to 5s.
	AdmitTimeout Duration `yaml:"admit_timeout"`

	// LockTimeout bounds the wait for a project exclusivity lock.
	// Defaults to 30s.
	LockTimeout Duration `yaml:"lock_timeout"`

	// DrainGrace is how long shutdown waits for in-flight calls.
	// Defaults to 10s.
	DrainGrace Duration `yaml:"drain_grace"`

	// SweepSchedule is the five-field cron cadence for reservation
	// sweeps, overridable per project by its policy file. Defaults to
	// every five minutes.
	SweepSchedule string `yaml:"sweep_schedule"`
}

// LoadConfig reads, decodes, and validates the configuration file,
// applying defaults for everything optional.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	var cfg Config
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if cfg.DataRoot == "" {
		return nil, fmt.Errorf("config %s: data_root is required", path)
	}
	if cfg.SocketPath == "" {
		return nil, fmt.Errorf("config %s: socket_path is required", path)
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if _, err := parseLogLevel(cfg.LogLevel); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	if cfg.MaxSessions == 0 {
		cfg.MaxSessions = 32
	}
	if cfg.MaxSessions < 0 {
		return nil, fmt.Errorf("config %s: max_sessions must be positive, got %d", path, cfg.MaxSessions)
	}
	if cfg.AdmitTimeout == 0 {
		cfg.AdmitTimeout = Duration(5 * time.Second)
	}
	if cfg.LockTimeout == 0 {
		cfg.LockTimeout = Duration(30 * time.Second)
	}
	if cfg.DrainGrace == 0 {
		cfg.DrainGrace = Duration(10 * time.Second)
	}
	if cfg.SweepSchedule == "" {
		cfg.SweepSchedule = "*/5 * * * *"
	}
	if _, err := cronexpr.Parse(cfg.SweepSchedule); err != nil {
		return nil, fmt.Errorf("config %s: sweep_schedule: %w", path, err)
	}
	return &cfg, nil
}

func parseLogLevel(level string) (slog.Level, error) {
	switch level {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log_level %q (want debug, info, warn, or error)", level)
	}
}
