// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "service.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, `
data_root: /var/lib/mailroom
socket_path: /run/mailroom.sock
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("log level = %q, want info", cfg.LogLevel)
	}
	if cfg.MaxSessions != 32 {
		t.Errorf("max sessions = %d, want 32", cfg.MaxSessions)
	}
	if time.Duration(cfg.AdmitTimeout) != 5*time.Second {
		t.Errorf("admit timeout = %s, want 5s", time.Duration(cfg.AdmitTimeout))
	}
	if time.Duration(cfg.LockTimeout) != 30*time.Second {
		t.Errorf("lock timeout = %s, want 30s", time.Duration(cfg.LockTimeout))
	}
	if cfg.SweepSchedule != "*/5 * * * *" {
		t.Errorf("sweep schedule = %q, want */5 * * * *", cfg.SweepSchedule)
	}
	if cfg.HTTPAddress != "" {
		t.Errorf("http address = %q, want empty (disabled)", cfg.HTTPAddress)
	}
}

func TestLoadConfigDurationStrings(t *testing.T) {
	path := writeConfig(t, `
data_root: /var/lib/mailroom
socket_path: /run/mailroom.sock
admit_timeout: 2s
lock_timeout: 1m
drain_grace: 45s
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if time.Duration(cfg.AdmitTimeout) != 2*time.Second {
		t.Errorf("admit timeout = %s, want 2s", time.Duration(cfg.AdmitTimeout))
	}
	if time.Duration(cfg.LockTimeout) != time.Minute {
		t.Errorf("lock timeout = %s, want 1m", time.Duration(cfg.LockTimeout))
	}
	if time.Duration(cfg.DrainGrace) != 45*time.Second {
		t.Errorf("drain grace = %s, want 45s", time.Duration(cfg.DrainGrace))
	}
}

func TestLoadConfigRequiredFields(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"missing data root", "socket_path: /run/m.sock\n", "data_root is required"},
		{"missing socket", "data_root: /var/lib/mailroom\n", "socket_path is required"},
		{
			"bad log level",
			"data_root: /d\nsocket_path: /s\nlog_level: loud\n",
			"unknown log_level",
		},
		{
			"bad duration",
			"data_root: /d\nsocket_path: /s\nadmit_timeout: fast\n",
			"parsing duration",
		},
		{
			"bad cron",
			"data_root: /d\nsocket_path: /s\nsweep_schedule: never\n",
			"sweep_schedule",
		},
		{
			"unknown field",
			"data_root: /d\nsocket_path: /s\nsocket_paht: typo\n",
			"socket_paht",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.content)
			_, err := LoadConfig(path)
			if err == nil {
				t.Fatal("LoadConfig succeeded, want error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want it to mention %q", err, tt.want)
			}
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil {
		t.Fatal("LoadConfig succeeded on a missing file")
	}
}
