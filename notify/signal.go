// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package notify

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/bureau-foundation/mailroom/mail"
)

// SignalPath returns the signal file for one agent in one project
// under the given signal root. Watchers point fsnotify at the agents
// directory and react to writes instead of polling the daemon.
func SignalPath(signalDir, projectSlug, agentName string) string {
	return filepath.Join(signalDir, "projects", projectSlug, "agents", mail.AgentSlug(agentName)+".signal")
}

// Signal is the payload of a signal file: enough for a watcher to
// decide whether to fetch, without a daemon round trip.
type Signal struct {
	Timestamp time.Time `json:"timestamp"`
	Project   string    `json:"project"`
	Agent     string    `json:"agent"`

	Unread    int64 `json:"unread"`
	LatestSeq int64 `json:"latest_seq"`

	// Latest summarizes the message that triggered the signal.
	Latest SignalMessage `json:"latest"`
}

// SignalMessage is the triggering message's summary.
type SignalMessage struct {
	Seq        int64           `json:"seq"`
	From       string          `json:"from"`
	Subject    string          `json:"subject"`
	Importance mail.Importance `json:"importance"`
}

// ReadSignal loads a signal file.
func ReadSignal(path string) (Signal, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Signal{}, err
	}
	var signal Signal
	if err := json.Unmarshal(data, &signal); err != nil {
		return Signal{}, err
	}
	return signal, nil
}

// signalWriter maintains signal files. Failures are logged, never
// surfaced: signals are a best-effort notification channel beside the
// authoritative store.
type signalWriter struct {
	dir    string
	logger *slog.Logger
}

func (w *signalWriter) write(event Event) {
	path := SignalPath(w.dir, event.Project, event.Agent)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		w.logger.Warn("signal directory", "path", path, "error", err)
		return
	}

	payload := Signal{
		Timestamp: event.Time,
		Project:   event.Project,
		Agent:     event.Agent,
		Unread:    event.Unread,
		LatestSeq: event.LatestSeq,
		Latest: SignalMessage{
			Seq:        event.Seq,
			From:       event.From,
			Subject:    event.Subject,
			Importance: event.Importance,
		},
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		w.logger.Warn("encoding signal", "path", path, "error", err)
		return
	}
	data = append(data, '\n')

	// Temp-and-rename so a watcher triggered mid-write never reads a
	// torn file.
	tmp, err := os.CreateTemp(filepath.Dir(path), ".signal-*")
	if err != nil {
		w.logger.Warn("writing signal", "path", path, "error", err)
		return
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		w.logger.Warn("writing signal", "path", path, "error", err)
		return
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		w.logger.Warn("writing signal", "path", path, "error", err)
		return
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		w.logger.Warn("writing signal", "path", path, "error", err)
	}
}
