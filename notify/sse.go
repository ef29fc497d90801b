// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package notify

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/bureau-foundation/mailroom/lib/clock"
)

// heartbeatInterval paces SSE comment lines that keep idle
// connections from being reaped by intermediaries.
const heartbeatInterval = 15 * time.Second

// SSEHandler streams a project's events as server-sent events:
// GET /events?project=<slug>. One subscription per connection; the
// subscription ends when the client disconnects.
type SSEHandler struct {
	hub   *Hub
	clock clock.Clock
}

// NewSSEHandler creates the handler. A nil clk means the real clock.
func NewSSEHandler(hub *Hub, clk clock.Clock) *SSEHandler {
	if clk == nil {
		clk = clock.Real()
	}
	return &SSEHandler{hub: hub, clock: clk}
}

func (h *SSEHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	project := r.URL.Query().Get("project")
	if project == "" {
		http.Error(w, "project query parameter is required", http.StatusBadRequest)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	sub := h.hub.Subscribe(project)
	defer sub.Close()

	heartbeat := h.clock.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case event := <-sub.Events():
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
			flusher.Flush()
		case <-heartbeat.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}
