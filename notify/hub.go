// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package notify

import (
	"log/slog"
	"sync"
	"time"

	"github.com/bureau-foundation/mailroom/mail"
)

// Event types published by the dispatcher.
const (
	EventMessageDelivered    = "message-delivered"
	EventAgentRegistered     = "agent-registered"
	EventReservationGranted  = "reservation-granted"
	EventReservationReleased = "reservation-released"
)

// Event is one coordination occurrence within a project.
type Event struct {
	Type    string    `json:"type"`
	Project string    `json:"project"`
	Time    time.Time `json:"time"`

	// Agent is the affected agent: the recipient for a delivery, the
	// registrant for a registration, the holder for a reservation.
	Agent string `json:"agent,omitempty"`

	// Message fields, set for message-delivered events.
	Seq        int64           `json:"seq,omitempty"`
	From       string          `json:"from,omitempty"`
	Subject    string          `json:"subject,omitempty"`
	Importance mail.Importance `json:"importance,omitempty"`

	// Unread and LatestSeq snapshot the recipient's inbox after the
	// delivery; they also land in the agent's signal file.
	Unread    int64 `json:"unread,omitempty"`
	LatestSeq int64 `json:"latest_seq,omitempty"`

	// PathPattern is set for reservation events.
	PathPattern string `json:"path_pattern,omitempty"`
}

// subscriberBuffer bounds each subscriber's backlog. A subscriber
// that falls further behind loses its oldest events, never its
// connection — the store remains the source of truth and a catch-up
// fetch recovers anything dropped.
const subscriberBuffer = 50

// Config configures a Hub.
type Config struct {
	// SignalDir, when non-empty, enables signal files under
	// <SignalDir>/projects/<projectSlug>/agents/<agentSlug>.signal.
	SignalDir string

	// Logger is the structured logger. Required.
	Logger *slog.Logger
}

// Hub fans events out to per-project subscribers and maintains
// signal files. Publish never blocks: slow subscribers drop oldest.
type Hub struct {
	signals *signalWriter
	logger  *slog.Logger

	mu          sync.Mutex
	subscribers map[string]map[*Subscriber]struct{}
}

// Subscriber receives one project's events.
type Subscriber struct {
	hub     *Hub
	project string
	events  chan Event

	closeOnce sync.Once
}

// Events returns the subscriber's event channel.
func (s *Subscriber) Events() <-chan Event { return s.events }

// Close detaches the subscriber from the hub.
func (s *Subscriber) Close() {
	s.closeOnce.Do(func() {
		hub := s.hub
		hub.mu.Lock()
		if set, ok := hub.subscribers[s.project]; ok {
			delete(set, s)
			if len(set) == 0 {
				delete(hub.subscribers, s.project)
			}
		}
		hub.mu.Unlock()
	})
}

// NewHub creates a hub.
func NewHub(cfg Config) *Hub {
	if cfg.Logger == nil {
		panic("notify.Hub: Logger is required")
	}
	hub := &Hub{
		logger:      cfg.Logger,
		subscribers: make(map[string]map[*Subscriber]struct{}),
	}
	if cfg.SignalDir != "" {
		hub.signals = &signalWriter{dir: cfg.SignalDir, logger: cfg.Logger}
	}
	return hub
}

// Subscribe registers for one project's events.
func (h *Hub) Subscribe(project string) *Subscriber {
	sub := &Subscriber{
		hub:     h,
		project: project,
		events:  make(chan Event, subscriberBuffer),
	}
	h.mu.Lock()
	set, ok := h.subscribers[project]
	if !ok {
		set = make(map[*Subscriber]struct{})
		h.subscribers[project] = set
	}
	set[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

// Publish delivers the event to every subscriber of its project and
// updates the affected agent's signal file. Never blocks; a full
// subscriber buffer sheds its oldest event.
func (h *Hub) Publish(event Event) {
	if event.Time.IsZero() {
		event.Time = time.Now().UTC()
	}

	h.mu.Lock()
	subs := make([]*Subscriber, 0, len(h.subscribers[event.Project]))
	for sub := range h.subscribers[event.Project] {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		deliverDropOldest(sub.events, event)
	}

	if h.signals != nil && event.Type == EventMessageDelivered {
		h.signals.write(event)
	}
}

// deliverDropOldest pushes an event into a bounded channel, shedding
// the oldest buffered event when full. Two attempts suffice: after
// one shed there is room unless a concurrent publisher refilled it,
// in which case dropping this event is equivalent to it having been
// shed next.
func deliverDropOldest(ch chan Event, event Event) {
	for attempt := 0; attempt < 2; attempt++ {
		select {
		case ch <- event:
			return
		default:
			select {
			case <-ch:
			default:
			}
		}
	}
}
