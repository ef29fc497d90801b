// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// mailroom-service is the coordination daemon: one process owning the
// per-project stores, archives, and locks, serving the CBOR socket
// protocol for agent tooling and an HTTP bridge for event streams.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bureau-foundation/mailroom/dispatch"
	"github.com/bureau-foundation/mailroom/lib/clock"
	"github.com/bureau-foundation/mailroom/lib/codec"
	"github.com/bureau-foundation/mailroom/lib/cronexpr"
	"github.com/bureau-foundation/mailroom/lib/service"
	"github.com/bureau-foundation/mailroom/lib/version"
	"github.com/bureau-foundation/mailroom/lockreg"
	"github.com/bureau-foundation/mailroom/notify"
	"github.com/bureau-foundation/mailroom/project"
	"github.com/bureau-foundation/mailroom/session"
)

func main() {
	configPath := flag.String("config", "/etc/mailroom/service.yaml", "path to the service configuration file")
	showVersion := flag.Bool("version", false, "print version information and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("mailroom-service " + version.Info())
		return
	}

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "mailroom-service: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return err
	}

	level, err := parseLogLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	logger.Info("starting mailroom-service",
		"version", version.Short(),
		"data_root", cfg.DataRoot,
		"socket", cfg.SocketPath,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	projects, err := project.NewRegistry(project.Config{
		DataRoot: cfg.DataRoot,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("opening project registry: %w", err)
	}
	defer func() {
		if err := projects.Close(); err != nil {
			logger.Error("closing project registry", "error", err)
		}
	}()

	locks := lockreg.New(lockreg.Config{
		AcquireTimeout: time.Duration(cfg.LockTimeout),
		Logger:         logger,
	})
	defer locks.Close()

	hub := notify.NewHub(notify.Config{
		SignalDir: cfg.DataRoot,
		Logger:    logger,
	})

	dispatcher := dispatch.New(dispatch.Config{
		Projects: projects,
		Locks:    locks,
		Hub:      hub,
		Logger:   logger,
	})

	manager := session.NewManager(session.Config{
		MaxSessions:  cfg.MaxSessions,
		AdmitTimeout: time.Duration(cfg.AdmitTimeout),
		DrainGrace:   time.Duration(cfg.DrainGrace),
		Logger:       logger,
		Handler: func(ctx context.Context, request any) (any, error) {
			call := request.(*opCall)
			return dispatcher.Invoke(ctx, call.op, call.caller, call.decode)
		},
	})
	if err := manager.Start(ctx); err != nil {
		return fmt.Errorf("starting session manager: %w", err)
	}

	socketServer := service.NewSocketServer(cfg.SocketPath, logger)
	for _, op := range dispatcher.Operations() {
		socketServer.Handle(op.Name, opHandler(manager, op.Name))
	}

	socketDone := make(chan error, 1)
	go func() {
		socketDone <- socketServer.Serve(ctx)
	}()

	var httpDone chan error
	if cfg.HTTPAddress != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			fmt.Fprintln(w, "ok")
		})
		mux.Handle("/events", notify.NewSSEHandler(hub, nil))
		httpServer := service.NewHTTPServer(service.HTTPServerConfig{
			Address: cfg.HTTPAddress,
			Handler: mux,
			Logger:  logger,
		})
		httpDone = make(chan error, 1)
		go func() {
			httpDone <- httpServer.Serve(ctx)
		}()
	}

	sweeper := &sweeper{
		projects: projects,
		fallback: cronexpr.MustParse(cfg.SweepSchedule),
		clock:    clock.Real(),
		logger:   logger,
		next:     make(map[string]time.Time),
	}
	go sweeper.run(ctx)

	<-ctx.Done()
	logger.Info("shutting down")

	drainCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.DrainGrace)+5*time.Second)
	defer cancel()
	if err := manager.Drain(drainCtx); err != nil {
		logger.Error("draining sessions", "error", err)
	}

	if err := <-socketDone; err != nil {
		logger.Error("socket server", "error", err)
	}
	if httpDone != nil {
		if err := <-httpDone; err != nil {
			logger.Error("http server", "error", err)
		}
	}

	logger.Info("stopped")
	return nil
}

// opCall is the unit of work submitted through the session manager:
// one dispatcher operation with its caller identity and argument
// decoder.
type opCall struct {
	op     string
	caller dispatch.Caller
	decode dispatch.Decoder
}

// opHandler adapts one dispatcher operation to the socket protocol.
// Each request is admitted as a session so concurrency bounds and
// drain semantics apply uniformly, then invoked through the manager's
// delivery channel.
func opHandler(manager *session.Manager, op string) service.HandlerFunc {
	return func(ctx context.Context, request *service.Request) (any, error) {
		sess, err := manager.Admit(ctx)
		if err != nil {
			return nil, err
		}
		defer sess.Close()

		var decode dispatch.Decoder
		if len(request.Payload) > 0 {
			payload := request.Payload
			decode = func(v any) error {
				return codec.Unmarshal(payload, v)
			}
		}
		return sess.Invoke(ctx, &opCall{
			op:     op,
			caller: dispatch.Caller{Project: request.Project, Agent: request.Agent},
			decode: decode,
		})
	}
}

// sweeper reclaims expired reservations on a cron cadence. Each open
// project runs on its policy's schedule when set, otherwise on the
// daemon-wide default. Sweeps touch only the indexed store; expiry is
// reconstructible from the archive, so no chain record is filed.
type sweeper struct {
	projects *project.Registry
	fallback cronexpr.Schedule
	clock    clock.Clock
	logger   *slog.Logger

	// next tracks each project's upcoming sweep time, keyed by slug.
	next map[string]time.Time
}

// tickInterval is how often the sweeper re-evaluates due times. Cron
// granularity is one minute, so half that never misses a boundary.
const tickInterval = 30 * time.Second

func (s *sweeper) run(ctx context.Context) {
	ticker := s.clock.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.sweepDue(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *sweeper) sweepDue(ctx context.Context) {
	now := s.clock.Now()
	for _, handle := range s.projects.Handles() {
		slug := handle.Slug()
		due, ok := s.next[slug]
		if !ok {
			next, err := s.scheduleFor(handle).Next(now)
			if err != nil {
				s.logger.Error("computing sweep time", "project", slug, "error", err)
				continue
			}
			s.next[slug] = next
			continue
		}
		if now.Before(due) {
			continue
		}

		reclaimed, err := handle.Store().SweepExpired(ctx, now.UTC())
		if err != nil {
			s.logger.Error("reservation sweep failed", "project", slug, "error", err)
		} else if reclaimed > 0 {
			s.logger.Info("reservation sweep", "project", slug, "reclaimed", reclaimed)
		}

		next, err := s.scheduleFor(handle).Next(now)
		if err != nil {
			s.logger.Error("computing sweep time", "project", slug, "error", err)
			delete(s.next, slug)
			continue
		}
		s.next[slug] = next
	}
}

// scheduleFor returns the project's sweep schedule, preferring the
// policy override. An unparsable override falls back to the daemon
// default; the policy loader already warned about it.
func (s *sweeper) scheduleFor(handle *project.Handle) cronexpr.Schedule {
	if expr := handle.Policy().SweepSchedule; expr != "" {
		if schedule, err := cronexpr.Parse(expr); err == nil {
			return schedule
		}
	}
	return s.fallback
}
