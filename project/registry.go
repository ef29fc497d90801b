// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package project

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/mailroom/archive"
	"github.com/bureau-foundation/mailroom/lib/sqlitepool"
	"github.com/bureau-foundation/mailroom/mail"
	"github.com/bureau-foundation/mailroom/store"
)

const (
	projectsDirName = "projects"
	tmpDirName      = ".tmp"
	metadataName    = "project.json"
	storeFileName   = "store.db"
	archiveDirName  = "archive"

	// minFreeBytes is the filesystem headroom required before a new
	// project root is created. Refusing early beats a half-built root.
	minFreeBytes = 64 << 20
)

// Config configures a Registry.
type Config struct {
	// DataRoot is the directory under which all project roots live.
	// Created if it does not exist. Required.
	DataRoot string

	// Logger is the structured logger. Required.
	Logger *slog.Logger

	// PoolSize is the SQLite pool size per project. Zero means the
	// sqlitepool default.
	PoolSize int
}

// Registry maps human project keys to open project handles. It is
// safe for concurrent use; concurrent first-time Ensure calls for the
// same key race on an atomic directory rename and every caller
// observes the single winning root.
type Registry struct {
	dataRoot string
	logger   *slog.Logger
	poolSize int

	mu      sync.Mutex
	handles map[string]*Handle
	closed  bool
}

// Handle is one open project: its slug, root directory, indexed
// store, archive, and policy. Handles are owned by the registry and
// closed with it.
type Handle struct {
	humanKey string
	slug     string
	dir      string
	policy   Policy

	pool    *sqlitepool.Pool
	store   *store.Store
	archive *archive.Archive
}

// HumanKey returns the key the project was ensured under.
func (h *Handle) HumanKey() string { return h.humanKey }

// Slug returns the filesystem-safe project identity.
func (h *Handle) Slug() string { return h.slug }

// Dir returns the project root directory.
func (h *Handle) Dir() string { return h.dir }

// Store returns the project's indexed store.
func (h *Handle) Store() *store.Store { return h.store }

// Archive returns the project's append-only archive.
func (h *Handle) Archive() *archive.Archive { return h.archive }

// Policy returns the project's coordination policy, loaded once when
// the handle was opened.
func (h *Handle) Policy() Policy { return h.policy }

func (h *Handle) close() error {
	return h.pool.Close()
}

// metadata is the project.json file at each project root, recording
// the human key the slug was derived from. BySlug reads it to reopen
// a project this process has not ensured yet.
type metadata struct {
	HumanKey  string    `json:"human_key"`
	Slug      string    `json:"slug"`
	CreatedAt time.Time `json:"created_at"`
}

// NewRegistry creates a registry rooted at cfg.DataRoot. The data
// root is created eagerly so a misconfigured path fails at startup,
// not on the first call.
func NewRegistry(cfg Config) (*Registry, error) {
	if cfg.DataRoot == "" {
		return nil, errors.New("project: Config.DataRoot is required")
	}
	if cfg.Logger == nil {
		panic("project.Registry: Logger is required")
	}
	if err := os.MkdirAll(filepath.Join(cfg.DataRoot, projectsDirName), 0o755); err != nil {
		return nil, &StorageInitError{Path: cfg.DataRoot, Err: err}
	}
	if err := os.MkdirAll(filepath.Join(cfg.DataRoot, tmpDirName), 0o700); err != nil {
		return nil, &StorageInitError{Path: cfg.DataRoot, Err: err}
	}
	return &Registry{
		dataRoot: cfg.DataRoot,
		logger:   cfg.Logger,
		poolSize: cfg.PoolSize,
		handles:  make(map[string]*Handle),
	}, nil
}

// DataRoot returns the registry's data root directory.
func (r *Registry) DataRoot() string { return r.dataRoot }

// Ensure returns the project for humanKey, creating its storage root
// on first reference. Idempotent and race-safe: under concurrent
// first-time creation exactly one root is built (in a temp directory,
// renamed into place) and losers observe the winner's complete root.
func (r *Registry) Ensure(ctx context.Context, humanKey string) (*Handle, error) {
	if humanKey == "" {
		return nil, errors.New("project: human key is empty")
	}
	slug := mail.ProjectSlug(humanKey)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, errors.New("project: registry is closed")
	}
	if handle, ok := r.handles[slug]; ok {
		return handle, nil
	}

	dir := filepath.Join(r.dataRoot, projectsDirName, slug)
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		if err := r.preflight(); err != nil {
			return nil, err
		}
		if err := r.createRoot(dir, humanKey, slug); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, &StorageInitError{Path: dir, Err: err}
	}

	handle, err := r.open(ctx, dir, humanKey, slug)
	if err != nil {
		return nil, err
	}
	r.handles[slug] = handle
	return handle, nil
}

// BySlug returns the open handle for slug, reopening the project from
// its on-disk metadata if this process has not ensured it yet. A slug
// with no root on disk reports fs.ErrNotExist.
func (r *Registry) BySlug(ctx context.Context, slug string) (*Handle, error) {
	r.mu.Lock()
	handle, ok := r.handles[slug]
	r.mu.Unlock()
	if ok {
		return handle, nil
	}

	metaPath := filepath.Join(r.dataRoot, projectsDirName, slug, metadataName)
	data, err := os.ReadFile(metaPath)
	if err != nil {
		return nil, fmt.Errorf("project %s: %w", slug, err)
	}
	var meta metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("project %s: decoding metadata: %w", slug, err)
	}
	if meta.HumanKey == "" {
		return nil, fmt.Errorf("project %s: metadata has no human key", slug)
	}
	return r.Ensure(ctx, meta.HumanKey)
}

// Handles returns the currently open handles. Used by the daemon's
// maintenance sweeps.
func (r *Registry) Handles() []*Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	handles := make([]*Handle, 0, len(r.handles))
	for _, handle := range r.handles {
		handles = append(handles, handle)
	}
	return handles
}

// Close closes every open handle. The registry is unusable afterward.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	var firstErr error
	for slug, handle := range r.handles {
		if err := handle.close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing project %s: %w", slug, err)
		}
	}
	r.handles = nil
	return firstErr
}

// preflight checks that the data root has filesystem headroom before
// a new project root is created.
func (r *Registry) preflight() error {
	var stat unix.Statfs_t
	if err := unix.Statfs(r.dataRoot, &stat); err != nil {
		return &StorageInitError{Path: r.dataRoot, Err: fmt.Errorf("statfs: %w", err)}
	}
	free := stat.Bavail * uint64(stat.Bsize)
	if free < minFreeBytes {
		return &StorageInitError{
			Path: r.dataRoot,
			Err:  fmt.Errorf("filesystem has %d bytes free, need %d", free, uint64(minFreeBytes)),
		}
	}
	return nil
}

// createRoot builds a project root under the registry's temp
// directory and renames it into place. The rename is the commit
// point: a root either exists completely or not at all. Losing a
// creation race is not an error — the winner's root is used.
func (r *Registry) createRoot(dir, humanKey, slug string) error {
	staging, err := os.MkdirTemp(filepath.Join(r.dataRoot, tmpDirName), slug+"-*")
	if err != nil {
		return &StorageInitError{Path: r.dataRoot, Err: err}
	}
	defer os.RemoveAll(staging)

	meta := metadata{HumanKey: humanKey, Slug: slug, CreatedAt: time.Now().UTC()}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding project metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(staging, metadataName), append(data, '\n'), 0o644); err != nil {
		return &StorageInitError{Path: staging, Err: err}
	}

	err = os.Rename(staging, dir)
	switch {
	case err == nil:
		r.logger.Info("project root created", "slug", slug, "dir", dir)
		return nil
	case errors.Is(err, fs.ErrExist), isDirNotEmpty(err):
		// A concurrent Ensure won the rename. Its root is complete
		// (rename is atomic), so this caller just uses it.
		return nil
	default:
		return &StorageInitError{Path: dir, Err: err}
	}
}

// isDirNotEmpty matches the rename failure Linux reports when the
// target directory already exists and is non-empty.
func isDirNotEmpty(err error) bool {
	return errors.Is(err, unix.ENOTEMPTY)
}

// open opens the store, archive, and policy for an existing root.
func (r *Registry) open(ctx context.Context, dir, humanKey, slug string) (*Handle, error) {
	policy, err := LoadPolicy(dir)
	if err != nil {
		return nil, &StorageInitError{Path: dir, Err: err}
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     filepath.Join(dir, storeFileName),
		PoolSize: r.poolSize,
		Logger:   r.logger,
	})
	if err != nil {
		return nil, &StorageInitError{Path: dir, Err: err}
	}

	projectStore, err := store.Open(ctx, pool, slug)
	if err != nil {
		pool.Close()
		return nil, &StorageInitError{Path: dir, Err: err}
	}

	projectArchive, err := archive.Open(ctx, archive.Config{
		Dir:  filepath.Join(dir, archiveDirName),
		Slug: slug,
	})
	if err != nil {
		pool.Close()
		return nil, &StorageInitError{Path: dir, Err: err}
	}

	return &Handle{
		humanKey: humanKey,
		slug:     slug,
		dir:      dir,
		policy:   policy,
		pool:     pool,
		store:    projectStore,
		archive:  projectArchive,
	}, nil
}
