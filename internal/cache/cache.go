// Package cache provides disk-backed memoization for slow external lookups.
//
// Catalog queries, file enumerations and reference-value lookups are slow,
// rate limited or need credentials, so their results are kept between runs.
// Each named store:
//
//  1. Loads once, on first access, from <dir>/<name>.db (BoltDB, CBOR values)
//  2. Falls back to the human-readable <dir>/<name>.yaml when no database exists
//  3. Only ever grows: a key is computed at most once for the store's lifetime
//  4. Writes both snapshots on Close, and only when a new key was added
//
// A Registry owns every store opened by a process. Callers defer
// Registry.Close so the flush happens on every exit path. Stores are not
// safe for concurrent writers sharing the same snapshot files.
package cache

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"

	"github.com/ua-hep/afw/internal/logging"
)

const (
	// DefaultCacheDir is the default cache directory name
	DefaultCacheDir = "cache"
)

// flusher is the type-erased view of a Store held by the Registry
type flusher interface {
	Flush() error
}

// Registry maps store names to open stores
type Registry struct {
	dir    string
	logger *slog.Logger

	mu     sync.Mutex
	stores map[string]flusher
	closed bool
}

// NewRegistry creates a registry rooted at dir, creating dir if needed
func NewRegistry(dir string, logger *slog.Logger) (*Registry, error) {
	if dir == "" {
		dir = DefaultCacheDir
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	return &Registry{
		dir:    dir,
		logger: logging.OrDiscard(logger),
		stores: make(map[string]flusher),
	}, nil
}

// Dir returns the directory holding the snapshots
func (r *Registry) Dir() string {
	return r.dir
}

// Open returns the store called name, loading it on first access.
// Opening the same name twice returns the same store; opening it with a
// different value type is an error.
func Open[V any](r *Registry, name string) (*Store[V], error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, fmt.Errorf("cache registry is closed")
	}

	if existing, ok := r.stores[name]; ok {
		store, ok := existing.(*Store[V])
		if !ok {
			return nil, fmt.Errorf("cache store %q already open with a different value type", name)
		}

		return store, nil
	}

	store := newStore[V](r.dir, name, r.logger)
	if err := store.load(); err != nil {
		return nil, err
	}
	r.stores[name] = store

	return store, nil
}

// Close flushes every store once. Later calls are no-ops.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	names := make([]string, 0, len(r.stores))
	for name := range r.stores {
		names = append(names, name)
	}
	sort.Strings(names)

	var errs []error
	for _, name := range names {
		if err := r.stores[name].Flush(); err != nil {
			errs = append(errs, fmt.Errorf("failed to flush cache store %q: %w", name, err))
		}
	}

	return errors.Join(errs...)
}
