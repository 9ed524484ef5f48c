package cache

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ua-hep/afw/internal/logging"
)

// Store memoizes a single-argument lookup keyed by the argument string
type Store[V any] struct {
	name     string
	binPath  string
	textPath string
	logger   *slog.Logger

	mu      sync.Mutex
	entries map[string]V
	// dirty is set when a key is added and cleared by Flush. It never
	// appears in the key space.
	dirty bool
}

func newStore[V any](dir, name string, logger *slog.Logger) *Store[V] {
	binPath, textPath := snapshotPaths(dir, name)

	return &Store[V]{
		name:     name,
		binPath:  binPath,
		textPath: textPath,
		logger:   logger.With("store", name),
		entries:  make(map[string]V),
	}
}

// load reads the preferred snapshot. Corrupt snapshots are discarded and the
// store starts empty; any other read failure is returned so that a later
// flush cannot overwrite entries it never saw.
func (s *Store[V]) load() error {
	var (
		entries map[string]V
		err     error
		source  string
	)

	switch {
	case exists(s.binPath):
		source = s.binPath
		entries, err = readBinary[V](s.binPath)
	case exists(s.textPath):
		source = s.textPath
		entries, err = readText[V](s.textPath)
		if err == nil {
			s.logger.Warn("Loaded cache from text snapshot and not database", "path", s.textPath)
		}
	default:
		s.logger.Debug("No cache snapshot, starting empty")
		return nil
	}

	switch {
	case errors.Is(err, errCorrupt):
		logging.Critical(s.logger, "Cache snapshot is unreadable, resetting", "path", source, "error", err)
		return nil
	case err != nil:
		return fmt.Errorf("failed to load cache store %q: %w", s.name, err)
	}

	s.entries = entries
	s.logger.Debug("Loaded cache", "path", source, "entries", len(entries))
	return nil
}

// Name returns the store name
func (s *Store[V]) Name() string {
	return s.name
}

// Get returns the cached value for key without computing it
func (s *Store[V]) Get(key string) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.entries[key]
	return v, ok
}

// GetOrCompute returns the cached value for key, calling compute and
// recording its result on a miss. A compute error is returned as-is and
// nothing is stored, so the lookup runs again next time.
func (s *Store[V]) GetOrCompute(key string, compute func() (V, error)) (V, error) {
	if v, ok := s.Get(key); ok {
		return v, nil
	}

	v, err := compute()
	if err != nil {
		var zero V
		return zero, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Keep the first value if a concurrent caller got here first
	if existing, ok := s.entries[key]; ok {
		return existing, nil
	}

	s.entries[key] = v
	s.dirty = true

	return v, nil
}

// Len returns the number of cached keys
func (s *Store[V]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.entries)
}

// Dirty reports whether a key was added since the last flush
func (s *Store[V]) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.dirty
}

// Flush writes the text and binary snapshots if the store is dirty
func (s *Store[V]) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.dirty {
		return nil
	}

	if err := writeText(s.textPath, s.entries); err != nil {
		return err
	}

	if err := writeBinary(s.binPath, s.entries); err != nil {
		return err
	}

	s.dirty = false
	s.logger.Debug("Flushed cache", "entries", len(s.entries))

	return nil
}
