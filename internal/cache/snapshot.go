package cache

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"sort"
	"time"

	"go.etcd.io/bbolt"
	"gopkg.in/yaml.v3"
)

const (
	// bucketName is the BoltDB bucket holding one record per cache key
	bucketName = "entries"

	binaryExt = ".db"
	textExt   = ".yaml"
)

var (
	// errNotMapping marks a snapshot whose top level is not a key/value mapping
	errNotMapping = errors.New("snapshot is not a mapping")

	// errCorrupt marks a snapshot whose content cannot be trusted. Other
	// read errors (permissions, a lock held elsewhere) leave it untouched.
	errCorrupt = errors.New("corrupt cache snapshot")
)

// readBinary loads a BoltDB snapshot. Every value is a CBOR document.
//
// bbolt panics on damaged data pages instead of returning an error, so
// panics and memory faults while reading are reported as errCorrupt.
func readBinary[V any](path string) (entries map[string]V, err error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 1 * time.Second, ReadOnly: true})
	if err != nil {
		if errors.Is(err, bbolt.ErrInvalid) || errors.Is(err, bbolt.ErrVersionMismatch) || errors.Is(err, bbolt.ErrChecksum) {
			return nil, fmt.Errorf("%w: %w", errCorrupt, err)
		}

		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}
	defer db.Close()

	defer debug.SetPanicOnFault(debug.SetPanicOnFault(true))
	defer func() {
		if r := recover(); r != nil {
			entries = nil
			err = fmt.Errorf("%w: %v", errCorrupt, r)
		}
	}()

	entries = make(map[string]V)
	err = db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return errNotMapping
		}

		return b.ForEach(func(k, v []byte) error {
			var value V
			if err := decMode.Unmarshal(v, &value); err != nil {
				return fmt.Errorf("failed to decode key %q: %w", k, err)
			}

			entries[string(k)] = value
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errCorrupt, err)
	}

	return entries, nil
}

// writeBinary replaces the BoltDB snapshot at path with entries.
// The database is built beside the target and renamed over it.
func writeBinary[V any](path string, entries map[string]V) error {
	tmp := path + ".tmp"
	if err := os.Remove(tmp); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove stale snapshot: %w", err)
	}

	db, err := bbolt.Open(tmp, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return fmt.Errorf("failed to open cache database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucket([]byte(bucketName))
		if err != nil {
			return err
		}

		for _, key := range sortedKeys(entries) {
			data, err := encMode.Marshal(entries[key])
			if err != nil {
				return fmt.Errorf("failed to encode key %q: %w", key, err)
			}

			if err := b.Put([]byte(key), data); err != nil {
				return err
			}
		}

		return nil
	})
	if closeErr := db.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write cache database: %w", err)
	}

	return os.Rename(tmp, path)
}

// readText loads the human-readable YAML snapshot.
func readText[V any](path string) (map[string]V, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, fmt.Errorf("%w: %w", errCorrupt, err)
	}

	// An empty document decodes to an empty store
	if len(node.Content) == 0 {
		return make(map[string]V), nil
	}

	if node.Content[0].Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: %w", errCorrupt, errNotMapping)
	}

	entries := make(map[string]V)
	if err := node.Decode(&entries); err != nil {
		return nil, fmt.Errorf("%w: %w", errCorrupt, err)
	}

	return entries, nil
}

// writeText replaces the YAML snapshot at path with entries.
func writeText[V any](path string, entries map[string]V) error {
	data, err := yaml.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to encode text snapshot: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write text snapshot: %w", err)
	}

	return os.Rename(tmp, path)
}

// snapshotPaths returns the binary and text snapshot paths for a store
func snapshotPaths(dir, name string) (string, string) {
	base := filepath.Join(dir, name)
	return base + binaryExt, base + textExt
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func sortedKeys[V any](entries map[string]V) []string {
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}

	sort.Strings(keys)
	return keys
}
