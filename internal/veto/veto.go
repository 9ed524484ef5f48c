// Package veto holds the global list of known-bad files that must never be
// read. The list is loaded from a flat text file on first use.
package veto

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
)

// DefaultFile is the default veto list location
const DefaultFile = "veto-files.txt"

// ErrSourceMissing is returned when the veto file does not exist
var ErrSourceMissing = errors.New("veto file does not exist")

// List is a lazily loaded set of vetoed file names
type List struct {
	path string

	once  sync.Once
	files map[string]struct{}
	err   error
}

// New creates a list backed by the file at path. Nothing is read until
// the first IsVetoed call.
func New(path string) *List {
	if path == "" {
		path = DefaultFile
	}

	return &List{path: path}
}

// FromNames creates an already loaded list
func FromNames(names ...string) *List {
	l := &List{files: make(map[string]struct{}, len(names))}
	l.once.Do(func() {})

	for _, name := range names {
		l.files[name] = struct{}{}
	}

	return l
}

// IsVetoed reports whether file is on the list. Names match exactly.
func (l *List) IsVetoed(file string) (bool, error) {
	l.once.Do(l.load)
	if l.err != nil {
		return false, l.err
	}

	_, ok := l.files[file]
	return ok, nil
}

// Len returns the number of vetoed files, loading the list if needed
func (l *List) Len() (int, error) {
	l.once.Do(l.load)
	return len(l.files), l.err
}

func (l *List) load() {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			l.err = fmt.Errorf("%w: %s", ErrSourceMissing, l.path)
			return
		}

		l.err = fmt.Errorf("failed to open veto file: %w", err)
		return
	}
	defer f.Close()

	files := make(map[string]struct{})
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		files[line] = struct{}{}
	}

	if err := scanner.Err(); err != nil {
		l.err = fmt.Errorf("failed to read veto file: %w", err)
		return
	}

	l.files = files
}
