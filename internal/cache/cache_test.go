package cache

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"

	"github.com/ua-hep/afw/internal/logging"
)

type fileRecord struct {
	Name    string `json:"name" yaml:"name"`
	NEvents int64  `json:"nevents" yaml:"nevents"`
}

func newTestRegistry(t *testing.T, dir string) *Registry {
	t.Helper()

	reg, err := NewRegistry(dir, logging.Discard())
	require.NoError(t, err)

	return reg
}

func TestStore_GetOrCompute_AtMostOnce(t *testing.T) {
	reg := newTestRegistry(t, t.TempDir())
	defer reg.Close()

	store, err := Open[[]string](reg, "rucio")
	require.NoError(t, err)

	calls := 0
	compute := func() ([]string, error) {
		calls++
		return []string{"/A/Run3-v1/NANOAODSIM"}, nil
	}

	first, err := store.GetOrCompute("/A/*/NANOAODSIM", compute)
	require.NoError(t, err)

	second, err := store.GetOrCompute("/A/*/NANOAODSIM", compute)
	require.NoError(t, err)

	assert.Equal(t, 1, calls, "compute should run once per key")
	assert.Equal(t, first, second)
	assert.True(t, store.Dirty())
	assert.Equal(t, 1, store.Len())
}

func TestStore_GetOrCompute_ErrorNotStored(t *testing.T) {
	reg := newTestRegistry(t, t.TempDir())
	defer reg.Close()

	store, err := Open[float64](reg, "xsecdb")
	require.NoError(t, err)

	boom := errors.New("service down")
	_, err = store.GetOrCompute("key", func() (float64, error) { return 0, boom })
	assert.ErrorIs(t, err, boom)
	assert.False(t, store.Dirty())

	_, ok := store.Get("key")
	assert.False(t, ok, "failed lookups must not be cached")
}

func TestRegistry_PersistenceRoundTrip(t *testing.T) {
	dir := t.TempDir()

	reg := newTestRegistry(t, dir)
	store, err := Open[[]fileRecord](reg, "dasgoclient")
	require.NoError(t, err)

	want := []fileRecord{{Name: "/store/f1.root", NEvents: 100}, {Name: "/store/f2.root", NEvents: 0}}
	_, err = store.GetOrCompute("file dataset=/A/B/C", func() ([]fileRecord, error) { return want, nil })
	require.NoError(t, err)
	require.NoError(t, reg.Close())

	assert.FileExists(t, filepath.Join(dir, "dasgoclient.db"))
	assert.FileExists(t, filepath.Join(dir, "dasgoclient.yaml"))

	// Simulate a new process
	reg2 := newTestRegistry(t, dir)
	defer reg2.Close()

	store2, err := Open[[]fileRecord](reg2, "dasgoclient")
	require.NoError(t, err)

	got, err := store2.GetOrCompute("file dataset=/A/B/C", func() ([]fileRecord, error) {
		t.Fatal("compute should not run for a persisted key")
		return nil, nil
	})
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.False(t, store2.Dirty())
}

func TestRegistry_NoDirtyNoWrite(t *testing.T) {
	dir := t.TempDir()

	reg := newTestRegistry(t, dir)
	store, err := Open[string](reg, "names")
	require.NoError(t, err)
	_, err = store.GetOrCompute("a", func() (string, error) { return "b", nil })
	require.NoError(t, err)
	require.NoError(t, reg.Close())

	binPath, textPath := snapshotPaths(dir, "names")
	binBefore, err := os.ReadFile(binPath)
	require.NoError(t, err)
	textBefore, err := os.ReadFile(textPath)
	require.NoError(t, err)
	binInfo, err := os.Stat(binPath)
	require.NoError(t, err)

	// Reload and only hit existing keys
	reg2 := newTestRegistry(t, dir)
	store2, err := Open[string](reg2, "names")
	require.NoError(t, err)
	v, err := store2.GetOrCompute("a", func() (string, error) { return "changed", nil })
	require.NoError(t, err)
	assert.Equal(t, "b", v)
	require.NoError(t, reg2.Close())

	binAfter, err := os.ReadFile(binPath)
	require.NoError(t, err)
	textAfter, err := os.ReadFile(textPath)
	require.NoError(t, err)
	binInfoAfter, err := os.Stat(binPath)
	require.NoError(t, err)

	assert.Equal(t, binBefore, binAfter)
	assert.Equal(t, textBefore, textAfter)
	assert.Equal(t, binInfo.ModTime(), binInfoAfter.ModTime())
}

func TestRegistry_NoSnapshotWhenNothingCached(t *testing.T) {
	dir := t.TempDir()

	reg := newTestRegistry(t, dir)
	_, err := Open[string](reg, "empty")
	require.NoError(t, err)
	require.NoError(t, reg.Close())

	binPath, textPath := snapshotPaths(dir, "empty")
	assert.NoFileExists(t, binPath)
	assert.NoFileExists(t, textPath)
}

func TestStore_TextFallback(t *testing.T) {
	dir := t.TempDir()
	_, textPath := snapshotPaths(dir, "rucio")
	err := os.WriteFile(textPath, []byte("'/A/*/NANOAODSIM':\n- /A/Run3-v1/NANOAODSIM\n"), 0o644)
	require.NoError(t, err)

	var buf bytes.Buffer
	reg, err := NewRegistry(dir, logging.New(&buf, false))
	require.NoError(t, err)
	defer reg.Close()

	store, err := Open[[]string](reg, "rucio")
	require.NoError(t, err)

	got, ok := store.Get("/A/*/NANOAODSIM")
	require.True(t, ok)
	assert.Equal(t, []string{"/A/Run3-v1/NANOAODSIM"}, got)
	assert.Contains(t, buf.String(), "level=WARN")
}

func TestStore_CorruptSnapshotResets(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"binary garbage", "bad.db", "this is not a bolt database, not even close to one"},
		{"text list instead of mapping", "bad.yaml", "- one\n- two\n"},
		{"text scalar", "bad.yaml", "just a string\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			err := os.WriteFile(filepath.Join(dir, tt.file), []byte(tt.content), 0o644)
			require.NoError(t, err)

			var buf bytes.Buffer
			reg, err := NewRegistry(dir, logging.New(&buf, false))
			require.NoError(t, err)
			defer reg.Close()

			store, err := Open[[]string](reg, "bad")
			require.NoError(t, err)

			assert.Equal(t, 0, store.Len())
			assert.Contains(t, buf.String(), "level=CRITICAL")
		})
	}
}

func TestStore_CorruptDataPagesReset(t *testing.T) {
	dir := t.TempDir()

	reg := newTestRegistry(t, dir)
	store, err := Open[string](reg, "names")
	require.NoError(t, err)
	for _, key := range []string{"a", "b", "c"} {
		_, err := store.GetOrCompute(key, func() (string, error) { return key + key, nil })
		require.NoError(t, err)
	}
	require.NoError(t, reg.Close())

	// Keep both meta pages valid and scribble over everything after them
	binPath, _ := snapshotPaths(dir, "names")
	data, err := os.ReadFile(binPath)
	require.NoError(t, err)
	pageSize := os.Getpagesize()
	require.Greater(t, len(data), 2*pageSize)
	for i := 2 * pageSize; i < len(data); i++ {
		data[i] = 0xAB
	}
	require.NoError(t, os.WriteFile(binPath, data, 0o600))

	var buf bytes.Buffer
	reg2, err := NewRegistry(dir, logging.New(&buf, false))
	require.NoError(t, err)
	defer reg2.Close()

	var store2 *Store[string]
	require.NotPanics(t, func() {
		store2, err = Open[string](reg2, "names")
	})
	require.NoError(t, err)
	assert.Equal(t, 0, store2.Len())
	assert.Contains(t, buf.String(), "level=CRITICAL")
}

func TestStore_LockedSnapshotIsNotReset(t *testing.T) {
	dir := t.TempDir()

	reg := newTestRegistry(t, dir)
	store, err := Open[string](reg, "names")
	require.NoError(t, err)
	_, err = store.GetOrCompute("a", func() (string, error) { return "b", nil })
	require.NoError(t, err)
	require.NoError(t, reg.Close())

	// A writer holding the database keeps readers out until the timeout
	binPath, _ := snapshotPaths(dir, "names")
	holder, err := bbolt.Open(binPath, 0o600, nil)
	require.NoError(t, err)
	defer holder.Close()

	var buf bytes.Buffer
	reg2, err := NewRegistry(dir, logging.New(&buf, false))
	require.NoError(t, err)

	_, err = Open[string](reg2, "names")
	require.Error(t, err)
	assert.ErrorIs(t, err, bbolt.ErrTimeout)
	assert.NotContains(t, buf.String(), "level=CRITICAL")

	// Nothing was registered, so closing leaves the snapshot alone
	require.NoError(t, reg2.Close())
	require.NoError(t, holder.Close())

	reg3 := newTestRegistry(t, dir)
	defer reg3.Close()
	store3, err := Open[string](reg3, "names")
	require.NoError(t, err)
	v, ok := store3.Get("a")
	require.True(t, ok)
	assert.Equal(t, "b", v)
}

func TestRegistry_OpenSameNameTwice(t *testing.T) {
	reg := newTestRegistry(t, t.TempDir())
	defer reg.Close()

	a, err := Open[string](reg, "one")
	require.NoError(t, err)
	b, err := Open[string](reg, "one")
	require.NoError(t, err)
	assert.Same(t, a, b)

	_, err = Open[int](reg, "one")
	assert.Error(t, err)
}

func TestRegistry_CloseTwice(t *testing.T) {
	reg := newTestRegistry(t, t.TempDir())

	require.NoError(t, reg.Close())
	assert.NoError(t, reg.Close())

	_, err := Open[string](reg, "late")
	assert.Error(t, err)
}

func TestStore_UntypedValuesRoundTrip(t *testing.T) {
	dir := t.TempDir()

	reg := newTestRegistry(t, dir)
	store, err := Open[map[string]any](reg, "raw")
	require.NoError(t, err)
	_, err = store.GetOrCompute("k", func() (map[string]any, error) {
		return map[string]any{"cross_section": "1.5"}, nil
	})
	require.NoError(t, err)
	require.NoError(t, reg.Close())

	reg2 := newTestRegistry(t, dir)
	defer reg2.Close()
	store2, err := Open[map[string]any](reg2, "raw")
	require.NoError(t, err)

	got, ok := store2.Get("k")
	require.True(t, ok)
	assert.Equal(t, "1.5", got["cross_section"])
}
