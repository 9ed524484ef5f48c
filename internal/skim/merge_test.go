package skim

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ua-hep/afw/internal/command"
	"github.com/ua-hep/afw/internal/logging"
)

// mockCommander implements command.Commander for testing
type mockCommander struct {
	runFunc func() error
}

func (m *mockCommander) Run() error {
	return m.runFunc()
}

func (m *mockCommander) Output() ([]byte, error) {
	return nil, errors.New("not implemented")
}

func execExit(ctx context.Context, code int) command.Commander {
	return exec.CommandContext(ctx, "sh", "-c", fmt.Sprintf("exit %d", code))
}

type call struct {
	name string
	args []string
}

func newRecordingRunner(calls *[]call, runErr error) *command.Runner {
	return command.NewRunnerWithExec(func(ctx context.Context, name string, args ...string) command.Commander {
		*calls = append(*calls, call{name: name, args: args})
		return &mockCommander{runFunc: func() error { return runErr }}
	}, nil)
}

func TestMerger_Merge(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "A", "part1.root"))
	touch(t, filepath.Join(root, "A", "part0.root"))
	touch(t, filepath.Join(root, "B", "only.root"))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "Empty"), 0o755))

	var calls []call
	var buf bytes.Buffer
	merger := NewMerger(newRecordingRunner(&calls, nil), "", logging.New(&buf, false))

	require.NoError(t, merger.Merge(context.Background(), root))

	require.Len(t, calls, 1)
	assert.Equal(t, DefaultHadd, calls[0].name)
	assert.Equal(t, []string{
		filepath.Join(root, "merged", "A.root"),
		filepath.Join(root, "A", "part0.root"),
		filepath.Join(root, "A", "part1.root"),
	}, calls[0].args)

	data, err := os.ReadFile(filepath.Join(root, "merged", "B.root"))
	require.NoError(t, err)
	assert.Equal(t, "root", string(data))

	assert.Contains(t, buf.String(), "level=WARN")
	assert.Contains(t, buf.String(), "Empty")
}

func TestMerger_SkipsWhenMergedExists(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "A", "part0.root"))
	touch(t, filepath.Join(root, "A", "part1.root"))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "merged"), 0o755))

	var calls []call
	var buf bytes.Buffer
	merger := NewMerger(newRecordingRunner(&calls, nil), "hadd", logging.New(&buf, false))

	require.NoError(t, merger.Merge(context.Background(), root))
	assert.Empty(t, calls)
	assert.Contains(t, buf.String(), "level=CRITICAL")
}

func TestMerger_HaddFailureContinues(t *testing.T) {
	root := t.TempDir()
	for _, dir := range []string{"A", "B"} {
		touch(t, filepath.Join(root, dir, "part0.root"))
		touch(t, filepath.Join(root, dir, "part1.root"))
	}

	var calls []call
	var buf bytes.Buffer
	runner := command.NewRunnerWithExec(func(ctx context.Context, name string, args ...string) command.Commander {
		calls = append(calls, call{name: name, args: args})
		return execExit(ctx, 1)
	}, nil)

	merger := NewMerger(runner, "hadd", logging.New(&buf, false))
	require.NoError(t, merger.Merge(context.Background(), root))

	assert.Len(t, calls, 2)
	assert.Contains(t, buf.String(), "level=CRITICAL")
	assert.Contains(t, buf.String(), "code=1")
}

func TestMerger_HaddMissingIsFatal(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "A", "part0.root"))
	touch(t, filepath.Join(root, "A", "part1.root"))

	var calls []call
	merger := NewMerger(newRecordingRunner(&calls, errors.New("executable file not found")), "hadd", nil)

	err := merger.Merge(context.Background(), root)
	assert.Error(t, err)
}

func TestMerger_MissingRoot(t *testing.T) {
	merger := NewMerger(command.NewRunner(nil), "hadd", nil)
	err := merger.Merge(context.Background(), filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}
