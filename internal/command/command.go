// Package command runs the external tools afw depends on (dasgoclient, hadd).
package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/ua-hep/afw/internal/logging"
)

// Commander interface for testing
type Commander interface {
	Run() error
	Output() ([]byte, error)
}

// ExecFunc creates a Commander for a program and its arguments
type ExecFunc func(ctx context.Context, name string, args ...string) Commander

// Runner executes external commands
type Runner struct {
	execCommand ExecFunc
	logger      *slog.Logger
}

// NewRunner creates a runner backed by os/exec
func NewRunner(logger *slog.Logger) *Runner {
	return &Runner{
		execCommand: func(ctx context.Context, name string, args ...string) Commander {
			return exec.CommandContext(ctx, name, args...)
		},
		logger: logging.OrDiscard(logger),
	}
}

// NewRunnerWithExec creates a runner using a custom exec function
func NewRunnerWithExec(execFn ExecFunc, logger *slog.Logger) *Runner {
	return &Runner{
		execCommand: execFn,
		logger:      logging.OrDiscard(logger),
	}
}

// Output runs the command and returns its standard output.
// Standard error is attached to the returned error when the command fails.
func (r *Runner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	r.logger.Debug("Running command", "command", name+" "+strings.Join(args, " "))

	c := r.execCommand(ctx, name, args...)
	var stderr bytes.Buffer
	if cmd, ok := c.(*exec.Cmd); ok {
		cmd.Stderr = &stderr
	}

	out, err := c.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("%s exited with code %d: %s", name, exitErr.ExitCode(), strings.TrimSpace(stderr.String()))
		}

		return nil, fmt.Errorf("failed to run %s: %w", name, err)
	}

	return out, nil
}

// Run runs the command with its output attached to the terminal and
// returns the exit code. A command that cannot be started is an error.
func (r *Runner) Run(ctx context.Context, name string, args ...string) (int, error) {
	r.logger.Debug("Running command", "command", name+" "+strings.Join(args, " "))

	c := r.execCommand(ctx, name, args...)
	if cmd, ok := c.(*exec.Cmd); ok {
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	}

	err := c.Run()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode(), nil
		}

		return -1, fmt.Errorf("failed to run %s: %w", name, err)
	}

	return 0, nil
}
