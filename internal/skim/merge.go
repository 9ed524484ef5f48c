package skim

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/ua-hep/afw/internal/command"
	"github.com/ua-hep/afw/internal/logging"
)

// DefaultHadd is the ROOT merge tool, looked up on PATH
const DefaultHadd = "hadd"

// Merger combines per-partition skims into the merged layout
type Merger struct {
	runner *command.Runner
	hadd   string
	logger *slog.Logger
}

// NewMerger creates a merger running haddPath through runner
func NewMerger(runner *command.Runner, haddPath string, logger *slog.Logger) *Merger {
	if haddPath == "" {
		haddPath = DefaultHadd
	}

	return &Merger{
		runner: runner,
		hadd:   haddPath,
		logger: logging.OrDiscard(logger),
	}
}

// Merge writes <skimRoot>/merged/<dir>.root for every partition directory
// of skimRoot. Nothing happens if the merged directory already exists. A
// failing hadd is logged and the remaining directories are still merged.
func (m *Merger) Merge(ctx context.Context, skimRoot string) error {
	entries, err := os.ReadDir(skimRoot)
	if err != nil {
		return fmt.Errorf("failed to read skim directory: %w", err)
	}

	mergedDir := filepath.Join(skimRoot, MergedDir)
	for _, entry := range entries {
		if entry.Name() == MergedDir {
			logging.Critical(m.logger, "Merged directory exists, skipping", "dir", mergedDir)
			return nil
		}
	}

	if err := os.MkdirAll(mergedDir, 0o755); err != nil {
		return fmt.Errorf("failed to create merged directory: %w", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		if err := ctx.Err(); err != nil {
			return err
		}

		dir := filepath.Join(skimRoot, entry.Name())
		parts, err := listParts(dir)
		if err != nil {
			return err
		}

		if len(parts) == 0 {
			m.logger.Warn("Skipping directory as it doesn't contain any root files", "dir", dir)
			continue
		}

		target := filepath.Join(mergedDir, entry.Name()+rootExt)

		if len(parts) == 1 {
			m.logger.Debug("Copying single part", "source", parts[0], "target", target)
			if err := copyFile(filepath.Join(dir, parts[0]), target); err != nil {
				return fmt.Errorf("failed to copy %s: %w", parts[0], err)
			}
			continue
		}

		args := []string{target}
		for _, part := range parts {
			args = append(args, filepath.Join(dir, part))
		}

		code, err := m.runner.Run(ctx, m.hadd, args...)
		if err != nil {
			return err
		}

		if code != 0 {
			logging.Critical(m.logger, "hadd returned with non-zero return code", "dir", dir, "code", code)
			continue
		}

		m.logger.Info("Merged skim", "target", target, "parts", len(parts))
	}

	return nil
}

func copyFile(src, dst string) error {
	srcFile, err := os.Open(src)
	if err != nil {
		return err
	}

	defer srcFile.Close()

	dstFile, err := os.Create(dst)
	if err != nil {
		return err
	}

	defer dstFile.Close()

	if _, err := io.Copy(dstFile, srcFile); err != nil {
		return err
	}

	// Preserve file permissions
	srcInfo, err := os.Stat(src)
	if err != nil {
		return err
	}

	return os.Chmod(dst, srcInfo.Mode())
}
