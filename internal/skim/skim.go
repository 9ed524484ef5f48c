// Package skim swaps a fileset's remote files for locally stored skims.
//
// A skim root holds either a merged layout, one file per dataset:
//
//	<root>/merged/<name>.root
//
// or a per-partition layout, one directory per dataset:
//
//	<root>/<name>/*.root
//
// The merged layout wins whenever the merged directory exists.
package skim

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ua-hep/afw/internal/dataset"
	"github.com/ua-hep/afw/internal/logging"
)

// MergedDir is the subdirectory of a skim root holding merged skims
const MergedDir = "merged"

const rootExt = ".root"

// Converter rewrites filesets to point at skims
type Converter struct {
	naming Naming
	logger *slog.Logger
}

// NewConverter creates a converter using naming for skim names
func NewConverter(naming Naming, logger *slog.Logger) *Converter {
	return &Converter{
		naming: naming,
		logger: logging.OrDiscard(logger),
	}
}

// Convert returns a new fileset whose files are the skims found under
// skimRoot. Datasets without skims are dropped. fileset is not modified.
func (c *Converter) Convert(fileset dataset.Fileset, skimRoot string) (dataset.Fileset, error) {
	names := fileset.Names()
	if err := checkCollisions(names, c.naming); err != nil {
		return nil, err
	}

	root, err := filepath.Abs(skimRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve skim root: %w", err)
	}

	mergedDir := filepath.Join(root, MergedDir)
	hasMerged := isDir(mergedDir)
	if hasMerged {
		c.logger.Info("Using merged skim files", "dir", mergedDir)
	}

	result := make(dataset.Fileset, len(fileset))
	for _, name := range names {
		c.logger.Debug("Reading dataset from disk", "dataset", name)

		skimName := c.naming.Name(name)

		var files []string
		if hasMerged {
			files = []string{filepath.Join(mergedDir, skimName+rootExt)}
		} else {
			dir := filepath.Join(root, skimName)
			if !isDir(dir) {
				logging.Critical(c.logger, "Dataset does not have skims, skipping (directory does not exist)",
					"dataset", name, "dir", dir)
				continue
			}

			parts, err := listParts(dir)
			if err != nil {
				return nil, err
			}

			if len(parts) == 0 {
				logging.Critical(c.logger, "Dataset does not have skims, skipping (directory has no root files)",
					"dataset", name, "dir", dir)
				continue
			}

			for _, part := range parts {
				files = append(files, filepath.Join(dir, part))
			}
		}

		c.logger.Debug("Loaded dataset", "dataset", name, "files", len(files))

		fm := dataset.NewFileMap()
		for _, f := range files {
			fm.Add(f, dataset.DefaultTreeName)
		}

		result[name] = &dataset.Dataset{
			Files:    fm,
			Metadata: fileset[name].Metadata.Clone(),
		}
	}

	return result, nil
}

// listParts returns the sorted .root file names in dir
func listParts(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read skim directory: %w", err)
	}

	var parts []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		if strings.HasSuffix(entry.Name(), rootExt) {
			parts = append(parts, entry.Name())
		}
	}

	sort.Strings(parts)
	return parts, nil
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
