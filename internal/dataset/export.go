package dataset

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// AllFiles returns every file, dataset after dataset in name order
func AllFiles(fileset Fileset) []string {
	var files []string
	for _, name := range fileset.Names() {
		files = append(files, fileset[name].Files.Paths()...)
	}

	return files
}

// InterleavedFiles returns the first file of every dataset, then the
// second of every dataset, and so on. Copying files in this order makes
// partial copies useful for every dataset.
func InterleavedFiles(fileset Fileset) []string {
	var lists [][]string
	longest := 0
	for _, name := range fileset.Names() {
		paths := fileset[name].Files.Paths()
		lists = append(lists, paths)
		if len(paths) > longest {
			longest = len(paths)
		}
	}

	var files []string
	for i := 0; i < longest; i++ {
		for _, paths := range lists {
			if i < len(paths) {
				files = append(files, paths[i])
			}
		}
	}

	return files
}

// WriteFileList writes one path per line
func WriteFileList(path string, files []string) error {
	var b strings.Builder
	for _, f := range files {
		b.WriteString(f)
		b.WriteByte('\n')
	}

	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("failed to write file list: %w", err)
	}

	return nil
}

// WriteMetadataYAML writes the fileset without file lists, for inspection
func WriteMetadataYAML(path string, fileset Fileset) error {
	preview := make(map[string]map[string]any, len(fileset))
	for name, ds := range fileset {
		preview[name] = map[string]any{"metadata": map[string]any(ds.Metadata)}
	}

	data, err := yaml.Marshal(preview)
	if err != nil {
		return fmt.Errorf("failed to encode dataset preview: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write dataset preview: %w", err)
	}

	return nil
}

// WriteJSON writes the fileset in the processing engine's input format
func WriteJSON(path string, fileset Fileset) error {
	data, err := json.MarshalIndent(fileset, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode fileset: %w", err)
	}

	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write fileset: %w", err)
	}

	return nil
}
