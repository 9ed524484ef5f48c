// Package dataset builds filesets: the datasets an analysis runs over, each
// with its concrete file list and metadata (event count, normalization
// factor).
package dataset

import (
	"fmt"
	"sort"

	"github.com/ua-hep/afw/internal/definitions"
)

// DefaultTreeName is the event tree inside every NanoAOD file
const DefaultTreeName = "Events"

// Dataset is one catalog identifier with its files and metadata
type Dataset struct {
	Files    *FileMap             `json:"files" yaml:"files"`
	Metadata definitions.Metadata `json:"metadata" yaml:"metadata"`
}

// Fileset maps a dataset identifier to its dataset. This is the shape the
// processing engine consumes.
type Fileset map[string]*Dataset

// Names returns the dataset identifiers in sorted order
func (f Fileset) Names() []string {
	names := make([]string, 0, len(f))
	for name := range f {
		names = append(names, name)
	}

	sort.Strings(names)
	return names
}

// Select returns a fileset holding only the named dataset
func (f Fileset) Select(name string) (Fileset, error) {
	ds, ok := f[name]
	if !ok {
		return nil, fmt.Errorf("dataset %s is not in the fileset", name)
	}

	return Fileset{name: ds}, nil
}

// FileCount returns the total number of files across datasets
func (f Fileset) FileCount() int {
	total := 0
	for _, ds := range f {
		total += ds.Files.Len()
	}

	return total
}
