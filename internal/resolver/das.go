package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ua-hep/afw/internal/cache"
	"github.com/ua-hep/afw/internal/command"
	"github.com/ua-hep/afw/internal/logging"
)

const (
	// DASStore is the cache store name for file queries
	DASStore = "dasgoclient"

	// DefaultDASClient is the dasgoclient location on CVMFS
	DefaultDASClient = "/cvmfs/cms.cern.ch/common/dasgoclient"
)

// DASFile is a file object as reported by dasgoclient
type DASFile struct {
	Name    string `json:"name" yaml:"name"`
	NEvents *int64 `json:"nevents,omitempty" yaml:"nevents,omitempty"`
}

// DASRecord is one entry of a "file dataset=..." answer. Each record is
// expected to wrap exactly one file.
type DASRecord struct {
	File []DASFile `json:"file" yaml:"file"`
}

// DASEnumerator implements FileEnumerator with dasgoclient
type DASEnumerator struct {
	runner *command.Runner
	path   string
	store  *cache.Store[[]DASRecord]
	logger *slog.Logger
}

// NewDASEnumerator creates an enumerator running the dasgoclient at path
func NewDASEnumerator(runner *command.Runner, path string, store *cache.Store[[]DASRecord], logger *slog.Logger) *DASEnumerator {
	if path == "" {
		path = DefaultDASClient
	}

	return &DASEnumerator{
		runner: runner,
		path:   path,
		store:  store,
		logger: logging.OrDiscard(logger),
	}
}

// Query runs a raw DAS query and decodes the JSON answer
func (d *DASEnumerator) Query(ctx context.Context, query string) ([]DASRecord, error) {
	lookup := func() ([]DASRecord, error) {
		d.logger.Debug("Loading from dasgoclient", "query", query)

		out, err := d.runner.Output(ctx, d.path, "-query", query, "-json")
		if err != nil {
			return nil, err
		}

		records := []DASRecord{}
		if err := json.Unmarshal(out, &records); err != nil {
			return nil, fmt.Errorf("%w: dasgoclient output for %q: %v", ErrMalformedResponse, query, err)
		}

		return records, nil
	}

	if d.store == nil {
		return lookup()
	}

	return d.store.GetOrCompute(query, lookup)
}

// EnumerateFiles lists the files of a dataset. A record that does not wrap
// exactly one file is a catalog inconsistency and fails the call.
func (d *DASEnumerator) EnumerateFiles(ctx context.Context, identifier string) ([]FileRecord, error) {
	records, err := d.Query(ctx, "file dataset="+identifier)
	if err != nil {
		return nil, err
	}

	files := make([]FileRecord, 0, len(records))
	for _, record := range records {
		if len(record.File) != 1 {
			return nil, fmt.Errorf("%w: dataset %s has a record with %d files: %+v",
				ErrMalformedResponse, identifier, len(record.File), record.File)
		}

		f := record.File[0]
		files = append(files, FileRecord{Name: f.Name, Events: f.NEvents})
	}

	return files, nil
}
