package dataset

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ua-hep/afw/internal/definitions"
	"github.com/ua-hep/afw/internal/logging"
	"github.com/ua-hep/afw/internal/resolver"
)

// VetoChecker reports whether a file must be skipped
type VetoChecker interface {
	IsVetoed(file string) (bool, error)
}

// Builder turns an era's definitions into a populated fileset
type Builder struct {
	resolvers resolver.Set
	veto      VetoChecker
	tree      string
	logger    *slog.Logger
}

// NewBuilder creates a builder using the given resolvers and veto list
func NewBuilder(resolvers resolver.Set, veto VetoChecker, logger *slog.Logger) *Builder {
	return &Builder{
		resolvers: resolvers,
		veto:      veto,
		tree:      DefaultTreeName,
		logger:    logging.OrDiscard(logger),
	}
}

// Build resolves every pattern of era into datasets, enumerates their
// files under replicaHost, attaches normalization factors to simulated
// datasets and drops datasets left without files.
//
// Per-dataset problems are logged and skipped. Build only fails when the
// identifier client cannot be built, a credential is missing, the veto
// list cannot be read or the file catalog returns a malformed answer.
func (b *Builder) Build(ctx context.Context, era definitions.Era, replicaHost string) (Fileset, error) {
	result := make(Fileset)
	var order []string

	for _, pattern := range era.Patterns() {
		ids, err := b.resolvers.Identifiers.ResolveIdentifiers(ctx, pattern)
		if err != nil {
			if errors.Is(err, resolver.ErrServiceUnavailable) {
				return nil, fmt.Errorf("failed to resolve %s: %w", pattern, err)
			}

			logging.Critical(b.logger, "Failed to resolve pattern, skipping", "pattern", pattern, "error", err)
			continue
		}

		if len(ids) == 0 {
			b.logger.Warn("Pattern matched no datasets", "pattern", pattern)
		}

		for _, id := range ids {
			if _, seen := result[id]; !seen {
				order = append(order, id)
			}

			result[id] = &Dataset{Metadata: era[pattern].Clone()}
		}
	}

	for _, id := range order {
		if err := b.populateFiles(ctx, id, result[id], replicaHost); err != nil {
			return nil, err
		}
	}

	for _, id := range order {
		if err := b.attachFactor(ctx, id, result[id]); err != nil {
			return nil, err
		}
	}

	for _, id := range order {
		ds := result[id]
		if ds.Files.Len() == 0 {
			logging.Critical(b.logger, "Fileset has zero files", "dataset", id, "shortName", ds.Metadata.ShortName())
			delete(result, id)
		}
	}

	return result, nil
}

func (b *Builder) populateFiles(ctx context.Context, id string, ds *Dataset, replicaHost string) error {
	ds.Files = NewFileMap()
	ds.Metadata[definitions.KeyEventCount] = int64(0)

	records, err := b.resolvers.Files.EnumerateFiles(ctx, id)
	if err != nil {
		if errors.Is(err, resolver.ErrMalformedResponse) {
			return err
		}

		logging.Critical(b.logger, "Failed to enumerate files", "dataset", id, "error", err)
		return nil
	}

	var events int64
	for _, record := range records {
		vetoed, err := b.veto.IsVetoed(record.Name)
		if err != nil {
			return err
		}

		if vetoed {
			logging.Critical(b.logger, "Skipping file due to entry in veto list", "dataset", id, "file", record.Name)
			continue
		}

		if record.Events == nil {
			logging.Critical(b.logger, "File is missing an event count", "dataset", id, "file", record.Name)
			continue
		}

		if *record.Events == 0 {
			b.logger.Warn("Skipping file due to 0 events", "dataset", id, "file", record.Name)
			continue
		}

		path := replicaHost + record.Name
		if ds.Files.Has(path) {
			b.logger.Warn("Skipping duplicate file", "dataset", id, "file", record.Name)
			continue
		}

		ds.Files.Add(path, b.tree)
		events += *record.Events
	}

	ds.Metadata[definitions.KeyEventCount] = events
	return nil
}

func (b *Builder) attachFactor(ctx context.Context, id string, ds *Dataset) error {
	if ds.Metadata.IsMeasuredData() {
		return nil
	}

	if ds.Metadata.HasNormalizationFactor() {
		if _, ok := ds.Metadata.NormalizationFactor(); !ok {
			logging.Critical(b.logger, "Normalization factor in definition is not a number", "dataset", id,
				"value", ds.Metadata[definitions.KeyNormalizationFactor])
		}

		b.logger.Debug("Skipping xsecdb for fileset as already present in definition", "dataset", id)
		return nil
	}

	// A dataset that will be pruned does not need a factor
	if ds.Files.Len() == 0 {
		return nil
	}

	factor, ok, err := b.resolvers.Factors.ResolveFactor(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to resolve normalization factor for %s: %w", id, err)
	}

	if ok {
		ds.Metadata[definitions.KeyNormalizationFactor] = factor
	}

	return nil
}
