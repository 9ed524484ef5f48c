package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ua-hep/afw/internal/cache"
	"github.com/ua-hep/afw/internal/command"
	"github.com/ua-hep/afw/internal/config"
	"github.com/ua-hep/afw/internal/dataset"
	"github.com/ua-hep/afw/internal/definitions"
	"github.com/ua-hep/afw/internal/logging"
	"github.com/ua-hep/afw/internal/resolver"
	"github.com/ua-hep/afw/internal/skim"
	"github.com/ua-hep/afw/internal/veto"
)

// app carries what every command needs: configuration, a logger and the
// cache registry. Close must be called to persist cache entries.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *cache.Registry
	runner   *command.Runner
}

func newApp(cmd *cobra.Command) (*app, error) {
	cfg, err := config.NewLoader().LoadForCommand(cmd)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger := logging.New(cmd.ErrOrStderr(), cfg.Verbose)
	logger.Debug("Loaded config", "definitions", cfg.DefinitionsFile, "cache", cfg.CacheDir, "skims", cfg.SkimDir)

	registry, err := cache.NewRegistry(cfg.CacheDir, logger)
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		runner:   command.NewRunner(logger),
	}, nil
}

func (a *app) Close() error {
	return a.registry.Close()
}

func (a *app) loadDefinitions() (definitions.Definitions, error) {
	return definitions.NewLoader(a.cfg.CollisionPolicy, a.logger).Load(a.cfg.DefinitionsFile)
}

// selectEras returns the configured eras, or every era in defs
func (a *app) selectEras(defs definitions.Definitions) ([]string, error) {
	if len(a.cfg.Eras) == 0 {
		return defs.Eras(), nil
	}

	for _, era := range a.cfg.Eras {
		if _, ok := defs[era]; !ok {
			return nil, fmt.Errorf("era %s is not in %s", era, a.cfg.DefinitionsFile)
		}
	}

	return a.cfg.Eras, nil
}

func (a *app) resolvers() (resolver.Set, error) {
	rucioStore, err := cache.Open[[]string](a.registry, resolver.RucioStore)
	if err != nil {
		return resolver.Set{}, err
	}

	dasStore, err := cache.Open[[]resolver.DASRecord](a.registry, resolver.DASStore)
	if err != nil {
		return resolver.Set{}, err
	}

	xsecStore, err := cache.Open[[]resolver.XSecResult](a.registry, resolver.XSecStore)
	if err != nil {
		return resolver.Set{}, err
	}

	overrides, err := resolver.LoadOverrides(a.cfg.OverridesFile, a.logger)
	if err != nil {
		return resolver.Set{}, err
	}

	return resolver.Set{
		Identifiers: resolver.NewRucioResolver(resolver.RucioConfig{
			Host:  a.cfg.RucioHost,
			Token: a.cfg.RucioToken,
			Scope: a.cfg.RucioScope,
		}, rucioStore, a.logger),
		Files: resolver.NewDASEnumerator(a.runner, a.cfg.DASClientPath, dasStore, a.logger),
		Factors: resolver.NewXSecResolver(resolver.XSecConfig{
			URL:            a.cfg.XSecURL,
			CookieFile:     a.cfg.CookieFile,
			VersionPattern: a.cfg.VersionPattern,
			Overrides:      overrides,
		}, xsecStore, a.logger),
	}, nil
}

// buildFilesets builds every selected era. Unless raw is set, an era whose
// skim directory exists is rewritten to its skims.
func (a *app) buildFilesets(ctx context.Context, raw bool) (map[string]dataset.Fileset, []string, error) {
	defs, err := a.loadDefinitions()
	if err != nil {
		return nil, nil, err
	}

	eras, err := a.selectEras(defs)
	if err != nil {
		return nil, nil, err
	}

	resolvers, err := a.resolvers()
	if err != nil {
		return nil, nil, err
	}

	builder := dataset.NewBuilder(resolvers, veto.New(a.cfg.VetoFile), a.logger)
	converter := skim.NewConverter(a.cfg.SkimNaming, a.logger)

	result := make(map[string]dataset.Fileset, len(eras))
	for _, era := range eras {
		a.logger.Info("Building fileset", "era", era)

		fileset, err := builder.Build(ctx, defs[era], a.cfg.Redirector)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to build era %s: %w", era, err)
		}

		skimDir := a.cfg.EraSkimDir(era)
		if !raw && isDir(skimDir) {
			a.logger.Info("Using skims", "era", era, "dir", skimDir)

			fileset, err = converter.Convert(fileset, skimDir)
			if err != nil {
				return nil, nil, fmt.Errorf("failed to use skims for era %s: %w", era, err)
			}
		}

		result[era] = fileset
	}

	return result, eras, nil
}

// combine merges per-era filesets in era order. A dataset present in
// several eras keeps its last definition.
func (a *app) combine(filesets map[string]dataset.Fileset, eras []string) dataset.Fileset {
	combined := make(dataset.Fileset)
	for _, era := range eras {
		for name, ds := range filesets[era] {
			if _, ok := combined[name]; ok {
				a.logger.Warn("Dataset appears in several eras, keeping the later one", "dataset", name, "era", era)
			}

			combined[name] = ds
		}
	}

	return combined
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
