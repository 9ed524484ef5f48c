package cmd

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/ua-hep/afw/internal/skim"
)

var mergeSkimsCmd = &cobra.Command{
	Use:   "merge-skims",
	Short: "Merge multi-part skims into one file per dataset",
	Long: `Merge the per-partition skims of each era into <skim-dir>/<era>/merged
using hadd. Eras that already have a merged directory are left alone.`,
	Args:         cobra.NoArgs,
	RunE:         runMergeSkims,
	SilenceUsage: true,
}

func runMergeSkims(cmd *cobra.Command, args []string) (err error) {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}

	defer func() {
		err = errors.Join(err, a.Close())
	}()

	eras := a.cfg.Eras
	if len(eras) == 0 {
		defs, err := a.loadDefinitions()
		if err != nil {
			return err
		}

		eras = defs.Eras()
	}

	merger := skim.NewMerger(a.runner, a.cfg.HaddPath, a.logger)
	for _, era := range eras {
		dir := a.cfg.EraSkimDir(era)
		if !isDir(dir) {
			a.logger.Warn("Era has no skims, skipping", "era", era, "dir", dir)
			continue
		}

		a.logger.Info("Merging skims", "era", era, "dir", dir)
		if err := merger.Merge(cmd.Context(), dir); err != nil {
			return err
		}
	}

	return nil
}
