package cmd

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/ua-hep/afw/internal/dataset"
)

var filesetCmd = &cobra.Command{
	Use:   "fileset",
	Short: "Build the fileset of one or more eras",
	Long: `Resolve the dataset definitions into datasets, list their files, attach
event counts and normalization factors, and write the fileset as JSON.
Local skims replace remote files when <skim-dir>/<era> exists.`,
	Args:         cobra.NoArgs,
	RunE:         runFileset,
	SilenceUsage: true,
}

func init() {
	filesetCmd.Flags().StringP("output", "o", "fileset.json", "Output file for the fileset")
	filesetCmd.Flags().Bool("raw", false, "Ignore local skims")
}

func runFileset(cmd *cobra.Command, args []string) (err error) {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}

	defer func() {
		err = errors.Join(err, a.Close())
	}()

	raw, _ := cmd.Flags().GetBool("raw")
	output, _ := cmd.Flags().GetString("output")

	filesets, eras, err := a.buildFilesets(cmd.Context(), raw)
	if err != nil {
		return err
	}

	for _, era := range eras {
		a.logger.Info("Era summary", "era", era)
		dataset.LogSummary(a.logger, filesets[era], true)
	}

	if err := dataset.WriteJSON(output, a.combine(filesets, eras)); err != nil {
		return err
	}

	a.logger.Info("Wrote fileset", "path", output)
	return nil
}
