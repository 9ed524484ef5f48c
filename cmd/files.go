package cmd

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/ua-hep/afw/internal/dataset"
)

var filesCmd = &cobra.Command{
	Use:   "files",
	Short: "Save the file lists of the selected eras",
	Long: `Write every remote file of the selected eras to a list, a second list
ordered round-robin across datasets for incremental copies, and a metadata
preview of the datasets.`,
	Args:         cobra.NoArgs,
	RunE:         runFiles,
	SilenceUsage: true,
}

func init() {
	filesCmd.Flags().StringP("output", "o", "files.txt", "Save all files to this file")
	filesCmd.Flags().StringP("sorted", "s", "files_sorted.txt", "Save all files, interleaved by dataset, to this file")
	filesCmd.Flags().StringP("dataset-file", "O", "dataset.yaml", "Save a preview of the datasets to this file")
	filesCmd.Flags().StringP("dataset", "D", "", "Save only the given dataset")
}

func runFiles(cmd *cobra.Command, args []string) (err error) {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}

	defer func() {
		err = errors.Join(err, a.Close())
	}()

	output, _ := cmd.Flags().GetString("output")
	sorted, _ := cmd.Flags().GetString("sorted")
	preview, _ := cmd.Flags().GetString("dataset-file")
	only, _ := cmd.Flags().GetString("dataset")

	// File lists always name the remote files
	filesets, eras, err := a.buildFilesets(cmd.Context(), true)
	if err != nil {
		return err
	}

	fileset := a.combine(filesets, eras)
	if only != "" {
		fileset, err = fileset.Select(only)
		if err != nil {
			return err
		}
	}

	dataset.LogSummary(a.logger, fileset, true)

	if err := dataset.WriteFileList(output, dataset.AllFiles(fileset)); err != nil {
		return err
	}

	if err := dataset.WriteFileList(sorted, dataset.InterleavedFiles(fileset)); err != nil {
		return err
	}

	if err := dataset.WriteMetadataYAML(preview, fileset); err != nil {
		return err
	}

	a.logger.Info("Wrote file lists", "files", output, "sorted", sorted, "datasets", preview, "count", fileset.FileCount())
	return nil
}
