package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ua-hep/afw/internal/version"
)

var rootCmd = &cobra.Command{
	Use:   "afw",
	Short: "Analysis framework dataset tooling",
	Long: `Resolve dataset definitions into file listings with event counts and
normalization factors, and manage local skims of those datasets.`,
	SilenceUsage: true,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.Version = fmt.Sprintf("%s (%s) %s", version.Version, version.Commit, version.BuildTime)
	addPersistentFlags(rootCmd)
	rootCmd.AddCommand(filesetCmd)
	rootCmd.AddCommand(filesCmd)
	rootCmd.AddCommand(mergeSkimsCmd)
}

func addPersistentFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringP("definitions", "d", "", "Dataset definitions file")
	cmd.PersistentFlags().StringSliceP("era", "e", []string{}, "Eras to process (default: all)")
	cmd.PersistentFlags().String("cache-dir", "", "Directory holding lookup caches")
	cmd.PersistentFlags().String("veto-file", "", "File listing files to skip")
	cmd.PersistentFlags().String("overrides-file", "", "Cross-section overrides file")
	cmd.PersistentFlags().StringP("xrd-redirector", "x", "", "XRootD redirector for all files")
	cmd.PersistentFlags().StringP("skim-dir", "S", "", "Base path of local skims")
	cmd.PersistentFlags().String("naming", "", "Skim naming: plain or hashed")
	cmd.PersistentFlags().BoolP("verbose", "v", false, "Verbose output")
}
