package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quatton/catmap-adapter/pkg/catmap"
	"github.com/quatton/catmap-adapter/pkg/folder"
)

var (
	parseDir      string
	parseStdout   string
	parseDataFile string
	parseJSON     bool
)

var parseCmd = &cobra.Command{
	Use:   "parse -d dir",
	Short: "Parse the outputs of a finished CatMAP run",
	Long: `Check that a directory holds the stdout capture and the data file of a
finished run and decode the coverage, rate and production rate tables.

Exit status is 100 when an output file is missing and 500 when the data file
holds no usable result.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := GetConfig(cmd)
		if err != nil {
			return err
		}
		stdoutName := parseStdout
		if stdoutName == "" {
			stdoutName = cfg.OutputFilename
		}

		bundle, err := catmap.NewParser(GetLogger(cmd)).Parse(cmd.Context(), folder.NewLocal(parseDir), catmap.ExpectedOutputs{
			StdoutName: stdoutName,
			DataFile:   parseDataFile,
		})
		if err != nil {
			return err
		}

		if parseJSON {
			return printJSON(cmd.OutOrStdout(), bundle)
		}
		fmt.Fprintln(cmd.OutOrStdout(), bundle.Summary())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(parseCmd)
	parseCmd.Flags().StringVarP(&parseDir, "dir", "d", ".", "directory holding the retrieved files")
	parseCmd.Flags().StringVar(&parseStdout, "stdout", "", "stdout capture name (default from config)")
	parseCmd.Flags().StringVar(&parseDataFile, "data-file", catmap.DefaultDataFile, "data file name")
	parseCmd.Flags().BoolVar(&parseJSON, "json", false, "print the full result bundle as JSON")
}
