package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/quatton/catmap-adapter/pkg/archive"
	"github.com/quatton/catmap-adapter/pkg/catmap"
	"github.com/quatton/catmap-adapter/pkg/qerr"
)

var (
	runParams string
	runName   string
	runJSON   bool
)

var runCmd = &cobra.Command{
	Use:   "run -p params.yaml",
	Short: "Prepare, run and parse a CatMAP model locally",
	Long: `Prepare the inputs in a new run directory, run the configured Python
interpreter on the driver script, parse the outputs and archive the outcome.

Examples:
  catmapctl run -p co_oxidation.yaml
  catmapctl run -p co_oxidation.yaml --name co-ox --json > outcome.json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		params, err := catmap.LoadParameters(runParams)
		if err != nil {
			return qerr.New(qerr.CodeValidation, err)
		}

		p, closeBackends, err := openPipeline(cmd)
		if err != nil {
			return err
		}
		defer closeBackends()

		rec, err := p.Run(cmd.Context(), runName, params)
		if err != nil {
			return err
		}

		if runJSON {
			if err := printJSON(cmd.OutOrStdout(), rec); err != nil {
				return err
			}
		} else {
			printRecord(cmd, rec)
		}
		if rec.Status == archive.StatusFailed {
			_ = closeBackends()
			os.Exit(rec.ExitStatus)
		}
		return nil
	},
}

func printRecord(cmd *cobra.Command, rec *archive.Record) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Run:     %s\n", rec.RunID)
	if rec.Name != "" {
		fmt.Fprintf(out, "Name:    %s\n", rec.Name)
	}
	fmt.Fprintf(out, "Status:  %s\n", rec.Status)
	if rec.Status == archive.StatusFailed {
		fmt.Fprintf(out, "Code:    %s (exit status %d)\n", rec.Code, rec.ExitStatus)
		fmt.Fprintf(out, "Error:   %s\n", rec.Message)
	}
	if rec.Bundle != nil {
		fmt.Fprintf(out, "Result:  %s\n", rec.Bundle.Summary())
	}
	fmt.Fprintf(out, "Log:     %d bytes\n", len(rec.Log))
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVarP(&runParams, "params", "p", "", "run parameter file (YAML or JSON)")
	runCmd.Flags().StringVar(&runName, "name", "", "name recorded with the outcome")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "print the outcome record as JSON")
	_ = runCmd.MarkFlagRequired("params")
}
