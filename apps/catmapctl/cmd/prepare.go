package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quatton/catmap-adapter/pkg/catmap"
	"github.com/quatton/catmap-adapter/pkg/folder"
	"github.com/quatton/catmap-adapter/pkg/qerr"
)

var (
	prepareParams  string
	prepareOutDir  string
	prepareNoStage bool
)

var prepareCmd = &cobra.Command{
	Use:   "prepare -p params.yaml -o dir",
	Short: "Write the model file and driver script for a run",
	Long: `Validate a run parameter file (YAML or JSON) and write the CatMAP model
file and driver script into a directory. The energies table is copied next
to them unless --no-stage is given. The manifest is printed as JSON.

Examples:
  catmapctl prepare -p co_oxidation.yaml -o work/
  cd work && python < mkm_job.py > aiida.out`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := GetConfig(cmd)
		if err != nil {
			return err
		}
		logger := GetLogger(cmd)

		params, err := catmap.LoadParameters(prepareParams)
		if err != nil {
			return qerr.New(qerr.CodeValidation, err)
		}

		sandbox := folder.NewLocal(prepareOutDir)
		info, err := newCalculation(cfg, logger).Prepare(cmd.Context(), params, sandbox)
		if err != nil {
			return err
		}
		if !prepareNoStage {
			if err := folder.Stage(cmd.Context(), sandbox, info.LocalCopyList); err != nil {
				return qerr.New(qerr.CodeValidation, err)
			}
		}

		logger.Info(fmt.Sprintf("Prepared inputs in '%s'", prepareOutDir), "model", info.MkmFilename, "driver", info.Code.StdinName)
		return printJSON(cmd.OutOrStdout(), info)
	},
}

func init() {
	rootCmd.AddCommand(prepareCmd)
	prepareCmd.Flags().StringVarP(&prepareParams, "params", "p", "", "run parameter file (YAML or JSON)")
	prepareCmd.Flags().StringVarP(&prepareOutDir, "output", "o", ".", "directory to write the inputs into")
	prepareCmd.Flags().BoolVar(&prepareNoStage, "no-stage", false, "do not copy the energies table")
	_ = prepareCmd.MarkFlagRequired("params")
}
