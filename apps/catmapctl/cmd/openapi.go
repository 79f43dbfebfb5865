package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/quatton/catmap-adapter/pkg/qapi"
	"github.com/quatton/catmap-adapter/pkg/qapi/routes"
)

var (
	openapiOutput    string
	openapiDowngrade bool
)

var openapiCmd = &cobra.Command{
	Use:   "openapi",
	Short: "Generate the OpenAPI specification",
	Long:  `Outputs the OpenAPI document of the HTTP API without opening any backend.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		api := qapi.NewApi()
		routes.RegisterAPI(api.Api, nil)

		var (
			doc []byte
			err error
		)
		if openapiDowngrade {
			doc, err = api.Api.OpenAPI().Downgrade()
		} else {
			doc, err = json.Marshal(api.Api.OpenAPI())
		}
		if err != nil {
			return fmt.Errorf("failed to generate OpenAPI document: %w", err)
		}

		if openapiOutput == "" {
			fmt.Fprintln(cmd.OutOrStdout(), string(doc))
			return nil
		}
		if err := os.WriteFile(openapiOutput, doc, 0644); err != nil {
			return fmt.Errorf("failed to write OpenAPI document to %s: %w", openapiOutput, err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(openapiCmd)
	openapiCmd.Flags().StringVarP(&openapiOutput, "output", "o", "", "write output to file (default stdout)")
	openapiCmd.Flags().BoolVar(&openapiDowngrade, "downgrade", true, "downgrade OpenAPI to 3.0")
}
