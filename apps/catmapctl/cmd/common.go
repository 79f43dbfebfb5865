package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/quatton/catmap-adapter/pkg/catmap"
	"github.com/quatton/catmap-adapter/pkg/config"
	"github.com/quatton/catmap-adapter/pkg/pipeline"
	"github.com/quatton/catmap-adapter/pkg/qlog"
	"github.com/quatton/catmap-adapter/pkg/qrunner"
)

func newCalculation(cfg *config.Config, logger *qlog.Logger) *catmap.Calculation {
	return &catmap.Calculation{
		InputFilename:  cfg.InputFilename,
		OutputFilename: cfg.OutputFilename,
		WithMPI:        cfg.WithMPI,
		Logger:         logger,
	}
}

// runState reads run directories without starting anything. Both runner
// backends keep them on the host.
func runState(cfg *config.Config, logger *qlog.Logger) *qrunner.LocalRunner {
	return qrunner.NewLocalRunner(qrunner.WithRunsDir(cfg.RunsDir), qrunner.WithLogger(logger))
}

// openPipeline assembles a pipeline from the config. The returned close
// function releases the archive, artifact and runner connections.
func openPipeline(cmd *cobra.Command) (*pipeline.Pipeline, func() error, error) {
	cfg, err := GetConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	logger := GetLogger(cmd)

	backends, err := cfg.Backends.Open(cmd.Context(), logger)
	if err != nil {
		return nil, nil, err
	}
	runner, err := backends.OpenRunner(cfg.Runner, cfg.RunsDir, logger)
	if err != nil {
		_ = backends.Close()
		return nil, nil, err
	}
	return &pipeline.Pipeline{
		Calculation: newCalculation(cfg, logger),
		Parser:      catmap.NewParser(logger),
		Runner:      runner,
		Archive:     backends.Archive,
		Python:      cfg.Python,
		Env:         cfg.Env,
		Logger:      logger,
	}, backends.Close, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return nil
}
