package cmd

import (
	"context"
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/quatton/catmap-adapter/pkg/config"
	"github.com/quatton/catmap-adapter/pkg/qlog"
)

type contextKey string

const (
	configContextKey contextKey = "catmapconfig"
	loggerContextKey contextKey = "catmaplogger"
)

var (
	cfgFile string
	verbose bool
	quiet   bool

	rootCmd = &cobra.Command{
		Use:   "catmapctl",
		Short: "Prepare, run and parse CatMAP microkinetic models",
		Long: `catmapctl turns a run parameter file into the model file and driver
script CatMAP expects, runs the solver locally and parses the data file it
writes into coverage, rate and production rate tables.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cfgFile)
			if err != nil {
				return err
			}

			if err := cfg.Viper().BindPFlags(cmd.Flags()); err != nil {
				return err
			}

			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}

			ctx := context.WithValue(cmd.Context(), configContextKey, cfg)
			ctx = context.WithValue(ctx, loggerContextKey, logger)
			cmd.SetContext(ctx)

			return nil
		},
	}
)

func newLogger(cfg *config.Config) (*qlog.Logger, error) {
	switch {
	case verbose:
		return qlog.NewVerbose(), nil
	case quiet:
		return qlog.NewQuiet(), nil
	}
	level, err := qlog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	return qlog.NewLogger(level, os.Stderr), nil
}

// GetConfig retrieves the Config from the command context
func GetConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, ok := cmd.Context().Value(configContextKey).(*config.Config)
	if !ok {
		return nil, errors.New("no config in context")
	}
	return cfg, nil
}

// GetLogger retrieves the Logger from the command context
func GetLogger(cmd *cobra.Command) *qlog.Logger {
	logger, ok := cmd.Context().Value(loggerContextKey).(*qlog.Logger)
	if !ok {
		return qlog.NewDefault()
	}
	return logger
}

func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		exitIfCodedError(err)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML). Searches: catmap.yaml, catmap.yml, .catmap.yaml, then merges .catmap/config.yaml")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log debug messages")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "only log warnings and errors")
	rootCmd.MarkFlagsMutuallyExclusive("verbose", "quiet")
}
