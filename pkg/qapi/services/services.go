package services

import (
	"context"
	"os"
	"path/filepath"

	"github.com/quatton/catmap-adapter/pkg/catmap"
	catmapconfig "github.com/quatton/catmap-adapter/pkg/config"
	"github.com/quatton/catmap-adapter/pkg/pipeline"
	"github.com/quatton/catmap-adapter/pkg/qapi/config"
	"github.com/quatton/catmap-adapter/pkg/qart"
	"github.com/quatton/catmap-adapter/pkg/qlog"
)

type Services struct {
	Pipeline  *pipeline.Pipeline
	Artifacts qart.Store // nil when artifact storage is disabled
	Logger    *qlog.Logger

	backends *catmapconfig.Opened
}

func NewServices(ctx context.Context, cfg *config.EnvConfig, logger *qlog.Logger) (*Services, error) {
	backends, err := cfg.Backends().Open(ctx, logger)
	if err != nil {
		return nil, err
	}

	runsDir := cfg.RunsDir
	if !filepath.IsAbs(runsDir) {
		cwd, err := os.Getwd()
		if err != nil {
			_ = backends.Close()
			return nil, err
		}
		runsDir = filepath.Join(cwd, runsDir)
	}
	runner, err := backends.OpenRunner(cfg.Runner(), runsDir, logger)
	if err != nil {
		_ = backends.Close()
		return nil, err
	}

	svcs := New(&pipeline.Pipeline{
		Calculation: &catmap.Calculation{
			InputFilename:  cfg.InputFilename,
			OutputFilename: cfg.OutputFilename,
			WithMPI:        cfg.WithMPI,
			Logger:         logger,
		},
		Parser:  catmap.NewParser(logger),
		Runner:  runner,
		Archive: backends.Archive,
		Python:  cfg.Python,
		Env:     cfg.RunEnv,
		Logger:  logger,
	}, backends.Artifacts, logger)
	svcs.backends = backends
	return svcs, nil
}

// New wraps an already assembled pipeline.
func New(p *pipeline.Pipeline, artifacts qart.Store, logger *qlog.Logger) *Services {
	if logger == nil {
		logger = qlog.NewDiscard()
	}
	return &Services{Pipeline: p, Artifacts: artifacts, Logger: logger}
}

// Close releases the archive and artifact connections.
func (s *Services) Close() error {
	if s.backends == nil {
		return nil
	}
	return s.backends.Close()
}
