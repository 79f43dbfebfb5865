package config

import (
	"context"
	"errors"
	"fmt"

	"github.com/quatton/catmap-adapter/pkg/archive"
	"github.com/quatton/catmap-adapter/pkg/db"
	"github.com/quatton/catmap-adapter/pkg/kv"
	"github.com/quatton/catmap-adapter/pkg/qart"
	"github.com/quatton/catmap-adapter/pkg/qlog"
	"github.com/quatton/catmap-adapter/pkg/qrunner"
)

// Opened holds the stores built from Backends. Artifacts is nil when no S3
// endpoint is configured.
type Opened struct {
	Archive   archive.Store
	Artifacts qart.Store
	closers   []func() error
}

// Close releases every connection opened by Open.
func (o *Opened) Close() error {
	var errs []error
	for i := len(o.closers) - 1; i >= 0; i-- {
		errs = append(errs, o.closers[i]())
	}
	return errors.Join(errs...)
}

// Open connects to the configured archive and artifact backends.
func (b Backends) Open(ctx context.Context, logger *qlog.Logger) (*Opened, error) {
	o := &Opened{}

	switch b.Archive.Backend {
	case BackendValkey:
		store, err := kv.NewValkeyStore(b.Valkey)
		if err != nil {
			return nil, err
		}
		o.closers = append(o.closers, store.Close)
		o.Archive = archive.NewKVStore(store, b.Archive.TTL)
	case BackendPostgres:
		conn, err := db.New(ctx, b.DB)
		if err != nil {
			return nil, err
		}
		o.closers = append(o.closers, conn.Close)
		o.Archive = archive.NewSQLStore(conn)
	case BackendLocal, "":
		if b.Archive.Dir == "" {
			return nil, errors.New("archive.dir is required for the local archive")
		}
		o.Archive = archive.NewDirStore(b.Archive.Dir)
	case BackendMemory:
		o.Archive = archive.NewKVStore(kv.NewMemoryStore(), b.Archive.TTL)
	default:
		return nil, fmt.Errorf("unknown archive backend %q", b.Archive.Backend)
	}
	logger.Debug("Opened outcome archive", "backend", b.Archive.Backend)

	if b.S3.Enabled() {
		store, err := qart.NewS3Store(b.S3)
		if err != nil {
			_ = o.Close()
			return nil, err
		}
		if err := store.EnsureBucket(ctx); err != nil {
			_ = o.Close()
			return nil, fmt.Errorf("failed to prepare bucket %s: %w", b.S3.Bucket, err)
		}
		o.Artifacts = store
		logger.Debug("Uploading artifacts to S3", "endpoint", b.S3.Endpoint, "bucket", b.S3.Bucket)
	}
	return o, nil
}

// OpenRunner builds the configured runner over runsDir. A docker runner's
// client is released by Close.
func (o *Opened) OpenRunner(cfg RunnerConfig, runsDir string, logger *qlog.Logger) (qrunner.Runner, error) {
	opts := []qrunner.LocalRunnerOption{qrunner.WithRunsDir(runsDir), qrunner.WithLogger(logger)}
	if o.Artifacts != nil {
		opts = append(opts, qrunner.WithArtifactStore(o.Artifacts))
	}

	switch cfg.Backend {
	case RunnerLocal, "":
		return qrunner.NewLocalRunner(opts...), nil
	case RunnerDocker:
		runner, err := qrunner.NewDockerRunner(cfg.container(), opts...)
		if err != nil {
			return nil, err
		}
		o.closers = append(o.closers, runner.Close)
		logger.Debug("Running jobs in containers", "image", cfg.Image)
		return runner, nil
	default:
		return nil, fmt.Errorf("unknown runner backend %q", cfg.Backend)
	}
}
