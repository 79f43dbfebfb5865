package db

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"

	"github.com/quatton/catmap-adapter/pkg/db/migrations"
	"github.com/quatton/catmap-adapter/pkg/qlog"
)

// Migrate applies pending migrations of the outcome archive.
func Migrate(ctx context.Context, db *bun.DB, logger *qlog.Logger) error {
	migrator := migrate.NewMigrator(db, migrations.Migrations)

	if err := migrator.Init(ctx); err != nil {
		return fmt.Errorf("failed to init migrations: %w", err)
	}

	if err := migrator.Lock(ctx); err != nil {
		return fmt.Errorf("failed to lock migrations: %w", err)
	}
	defer migrator.Unlock(ctx) //nolint:errcheck

	group, err := migrator.Migrate(ctx)
	if err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}

	if group.IsZero() {
		logger.Info("Database is up to date")
		return nil
	}

	logger.Info("Migrated", "group", group.String())
	return nil
}

// Rollback reverts the last migration group.
func Rollback(ctx context.Context, db *bun.DB, logger *qlog.Logger) error {
	migrator := migrate.NewMigrator(db, migrations.Migrations)

	group, err := migrator.Rollback(ctx)
	if err != nil {
		return fmt.Errorf("failed to rollback: %w", err)
	}
	if group.IsZero() {
		logger.Info("Nothing to roll back")
		return nil
	}
	logger.Info("Rolled back", "group", group.String())
	return nil
}
