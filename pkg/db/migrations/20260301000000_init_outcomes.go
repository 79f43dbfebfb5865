package migrations

import (
	"context"
	"fmt"

	"github.com/quatton/catmap-adapter/pkg/db/models"
	"github.com/uptrace/bun"
)

func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		fmt.Print(" [up migration] ")

		if _, err := db.NewRaw("CREATE SCHEMA IF NOT EXISTS catmap").Exec(ctx); err != nil {
			return err
		}

		_, err := db.NewCreateTable().
			Model((*models.Outcome)(nil)).
			IfNotExists().
			Exec(ctx)
		return err
	}, func(ctx context.Context, db *bun.DB) error {
		fmt.Print(" [down migration] ")

		if _, err := db.NewDropTable().Model((*models.Outcome)(nil)).IfExists().Exec(ctx); err != nil {
			return err
		}
		_, err := db.NewRaw("DROP SCHEMA IF EXISTS catmap").Exec(ctx)
		return err
	})
}
