package migrations

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"
)

func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		fmt.Print(" [up migration] ")

		_, err := db.NewRaw("CREATE INDEX IF NOT EXISTS catmap_outcomes_status_created_idx ON catmap.outcomes (status, created_at DESC)").Exec(ctx)
		return err
	}, func(ctx context.Context, db *bun.DB) error {
		fmt.Print(" [down migration] ")

		_, err := db.NewRaw("DROP INDEX IF EXISTS catmap.catmap_outcomes_status_created_idx").Exec(ctx)
		return err
	})
}
