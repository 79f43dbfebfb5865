// Package migrations registers the schema of the outcome archive.
package migrations

import "github.com/uptrace/bun/migrate"

// Migrations holds every registered migration.
var Migrations = migrate.NewMigrations()
