// Command migrate creates or rolls back the outcome archive tables.
//
//	migrate        apply pending migrations
//	migrate down   roll back the last group
package main

import (
	"context"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/quatton/catmap-adapter/pkg/db"
	"github.com/quatton/catmap-adapter/pkg/qlog"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("ℹ No .env file found")
	} else {
		log.Println("✓ Loaded .env file")
	}

	ctx := context.Background()
	logger := qlog.NewDefault()

	cfg := db.Config{
		Host:     "localhost",
		Port:     5432,
		User:     "catmap",
		Password: "password",
		Database: "catmap",
		SSLMode:  "disable",
	}

	if err := envconfig.Process("DB", &cfg); err != nil {
		logger.Fatalf("failed to process env vars: %v", err)
	}

	database, err := db.New(ctx, cfg)
	if err != nil {
		logger.Fatalf("failed to connect to database: %v", err)
	}
	defer database.Close()

	direction := "up"
	if len(os.Args) > 1 {
		direction = os.Args[1]
	}

	switch direction {
	case "up":
		logger.Info("Running migrations...")
		err = db.Migrate(ctx, database, logger)
	case "down":
		logger.Info("Rolling back...")
		err = db.Rollback(ctx, database, logger)
	default:
		logger.Fatalf("unknown direction %q, expected up or down", direction)
	}
	if err != nil {
		database.Close()
		logger.Fatal("migration failed", "error", err)
	}
}
