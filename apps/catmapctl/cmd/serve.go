package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/quatton/catmap-adapter/pkg/qapi"
	"github.com/quatton/catmap-adapter/pkg/qapi/config"
	"github.com/quatton/catmap-adapter/pkg/qapi/routes"
	"github.com/quatton/catmap-adapter/pkg/qapi/services"
	"github.com/quatton/catmap-adapter/pkg/qapi/utils"
	"github.com/quatton/catmap-adapter/pkg/qlog"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API",
	Long: `Serve input previews and local runs over HTTP. The server is configured
from the environment (PORT, BASE_URL, CATMAP_PYTHON, ARCHIVE_BACKEND, DB_*,
VALKEY_*, S3_*); a .env file is loaded in development.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.ValidateEnv()
		if err != nil {
			return err
		}
		cfg.Print(log.Printf)

		logger := GetLogger(cmd)
		if utils.IsProd() {
			logger = qlog.NewJSON(nil, nil)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		svcs, err := services.NewServices(ctx, cfg, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize services: %w", err)
		}
		defer svcs.Close()

		api := qapi.NewApi()
		routes.RegisterAPI(api.Api, svcs)

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%s", cfg.Port),
			Handler:           api.Router,
			ReadHeaderTimeout: 10 * time.Second,
		}

		log.Printf("🚀 Server starting on %s\n", srv.Addr)
		log.Printf("📚 OpenAPI docs: %s/docs\n", cfg.BaseURL)
		log.Printf("📄 OpenAPI spec: %s/openapi.json\n", cfg.BaseURL)

		errCh := make(chan error, 1)
		go func() { errCh <- srv.ListenAndServe() }()

		select {
		case err := <-errCh:
			if !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server error: %w", err)
			}
			return nil
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		log.Println("👋 Shutting down")
		return srv.Shutdown(shutdownCtx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
