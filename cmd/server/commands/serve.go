package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/warp/prescribing-engine/api"
	"github.com/warp/prescribing-engine/concessions"
	"github.com/warp/prescribing-engine/matrixstore"
)

var (
	port         int
	snapshotPath string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		if port != 0 {
			cfg.Port = port
		}
		if snapshotPath != "" {
			cfg.SnapshotPath = snapshotPath
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		return serve(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().IntVar(&port, "port", 0, "HTTP server port (overrides PORT)")
	serveCmd.Flags().StringVar(&snapshotPath, "snapshot", "", "Parquet prescribing extract (overrides SNAPSHOT_PATH)")
}

func serve(ctx context.Context) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	metrics := api.NewMetrics()
	provider := matrixstore.NewAtomicProvider(nil)
	engine := concessions.NewEngine(store, concessions.WithDiscountPercentage(cfg.Discount()))

	reloader := api.NewSnapshotReloader(cfg.SnapshotPath, store, provider, metrics)
	reloader.CheckInterval = cfg.ReloadInterval
	if _, err := reloader.Reload(ctx); err != nil {
		// keep serving; spending endpoints answer 503 until an extract appears
		log.Warn().Err(err).Str("path", cfg.SnapshotPath).Msg("no prescribing snapshot at startup")
	}
	reloader.Start()
	defer reloader.Stop()

	handler := api.NewHandler(store, provider, engine)
	handler.Reloader = reloader
	handler.ConcessionMonths = cfg.ConcessionMonths

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      api.NewRouter(handler, metrics, cfg.CORSOrigins),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.Port).Str("env", cfg.Env).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}

	log.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info().Msg("server stopped")
	return nil
}
