package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vertextoedge/offline-stream/internal/service/server"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the download engine, maintenance, and the status server",
	Long: `serve recovers downloads left over from a previous run, then keeps the
engine, the maintenance loop, and the local status server running until
SIGINT or SIGTERM.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	a.logger.Info("starting offline-stream",
		zap.String("version", version),
		zap.String("root_dir", cfg.Storage.RootDir),
	)

	a.ready()
	if _, err := a.engine.Recover(ctx); err != nil {
		return err
	}

	srv := server.New(&server.Config{
		BindAddr:     cfg.HTTP.BindAddr,
		APIUsername:  cfg.HTTP.APIUsername,
		APIPassword:  cfg.HTTP.APIPassword,
		ReadTimeout:  cfg.HTTP.GetReadTimeout(),
		WriteTimeout: cfg.HTTP.GetWriteTimeout(),
		IdleTimeout:  cfg.HTTP.GetIdleTimeout(),
	}, a.store, a.engine, a.registry, a.metrics, a.logger.Named("server"))

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.Start()
	}()

	go func() {
		if err := a.maintenance.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Error("maintenance service stopped with error", zap.Error(err))
		}
	}()

	a.logger.Info("application started successfully",
		zap.String("http_addr", cfg.HTTP.BindAddr),
	)

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received, stopping services...")
	case err = <-serverErr:
		if err != nil {
			a.logger.Error("HTTP server failed", zap.Error(err))
		}
	}

	stop()
	a.maintenance.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if stopErr := srv.Stop(shutdownCtx); stopErr != nil {
		a.logger.Error("failed to stop HTTP server gracefully", zap.Error(stopErr))
	}

	a.logger.Info("application stopped")
	return err
}
