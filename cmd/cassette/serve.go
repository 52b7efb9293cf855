package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"cassette/internal/config"
	"cassette/internal/server"
)

// shutdownTimeout bounds graceful HTTP shutdown
const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API in front of the download queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, closer, err := loadRuntime()
			if err != nil {
				return err
			}
			defer closer.Close()

			a, err := newApp(cfg, logger)
			if err != nil {
				logger.WithError(err).Error("Error initializing download pipeline")
				return err
			}
			defer a.Close()

			watcher, err := config.WatchDownloader(configPath, func(d config.DownloaderConfig) {
				a.queue.SetOptions(d.QueueOptions())
			}, logger)
			if err != nil {
				logger.WithError(err).Warn("Could not start config watcher")
			} else {
				defer watcher.Close()
			}

			srv := server.NewDownloadServer(cfg.Server, a.queue, a.db, a.saver, logger)

			// Handle graceful shutdown
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				errCh <- srv.Start()
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			logger.Info("Received shutdown signal")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.WithError(err).Error("HTTP shutdown did not complete")
			}
			logger.WithField("stats", a.queue.Stats()).Info("Cassette stopped")
			return nil
		},
	}
}
