package main

import (
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"cassette/internal/config"
)

var (
	configPath string
	envPath    string
	debug      bool
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "cassette",
		Short:         "Cassette downloads tracks, albums and playlists from the music catalog",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "./config.toml", "Path to the TOML configuration file")
	root.PersistentFlags().StringVar(&envPath, "env", ".env", "Path to a .env file holding catalog credentials")
	root.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	root.AddCommand(
		newServeCmd(),
		newTrackCmd(),
		newAlbumCmd(),
		newPlaylistCmd(),
		newBatchCmd(),
	)
	return root
}

// loadRuntime reads the configuration and builds the logger shared by every command.
func loadRuntime() (*config.Config, *logrus.Logger, io.Closer, error) {
	if err := config.LoadEnv(envPath); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load %s: %w", envPath, err)
	}
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, nil, nil, err
	}
	if debug {
		cfg.Logging.Level = "debug"
	}
	logger, closer, err := config.NewLogger(cfg.Logging)
	if err != nil {
		return nil, nil, nil, err
	}
	if cfg.Catalog.Token == "" {
		logger.Warnf("%s is not set; catalog requests are anonymous", config.EnvAPIToken)
	}
	return cfg, logger, closer, nil
}
