package main

import (
	"time"

	"github.com/sirupsen/logrus"

	"cassette/internal/catalog"
	"cassette/internal/config"
	"cassette/internal/database"
	"cassette/internal/queue"
	"cassette/internal/storage"
	"cassette/internal/transfer"
)

// app holds the wired download pipeline
type app struct {
	cfg      *config.Config
	logger   *logrus.Logger
	saver    *storage.Saver
	catalog  *catalog.Client
	executor *transfer.Executor
	queue    *queue.Queue
	db       *database.Database
}

func newApp(cfg *config.Config, logger *logrus.Logger) (*app, error) {
	saver, err := storage.NewSaver(cfg.Downloader.DownloadDir, logger)
	if err != nil {
		return nil, err
	}

	db, err := database.NewDatabase(cfg.Database.Path, logger)
	if err != nil {
		return nil, err
	}

	client := catalog.New(catalog.Options{
		BaseURL:           cfg.Catalog.BaseURL,
		Token:             cfg.Catalog.Token,
		SignSecret:        cfg.Catalog.SignSecret,
		UserAgent:         cfg.Catalog.UserAgent,
		Timeout:           cfg.Catalog.RequestTimeout(),
		RequestsPerSecond: cfg.Catalog.RequestsPerSecond,
		CacheTTL:          cfg.Catalog.TTL(),
	}, logger)

	executor := transfer.New(client, saver, transfer.Options{
		Timeout:   time.Duration(cfg.Downloader.TransferTimeout) * time.Second,
		UserAgent: cfg.Catalog.UserAgent,
		EmbedTags: cfg.Downloader.EmbedTags,
	}, logger)

	q := queue.New(client, executor, cfg.Downloader.QueueOptions(), logger)
	q.SetJournal(db)

	logger.WithFields(logrus.Fields{
		"download_dir": saver.Root(),
		"threads":      cfg.Downloader.ThreadCount,
	}).Debug("Download pipeline ready")

	return &app{
		cfg:      cfg,
		logger:   logger,
		saver:    saver,
		catalog:  client,
		executor: executor,
		queue:    q,
		db:       db,
	}, nil
}

// Close aborts running transfers and releases resources. Interrupted transfers
// are journaled before the database closes.
func (a *app) Close() {
	a.executor.Close()
	a.catalog.Close()
	if err := a.db.Close(); err != nil {
		a.logger.WithError(err).Error("Failed to close database")
	}
}
