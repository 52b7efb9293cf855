package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"cassette/internal/config"
	"cassette/internal/queue"
	"cassette/pkg/models"
)

// Downloads is the part of the queue the API drives
type Downloads interface {
	EnqueueTrack(ctx context.Context, id string) (uuid.UUID, error)
	EnqueueAlbum(ctx context.Context, id, label string) (uuid.UUID, error)
	EnqueuePlaylist(ctx context.Context, owner, id string) (uuid.UUID, error)
	Entries() []queue.Entry
	Entry(id uuid.UUID) (queue.Entry, bool)
	Remove(id uuid.UUID) error
	Stats() queue.Stats
}

// History exposes the download journal
type History interface {
	RecentDownloads(ctx context.Context, limit int) ([]models.DownloadRecord, error)
	Ping(ctx context.Context) error
}

// Files resolves saved file handles to paths on disk
type Files interface {
	Lookup(handle int64) (string, bool)
	Root() string
}

// DownloadServer exposes the download queue over HTTP
type DownloadServer struct {
	config    config.ServerConfig
	downloads Downloads
	history   History
	files     Files
	logger    *logrus.Logger
	validator *validator.Validate
	router    chi.Router
	http      *http.Server
}

// NewDownloadServer creates the server and its routes. history may be nil when
// the journal is disabled.
func NewDownloadServer(cfg config.ServerConfig, downloads Downloads, history History, files Files, logger *logrus.Logger) *DownloadServer {
	if logger == nil {
		logger = logrus.New()
	}
	ds := &DownloadServer{
		config:    cfg,
		downloads: downloads,
		history:   history,
		files:     files,
		logger:    logger,
		validator: newValidator(),
	}
	ds.router = ds.setupRoutes()
	ds.http = &http.Server{
		Addr:              cfg.Host + ":" + cfg.Port,
		Handler:           ds.router,
		ReadTimeout:       time.Duration(cfg.ReadTimeout) * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return ds
}

// Handler returns the root HTTP handler
func (ds *DownloadServer) Handler() http.Handler {
	return ds.router
}

// Start listens on the configured address and blocks until the server stops.
func (ds *DownloadServer) Start() error {
	ds.logger.WithField("address", fmt.Sprintf("http://%s", ds.http.Addr)).Info("Cassette server starting")

	if err := ds.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server
func (ds *DownloadServer) Shutdown(ctx context.Context) error {
	ds.logger.Info("Shutting down download server...")
	return ds.http.Shutdown(ctx)
}
