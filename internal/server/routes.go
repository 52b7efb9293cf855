package server

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (ds *DownloadServer) setupRoutes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(ds.panicRecoveryMiddleware)
	r.Use(ds.requestLoggingMiddleware)
	r.Use(ds.corsMiddleware)

	r.Get("/health", ds.handleHealthCheck)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Route("/downloads", func(r chi.Router) {
			r.Get("/", ds.handleListDownloads)
			r.Post("/tracks", ds.handleEnqueueTrack)
			r.Post("/albums", ds.handleEnqueueAlbum)
			r.Post("/playlists", ds.handleEnqueuePlaylist)
			r.Get("/{entryID}", ds.handleGetDownload)
			r.Delete("/{entryID}", ds.handleRemoveDownload)
		})
		r.Get("/history", ds.handleHistory)
		r.Get("/files/{handle}", ds.handleServeFile)
	})

	return r
}
