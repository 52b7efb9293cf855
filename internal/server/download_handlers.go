package server

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"cassette/internal/catalog"
	"cassette/internal/queue"
)

// maxHistoryLimit caps /api/history page size
const maxHistoryLimit = 500

type trackRequest struct {
	ID string `json:"id" validate:"required,max=64,catalog_id"`
}

type albumRequest struct {
	ID     string `json:"id" validate:"required,max=64,catalog_id"`
	Artist string `json:"artist,omitempty" validate:"omitempty,max=255"`
}

type playlistRequest struct {
	Owner string `json:"owner" validate:"required,max=128,catalog_id"`
	ID    string `json:"id" validate:"required,max=64,catalog_id"`
}

type enqueueResponse struct {
	ID    uuid.UUID   `json:"id"`
	Entry queue.Entry `json:"entry"`
}

type listResponse struct {
	Entries []queue.Entry `json:"entries"`
	Stats   queue.Stats   `json:"stats"`
}

// handleEnqueueTrack queues a single catalog track
func (ds *DownloadServer) handleEnqueueTrack(w http.ResponseWriter, r *http.Request) {
	var req trackRequest
	if !ds.decodeAndValidate(w, r, &req) {
		return
	}
	id, err := ds.downloads.EnqueueTrack(r.Context(), req.ID)
	ds.respondEnqueued(w, r, id, err)
}

// handleEnqueueAlbum queues an album, optionally grouped under an artist folder
func (ds *DownloadServer) handleEnqueueAlbum(w http.ResponseWriter, r *http.Request) {
	var req albumRequest
	if !ds.decodeAndValidate(w, r, &req) {
		return
	}
	id, err := ds.downloads.EnqueueAlbum(r.Context(), req.ID, req.Artist)
	ds.respondEnqueued(w, r, id, err)
}

// handleEnqueuePlaylist queues a user playlist
func (ds *DownloadServer) handleEnqueuePlaylist(w http.ResponseWriter, r *http.Request) {
	var req playlistRequest
	if !ds.decodeAndValidate(w, r, &req) {
		return
	}
	id, err := ds.downloads.EnqueuePlaylist(r.Context(), req.Owner, req.ID)
	ds.respondEnqueued(w, r, id, err)
}

func (ds *DownloadServer) respondEnqueued(w http.ResponseWriter, r *http.Request, id uuid.UUID, err error) {
	if err != nil {
		status, message := enqueueErrorStatus(err)
		ds.respondWithError(w, r, status, message, err)
		return
	}

	entry, _ := ds.downloads.Entry(id)
	ds.logger.WithFields(logrus.Fields{
		"entity_id": id,
		"kind":      entry.Kind,
		"title":     entry.Title,
	}).Info("Download queued via API")

	ds.respondJSON(w, http.StatusAccepted, enqueueResponse{ID: id, Entry: entry})
}

func enqueueErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		return http.StatusNotFound, "Not found in catalog"
	case errors.Is(err, queue.ErrEmptyCollection):
		return http.StatusUnprocessableEntity, "Nothing downloadable in this collection"
	case errors.Is(err, queue.ErrUnavailable):
		return http.StatusUnprocessableEntity, "Track is not available for download"
	case errors.Is(err, catalog.ErrUnauthorized):
		return http.StatusBadGateway, "Catalog rejected the configured credentials"
	}
	return http.StatusBadGateway, "Catalog request failed"
}

// handleListDownloads returns every queue entry in insertion order with counters
func (ds *DownloadServer) handleListDownloads(w http.ResponseWriter, r *http.Request) {
	entries := ds.downloads.Entries()
	if entries == nil {
		entries = []queue.Entry{}
	}
	ds.respondJSON(w, http.StatusOK, listResponse{
		Entries: entries,
		Stats:   ds.downloads.Stats(),
	})
}

// handleGetDownload returns a single entry
func (ds *DownloadServer) handleGetDownload(w http.ResponseWriter, r *http.Request) {
	id, ok := ds.entryID(w, r)
	if !ok {
		return
	}
	entry, found := ds.downloads.Entry(id)
	if !found {
		ds.respondWithError(w, r, http.StatusNotFound, "Download not found", nil)
		return
	}
	ds.respondJSON(w, http.StatusOK, entry)
}

// handleRemoveDownload drops an entry from the listing. Running transfers finish.
func (ds *DownloadServer) handleRemoveDownload(w http.ResponseWriter, r *http.Request) {
	id, ok := ds.entryID(w, r)
	if !ok {
		return
	}
	if err := ds.downloads.Remove(id); err != nil {
		if errors.Is(err, queue.ErrNotFound) {
			ds.respondWithError(w, r, http.StatusNotFound, "Download not found", err)
			return
		}
		ds.respondWithError(w, r, http.StatusInternalServerError, "Failed to remove download", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleHistory returns the most recent journaled outcomes
func (ds *DownloadServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	if ds.history == nil {
		ds.respondWithError(w, r, http.StatusServiceUnavailable, "Download history is disabled", nil)
		return
	}
	limit, verr := parseLimit(r, "limit", maxHistoryLimit)
	if verr != nil {
		ds.respondWithValidationError(w, r, []ValidationError{*verr})
		return
	}
	records, err := ds.history.RecentDownloads(r.Context(), limit)
	if err != nil {
		ds.respondWithError(w, r, http.StatusInternalServerError, "Failed to read download history", err)
		return
	}
	ds.respondJSON(w, http.StatusOK, map[string]interface{}{
		"records": records,
		"count":   len(records),
	})
}

func (ds *DownloadServer) entryID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "entryID"))
	if err != nil {
		ds.respondWithValidationError(w, r, []ValidationError{{
			Field:   "entry_id",
			Message: "Entry ID must be a UUID",
			Code:    "INVALID_ENTRY_ID",
		}})
		return uuid.Nil, false
	}
	return id, true
}
