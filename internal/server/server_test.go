package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cassette/internal/catalog"
	"cassette/internal/config"
	"cassette/internal/queue"
	"cassette/pkg/models"
)

type mockDownloads struct {
	entries map[uuid.UUID]queue.Entry
	order   []uuid.UUID
	err     error
	calls   []string
}

func newMockDownloads() *mockDownloads {
	return &mockDownloads{entries: make(map[uuid.UUID]queue.Entry)}
}

func (m *mockDownloads) add(kind queue.Kind, title string) (uuid.UUID, error) {
	if m.err != nil {
		return uuid.Nil, m.err
	}
	id := uuid.New()
	m.entries[id] = queue.Entry{ID: id, Position: len(m.order), Kind: kind, Title: title, Status: queue.StatusWaiting}
	m.order = append(m.order, id)
	return id, nil
}

func (m *mockDownloads) EnqueueTrack(_ context.Context, id string) (uuid.UUID, error) {
	m.calls = append(m.calls, "track:"+id)
	return m.add(queue.KindTrack, "track "+id)
}

func (m *mockDownloads) EnqueueAlbum(_ context.Context, id, label string) (uuid.UUID, error) {
	m.calls = append(m.calls, "album:"+id+":"+label)
	return m.add(queue.KindAlbum, "album "+id)
}

func (m *mockDownloads) EnqueuePlaylist(_ context.Context, owner, id string) (uuid.UUID, error) {
	m.calls = append(m.calls, "playlist:"+owner+":"+id)
	return m.add(queue.KindPlaylist, "playlist "+id)
}

func (m *mockDownloads) Entries() []queue.Entry {
	var out []queue.Entry
	for _, id := range m.order {
		if e, ok := m.entries[id]; ok {
			out = append(out, e)
		}
	}
	return out
}

func (m *mockDownloads) Entry(id uuid.UUID) (queue.Entry, bool) {
	e, ok := m.entries[id]
	return e, ok
}

func (m *mockDownloads) Remove(id uuid.UUID) error {
	if _, ok := m.entries[id]; !ok {
		return queue.ErrNotFound
	}
	delete(m.entries, id)
	return nil
}

func (m *mockDownloads) Stats() queue.Stats {
	return queue.Stats{Waiting: len(m.entries), Limit: 4}
}

type mockHistory struct {
	records []models.DownloadRecord
	limit   int
	pingErr error
}

func (h *mockHistory) RecentDownloads(_ context.Context, limit int) ([]models.DownloadRecord, error) {
	h.limit = limit
	return h.records, nil
}

func (h *mockHistory) Ping(context.Context) error { return h.pingErr }

type mockFiles struct {
	root  string
	paths map[int64]string
}

func (f *mockFiles) Lookup(handle int64) (string, bool) {
	p, ok := f.paths[handle]
	return p, ok
}

func (f *mockFiles) Root() string { return f.root }

func newTestServer(t *testing.T) (*DownloadServer, *mockDownloads, *mockHistory, *mockFiles) {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	downloads := newMockDownloads()
	history := &mockHistory{}
	files := &mockFiles{root: t.TempDir(), paths: make(map[int64]string)}
	cfg := config.DefaultConfig().Server
	return NewDownloadServer(cfg, downloads, history, files, logger), downloads, history, files
}

func doRequest(ds *DownloadServer, method, target, body string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	w := httptest.NewRecorder()
	ds.Handler().ServeHTTP(w, req)
	return w
}

func TestEnqueueHandlers(t *testing.T) {
	ds, downloads, _, _ := newTestServer(t)

	tests := []struct {
		name string
		path string
		body string
		call string
		kind queue.Kind
	}{
		{"track", "/api/downloads/tracks", `{"id": "123"}`, "track:123", queue.KindTrack},
		{"album with artist", "/api/downloads/albums", `{"id": "55", "artist": "Band"}`, "album:55:Band", queue.KindAlbum},
		{"album", "/api/downloads/albums", `{"id": "56"}`, "album:56:", queue.KindAlbum},
		{"playlist", "/api/downloads/playlists", `{"owner": "john.doe", "id": "3"}`, "playlist:john.doe:3", queue.KindPlaylist},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(ds, http.MethodPost, tt.path, tt.body)
			require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

			var resp enqueueResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
			assert.NotEqual(t, uuid.Nil, resp.ID)
			assert.Equal(t, tt.kind, resp.Entry.Kind)
			assert.Equal(t, tt.call, downloads.calls[len(downloads.calls)-1])
		})
	}
}

func TestEnqueueValidation(t *testing.T) {
	ds, downloads, _, _ := newTestServer(t)

	tests := []struct {
		name  string
		path  string
		body  string
		field string
	}{
		{"missing id", "/api/downloads/tracks", `{}`, "id"},
		{"path traversal", "/api/downloads/tracks", `{"id": ".."}`, "id"},
		{"slash in id", "/api/downloads/albums", `{"id": "1/2"}`, "id"},
		{"missing owner", "/api/downloads/playlists", `{"id": "3"}`, "owner"},
		{"long artist", "/api/downloads/albums", fmt.Sprintf(`{"id": "1", "artist": %q}`, strings.Repeat("a", 300)), "artist"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(ds, http.MethodPost, tt.path, tt.body)
			require.Equal(t, http.StatusBadRequest, w.Code)

			var result ValidationResult
			require.NoError(t, json.NewDecoder(w.Body).Decode(&result))
			assert.False(t, result.Valid)
			require.NotEmpty(t, result.Errors)
			assert.Equal(t, tt.field, result.Errors[0].Field)
		})
	}

	t.Run("invalid json", func(t *testing.T) {
		w := doRequest(ds, http.MethodPost, "/api/downloads/tracks", `{"id":`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	assert.Empty(t, downloads.calls, "invalid requests must not reach the queue")
}

func TestEnqueueErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"not in catalog", fmt.Errorf("resolve: %w", catalog.ErrNotFound), http.StatusNotFound},
		{"empty collection", fmt.Errorf("album 1: %w", queue.ErrEmptyCollection), http.StatusUnprocessableEntity},
		{"unavailable track", fmt.Errorf("track 1: %w", queue.ErrUnavailable), http.StatusUnprocessableEntity},
		{"bad credentials", catalog.ErrUnauthorized, http.StatusBadGateway},
		{"network", errors.New("dial tcp: refused"), http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ds, downloads, _, _ := newTestServer(t)
			downloads.err = tt.err

			w := doRequest(ds, http.MethodPost, "/api/downloads/albums", `{"id": "1"}`)
			assert.Equal(t, tt.status, w.Code)

			var body map[string]interface{}
			require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
			assert.Equal(t, false, body["success"])
		})
	}
}

func TestListGetRemove(t *testing.T) {
	ds, downloads, _, _ := newTestServer(t)
	first, _ := downloads.EnqueueTrack(context.Background(), "1")
	second, _ := downloads.EnqueueAlbum(context.Background(), "2", "")

	w := doRequest(ds, http.MethodGet, "/api/downloads", "")
	require.Equal(t, http.StatusOK, w.Code)
	var list listResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&list))
	require.Len(t, list.Entries, 2)
	assert.Equal(t, first, list.Entries[0].ID)
	assert.Equal(t, 4, list.Stats.Limit)

	w = doRequest(ds, http.MethodGet, "/api/downloads/"+second.String(), "")
	require.Equal(t, http.StatusOK, w.Code)
	var entry queue.Entry
	require.NoError(t, json.NewDecoder(w.Body).Decode(&entry))
	assert.Equal(t, queue.KindAlbum, entry.Kind)

	w = doRequest(ds, http.MethodDelete, "/api/downloads/"+first.String(), "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = doRequest(ds, http.MethodDelete, "/api/downloads/"+first.String(), "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doRequest(ds, http.MethodGet, "/api/downloads/"+first.String(), "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doRequest(ds, http.MethodGet, "/api/downloads/not-a-uuid", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEmptyListIsArray(t *testing.T) {
	ds, _, _, _ := newTestServer(t)
	w := doRequest(ds, http.MethodGet, "/api/downloads", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"entries":[]`)
}

func TestHistory(t *testing.T) {
	ds, _, history, _ := newTestServer(t)
	history.records = []models.DownloadRecord{{ID: 1, EntityID: "x", Status: "finished"}}

	w := doRequest(ds, http.MethodGet, "/api/history?limit=10", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 10, history.limit)

	var body struct {
		Records []models.DownloadRecord `json:"records"`
		Count   int                     `json:"count"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, 1, body.Count)
	assert.Equal(t, "x", body.Records[0].EntityID)

	w = doRequest(ds, http.MethodGet, "/api/history?limit=100000", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, maxHistoryLimit, history.limit)

	w = doRequest(ds, http.MethodGet, "/api/history?limit=-1", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHistoryDisabled(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	ds := NewDownloadServer(config.DefaultConfig().Server, newMockDownloads(), nil, &mockFiles{root: t.TempDir()}, logger)

	w := doRequest(ds, http.MethodGet, "/api/history", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = doRequest(ds, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	var health HealthStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&health))
	assert.Equal(t, "disabled", health.Database)
}

func TestHealthCheck(t *testing.T) {
	ds, _, history, files := newTestServer(t)

	w := doRequest(ds, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	var health HealthStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&health))
	assert.Equal(t, "healthy", health.Status)

	history.pingErr = errors.New("database is locked")
	files.root = filepath.Join(files.root, "gone")

	w = doRequest(ds, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	require.NoError(t, json.NewDecoder(w.Body).Decode(&health))
	assert.Equal(t, "error", health.Database)
	assert.Equal(t, "error", health.Storage)
	assert.Contains(t, health.Details, "database_error")
}

func TestServeFile(t *testing.T) {
	ds, _, _, files := newTestServer(t)
	path := filepath.Join(files.root, "01 Band - One.mp3")
	data := []byte{0xFF, 0xFB, 0x90, 0x00, '4', '5', '6', '7', '8', '9'}
	require.NoError(t, os.WriteFile(path, data, 0644))
	files.paths[7] = path

	w := doRequest(ds, http.MethodGet, "/api/files/7", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, data, w.Body.Bytes())
	assert.Equal(t, "audio/mpeg", w.Header().Get("Content-Type"))

	req := httptest.NewRequest(http.MethodGet, "/api/files/7", nil)
	req.Header.Set("Range", "bytes=4-6")
	rec := httptest.NewRecorder()
	ds.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, "456", rec.Body.String())

	w = doRequest(ds, http.MethodGet, "/api/files/8", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doRequest(ds, http.MethodGet, "/api/files/abc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMiddleware(t *testing.T) {
	ds, _, _, _ := newTestServer(t)

	w := doRequest(ds, http.MethodOptions, "/api/downloads/tracks", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	w = doRequest(ds, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, "0B", formatBytes(0))
	assert.Equal(t, "< 1KB", formatBytes(512))
	assert.Equal(t, "2MB", formatBytes(2*1024*1024))
	assert.False(t, shouldLogRequest("/health"))
	assert.True(t, shouldLogRequest("/api/downloads"))
}

func TestPanicRecovery(t *testing.T) {
	ds, _, _, _ := newTestServer(t)
	h := ds.panicRecoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
