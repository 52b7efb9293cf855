package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"cassette/internal/queue"
)

// HealthStatus represents operational status for the /health endpoint.
type HealthStatus struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Database  string                 `json:"database"`
	Storage   string                 `json:"storage"`
	Queue     queue.Stats            `json:"queue"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// handleHealthCheck returns basic liveness + dependency checks.
func (ds *DownloadServer) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	health := &HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
		Database:  "ok",
		Storage:   "ok",
		Queue:     ds.downloads.Stats(),
		Details:   make(map[string]interface{}),
	}

	if ds.history == nil {
		health.Database = "disabled"
	} else if err := ds.checkDatabaseHealth(r.Context()); err != nil {
		health.Status = "unhealthy"
		health.Database = "error"
		health.Details["database_error"] = err.Error()
	}

	if err := ds.checkStorageHealth(); err != nil {
		health.Status = "unhealthy"
		health.Storage = "error"
		health.Details["storage_error"] = err.Error()
	}

	status := http.StatusOK
	if health.Status == "unhealthy" {
		status = http.StatusServiceUnavailable
	}
	ds.respondJSON(w, status, health)
}

func (ds *DownloadServer) checkDatabaseHealth(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return ds.history.Ping(ctx)
}

// checkStorageHealth verifies the download directory still exists.
func (ds *DownloadServer) checkStorageHealth() error {
	info, err := os.Stat(ds.files.Root())
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", ds.files.Root())
	}
	return nil
}
