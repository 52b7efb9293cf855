package models

import "time"

// DownloadRecord is the journaled terminal outcome of a track or cover transfer
type DownloadRecord struct {
	ID         int64     `json:"id"`
	EntityID   string    `json:"entityId"`
	Kind       string    `json:"kind"`
	Title      string    `json:"title"`
	Path       string    `json:"path"`
	Status     string    `json:"status"`
	Bytes      int64     `json:"bytes"`
	Error      string    `json:"error,omitempty"`
	FinishedAt time.Time `json:"finishedAt"`
}
