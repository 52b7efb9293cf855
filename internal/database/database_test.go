package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"cassette/pkg/models"
)

func newTestDatabase(t *testing.T) *Database {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	db, err := NewDatabase(filepath.Join(t.TempDir(), "test.db"), logger)
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestDownloadHistory(t *testing.T) {
	db := newTestDatabase(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	records := []models.DownloadRecord{
		{EntityID: "a", Kind: "track", Title: "One", Path: "Band - Record/01 Band - One.mp3", Status: "finished", Bytes: 1024, FinishedAt: base},
		{EntityID: "b", Kind: "track", Title: "Two", Status: "interrupted", Error: "no download info", FinishedAt: base.Add(time.Minute)},
		{EntityID: "c", Kind: "cover", Title: "Record", Path: "Band - Record/cover.jpg", Status: "finished", Bytes: 4, FinishedAt: base.Add(2 * time.Minute)},
	}

	t.Run("RecordDownload", func(t *testing.T) {
		for _, rec := range records {
			if err := db.RecordDownload(ctx, rec); err != nil {
				t.Fatalf("RecordDownload(%s) error = %v", rec.EntityID, err)
			}
		}
	})

	t.Run("RecentDownloads", func(t *testing.T) {
		got, err := db.RecentDownloads(ctx, 0)
		if err != nil {
			t.Fatalf("RecentDownloads() error = %v", err)
		}
		if len(got) != 3 {
			t.Fatalf("expected 3 records, got %d", len(got))
		}
		if got[0].EntityID != "c" || got[2].EntityID != "a" {
			t.Errorf("expected newest first, got %s..%s", got[0].EntityID, got[2].EntityID)
		}
		if got[1].Error != "no download info" || got[1].Status != "interrupted" {
			t.Errorf("interrupted record = %+v", got[1])
		}
		if got[2].Bytes != 1024 || got[2].Path != records[0].Path || got[2].ID == 0 {
			t.Errorf("finished record = %+v", got[2])
		}
		if !got[2].FinishedAt.Equal(base) {
			t.Errorf("finished at = %v, want %v", got[2].FinishedAt, base)
		}
	})

	t.Run("RecentDownloadsLimit", func(t *testing.T) {
		got, err := db.RecentDownloads(ctx, 1)
		if err != nil {
			t.Fatalf("RecentDownloads() error = %v", err)
		}
		if len(got) != 1 || got[0].EntityID != "c" {
			t.Errorf("limited result = %+v", got)
		}
	})

	t.Run("CountByStatus", func(t *testing.T) {
		counts, err := db.CountByStatus(ctx)
		if err != nil {
			t.Fatalf("CountByStatus() error = %v", err)
		}
		if counts["finished"] != 2 || counts["interrupted"] != 1 {
			t.Errorf("counts = %v", counts)
		}
	})
}

func TestReopenKeepsHistory(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	path := filepath.Join(t.TempDir(), "history.db")
	ctx := context.Background()

	db, err := NewDatabase(path, logger)
	if err != nil {
		t.Fatal(err)
	}
	if err := db.RecordDownload(ctx, models.DownloadRecord{EntityID: "x", Kind: "track", Status: "finished"}); err != nil {
		t.Fatal(err)
	}
	db.Close()

	db, err = NewDatabase(path, logger)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer db.Close()

	if err := db.Ping(ctx); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
	got, err := db.RecentDownloads(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].EntityID != "x" || got[0].FinishedAt.IsZero() {
		t.Errorf("records after reopen = %+v", got)
	}
}
