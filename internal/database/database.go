package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"cassette/pkg/models"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

// DefaultHistoryLimit caps RecentDownloads when the caller passes no limit
const DefaultHistoryLimit = 50

// Database wraps a *sql.DB holding the download history journal. It is safe
// for concurrent use because the underlying *sql.DB is concurrency-safe.
type Database struct {
	conn   *sql.DB
	logger *logrus.Logger

	// Prepared statements
	insertRecordStmt  *sql.Stmt
	recentRecordsStmt *sql.Stmt
	countStatusStmt   *sql.Stmt
}

// NewDatabase opens (or creates) a SQLite database at the provided path and
// ensures the journal table and its indices exist. Caller should Close() it
// when finished.
func NewDatabase(dbPath string, logger *logrus.Logger) (*Database, error) {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	conn, err := sql.Open("sqlite3", dbPath+"?cache=shared&mode=rwc")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite works better with few connections
	conn.SetMaxOpenConns(5)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(15 * time.Minute)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA cache_size=2000;",
		"PRAGMA temp_store=memory;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA auto_vacuum=INCREMENTAL;",
	}

	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			logger.WithError(err).WithField("pragma", pragma).Warn("Failed to set pragma")
		}
	}

	db := &Database{
		conn:   conn,
		logger: logger,
	}

	if err := db.createTables(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	if err := db.prepareStatements(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	logger.WithField("db_path", dbPath).Info("Database initialized successfully")
	return db, nil
}

// createTables creates tables and indices if they do not already exist, then
// executes any migrations. This is idempotent and safe to call multiple times.
func (db *Database) createTables() error {
	historyTable := `
	CREATE TABLE IF NOT EXISTS download_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		entity_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		path TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		bytes INTEGER NOT NULL DEFAULT 0,
		finished_at DATETIME NOT NULL
	);`

	indices := []string{
		"CREATE INDEX IF NOT EXISTS idx_download_history_finished ON download_history(finished_at);",
		"CREATE INDEX IF NOT EXISTS idx_download_history_status ON download_history(status);",
	}

	if _, err := db.conn.Exec(historyTable); err != nil {
		return err
	}

	for _, index := range indices {
		if _, err := db.conn.Exec(index); err != nil {
			return err
		}
	}

	return db.runMigrations()
}

// runMigrations performs incremental schema updates in-place. Each migration
// must be idempotent.
func (db *Database) runMigrations() error {
	// Migration 1: failure reason column
	var columnExists bool
	err := db.conn.QueryRow(`
		SELECT COUNT(*) > 0
		FROM pragma_table_info('download_history')
		WHERE name = 'error'`).Scan(&columnExists)
	if err != nil {
		return err
	}

	if !columnExists {
		if _, err := db.conn.Exec("ALTER TABLE download_history ADD COLUMN error TEXT NOT NULL DEFAULT ''"); err != nil {
			return err
		}
		db.logger.Info("Added error column to download_history table")
	}

	return nil
}

func (db *Database) prepareStatements() error {
	var err error

	db.insertRecordStmt, err = db.conn.Prepare(`
		INSERT INTO download_history (entity_id, kind, title, path, status, bytes, error, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert record statement: %w", err)
	}

	db.recentRecordsStmt, err = db.conn.Prepare(`
		SELECT id, entity_id, kind, title, path, status, bytes, error, finished_at
		FROM download_history
		ORDER BY finished_at DESC, id DESC
		LIMIT ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare recent records statement: %w", err)
	}

	db.countStatusStmt, err = db.conn.Prepare(`
		SELECT status, COUNT(*) FROM download_history GROUP BY status`)
	if err != nil {
		return fmt.Errorf("failed to prepare count statement: %w", err)
	}

	return nil
}

// RecordDownload appends the terminal outcome of a transfer to the journal.
func (db *Database) RecordDownload(ctx context.Context, rec models.DownloadRecord) error {
	if rec.FinishedAt.IsZero() {
		rec.FinishedAt = time.Now()
	}
	_, err := db.insertRecordStmt.ExecContext(ctx,
		rec.EntityID, rec.Kind, rec.Title, rec.Path, rec.Status, rec.Bytes, rec.Error, rec.FinishedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to record download: %w", err)
	}
	db.logger.WithFields(logrus.Fields{
		"entity_id": rec.EntityID,
		"status":    rec.Status,
	}).Debug("Download journaled")
	return nil
}

// RecentDownloads returns up to limit records, newest first.
func (db *Database) RecentDownloads(ctx context.Context, limit int) ([]models.DownloadRecord, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	rows, err := db.recentRecordsStmt.QueryContext(ctx, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]models.DownloadRecord, 0, limit)
	for rows.Next() {
		var rec models.DownloadRecord
		if err := rows.Scan(&rec.ID, &rec.EntityID, &rec.Kind, &rec.Title, &rec.Path,
			&rec.Status, &rec.Bytes, &rec.Error, &rec.FinishedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// CountByStatus returns how many journaled transfers ended in each status.
func (db *Database) CountByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := db.countStatusStmt.QueryContext(ctx)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// Ping checks the connection.
func (db *Database) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Close closes the underlying database connection and prepared statements.
func (db *Database) Close() error {
	statements := []*sql.Stmt{
		db.insertRecordStmt,
		db.recentRecordsStmt,
		db.countStatusStmt,
	}

	for _, stmt := range statements {
		if stmt != nil {
			if err := stmt.Close(); err != nil {
				db.logger.WithError(err).Error("Failed to close prepared statement")
			}
		}
	}

	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}
