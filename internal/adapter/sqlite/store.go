package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/vertextoedge/offline-stream/internal/domain"
	"github.com/vertextoedge/offline-stream/internal/port"
)

// Store implements port.Store interface using SQLite
type Store struct {
	db *sql.DB
}

// Ensure Store implements port.Store
var _ port.Store = (*Store)(nil)

// Open opens a connection to the SQLite database
func Open(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// Open database with WAL mode and busy timeout
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -16000", // 16MB cache
		"PRAGMA temp_store = MEMORY",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %s: %w", pragma, err)
		}
	}

	store := &Store{db: db}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Ping checks database connectivity
func (s *Store) Ping() error {
	return s.db.Ping()
}

// migrate creates or updates the database schema
func (s *Store) migrate() error {
	migrations := []string{
		// One row per in-flight download
		`CREATE TABLE IF NOT EXISTS download_records (
			download_id TEXT PRIMARY KEY,
			state TEXT NOT NULL DEFAULT 'queued',
			task_id TEXT,
			bytes_downloaded INTEGER NOT NULL DEFAULT 0,
			total_bytes INTEGER NOT NULL DEFAULT 0,
			artifact_location TEXT,
			last_error TEXT,
			incomplete BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,

		// Resume bookkeeping, stored as an opaque JSON blob per download
		`CREATE TABLE IF NOT EXISTS partial_downloads (
			download_id TEXT PRIMARY KEY,
			payload TEXT NOT NULL,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,

		// Offline registry index
		`CREATE TABLE IF NOT EXISTS registry_entries (
			download_id TEXT PRIMARY KEY,
			artifact_location TEXT NOT NULL,
			file_size INTEGER NOT NULL DEFAULT 0,
			content_id TEXT,
			source_url TEXT,
			registered_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE INDEX IF NOT EXISTS idx_download_records_task_id ON download_records(task_id)`,
		`CREATE INDEX IF NOT EXISTS idx_download_records_state ON download_records(state)`,
		`CREATE INDEX IF NOT EXISTS idx_registry_entries_content_id ON registry_entries(content_id)`,
		`CREATE INDEX IF NOT EXISTS idx_registry_entries_location ON registry_entries(artifact_location)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, migration)
		}
	}

	// Columns added after the first release; fails harmlessly when present
	alterations := []string{
		`ALTER TABLE registry_entries ADD COLUMN source_url TEXT`,
	}
	for _, alteration := range alterations {
		_, _ = s.db.Exec(alteration)
	}

	if _, err := s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_registry_entries_source_url ON registry_entries(source_url)`); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	return nil
}

// GetStorageStats returns registry and record statistics
func (s *Store) GetStorageStats() (*domain.StorageStats, error) {
	stats := &domain.StorageStats{}

	err := s.db.QueryRow("SELECT COUNT(*) FROM registry_entries").Scan(&stats.RegisteredEntries)
	if err != nil {
		return nil, err
	}

	var totalSize sql.NullInt64
	err = s.db.QueryRow("SELECT SUM(file_size) FROM registry_entries").Scan(&totalSize)
	if err != nil {
		return nil, err
	}
	stats.RegisteredBytes = totalSize.Int64

	err = s.db.QueryRow("SELECT COUNT(*) FROM download_records WHERE state != 'failed'").Scan(&stats.ActiveRecords)
	if err != nil {
		return nil, err
	}

	err = s.db.QueryRow("SELECT COUNT(*) FROM download_records WHERE state = 'failed'").Scan(&stats.FailedRecords)
	if err != nil {
		return nil, err
	}

	return stats, nil
}

// nullString returns a NullString that is invalid for empty strings
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
