package sqlite

import (
	"database/sql"
	"time"

	"github.com/vertextoedge/offline-stream/internal/domain"
)

const entryColumns = `download_id, artifact_location, file_size, content_id, source_url, registered_at`

// PutEntry inserts or replaces the entry for entry.DownloadID
func (s *Store) PutEntry(entry *domain.RegistryEntry) error {
	if entry.RegisteredAt.IsZero() {
		entry.RegisteredAt = time.Now()
	}

	query := `
		INSERT INTO registry_entries (
			download_id, artifact_location, file_size, content_id, source_url, registered_at
		) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(download_id) DO UPDATE SET
			artifact_location = excluded.artifact_location,
			file_size = excluded.file_size,
			content_id = excluded.content_id,
			source_url = excluded.source_url,
			registered_at = excluded.registered_at
	`

	_, err := s.db.Exec(query,
		entry.DownloadID, entry.ArtifactLocation, entry.FileSizeBytes,
		nullString(entry.ContentID), nullString(entry.SourceURL), entry.RegisteredAt)
	return err
}

// GetEntry returns nil if the download is not registered
func (s *Store) GetEntry(downloadID string) (*domain.RegistryEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM registry_entries WHERE download_id = ?`

	entry, err := scanEntryRow(s.db.QueryRow(query, downloadID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return entry, err
}

// FindByContentID returns entries sharing a content token
func (s *Store) FindByContentID(contentID string) ([]*domain.RegistryEntry, error) {
	if contentID == "" {
		return nil, nil
	}
	query := `SELECT ` + entryColumns + ` FROM registry_entries WHERE content_id = ? ORDER BY registered_at DESC`
	return s.queryEntries(query, contentID)
}

// FindBySourceURL returns entries downloaded from the given URL
func (s *Store) FindBySourceURL(sourceURL string) ([]*domain.RegistryEntry, error) {
	if sourceURL == "" {
		return nil, nil
	}
	query := `SELECT ` + entryColumns + ` FROM registry_entries WHERE source_url = ? ORDER BY registered_at DESC`
	return s.queryEntries(query, sourceURL)
}

// FindByLocation returns entries pointing at the given artifact
func (s *Store) FindByLocation(location string) ([]*domain.RegistryEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM registry_entries WHERE artifact_location = ?`
	return s.queryEntries(query, location)
}

// ListEntries returns every registered entry
func (s *Store) ListEntries() ([]*domain.RegistryEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM registry_entries ORDER BY registered_at ASC, download_id ASC`
	return s.queryEntries(query)
}

// DeleteEntry removes an entry
func (s *Store) DeleteEntry(downloadID string) error {
	_, err := s.db.Exec("DELETE FROM registry_entries WHERE download_id = ?", downloadID)
	return err
}

func (s *Store) queryEntries(query string, args ...any) ([]*domain.RegistryEntry, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*domain.RegistryEntry
	for rows.Next() {
		entry, err := scanEntryRow(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

func scanEntryRow(row rowScanner) (*domain.RegistryEntry, error) {
	entry := &domain.RegistryEntry{}
	var contentID, sourceURL sql.NullString

	err := row.Scan(
		&entry.DownloadID, &entry.ArtifactLocation, &entry.FileSizeBytes,
		&contentID, &sourceURL, &entry.RegisteredAt,
	)
	if err != nil {
		return nil, err
	}

	if contentID.Valid {
		entry.ContentID = contentID.String
	}
	entry.SourceURL = sourceURL.String

	return entry, nil
}
