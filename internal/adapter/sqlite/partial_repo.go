package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vertextoedge/offline-stream/internal/domain"
)

// SavePartial inserts or replaces partial-download bookkeeping
func (s *Store) SavePartial(partial *domain.PartialDownload) error {
	partial.UpdatedAt = time.Now()

	payload, err := json.Marshal(partial)
	if err != nil {
		return fmt.Errorf("failed to encode partial download: %w", err)
	}

	query := `
		INSERT INTO partial_downloads (download_id, payload, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(download_id) DO UPDATE SET
			payload = excluded.payload,
			updated_at = excluded.updated_at
	`

	_, err = s.db.Exec(query, partial.DownloadID, string(payload), partial.UpdatedAt)
	return err
}

// GetPartial returns nil if nothing is stored for the download
func (s *Store) GetPartial(downloadID string) (*domain.PartialDownload, error) {
	var payload string
	err := s.db.QueryRow("SELECT payload FROM partial_downloads WHERE download_id = ?", downloadID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var partial domain.PartialDownload
	if err := json.Unmarshal([]byte(payload), &partial); err != nil {
		return nil, fmt.Errorf("failed to decode partial download %s: %w", downloadID, err)
	}

	return &partial, nil
}

// DeletePartial removes bookkeeping
func (s *Store) DeletePartial(downloadID string) error {
	_, err := s.db.Exec("DELETE FROM partial_downloads WHERE download_id = ?", downloadID)
	return err
}
