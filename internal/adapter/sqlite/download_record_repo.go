package sqlite

import (
	"database/sql"
	"time"

	"github.com/vertextoedge/offline-stream/internal/domain"
)

const recordColumns = `download_id, state, task_id, bytes_downloaded, total_bytes,
	artifact_location, last_error, incomplete, created_at, updated_at`

// SaveRecord inserts or replaces the record for record.DownloadID
func (s *Store) SaveRecord(record *domain.DownloadRecord) error {
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}
	record.UpdatedAt = time.Now()

	query := `
		INSERT INTO download_records (
			download_id, state, task_id, bytes_downloaded, total_bytes,
			artifact_location, last_error, incomplete, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(download_id) DO UPDATE SET
			state = excluded.state,
			task_id = excluded.task_id,
			bytes_downloaded = excluded.bytes_downloaded,
			total_bytes = excluded.total_bytes,
			artifact_location = excluded.artifact_location,
			last_error = excluded.last_error,
			incomplete = excluded.incomplete,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at
	`

	_, err := s.db.Exec(query,
		record.DownloadID, string(record.State), nullString(record.TaskID),
		record.BytesDownloaded, record.TotalBytes,
		nullString(record.ArtifactLocation), nullString(record.LastError),
		record.Incomplete, record.CreatedAt, record.UpdatedAt)
	return err
}

// GetRecord retrieves a record by download ID
func (s *Store) GetRecord(downloadID string) (*domain.DownloadRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM download_records WHERE download_id = ?`
	return s.scanRecord(s.db.QueryRow(query, downloadID))
}

// GetRecordByTaskID retrieves the record bound to a transfer task
func (s *Store) GetRecordByTaskID(taskID string) (*domain.DownloadRecord, error) {
	if taskID == "" {
		return nil, nil
	}
	query := `SELECT ` + recordColumns + ` FROM download_records WHERE task_id = ?`
	return s.scanRecord(s.db.QueryRow(query, taskID))
}

// ListRecords returns every record ordered by creation time
func (s *Store) ListRecords() ([]*domain.DownloadRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM download_records ORDER BY created_at ASC, download_id ASC`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*domain.DownloadRecord
	for rows.Next() {
		record, err := scanRecordRow(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}

	return records, rows.Err()
}

// UpdateProgress updates bytes_downloaded and total_bytes only.
// bytes_downloaded never decreases.
func (s *Store) UpdateProgress(downloadID string, bytesDownloaded, totalBytes int64) error {
	query := `
		UPDATE download_records
		SET bytes_downloaded = MAX(bytes_downloaded, ?),
			total_bytes = CASE WHEN ? > 0 THEN ? ELSE total_bytes END,
			updated_at = ?
		WHERE download_id = ?
	`

	_, err := s.db.Exec(query, bytesDownloaded, totalBytes, totalBytes, time.Now(), downloadID)
	return err
}

// DeleteRecord removes a record
func (s *Store) DeleteRecord(downloadID string) error {
	_, err := s.db.Exec("DELETE FROM download_records WHERE download_id = ?", downloadID)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanRecord scans a single record row
func (s *Store) scanRecord(row *sql.Row) (*domain.DownloadRecord, error) {
	record, err := scanRecordRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return record, err
}

func scanRecordRow(row rowScanner) (*domain.DownloadRecord, error) {
	record := &domain.DownloadRecord{}
	var state string
	var taskID, location, lastError sql.NullString

	err := row.Scan(
		&record.DownloadID, &state, &taskID,
		&record.BytesDownloaded, &record.TotalBytes,
		&location, &lastError, &record.Incomplete,
		&record.CreatedAt, &record.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	record.State = domain.DownloadState(state)
	if taskID.Valid {
		record.TaskID = taskID.String
	}
	if location.Valid {
		record.ArtifactLocation = location.String
	}
	if lastError.Valid {
		record.LastError = lastError.String
	}

	return record, nil
}
