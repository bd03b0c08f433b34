package repository

import (
	"github.com/vertextoedge/offline-stream/internal/domain"
)

// DownloadRecordRepository defines persistence for in-flight download records.
// Writes are atomic per DownloadID.
type DownloadRecordRepository interface {
	// SaveRecord inserts or replaces the record for record.DownloadID
	SaveRecord(record *domain.DownloadRecord) error

	// GetRecord retrieves a record by download ID
	// Returns nil if no record exists
	GetRecord(downloadID string) (*domain.DownloadRecord, error)

	// GetRecordByTaskID retrieves the record bound to a transfer task
	// Returns nil if no record exists
	GetRecordByTaskID(taskID string) (*domain.DownloadRecord, error)

	// ListRecords returns every record ordered by creation time
	ListRecords() ([]*domain.DownloadRecord, error)

	// UpdateProgress updates bytes_downloaded and total_bytes only
	UpdateProgress(downloadID string, bytesDownloaded, totalBytes int64) error

	// DeleteRecord removes a record; deleting a missing record is not an error
	DeleteRecord(downloadID string) error
}

// PartialDownloadRepository stores the bookkeeping needed to resume a
// transfer after restart.
type PartialDownloadRepository interface {
	// SavePartial inserts or replaces partial-download bookkeeping
	SavePartial(partial *domain.PartialDownload) error

	// GetPartial returns nil if nothing is stored for the download
	GetPartial(downloadID string) (*domain.PartialDownload, error)

	// DeletePartial removes bookkeeping; missing entries are not an error
	DeletePartial(downloadID string) error
}
