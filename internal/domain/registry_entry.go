package domain

import (
	"time"
)

// RegistryEntry records one completed, playable offline artifact.
// The registry is the only source of truth for "is this content offline".
type RegistryEntry struct {
	DownloadID       string `json:"download_id"`
	ArtifactLocation string `json:"artifact_location"`
	FileSizeBytes    int64  `json:"file_size_bytes"`

	// SourceURL is the master manifest the artifact was downloaded from
	SourceURL string `json:"source_url,omitempty"`

	// ContentID is the 24-hex token extracted from DownloadID, or from
	// SourceURL when the id carries none
	ContentID string `json:"content_id,omitempty"`

	RegisteredAt time.Time `json:"registered_at"`
}

// PartialDownload is the bookkeeping needed to resume a transfer after the
// process dies: the saved selection, the request headers and the on-disk
// location of the partial artifact.
type PartialDownload struct {
	DownloadID string            `json:"download_id"`
	TaskID     string            `json:"task_id"`
	Selection  TrackSelection    `json:"selection"`
	Headers    map[string]string `json:"headers,omitempty"`
	Location   string            `json:"location"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// BundleManifest is written into every artifact directory. A bundle whose
// manifest lists playlists is complete; a partial directory carries a
// manifest with no playlists.
type BundleManifest struct {
	DownloadID  string    `json:"download_id"`
	TaskID      string    `json:"task_id,omitempty"`
	MasterURL   string    `json:"master_url"`
	MasterPath  string    `json:"master_path,omitempty"`
	Playlists   []string  `json:"playlists,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
}

// IsComplete returns true when the manifest describes a finished bundle
func (m *BundleManifest) IsComplete() bool {
	return m != nil && m.MasterPath != "" && len(m.Playlists) > 0
}

// StorageStats summarises registry and record counts
type StorageStats struct {
	RegisteredEntries int64 `json:"registered_entries"`
	RegisteredBytes   int64 `json:"registered_bytes"`
	ActiveRecords     int64 `json:"active_records"`
	FailedRecords     int64 `json:"failed_records"`
}
