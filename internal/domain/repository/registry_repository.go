package repository

import (
	"github.com/vertextoedge/offline-stream/internal/domain"
)

// RegistryRepository defines persistence for the offline registry index
type RegistryRepository interface {
	// PutEntry inserts or replaces the entry for entry.DownloadID
	PutEntry(entry *domain.RegistryEntry) error

	// GetEntry returns nil if the download is not registered
	GetEntry(downloadID string) (*domain.RegistryEntry, error)

	// FindByContentID returns entries sharing a content token
	FindByContentID(contentID string) ([]*domain.RegistryEntry, error)

	// FindBySourceURL returns entries downloaded from the given URL
	FindBySourceURL(sourceURL string) ([]*domain.RegistryEntry, error)

	// FindByLocation returns entries pointing at the given artifact
	FindByLocation(location string) ([]*domain.RegistryEntry, error)

	// ListEntries returns every registered entry
	ListEntries() ([]*domain.RegistryEntry, error)

	// DeleteEntry removes an entry; missing entries are not an error
	DeleteEntry(downloadID string) error
}

// StatsRepository defines the interface for storage statistics
type StatsRepository interface {
	// GetStorageStats returns registry and record statistics
	GetStorageStats() (*domain.StorageStats, error)
}
