package port

import (
	"io"
	"time"

	"github.com/vertextoedge/offline-stream/internal/domain"
)

// DiskUsage represents disk usage statistics
type DiskUsage struct {
	Total   uint64  // Total disk space in bytes
	Used    uint64  // Used disk space in bytes
	Free    uint64  // Free disk space in bytes
	UsedPct float64 // Used percentage (0-100)
}

// PartialInfo describes a partial artifact directory found on disk
type PartialInfo struct {
	DownloadID string
	Path       string
	ModTime    time.Time
}

// FileSystem defines the interface for the artifact storage area
type FileSystem interface {
	// RootDir returns the storage root directory
	RootDir() string

	// BundlePath returns the directory a completed artifact lives in
	BundlePath(downloadID string) string

	// PartialPath returns the directory an in-progress artifact is written to
	PartialPath(downloadID string) string

	// WriteFile atomically writes content to path
	// Returns: bytes written, error
	WriteFile(path string, reader io.Reader) (int64, error)

	// DeleteFile removes a file or an artifact directory
	DeleteFile(path string) error

	// FileExists checks if a file or directory exists
	FileExists(path string) bool

	// GetFileSize returns the size of a file, or the total size of a directory
	GetFileSize(path string) (int64, error)

	// GetLibrarySize returns the total size of the artifact storage area
	GetLibrarySize() (int64, error)

	// GetDiskUsage returns disk usage statistics
	GetDiskUsage() (*DiskUsage, error)

	// ReadBundleManifest reads the bundle.json marker of an artifact directory
	ReadBundleManifest(dir string) (*domain.BundleManifest, error)

	// WriteBundleManifest writes the bundle.json marker of an artifact directory
	WriteBundleManifest(dir string, manifest *domain.BundleManifest) error

	// ValidateBundle returns the manifest when dir holds a complete, playable
	// artifact, or an error wrapping domain.ErrInvalidBundle
	ValidateBundle(dir string) (*domain.BundleManifest, error)

	// FinalizeBundle moves a partial directory into its completed location
	FinalizeBundle(downloadID string) (string, error)

	// ListBundles returns the directories of all completed artifacts
	ListBundles() ([]string, error)

	// ListPartials returns all partial artifact directories
	ListPartials() ([]PartialInfo, error)

	// CleanOldPartials removes partial directories older than the specified
	// duration, skipping ids for which keep returns true
	// Returns the number of directories deleted
	CleanOldPartials(olderThan time.Duration, keep func(downloadID string) bool) (int, error)
}
