package port

// SpaceCheckResult contains detailed space availability information
type SpaceCheckResult struct {
	HasSpace             bool
	AvailableBytes       int64
	LibrarySizeBytes     int64
	MaxLibrarySizeBytes  int64
	DiskUsedPct          float64
	MaxDiskUsagePct      float64
	LimitedByLibrarySize bool
	LimitedByDiskUsage   bool
	LimitedByDiskFree    bool
}

// SpaceManager defines the interface for space management operations
type SpaceManager interface {
	// CheckSpace checks if there's enough space for an artifact of the given
	// size and returns detailed information about space availability
	CheckSpace(size int64) (*SpaceCheckResult, error)

	// HasSpace returns true if there's enough space for the given size
	HasSpace(size int64) (bool, error)
}
