package engine

import (
	"github.com/vertextoedge/offline-stream/internal/domain/service"
	"github.com/vertextoedge/offline-stream/internal/domain/vo"
	"github.com/vertextoedge/offline-stream/internal/port"
)

// SpaceManager measures the artifact storage area and asks the storage
// policy whether a new download fits
type SpaceManager struct {
	fs     port.FileSystem
	policy *service.StoragePolicy
}

// NewSpaceManager creates a new SpaceManager
func NewSpaceManager(fs port.FileSystem, policy *service.StoragePolicy) *SpaceManager {
	return &SpaceManager{
		fs:     fs,
		policy: policy,
	}
}

// CheckSpace checks if there's enough space for an artifact of the given size
func (sm *SpaceManager) CheckSpace(size int64) (*port.SpaceCheckResult, error) {
	librarySize, err := sm.fs.GetLibrarySize()
	if err != nil {
		return nil, err
	}

	usage, err := sm.fs.GetDiskUsage()
	if err != nil {
		return nil, err
	}

	decision := sm.policy.Evaluate(vo.SizeOf(size), service.DiskState{
		LibrarySize: vo.SizeOf(librarySize),
		Total:       usage.Total,
		Used:        usage.Used,
		Free:        usage.Free,
	})

	return &port.SpaceCheckResult{
		HasSpace:             decision.HasSpace,
		AvailableBytes:       decision.Available.Bytes(),
		LibrarySizeBytes:     librarySize,
		MaxLibrarySizeBytes:  sm.policy.MaxLibrarySize().Bytes(),
		DiskUsedPct:          usage.UsedPct,
		MaxDiskUsagePct:      sm.policy.MaxDiskUsagePct(),
		LimitedByLibrarySize: decision.LimitedByLibrarySize,
		LimitedByDiskUsage:   decision.LimitedByDiskUsage,
		LimitedByDiskFree:    decision.LimitedByDiskFree,
	}, nil
}

// HasSpace returns true if there's enough space for the given size
func (sm *SpaceManager) HasSpace(size int64) (bool, error) {
	result, err := sm.CheckSpace(size)
	if err != nil {
		return false, err
	}
	return result.HasSpace, nil
}

// Ensure SpaceManager implements port.SpaceManager
var _ port.SpaceManager = (*SpaceManager)(nil)
