package service

import (
	"github.com/vertextoedge/offline-stream/internal/domain/vo"
)

// StoragePolicy is a domain service that decides whether a new offline
// artifact fits within the configured storage limits
type StoragePolicy struct {
	maxLibrarySize  vo.FileSize
	maxDiskUsagePct float64
}

// NewStoragePolicy creates a new StoragePolicy
func NewStoragePolicy(maxLibrarySizeGB float64, maxDiskUsagePct float64) *StoragePolicy {
	return &StoragePolicy{
		maxLibrarySize:  vo.FileSizeFromGB(maxLibrarySizeGB),
		maxDiskUsagePct: maxDiskUsagePct,
	}
}

// NewStoragePolicyFromBytes creates a StoragePolicy from byte values
func NewStoragePolicyFromBytes(maxLibrarySize int64, maxDiskUsagePct float64) *StoragePolicy {
	return &StoragePolicy{
		maxLibrarySize:  vo.SizeOf(maxLibrarySize),
		maxDiskUsagePct: maxDiskUsagePct,
	}
}

// DiskState is a point-in-time measurement of the storage volume
type DiskState struct {
	LibrarySize vo.FileSize
	Total       uint64
	Used        uint64
	Free        uint64
}

// UsedPct returns the used percentage of the volume
func (d DiskState) UsedPct() float64 {
	if d.Total == 0 {
		return 0
	}
	return float64(d.Used) / float64(d.Total) * 100
}

// SpaceDecision contains the result of a space check
type SpaceDecision struct {
	HasSpace             bool
	Available            vo.FileSize
	LimitedByLibrarySize bool
	LimitedByDiskUsage   bool
	LimitedByDiskFree    bool
}

// Evaluate checks whether an artifact of the given size fits
func (p *StoragePolicy) Evaluate(size vo.FileSize, disk DiskState) SpaceDecision {
	decision := SpaceDecision{Available: p.maxLibrarySize.Sub(disk.LibrarySize)}

	// Check library size limit
	if p.maxLibrarySize.Bytes() > 0 && disk.LibrarySize.Add(size).ExceedsLimit(p.maxLibrarySize) {
		decision.LimitedByLibrarySize = true
		return decision
	}

	// The volume itself must hold the artifact
	if disk.Total > 0 && uint64(size.Bytes()) > disk.Free {
		decision.LimitedByDiskFree = true
		return decision
	}

	// Check disk usage limit, including the new artifact
	if p.maxDiskUsagePct > 0 && disk.Total > 0 {
		if disk.UsedPct() >= p.maxDiskUsagePct {
			decision.LimitedByDiskUsage = true
			return decision
		}
		projected := float64(disk.Used+uint64(size.Bytes())) / float64(disk.Total) * 100
		if projected >= p.maxDiskUsagePct {
			decision.LimitedByDiskUsage = true
			return decision
		}
	}

	decision.HasSpace = true
	return decision
}

// MaxLibrarySize returns the configured library size cap
func (p *StoragePolicy) MaxLibrarySize() vo.FileSize {
	return p.maxLibrarySize
}

// MaxDiskUsagePct returns the maximum disk usage percentage
func (p *StoragePolicy) MaxDiskUsagePct() float64 {
	return p.maxDiskUsagePct
}
