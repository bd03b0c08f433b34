//go:build !windows

package filesystem

import (
	"fmt"
	"syscall"

	"github.com/vertextoedge/offline-stream/internal/port"
)

// GetDiskUsage reports the volume holding the library. Free counts only
// the blocks an unprivileged process may still write, which is what the
// next download can use.
func (m *Manager) GetDiskUsage() (*port.DiskUsage, error) {
	var vol syscall.Statfs_t
	if err := syscall.Statfs(m.rootDir, &vol); err != nil {
		return nil, fmt.Errorf("failed to stat library volume %s: %w", m.rootDir, err)
	}

	blockSize := uint64(vol.Bsize)
	usage := &port.DiskUsage{
		Total: vol.Blocks * blockSize,
		Free:  vol.Bavail * blockSize,
	}
	if usage.Free > usage.Total {
		usage.Free = usage.Total
	}
	usage.Used = usage.Total - usage.Free
	if usage.Total > 0 {
		usage.UsedPct = float64(usage.Used) / float64(usage.Total) * 100
	}
	return usage, nil
}
