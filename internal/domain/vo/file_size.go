package vo

import (
	"github.com/dustin/go-humanize"
)

// Binary size units
const (
	KB = 1 << 10
	MB = 1 << 20
	GB = 1 << 30
)

// FileSize is a non-negative byte count of an artifact or of the library
type FileSize int64

// SizeOf returns a FileSize, clamping negative values to zero
func SizeOf(bytes int64) FileSize {
	return FileSize(max(bytes, 0))
}

// FileSizeFromGB converts a gigabyte setting into a FileSize
func FileSizeFromGB(gb float64) FileSize {
	return SizeOf(int64(gb * GB))
}

func (s FileSize) Bytes() int64 {
	return int64(s)
}

func (s FileSize) IsZero() bool {
	return s == 0
}

// ExceedsLimit reports whether s is larger than limit
func (s FileSize) ExceedsLimit(limit FileSize) bool {
	return s > limit
}

func (s FileSize) Add(other FileSize) FileSize {
	return s + other
}

// Sub returns s minus other, never below zero
func (s FileSize) Sub(other FileSize) FileSize {
	return SizeOf(int64(s - other))
}

// String formats the size with binary units, e.g. "1.5 GiB"
func (s FileSize) String() string {
	return humanize.IBytes(uint64(s))
}
