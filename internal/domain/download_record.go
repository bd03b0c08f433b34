package domain

import (
	"fmt"
	"time"
)

// DownloadState is the lifecycle state of a download record
type DownloadState string

// Download state constants
const (
	StateQueued      DownloadState = "queued"
	StateDownloading DownloadState = "downloading"
	StateStopped     DownloadState = "stopped"
	StateCompleted   DownloadState = "completed"
	StateFailed      DownloadState = "failed"
)

// legal transitions; cancellation is not a state, it deletes the record
var transitions = map[DownloadState][]DownloadState{
	StateQueued:      {StateDownloading, StateStopped, StateFailed},
	StateDownloading: {StateCompleted, StateFailed, StateStopped},
	StateStopped:     {StateQueued, StateDownloading, StateFailed},
}

// String returns the string representation of the state
func (s DownloadState) String() string {
	return string(s)
}

// IsTerminal returns true for completed and failed
func (s DownloadState) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed
}

// CanTransitionTo reports whether moving from s to next is legal
func (s DownloadState) CanTransitionTo(next DownloadState) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// DownloadRecord is the durable state of one download.
// At most one record exists per DownloadID.
type DownloadRecord struct {
	DownloadID string
	State      DownloadState

	// TaskID identifies the transfer task currently bound to this download
	TaskID string

	BytesDownloaded int64
	TotalBytes      int64

	ArtifactLocation string
	LastError        string

	// Incomplete is set by recovery when neither a live task nor a partial
	// artifact could be found. Such a download can only be restarted.
	Incomplete bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewDownloadRecord creates a queued record
func NewDownloadRecord(downloadID string, totalBytes int64) *DownloadRecord {
	now := time.Now()
	return &DownloadRecord{
		DownloadID: downloadID,
		State:      StateQueued,
		TotalBytes: totalBytes,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Transition moves the record to next, rejecting illegal transitions
func (r *DownloadRecord) Transition(next DownloadState) error {
	if r.State == next {
		return nil
	}
	if !r.State.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidStateTransition, r.State, next)
	}
	r.State = next
	r.UpdatedAt = time.Now()
	return nil
}

// MarkFailed moves the record to failed with an error message
func (r *DownloadRecord) MarkFailed(errMsg string) error {
	if err := r.Transition(StateFailed); err != nil {
		return err
	}
	r.LastError = errMsg
	return nil
}

// UpdateProgress records transfer progress. Byte counts never go backwards.
func (r *DownloadRecord) UpdateProgress(bytesDownloaded, totalBytes int64) {
	if bytesDownloaded > r.BytesDownloaded {
		r.BytesDownloaded = bytesDownloaded
	}
	if totalBytes > 0 {
		r.TotalBytes = totalBytes
	}
	r.UpdatedAt = time.Now()
}

// Percent returns downloaded/total as a percentage clamped to [0,100]
func (r *DownloadRecord) Percent() float64 {
	return Percent(r.BytesDownloaded, r.TotalBytes)
}

// Clone returns a copy safe to hand to callers
func (r *DownloadRecord) Clone() *DownloadRecord {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}

// Percent computes a clamped percentage
func Percent(done, total int64) float64 {
	if total <= 0 || done <= 0 {
		return 0
	}
	p := float64(done) / float64(total) * 100
	if p > 100 {
		return 100
	}
	return p
}

// Progress is a point-in-time progress snapshot for one download
type Progress struct {
	DownloadID      string
	BytesDownloaded int64
	TotalBytes      int64
	State           DownloadState
}

// Percent returns the clamped percentage of the snapshot
func (p Progress) Percent() float64 {
	if p.State == StateCompleted {
		return 100
	}
	return Percent(p.BytesDownloaded, p.TotalBytes)
}
