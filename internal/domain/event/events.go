package event

import (
	"time"

	"github.com/vertextoedge/offline-stream/internal/domain"
)

// DomainEvent is the interface for all domain events
type DomainEvent interface {
	// EventName returns the name of the event
	EventName() string
	// OccurredAt returns when the event occurred
	OccurredAt() time.Time
}

// BaseEvent provides common fields for all events
type BaseEvent struct {
	Timestamp time.Time
}

// OccurredAt returns when the event occurred
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// Event names
const (
	NameDownloadProgress   = "download.progress"
	NameDownloadCompleted  = "download.completed"
	NameDownloadFailed     = "download.failed"
	NameDownloadCanceled   = "download.canceled"
	NameArtifactRegistered = "artifact.registered"
	NameArtifactRemoved    = "artifact.removed"
)

// DownloadProgress is the record pushed to the progress sink on every tick
// and state change
type DownloadProgress struct {
	BaseEvent
	DownloadID      string
	Progress        float64
	BytesDownloaded int64
	TotalBytes      int64
	State           domain.DownloadState
}

// EventName returns the event name
func (e DownloadProgress) EventName() string {
	return NameDownloadProgress
}

// NewDownloadProgress creates a progress event from a snapshot
func NewDownloadProgress(p domain.Progress) DownloadProgress {
	return DownloadProgress{
		BaseEvent:       BaseEvent{Timestamp: time.Now()},
		DownloadID:      p.DownloadID,
		Progress:        p.Percent(),
		BytesDownloaded: p.BytesDownloaded,
		TotalBytes:      p.TotalBytes,
		State:           p.State,
	}
}

// DownloadCompleted is raised when an artifact is finished and registered
type DownloadCompleted struct {
	BaseEvent
	DownloadID string
	Location   string
	Size       int64
	Duration   time.Duration
}

// EventName returns the event name
func (e DownloadCompleted) EventName() string {
	return NameDownloadCompleted
}

// NewDownloadCompleted creates a new DownloadCompleted event
func NewDownloadCompleted(downloadID, location string, size int64, duration time.Duration) DownloadCompleted {
	return DownloadCompleted{
		BaseEvent:  BaseEvent{Timestamp: time.Now()},
		DownloadID: downloadID,
		Location:   location,
		Size:       size,
		Duration:   duration,
	}
}

// DownloadFailed is raised when an in-flight transfer fails
type DownloadFailed struct {
	BaseEvent
	DownloadID string
	Error      string
}

// EventName returns the event name
func (e DownloadFailed) EventName() string {
	return NameDownloadFailed
}

// NewDownloadFailed creates a new DownloadFailed event
func NewDownloadFailed(downloadID string, err error) DownloadFailed {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return DownloadFailed{
		BaseEvent:  BaseEvent{Timestamp: time.Now()},
		DownloadID: downloadID,
		Error:      msg,
	}
}

// DownloadCanceled is raised when a download is canceled by the caller
type DownloadCanceled struct {
	BaseEvent
	DownloadID string
}

// EventName returns the event name
func (e DownloadCanceled) EventName() string {
	return NameDownloadCanceled
}

// NewDownloadCanceled creates a new DownloadCanceled event
func NewDownloadCanceled(downloadID string) DownloadCanceled {
	return DownloadCanceled{
		BaseEvent:  BaseEvent{Timestamp: time.Now()},
		DownloadID: downloadID,
	}
}

// ArtifactRegistered is raised when an artifact enters the offline registry
type ArtifactRegistered struct {
	BaseEvent
	DownloadID string
	Location   string
	Size       int64
	Orphan     bool
}

// EventName returns the event name
func (e ArtifactRegistered) EventName() string {
	return NameArtifactRegistered
}

// NewArtifactRegistered creates a new ArtifactRegistered event
func NewArtifactRegistered(downloadID, location string, size int64, orphan bool) ArtifactRegistered {
	return ArtifactRegistered{
		BaseEvent:  BaseEvent{Timestamp: time.Now()},
		DownloadID: downloadID,
		Location:   location,
		Size:       size,
		Orphan:     orphan,
	}
}

// ArtifactRemoved is raised when a registry entry is removed
type ArtifactRemoved struct {
	BaseEvent
	DownloadID string
	Location   string
	Reason     string
}

// EventName returns the event name
func (e ArtifactRemoved) EventName() string {
	return NameArtifactRemoved
}

// NewArtifactRemoved creates a new ArtifactRemoved event
func NewArtifactRemoved(downloadID, location, reason string) ArtifactRemoved {
	return ArtifactRemoved{
		BaseEvent:  BaseEvent{Timestamp: time.Now()},
		DownloadID: downloadID,
		Location:   location,
		Reason:     reason,
	}
}
