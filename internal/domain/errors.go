package domain

import (
	"errors"
)

// Error taxonomy surfaced to callers
var (
	ErrManifestUnreachable        = errors.New("manifest unreachable")
	ErrNoPlayableRenditions       = errors.New("no playable renditions")
	ErrTrackNotFound              = errors.New("track not found")
	ErrDownloadTaskCreationFailed = errors.New("download task creation failed")
	ErrDownloadIncomplete         = errors.New("download incomplete, restart required")
	ErrNetworkUnavailable         = errors.New("network unavailable")
	ErrStorageInsufficient        = errors.New("insufficient storage")
	ErrNotFound                   = errors.New("not found")

	// Internal errors
	ErrInvalidInput           = errors.New("invalid input")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrInvalidBundle          = errors.New("invalid artifact bundle")
	ErrTaskCanceled           = errors.New("transfer task canceled")
)

// DownloadError ties an error to the download and operation that produced it
type DownloadError struct {
	DownloadID string
	Op         string
	Err        error
}

// Error returns the error message
func (e *DownloadError) Error() string {
	msg := e.Op
	if e.DownloadID != "" {
		msg += " " + e.DownloadID
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error
func (e *DownloadError) Unwrap() error {
	return e.Err
}

// NewDownloadError creates a new DownloadError
func NewDownloadError(downloadID, op string, err error) *DownloadError {
	return &DownloadError{DownloadID: downloadID, Op: op, Err: err}
}

// SkippableError represents an error that can be logged and skipped.
// Recovery and orphan scans continue with the next item when this occurs.
type SkippableError struct {
	Err     error
	Context string
}

// Error returns the error message
func (e *SkippableError) Error() string {
	if e.Context != "" {
		if e.Err != nil {
			return e.Context + ": " + e.Err.Error()
		}
		return e.Context
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return "skippable error"
}

// Unwrap returns the underlying error
func (e *SkippableError) Unwrap() error {
	return e.Err
}

// NewSkippableError creates a new skippable error
func NewSkippableError(err error, context string) *SkippableError {
	return &SkippableError{Err: err, Context: context}
}

// IsSkippable returns true if the error can be skipped
func IsSkippable(err error) bool {
	var se *SkippableError
	return errors.As(err, &se)
}
