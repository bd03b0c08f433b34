package port

import (
	"context"

	"github.com/vertextoedge/offline-stream/internal/domain"
)

// TaskState is the state of a transfer task as reported by the transfer primitive
type TaskState string

const (
	TaskRunning   TaskState = "running"
	TaskSuspended TaskState = "suspended"
	TaskCompleted TaskState = "completed"
	TaskCanceled  TaskState = "canceled"
)

// TransferRequest describes exactly what a transfer task should fetch
type TransferRequest struct {
	DownloadID       string
	MasterURL        string
	Video            *domain.Rendition
	Audio            *domain.Rendition
	MaxAudioChannels int
	Headers          map[string]string

	// EstimatedBytes seeds the reported total until segment sizes are known
	EstimatedBytes int64
}

// TaskInfo is a snapshot of a live transfer task
type TaskInfo struct {
	TaskID string
	// Label is the download id the task was created for; may be empty
	Label        string
	State        TaskState
	BytesWritten int64
	TotalBytes   int64
	Location     string
}

// TransferObserver receives transfer callbacks. Callbacks only carry the
// task id; observers map it back to a download themselves.
type TransferObserver interface {
	OnStarted(taskID string)
	OnProgress(taskID string, bytesWritten, totalBytes int64)
	OnFinished(taskID string, location string, err error)
}

// Transfer is the byte-transfer primitive the engine delegates to
type Transfer interface {
	// Create registers a suspended task for the request and returns its id.
	// An existing partial artifact for the download id is reused.
	Create(ctx context.Context, req TransferRequest) (string, error)

	// Resume starts or continues a task
	Resume(taskID string) error

	// Suspend pauses a task, keeping the bytes written so far
	Suspend(taskID string) error

	// Cancel stops a task; its completion callback reports domain.ErrTaskCanceled
	Cancel(taskID string) error

	// Tasks lists the tasks the primitive still knows about
	Tasks() []TaskInfo

	// SetObserver sets the callback receiver
	SetObserver(observer TransferObserver)

	// Close stops every task without reporting completion
	Close() error
}
