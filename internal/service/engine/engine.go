package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vertextoedge/offline-stream/internal/domain"
	"github.com/vertextoedge/offline-stream/internal/domain/event"
	"github.com/vertextoedge/offline-stream/internal/port"
	"github.com/vertextoedge/offline-stream/internal/util/keylock"
)

// ErrClosed is returned by operations on a closed engine
var ErrClosed = errors.New("download engine is closed")

// TrackSelector resolves a track request into concrete renditions
type TrackSelector interface {
	Select(ctx context.Context, req domain.TrackRequest) (*domain.TrackSelection, error)
}

// TrackLister inspects a master manifest for the tracks a caller can pick from
type TrackLister interface {
	Inspect(ctx context.Context, masterURL string, headers map[string]string) (*domain.TrackListing, error)
}

// ArtifactRegistry is the offline index completed downloads are added to
type ArtifactRegistry interface {
	Register(downloadID, sourceURL, location string) (*domain.RegistryEntry, error)
	Get(downloadID string) (*domain.RegistryEntry, error)
	Remove(downloadID string) error
	ScanOrphans() (int, error)
}

// Config contains engine configuration
type Config struct {
	ProgressInterval time.Duration
	PreflightTimeout time.Duration

	// PersistInterval throttles progress writes to the record store
	PersistInterval time.Duration
}

// DefaultConfig returns default engine configuration
func DefaultConfig() *Config {
	return &Config{
		ProgressInterval: time.Second,
		PreflightTimeout: 5 * time.Second,
		PersistInterval:  5 * time.Second,
	}
}

// Status is a caller-facing view of one download
type Status struct {
	DownloadID       string               `json:"download_id"`
	State            domain.DownloadState `json:"state"`
	BytesDownloaded  int64                `json:"bytes_downloaded"`
	TotalBytes       int64                `json:"total_bytes"`
	Percent          float64              `json:"percent"`
	ArtifactLocation string               `json:"artifact_location,omitempty"`
	LastError        string               `json:"last_error,omitempty"`
	Incomplete       bool                 `json:"incomplete,omitempty"`
}

// taskBinding maps a transfer task back to its download
type taskBinding struct {
	downloadID string
	canceled   bool
}

// activeDownload is the in-memory state of a download with a live task
type activeDownload struct {
	taskID      string
	state       domain.DownloadState
	bytes       int64
	total       int64
	startedAt   time.Time
	persistedAt time.Time
}

// Engine drives downloads through their lifecycle on top of a transfer
// primitive. Operations on one download id are serialized; different ids
// proceed independently.
type Engine struct {
	config   *Config
	records  port.DownloadRecordRepository
	partials port.PartialDownloadRepository
	transfer port.Transfer
	tracks   TrackLister
	selector TrackSelector
	registry ArtifactRegistry
	space    port.SpaceManager
	network  port.NetworkProbe
	fs       port.FileSystem
	sink     event.Sink
	logger   *zap.Logger
	reporter *Reporter

	locks *keylock.Locks

	// mu guards the maps below and is never held across I/O
	mu     sync.Mutex
	tasks  map[string]*taskBinding
	active map[string]*activeDownload
	closed bool
}

// New creates a new Engine and registers it as the transfer observer.
// space and network may be nil to skip the storage and network preflights.
func New(
	cfg *Config,
	records port.DownloadRecordRepository,
	partials port.PartialDownloadRepository,
	transfer port.Transfer,
	tracks TrackLister,
	selector TrackSelector,
	registry ArtifactRegistry,
	space port.SpaceManager,
	network port.NetworkProbe,
	fs port.FileSystem,
	sink event.Sink,
	logger *zap.Logger,
) *Engine {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = time.Second
	}
	if cfg.PreflightTimeout <= 0 {
		cfg.PreflightTimeout = 5 * time.Second
	}
	if cfg.PersistInterval <= 0 {
		cfg.PersistInterval = 5 * time.Second
	}
	if sink == nil {
		sink = event.NullSink{}
	}

	e := &Engine{
		config:   cfg,
		records:  records,
		partials: partials,
		transfer: transfer,
		tracks:   tracks,
		selector: selector,
		registry: registry,
		space:    space,
		network:  network,
		fs:       fs,
		sink:     sink,
		logger:   logger,
		locks:    keylock.New(),
		tasks:    make(map[string]*taskBinding),
		active:   make(map[string]*activeDownload),
	}
	e.reporter = NewReporter(cfg.ProgressInterval, e.progress, sink, logger)
	transfer.SetObserver(e)

	return e
}

// ListTracks returns the renditions a caller can download from masterURL
func (e *Engine) ListTracks(ctx context.Context, masterURL string, headers map[string]string) (*domain.TrackListing, error) {
	if strings.TrimSpace(masterURL) == "" {
		return nil, fmt.Errorf("%w: master URL is required", domain.ErrInvalidInput)
	}
	return e.tracks.Inspect(ctx, masterURL, headers)
}

// Start begins a download. Any existing download with the same id is
// retired first. The record is persisted before the transfer task is
// created so a crash in between can be reconciled by Recover.
func (e *Engine) Start(ctx context.Context, req domain.TrackRequest) (*Status, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	if e.isClosed() {
		return nil, ErrClosed
	}

	if e.network != nil {
		pctx, cancel := context.WithTimeout(ctx, e.config.PreflightTimeout)
		err := e.network.Available(pctx)
		cancel()
		if err != nil {
			return nil, err
		}
	}

	selection, err := e.selector.Select(ctx, req)
	if err != nil {
		return nil, err
	}

	if e.space != nil {
		result, err := e.space.CheckSpace(selection.EstimatedSizeBytes)
		if err != nil {
			return nil, fmt.Errorf("failed to check storage: %w", err)
		}
		if !result.HasSpace {
			e.logger.Warn("not enough storage for download",
				zap.String("download_id", req.DownloadID),
				zap.Int64("estimated_bytes", selection.EstimatedSizeBytes),
				zap.Bool("limited_by_library_size", result.LimitedByLibrarySize),
				zap.Bool("limited_by_disk_usage", result.LimitedByDiskUsage),
				zap.Bool("limited_by_disk_free", result.LimitedByDiskFree),
			)
			return nil, fmt.Errorf("%w: need %d bytes", domain.ErrStorageInsufficient, selection.EstimatedSizeBytes)
		}
	}

	unlock := e.locks.Lock(req.DownloadID)
	defer unlock()

	if err := e.retire(req.DownloadID, selection); err != nil {
		return nil, err
	}

	record := domain.NewDownloadRecord(req.DownloadID, selection.EstimatedSizeBytes)
	record.ArtifactLocation = e.fs.PartialPath(req.DownloadID)
	if err := e.records.SaveRecord(record); err != nil {
		return nil, fmt.Errorf("failed to save download record: %w", err)
	}

	partial := &domain.PartialDownload{
		DownloadID: req.DownloadID,
		Selection:  *selection,
		Headers:    req.Headers,
		Location:   record.ArtifactLocation,
		UpdatedAt:  time.Now(),
	}
	if err := e.partials.SavePartial(partial); err != nil {
		return nil, fmt.Errorf("failed to save partial download: %w", err)
	}

	if err := e.launch(ctx, record, partial, true); err != nil {
		return nil, err
	}

	e.logger.Info("download started",
		zap.String("download_id", req.DownloadID),
		zap.String("task_id", record.TaskID),
		zap.String("stream_type", string(selection.StreamType)),
		zap.Int("height", selection.ChosenVideo.Height),
		zap.Int64("estimated_bytes", selection.EstimatedSizeBytes),
	)

	return statusOf(record), nil
}

// Pause suspends a download, keeping the bytes written so far
func (e *Engine) Pause(downloadID string) error {
	unlock := e.locks.Lock(downloadID)
	defer unlock()

	record, err := e.records.GetRecord(downloadID)
	if err != nil {
		return err
	}
	if record == nil {
		return fmt.Errorf("download %s: %w", downloadID, domain.ErrNotFound)
	}
	if record.State == domain.StateStopped {
		return nil
	}
	if !record.State.CanTransitionTo(domain.StateStopped) {
		return fmt.Errorf("%w: cannot pause a %s download", domain.ErrInvalidStateTransition, record.State)
	}

	e.mu.Lock()
	a := e.active[downloadID]
	e.mu.Unlock()

	if a != nil {
		if err := e.transfer.Suspend(a.taskID); err != nil {
			// The task ended on its own; its completion callback settles the record
			e.logger.Debug("suspend found no running task",
				zap.String("download_id", downloadID),
				zap.String("task_id", a.taskID),
				zap.Error(err),
			)
		}
	}
	e.reporter.Stop(downloadID)

	e.mu.Lock()
	if a != nil {
		a.state = domain.StateStopped
		record.UpdateProgress(a.bytes, a.total)
	}
	e.mu.Unlock()

	if err := record.Transition(domain.StateStopped); err != nil {
		return err
	}
	if err := e.records.SaveRecord(record); err != nil {
		return err
	}

	e.reporter.Emit(domain.Progress{
		DownloadID:      downloadID,
		BytesDownloaded: record.BytesDownloaded,
		TotalBytes:      record.TotalBytes,
		State:           domain.StateStopped,
	})

	e.logger.Info("download paused",
		zap.String("download_id", downloadID),
		zap.Int64("bytes_downloaded", record.BytesDownloaded),
	)
	return nil
}

// Resume continues a paused download. A download marked incomplete by
// recovery cannot be resumed and must be started again.
func (e *Engine) Resume(ctx context.Context, downloadID string) error {
	if e.isClosed() {
		return ErrClosed
	}

	unlock := e.locks.Lock(downloadID)
	defer unlock()

	record, err := e.records.GetRecord(downloadID)
	if err != nil {
		return err
	}
	if record == nil {
		return fmt.Errorf("download %s: %w", downloadID, domain.ErrNotFound)
	}
	if record.Incomplete {
		return domain.NewDownloadError(downloadID, "resume", domain.ErrDownloadIncomplete)
	}
	if record.State == domain.StateDownloading && e.isActive(downloadID) {
		return nil
	}
	if record.State != domain.StateStopped && record.State != domain.StateQueued && record.State != domain.StateDownloading {
		return fmt.Errorf("%w: cannot resume a %s download", domain.ErrInvalidStateTransition, record.State)
	}

	e.mu.Lock()
	a := e.active[downloadID]
	e.mu.Unlock()

	if a != nil {
		if err := e.requeue(record, a); err != nil {
			return err
		}
		if err := e.transfer.Resume(a.taskID); err == nil {
			e.logger.Info("download resumed",
				zap.String("download_id", downloadID),
				zap.String("task_id", a.taskID),
			)
			return nil
		}
		e.logger.Debug("live task cannot be resumed, recreating from partial",
			zap.String("download_id", downloadID),
			zap.String("task_id", a.taskID),
		)
		e.unbind(downloadID, a.taskID)
	}

	partial, err := e.partials.GetPartial(downloadID)
	if err != nil {
		return err
	}
	if partial == nil || !e.fs.FileExists(partial.Location) {
		record.Incomplete = true
		if err := e.records.SaveRecord(record); err != nil {
			return err
		}
		return domain.NewDownloadError(downloadID, "resume", domain.ErrDownloadIncomplete)
	}

	return e.launch(ctx, record, partial, true)
}

// Cancel stops a download and removes every trace of it, including a
// registered artifact. Cancelling an unknown download is a no-op.
func (e *Engine) Cancel(downloadID string) error {
	unlock := e.locks.Lock(downloadID)
	defer unlock()

	existed, err := e.discard(downloadID, true)
	if err != nil {
		return err
	}

	entry, err := e.registry.Get(downloadID)
	if err != nil {
		return err
	}
	if entry != nil {
		if err := e.registry.Remove(downloadID); err != nil {
			return err
		}
		existed = true
	}

	if existed {
		e.sink.Emit(event.NewDownloadCanceled(downloadID))
		e.logger.Info("download canceled", zap.String("download_id", downloadID))
	}
	return nil
}

// Delete removes a download and its artifact. Unlike Cancel it reports
// ErrNotFound when nothing is known about the id.
func (e *Engine) Delete(downloadID string) error {
	record, err := e.records.GetRecord(downloadID)
	if err != nil {
		return err
	}
	entry, err := e.registry.Get(downloadID)
	if err != nil {
		return err
	}
	if record == nil && entry == nil {
		return fmt.Errorf("download %s: %w", downloadID, domain.ErrNotFound)
	}
	return e.Cancel(downloadID)
}

// Get returns the status of a download. Registered artifacts without a
// record report as completed.
func (e *Engine) Get(downloadID string) (*Status, error) {
	record, err := e.records.GetRecord(downloadID)
	if err != nil {
		return nil, err
	}
	if record != nil {
		return e.liveStatus(record), nil
	}

	entry, err := e.registry.Get(downloadID)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, fmt.Errorf("download %s: %w", downloadID, domain.ErrNotFound)
	}
	return &Status{
		DownloadID:       downloadID,
		State:            domain.StateCompleted,
		BytesDownloaded:  entry.FileSizeBytes,
		TotalBytes:       entry.FileSizeBytes,
		Percent:          100,
		ArtifactLocation: entry.ArtifactLocation,
	}, nil
}

// List returns the status of every download that has a record
func (e *Engine) List() ([]*Status, error) {
	records, err := e.records.ListRecords()
	if err != nil {
		return nil, err
	}
	out := make([]*Status, 0, len(records))
	for _, r := range records {
		out = append(out, e.liveStatus(r))
	}
	return out, nil
}

// IsActive reports whether a download has a live transfer task
func (e *Engine) IsActive(downloadID string) bool {
	return e.isActive(downloadID)
}

// Close stops progress reporting and suspends every transfer. Records are
// kept so the next Recover picks the downloads up again.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	e.reporter.Close()
	return e.transfer.Close()
}

// OnStarted moves a download to downloading once its task holds a slot
func (e *Engine) OnStarted(taskID string) {
	downloadID, a := e.current(taskID)
	if a == nil {
		return
	}

	e.mu.Lock()
	a.state = domain.StateDownloading
	e.mu.Unlock()

	record, err := e.records.GetRecord(downloadID)
	if err == nil && record != nil && record.TaskID == taskID {
		if err := record.Transition(domain.StateDownloading); err == nil {
			if err := e.records.SaveRecord(record); err != nil {
				e.logger.Warn("failed to save download state", zap.String("download_id", downloadID), zap.Error(err))
			}
		}
	}

	e.reporter.Start(downloadID)
}

// OnProgress records transfer progress in memory and periodically in the store
func (e *Engine) OnProgress(taskID string, bytesWritten, totalBytes int64) {
	downloadID, a := e.current(taskID)
	if a == nil {
		return
	}

	e.mu.Lock()
	if bytesWritten > a.bytes {
		a.bytes = bytesWritten
	}
	if totalBytes > 0 {
		a.total = totalBytes
	}
	persist := time.Since(a.persistedAt) >= e.config.PersistInterval
	if persist {
		a.persistedAt = time.Now()
	}
	bytes, total := a.bytes, a.total
	e.mu.Unlock()

	if persist {
		if err := e.records.UpdateProgress(downloadID, bytes, total); err != nil {
			e.logger.Debug("failed to persist progress", zap.String("download_id", downloadID), zap.Error(err))
		}
	}
}

// OnFinished settles a download when its task completes, fails or is canceled
func (e *Engine) OnFinished(taskID, location string, err error) {
	e.mu.Lock()
	binding := e.tasks[taskID]
	delete(e.tasks, taskID)
	e.mu.Unlock()

	if binding == nil {
		e.logger.Debug("completion for unknown task", zap.String("task_id", taskID))
		return
	}

	downloadID := binding.downloadID
	unlock := e.locks.Lock(downloadID)
	defer unlock()

	e.mu.Lock()
	a := e.active[downloadID]
	current := a != nil && a.taskID == taskID
	e.mu.Unlock()

	switch {
	case binding.canceled || errors.Is(err, domain.ErrTaskCanceled):
		// Partial output of a canceled task; a newer download may own it now
		if !e.isActive(downloadID) && location != "" {
			if err := e.fs.DeleteFile(location); err != nil {
				e.logger.Debug("failed to remove canceled output", zap.String("location", location), zap.Error(err))
			}
		}
	case !current:
		e.logger.Debug("ignoring completion of a superseded task",
			zap.String("download_id", downloadID),
			zap.String("task_id", taskID),
		)
	case err == nil:
		e.complete(downloadID, a, location)
	default:
		e.fail(downloadID, taskID, err)
	}
}

// complete registers the finished artifact and drops the transient state
func (e *Engine) complete(downloadID string, a *activeDownload, location string) {
	entry, err := e.registry.Register(downloadID, e.sourceURL(downloadID), location)
	if err != nil {
		e.fail(downloadID, a.taskID, fmt.Errorf("failed to register artifact: %w", err))
		return
	}

	if err := e.records.DeleteRecord(downloadID); err != nil {
		e.logger.Warn("failed to delete download record", zap.String("download_id", downloadID), zap.Error(err))
	}
	if err := e.partials.DeletePartial(downloadID); err != nil {
		e.logger.Warn("failed to delete partial download", zap.String("download_id", downloadID), zap.Error(err))
	}

	e.mu.Lock()
	delete(e.active, downloadID)
	startedAt := a.startedAt
	e.mu.Unlock()

	e.reporter.Stop(downloadID)
	e.reporter.Emit(domain.Progress{
		DownloadID:      downloadID,
		BytesDownloaded: entry.FileSizeBytes,
		TotalBytes:      entry.FileSizeBytes,
		State:           domain.StateCompleted,
	})
	e.reporter.Forget(downloadID)

	e.sink.Emit(event.NewDownloadCompleted(downloadID, location, entry.FileSizeBytes, time.Since(startedAt)))

	e.logger.Info("download completed",
		zap.String("download_id", downloadID),
		zap.String("location", location),
		zap.Int64("size", entry.FileSizeBytes),
		zap.Duration("duration", time.Since(startedAt)),
	)
}

// fail moves a download to failed. No retry is attempted; callers retry
// by starting the download again.
// sourceURL returns the master manifest a download was started from
func (e *Engine) sourceURL(downloadID string) string {
	partial, err := e.partials.GetPartial(downloadID)
	if err != nil || partial == nil {
		return ""
	}
	return partial.Selection.MasterURL
}

func (e *Engine) fail(downloadID, taskID string, cause error) {
	e.mu.Lock()
	a := e.active[downloadID]
	if a != nil && a.taskID == taskID {
		delete(e.active, downloadID)
	}
	e.mu.Unlock()

	e.reporter.Stop(downloadID)

	record, err := e.records.GetRecord(downloadID)
	if err == nil && record != nil {
		if a != nil {
			record.UpdateProgress(a.bytes, a.total)
		}
		if err := record.MarkFailed(cause.Error()); err != nil {
			e.logger.Warn("failed to mark download failed", zap.String("download_id", downloadID), zap.Error(err))
		} else if err := e.records.SaveRecord(record); err != nil {
			e.logger.Warn("failed to save download record", zap.String("download_id", downloadID), zap.Error(err))
		}
	}

	e.sink.Emit(event.NewDownloadFailed(downloadID, cause))

	e.logger.Error("download failed",
		zap.String("download_id", downloadID),
		zap.String("task_id", taskID),
		zap.Error(cause),
	)
}

// retire removes a previous download with the same id before a new start.
// The partial directory is kept only when the new selection fetches the
// same renditions, so its segments can be reused.
func (e *Engine) retire(downloadID string, next *domain.TrackSelection) error {
	keepPartial := false
	if old, err := e.partials.GetPartial(downloadID); err == nil && old != nil {
		keepPartial = sameTracks(&old.Selection, next)
	}

	if _, err := e.discard(downloadID, !keepPartial); err != nil {
		return err
	}

	entry, err := e.registry.Get(downloadID)
	switch {
	case err == nil && entry != nil:
		if err := e.registry.Remove(downloadID); err != nil {
			e.logger.Warn("failed to remove previous artifact",
				zap.String("download_id", downloadID),
				zap.Error(err),
			)
		}
	case e.fs.FileExists(e.fs.BundlePath(downloadID)):
		// Unregistered bundle left behind by an earlier run
		if err := e.fs.DeleteFile(e.fs.BundlePath(downloadID)); err != nil {
			e.logger.Debug("failed to remove stale bundle", zap.String("download_id", downloadID), zap.Error(err))
		}
	}
	return nil
}

// discard cancels the live task of a download and deletes its record and
// partial bookkeeping. It reports whether anything existed.
func (e *Engine) discard(downloadID string, removePartial bool) (bool, error) {
	e.mu.Lock()
	a := e.active[downloadID]
	if a != nil {
		if b := e.tasks[a.taskID]; b != nil {
			b.canceled = true
		}
		delete(e.active, downloadID)
	}
	e.mu.Unlock()

	record, err := e.records.GetRecord(downloadID)
	if err != nil {
		return false, err
	}

	taskID := ""
	switch {
	case a != nil:
		taskID = a.taskID
	case record != nil:
		taskID = record.TaskID
	}
	if taskID != "" {
		if err := e.transfer.Cancel(taskID); err != nil {
			e.logger.Debug("failed to cancel transfer task", zap.String("task_id", taskID), zap.Error(err))
		}
	}

	e.reporter.Forget(downloadID)

	if record != nil {
		if err := e.records.DeleteRecord(downloadID); err != nil {
			return false, err
		}
	}

	if removePartial {
		if err := e.partials.DeletePartial(downloadID); err != nil {
			return false, err
		}
		if err := e.fs.DeleteFile(e.fs.PartialPath(downloadID)); err != nil {
			e.logger.Debug("failed to remove partial artifact", zap.String("download_id", downloadID), zap.Error(err))
		}
	}

	return a != nil || record != nil, nil
}

// launch creates a transfer task for the partial's selection, binds it to
// the download and optionally resumes it
func (e *Engine) launch(ctx context.Context, record *domain.DownloadRecord, partial *domain.PartialDownload, resume bool) error {
	video := partial.Selection.ChosenVideo
	taskID, err := e.transfer.Create(ctx, port.TransferRequest{
		DownloadID:       partial.DownloadID,
		MasterURL:        partial.Selection.MasterURL,
		Video:            &video,
		Audio:            partial.Selection.ChosenAudio,
		MaxAudioChannels: partial.Selection.MaxAudioChannels,
		Headers:          partial.Headers,
		EstimatedBytes:   partial.Selection.EstimatedSizeBytes,
	})
	if err != nil {
		e.markCreationFailed(record, err)
		return fmt.Errorf("%w: %v", domain.ErrDownloadTaskCreationFailed, err)
	}

	// Persisted before the task runs so OnStarted sees the queued state
	if resume && record.State == domain.StateStopped {
		if err := record.Transition(domain.StateQueued); err != nil {
			_ = e.transfer.Cancel(taskID)
			return err
		}
	}
	record.TaskID = taskID
	if err := e.records.SaveRecord(record); err != nil {
		_ = e.transfer.Cancel(taskID)
		return fmt.Errorf("failed to save download record: %w", err)
	}
	partial.TaskID = taskID
	partial.UpdatedAt = time.Now()
	if err := e.partials.SavePartial(partial); err != nil {
		e.logger.Warn("failed to update partial download", zap.String("download_id", record.DownloadID), zap.Error(err))
	}

	e.bind(record.DownloadID, taskID, record.State, record.BytesDownloaded, record.TotalBytes)

	if !resume {
		return nil
	}
	if err := e.transfer.Resume(taskID); err != nil {
		e.unbind(record.DownloadID, taskID)
		_ = e.transfer.Cancel(taskID)
		e.markCreationFailed(record, err)
		return fmt.Errorf("%w: %v", domain.ErrDownloadTaskCreationFailed, err)
	}
	e.logger.Info("download resumed",
		zap.String("download_id", record.DownloadID),
		zap.String("task_id", taskID),
	)
	return nil
}

// requeue saves a stopped download as queued ahead of resuming its task.
// OnStarted moves it to downloading and starts progress reporting once
// the task holds a transfer slot.
func (e *Engine) requeue(record *domain.DownloadRecord, a *activeDownload) error {
	if record.State == domain.StateStopped {
		if err := record.Transition(domain.StateQueued); err != nil {
			return err
		}
	}

	e.mu.Lock()
	a.state = record.State
	e.mu.Unlock()

	return e.records.SaveRecord(record)
}

func (e *Engine) markCreationFailed(record *domain.DownloadRecord, cause error) {
	if err := record.MarkFailed(cause.Error()); err != nil {
		return
	}
	if err := e.records.SaveRecord(record); err != nil {
		e.logger.Warn("failed to save download record", zap.String("download_id", record.DownloadID), zap.Error(err))
	}
}

func (e *Engine) bind(downloadID, taskID string, state domain.DownloadState, bytes, total int64) *activeDownload {
	a := &activeDownload{
		taskID:      taskID,
		state:       state,
		bytes:       bytes,
		total:       total,
		startedAt:   time.Now(),
		persistedAt: time.Now(),
	}

	e.mu.Lock()
	e.tasks[taskID] = &taskBinding{downloadID: downloadID}
	e.active[downloadID] = a
	e.mu.Unlock()
	return a
}

func (e *Engine) unbind(downloadID, taskID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.tasks, taskID)
	if a := e.active[downloadID]; a != nil && a.taskID == taskID {
		delete(e.active, downloadID)
	}
}

// current returns the download a task belongs to if the task is still the
// download's live one
func (e *Engine) current(taskID string) (string, *activeDownload) {
	e.mu.Lock()
	defer e.mu.Unlock()

	b := e.tasks[taskID]
	if b == nil || b.canceled {
		return "", nil
	}
	a := e.active[b.downloadID]
	if a == nil || a.taskID != taskID {
		return "", nil
	}
	return b.downloadID, a
}

func (e *Engine) progress(downloadID string) (domain.Progress, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	a := e.active[downloadID]
	if a == nil {
		return domain.Progress{}, false
	}
	return domain.Progress{
		DownloadID:      downloadID,
		BytesDownloaded: a.bytes,
		TotalBytes:      a.total,
		State:           a.state,
	}, true
}

func (e *Engine) liveStatus(record *domain.DownloadRecord) *Status {
	s := statusOf(record)
	if p, ok := e.progress(record.DownloadID); ok {
		if p.BytesDownloaded > s.BytesDownloaded {
			s.BytesDownloaded = p.BytesDownloaded
		}
		if p.TotalBytes > 0 {
			s.TotalBytes = p.TotalBytes
		}
		s.Percent = domain.Percent(s.BytesDownloaded, s.TotalBytes)
	}
	return s
}

func (e *Engine) isActive(downloadID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.active[downloadID]
	return ok
}

func (e *Engine) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

func statusOf(record *domain.DownloadRecord) *Status {
	return &Status{
		DownloadID:       record.DownloadID,
		State:            record.State,
		BytesDownloaded:  record.BytesDownloaded,
		TotalBytes:       record.TotalBytes,
		Percent:          record.Percent(),
		ArtifactLocation: record.ArtifactLocation,
		LastError:        record.LastError,
		Incomplete:       record.Incomplete,
	}
}

func sameTracks(a, b *domain.TrackSelection) bool {
	if a.ChosenVideo.PlaylistURL != b.ChosenVideo.PlaylistURL {
		return false
	}
	if (a.ChosenAudio == nil) != (b.ChosenAudio == nil) {
		return false
	}
	return a.ChosenAudio == nil || a.ChosenAudio.PlaylistURL == b.ChosenAudio.PlaylistURL
}

func validateRequest(req domain.TrackRequest) error {
	switch {
	case strings.TrimSpace(req.DownloadID) == "":
		return fmt.Errorf("%w: download id is empty", domain.ErrInvalidInput)
	case strings.TrimSpace(req.MasterURL) == "":
		return fmt.Errorf("%w: master url is empty", domain.ErrInvalidInput)
	case req.Height <= 0:
		return fmt.Errorf("%w: height must be positive", domain.ErrInvalidInput)
	}
	return nil
}

// Ensure Engine implements port.TransferObserver
var _ port.TransferObserver = (*Engine)(nil)
