package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/vertextoedge/offline-stream/internal/domain"
	"github.com/vertextoedge/offline-stream/internal/domain/event"
	"github.com/vertextoedge/offline-stream/internal/port"
)

// RecoveryReport summarises what Recover reconciled
type RecoveryReport struct {
	Reattached int `json:"reattached"`
	Recreated  int `json:"recreated"`
	Incomplete int `json:"incomplete"`
	Completed  int `json:"completed"`
	Orphans    int `json:"orphans"`
	Abandoned  int `json:"abandoned"`
}

// Recover reconciles persisted records with the transfer primitive and the
// artifact storage area after a restart. It is safe to call repeatedly.
//
// Records with a live task are re-attached to it. Records without one get
// a new task bound to their partial artifact, or are marked incomplete
// when no partial artifact exists. Finally, valid bundles missing from the
// registry are registered.
func (e *Engine) Recover(ctx context.Context) (*RecoveryReport, error) {
	if e.isClosed() {
		return nil, ErrClosed
	}
	start := time.Now()
	report := &RecoveryReport{}

	records, err := e.records.ListRecords()
	if err != nil {
		return nil, err
	}

	live := make(map[string]port.TaskInfo)
	for _, t := range e.transfer.Tasks() {
		live[t.TaskID] = t
	}

	claimed := make(map[string]bool)
	for _, record := range records {
		if record.State.IsTerminal() {
			continue
		}
		claimed[record.TaskID] = true

		unlock := e.locks.Lock(record.DownloadID)
		err := e.recoverRecord(ctx, record, live, report)
		unlock()

		if err != nil {
			e.logger.Warn("failed to recover download",
				zap.String("download_id", record.DownloadID),
				zap.Error(err),
			)
		}
	}

	// Tasks nobody owns any more
	for taskID, t := range live {
		if claimed[taskID] || e.owned(taskID) {
			continue
		}
		if err := e.transfer.Cancel(taskID); err != nil {
			e.logger.Debug("failed to cancel abandoned task", zap.String("task_id", taskID), zap.Error(err))
			continue
		}
		report.Abandoned++
		e.logger.Info("canceled abandoned transfer task",
			zap.String("task_id", taskID),
			zap.String("label", t.Label),
		)
	}

	orphans, err := e.registry.ScanOrphans()
	if err != nil {
		e.logger.Warn("failed to scan for orphan artifacts", zap.Error(err))
	}
	report.Orphans = orphans

	e.logger.Info("recovery finished",
		zap.Int("reattached", report.Reattached),
		zap.Int("recreated", report.Recreated),
		zap.Int("incomplete", report.Incomplete),
		zap.Int("completed", report.Completed),
		zap.Int("orphans", report.Orphans),
		zap.Int("abandoned", report.Abandoned),
		zap.Duration("elapsed", time.Since(start)),
	)

	return report, nil
}

func (e *Engine) recoverRecord(ctx context.Context, record *domain.DownloadRecord, live map[string]port.TaskInfo, report *RecoveryReport) error {
	downloadID := record.DownloadID
	if e.isActive(downloadID) {
		return nil
	}

	// The process died between finalizing the bundle and registering it
	bundle := e.fs.BundlePath(downloadID)
	if manifest, err := e.fs.ValidateBundle(bundle); err == nil && manifest.DownloadID == downloadID && manifest.TaskID == record.TaskID {
		entry, err := e.registry.Register(downloadID, manifest.MasterURL, bundle)
		if err != nil {
			return err
		}
		if err := e.records.DeleteRecord(downloadID); err != nil {
			return err
		}
		if err := e.partials.DeletePartial(downloadID); err != nil {
			return err
		}
		report.Completed++
		e.sink.Emit(event.NewDownloadCompleted(downloadID, bundle, entry.FileSizeBytes, 0))
		return nil
	}

	if t, ok := live[record.TaskID]; ok && (t.State == port.TaskRunning || t.State == port.TaskSuspended) {
		return e.reattach(record, t, report)
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
		report.Incomplete++
		e.logger.Warn("download cannot be recovered, restart required",
			zap.String("download_id", downloadID),
		)
		return nil
	}

	if err := e.launch(ctx, record, partial, record.State != domain.StateStopped); err != nil {
		return err
	}
	report.Recreated++

	e.logger.Info("recreated transfer task from partial artifact",
		zap.String("download_id", downloadID),
		zap.String("task_id", record.TaskID),
		zap.String("state", string(record.State)),
	)
	return nil
}

// reattach binds a record to a task the transfer primitive still knows.
// Running tasks are cycled through suspend and resume so the started and
// progress callbacks reach this engine right away.
func (e *Engine) reattach(record *domain.DownloadRecord, t port.TaskInfo, report *RecoveryReport) error {
	record.UpdateProgress(t.BytesWritten, t.TotalBytes)

	running := t.State == port.TaskRunning
	if running {
		if err := e.transfer.Suspend(t.TaskID); err != nil {
			return err
		}
	}

	a := e.bind(record.DownloadID, t.TaskID, record.State, record.BytesDownloaded, record.TotalBytes)

	if !running && record.State == domain.StateStopped {
		return e.keepPaused(record, report)
	}
	if err := e.requeue(record, a); err != nil {
		e.unbind(record.DownloadID, t.TaskID)
		return err
	}
	if err := e.transfer.Resume(t.TaskID); err != nil {
		e.unbind(record.DownloadID, t.TaskID)
		return err
	}

	report.Reattached++
	return nil
}

func (e *Engine) keepPaused(record *domain.DownloadRecord, report *RecoveryReport) error {
	if err := e.records.SaveRecord(record); err != nil {
		return err
	}
	report.Reattached++
	return nil
}

func (e *Engine) owned(taskID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.tasks[taskID]
	return ok
}
