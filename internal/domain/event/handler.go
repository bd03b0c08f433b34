package event

import (
	"sync/atomic"

	"go.uber.org/zap"
)

// LoggingHandler logs all events
type LoggingHandler struct {
	logger *zap.Logger
}

// NewLoggingHandler creates a new LoggingHandler
func NewLoggingHandler(logger *zap.Logger) *LoggingHandler {
	return &LoggingHandler{logger: logger}
}

// Handle logs the event
func (h *LoggingHandler) Handle(event DomainEvent) error {
	switch e := event.(type) {
	case DownloadProgress:
		h.logger.Debug("download progress",
			zap.String("download_id", e.DownloadID),
			zap.Float64("progress", e.Progress),
			zap.Int64("bytes_downloaded", e.BytesDownloaded),
			zap.Int64("total_bytes", e.TotalBytes),
			zap.String("state", e.State.String()),
		)
	case DownloadCompleted:
		h.logger.Info("download completed",
			zap.String("download_id", e.DownloadID),
			zap.String("location", e.Location),
			zap.Int64("size", e.Size),
			zap.Duration("duration", e.Duration),
		)
	case DownloadFailed:
		h.logger.Warn("download failed",
			zap.String("download_id", e.DownloadID),
			zap.String("error", e.Error),
		)
	case DownloadCanceled:
		h.logger.Info("download canceled",
			zap.String("download_id", e.DownloadID),
		)
	case ArtifactRegistered:
		h.logger.Info("artifact registered",
			zap.String("download_id", e.DownloadID),
			zap.String("location", e.Location),
			zap.Int64("size", e.Size),
			zap.Bool("orphan", e.Orphan),
		)
	case ArtifactRemoved:
		h.logger.Info("artifact removed",
			zap.String("download_id", e.DownloadID),
			zap.String("location", e.Location),
			zap.String("reason", e.Reason),
		)
	default:
		h.logger.Debug("domain event",
			zap.String("event", event.EventName()),
			zap.Time("occurred_at", event.OccurredAt()),
		)
	}
	return nil
}

// HandledEvents returns the events this handler handles
func (h *LoggingHandler) HandledEvents() []string {
	return []string{AllEvents}
}

// MetricsHandler collects metrics from events
type MetricsHandler struct {
	downloadsCompleted atomic.Int64
	downloadsFailed    atomic.Int64
	downloadsCanceled  atomic.Int64
	artifactsAdded     atomic.Int64
	artifactsRemoved   atomic.Int64
	bytesDownloaded    atomic.Int64
}

// NewMetricsHandler creates a new MetricsHandler
func NewMetricsHandler() *MetricsHandler {
	return &MetricsHandler{}
}

// Handle updates metrics based on the event
func (h *MetricsHandler) Handle(event DomainEvent) error {
	switch e := event.(type) {
	case DownloadCompleted:
		h.downloadsCompleted.Add(1)
		h.bytesDownloaded.Add(e.Size)
	case DownloadFailed:
		h.downloadsFailed.Add(1)
	case DownloadCanceled:
		h.downloadsCanceled.Add(1)
	case ArtifactRegistered:
		h.artifactsAdded.Add(1)
	case ArtifactRemoved:
		h.artifactsRemoved.Add(1)
	}
	return nil
}

// HandledEvents returns the events this handler handles
func (h *MetricsHandler) HandledEvents() []string {
	return []string{
		NameDownloadCompleted,
		NameDownloadFailed,
		NameDownloadCanceled,
		NameArtifactRegistered,
		NameArtifactRemoved,
	}
}

// GetMetrics returns current metrics
func (h *MetricsHandler) GetMetrics() map[string]int64 {
	return map[string]int64{
		"downloads_completed": h.downloadsCompleted.Load(),
		"downloads_failed":    h.downloadsFailed.Load(),
		"downloads_canceled":  h.downloadsCanceled.Load(),
		"artifacts_added":     h.artifactsAdded.Load(),
		"artifacts_removed":   h.artifactsRemoved.Load(),
		"bytes_downloaded":    h.bytesDownloaded.Load(),
	}
}
