package engine

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vertextoedge/offline-stream/internal/domain"
	"github.com/vertextoedge/offline-stream/internal/domain/event"
)

// ProgressSource returns the current progress of a download
type ProgressSource func(downloadID string) (domain.Progress, bool)

type reporterTimer struct {
	cancel context.CancelFunc
}

// Reporter emits one progress event per interval for every download it
// is started for. Byte counts never decrease for a download id until it
// is forgotten.
type Reporter struct {
	interval time.Duration
	source   ProgressSource
	sink     event.Sink
	logger   *zap.Logger

	mu     sync.Mutex
	timers map[string]*reporterTimer
	last   map[string]int64
	wg     sync.WaitGroup
}

// NewReporter creates a new Reporter
func NewReporter(interval time.Duration, source ProgressSource, sink event.Sink, logger *zap.Logger) *Reporter {
	if interval <= 0 {
		interval = time.Second
	}
	if sink == nil {
		sink = event.NullSink{}
	}
	return &Reporter{
		interval: interval,
		source:   source,
		sink:     sink,
		logger:   logger,
		timers:   make(map[string]*reporterTimer),
		last:     make(map[string]int64),
	}
}

// Start begins periodic reporting for a download. Starting an already
// reporting download is a no-op.
func (r *Reporter) Start(downloadID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.timers[downloadID]; ok {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	timer := &reporterTimer{cancel: cancel}
	r.timers[downloadID] = timer

	r.wg.Add(1)
	go r.loop(ctx, downloadID, timer)

	r.logger.Debug("progress reporting started", zap.String("download_id", downloadID))
}

// Stop ends periodic reporting for a download
func (r *Reporter) Stop(downloadID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if timer, ok := r.timers[downloadID]; ok {
		timer.cancel()
		delete(r.timers, downloadID)
	}
}

// Active returns true while a download has a running timer
func (r *Reporter) Active(downloadID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.timers[downloadID]
	return ok
}

// Len returns the number of running timers
func (r *Reporter) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.timers)
}

// Emit sends one progress event immediately
func (r *Reporter) Emit(p domain.Progress) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.emitLocked(p)
}

// Forget stops reporting and resets the monotonic byte floor of a download
func (r *Reporter) Forget(downloadID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if timer, ok := r.timers[downloadID]; ok {
		timer.cancel()
		delete(r.timers, downloadID)
	}
	delete(r.last, downloadID)
}

// Close stops every timer and waits for the reporting goroutines to exit
func (r *Reporter) Close() {
	r.mu.Lock()
	for id, timer := range r.timers {
		timer.cancel()
		delete(r.timers, id)
	}
	r.mu.Unlock()

	r.wg.Wait()
}

func (r *Reporter) loop(ctx context.Context, downloadID string, timer *reporterTimer) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		// The source is read outside r.mu; it may take engine locks
		p, ok := r.source(downloadID)
		if !ok {
			continue
		}

		r.mu.Lock()
		if r.timers[downloadID] == timer && ctx.Err() == nil {
			r.emitLocked(p)
		}
		r.mu.Unlock()
	}
}

func (r *Reporter) emitLocked(p domain.Progress) {
	if last := r.last[p.DownloadID]; p.BytesDownloaded < last {
		p.BytesDownloaded = last
	}
	r.last[p.DownloadID] = p.BytesDownloaded
	r.sink.Emit(event.NewDownloadProgress(p))
}
