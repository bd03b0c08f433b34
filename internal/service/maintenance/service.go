package maintenance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vertextoedge/offline-stream/internal/domain"
	"github.com/vertextoedge/offline-stream/internal/domain/event"
	"github.com/vertextoedge/offline-stream/internal/port"
	"github.com/vertextoedge/offline-stream/internal/util/ratelimiter"
)

// Registry is the part of the offline registry maintenance reconciles
type Registry interface {
	CleanupMissing(skip func(downloadID string) bool) (int, error)
}

// Downloads reports which downloads currently own a transfer task
type Downloads interface {
	IsActive(downloadID string) bool
}

// Storage is the part of the artifact storage area maintenance sweeps
type Storage interface {
	CleanOldPartials(olderThan time.Duration, keep func(downloadID string) bool) (int, error)
	CleanTempFiles() (int, error)
}

// Config contains maintenance service configuration
type Config struct {
	// RegistryCheckInterval is how often registry entries are checked
	// against the artifacts on disk
	RegistryCheckInterval time.Duration

	// CleanupInterval is how often to run cleanup tasks
	CleanupInterval time.Duration

	// FailedRecordMaxAge is how long a failed download stays retryable
	FailedRecordMaxAge time.Duration

	// PartialMaxAge is the age after which an unowned partial directory is removed
	PartialMaxAge time.Duration

	// TriggerInterval is the minimum spacing between event-triggered runs
	TriggerInterval time.Duration
}

// DefaultConfig returns default maintenance configuration
func DefaultConfig() *Config {
	return &Config{
		RegistryCheckInterval: 10 * time.Minute,
		CleanupInterval:       time.Hour,
		FailedRecordMaxAge:    7 * 24 * time.Hour,
		PartialMaxAge:         7 * 24 * time.Hour,
		TriggerInterval:       5 * time.Minute,
	}
}

// Service handles periodic maintenance tasks
type Service struct {
	config    *Config
	records   port.DownloadRecordRepository
	partials  port.PartialDownloadRepository
	registry  Registry
	downloads Downloads
	storage   Storage
	limiter   *ratelimiter.Limiter
	logger    *zap.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a new maintenance Service
func New(
	cfg *Config,
	records port.DownloadRecordRepository,
	partials port.PartialDownloadRepository,
	registry Registry,
	downloads Downloads,
	storage Storage,
	logger *zap.Logger,
) *Service {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.RegistryCheckInterval == 0 {
		cfg.RegistryCheckInterval = 10 * time.Minute
	}
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = time.Hour
	}
	if cfg.FailedRecordMaxAge == 0 {
		cfg.FailedRecordMaxAge = 7 * 24 * time.Hour
	}
	if cfg.PartialMaxAge == 0 {
		cfg.PartialMaxAge = 7 * 24 * time.Hour
	}
	if cfg.TriggerInterval == 0 {
		cfg.TriggerInterval = 5 * time.Minute
	}

	return &Service{
		config:    cfg,
		records:   records,
		partials:  partials,
		registry:  registry,
		downloads: downloads,
		storage:   storage,
		limiter:   ratelimiter.New(cfg.TriggerInterval),
		logger:    logger,
	}
}

// Start runs the maintenance loop until ctx is canceled or Stop is called
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("maintenance service already running")
	}
	s.running = true
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.logger.Info("maintenance service started",
		zap.Duration("registry_check_interval", s.config.RegistryCheckInterval),
		zap.Duration("cleanup_interval", s.config.CleanupInterval))

	s.wg.Add(1)
	go s.maintenanceLoop(ctx)

	<-ctx.Done()
	s.wg.Wait()
	s.logger.Info("maintenance service stopped")
	return nil
}

// Stop stops the maintenance service
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	s.running = false
}

// RunOnce runs every maintenance task a single time
func (s *Service) RunOnce() {
	s.checkRegistry()
	s.cleanupFailedRecords()
	s.cleanupPartials()
	s.cleanupTempFiles()
}

// Trigger runs maintenance in the background unless a triggered run
// happened within TriggerInterval. It reports whether a run was started.
func (s *Service) Trigger() bool {
	allowed, wait := s.limiter.Allow()
	if !allowed {
		s.logger.Debug("maintenance trigger throttled", zap.Duration("retry_in", wait))
		return false
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.RunOnce()
	}()
	return true
}

// Handler returns an event handler that triggers maintenance whenever
// downloads are canceled or artifacts are removed
func (s *Service) Handler() event.EventHandler {
	return &event.HandlerFunc{
		Events: []string{event.NameDownloadCanceled, event.NameArtifactRemoved},
		Fn:     func(event.DomainEvent) { s.Trigger() },
	}
}

// Wait blocks until background runs started by Trigger have finished
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) maintenanceLoop(ctx context.Context) {
	defer s.wg.Done()

	registryTicker := time.NewTicker(s.config.RegistryCheckInterval)
	defer registryTicker.Stop()

	cleanupTicker := time.NewTicker(s.config.CleanupInterval)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-registryTicker.C:
			s.checkRegistry()
		case <-cleanupTicker.C:
			s.cleanupFailedRecords()
			s.cleanupPartials()
			s.cleanupTempFiles()
		}
	}
}

// checkRegistry drops entries whose artifact disappeared from disk
func (s *Service) checkRegistry() {
	removed, err := s.registry.CleanupMissing(s.downloads.IsActive)
	if err != nil {
		s.logger.Error("failed to check registry entries", zap.Error(err))
	} else if removed > 0 {
		s.logger.Info("removed registry entries with missing artifacts", zap.Int("count", removed))
	}
}

// cleanupFailedRecords forgets failed downloads nobody retried in time,
// together with the partial kept for the retry
func (s *Service) cleanupFailedRecords() {
	records, err := s.records.ListRecords()
	if err != nil {
		s.logger.Error("failed to list download records", zap.Error(err))
		return
	}

	threshold := time.Now().Add(-s.config.FailedRecordMaxAge)
	cleared := 0
	for _, r := range records {
		if r.State != domain.StateFailed || !r.UpdatedAt.Before(threshold) {
			continue
		}
		if err := s.records.DeleteRecord(r.DownloadID); err != nil {
			s.logger.Warn("failed to delete failed download", zap.String("download_id", r.DownloadID), zap.Error(err))
			continue
		}
		if err := s.partials.DeletePartial(r.DownloadID); err != nil {
			s.logger.Warn("failed to delete partial download", zap.String("download_id", r.DownloadID), zap.Error(err))
		}
		cleared++
	}
	if cleared > 0 {
		s.logger.Info("cleaned up old failed downloads", zap.Int("count", cleared))
	}
}

// cleanupPartials removes partial directories no download record refers to
func (s *Service) cleanupPartials() {
	count, err := s.storage.CleanOldPartials(s.config.PartialMaxAge, s.owned)
	if err != nil {
		s.logger.Error("failed to cleanup old partial artifacts", zap.Error(err))
	} else if count > 0 {
		s.logger.Info("cleaned up old partial artifacts", zap.Int("count", count))
	}
}

func (s *Service) cleanupTempFiles() {
	count, err := s.storage.CleanTempFiles()
	if err != nil {
		s.logger.Error("failed to cleanup temp files", zap.Error(err))
	} else if count > 0 {
		s.logger.Info("cleaned up temp files from storage", zap.Int("count", count))
	}
}

// owned reports whether a partial directory still belongs to a download
func (s *Service) owned(downloadID string) bool {
	if s.downloads.IsActive(downloadID) {
		return true
	}
	record, err := s.records.GetRecord(downloadID)
	if err != nil {
		// Keep the directory when in doubt
		return true
	}
	return record != nil
}
