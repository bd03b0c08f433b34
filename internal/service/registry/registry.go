package registry

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vertextoedge/offline-stream/internal/domain"
	"github.com/vertextoedge/offline-stream/internal/domain/event"
	"github.com/vertextoedge/offline-stream/internal/domain/vo"
	"github.com/vertextoedge/offline-stream/internal/port"
	"github.com/vertextoedge/offline-stream/internal/util/keylock"
)

// Removal reasons reported in ArtifactRemoved events
const (
	ReasonRemoved = "removed"
	ReasonMissing = "missing"
)

// Config contains registry configuration
type Config struct {
	// LookupTimeout bounds IsCached; a slower lookup reports "not cached"
	LookupTimeout time.Duration
}

// DefaultConfig returns default registry configuration
func DefaultConfig() *Config {
	return &Config{LookupTimeout: time.Second}
}

// Registry is the index of completed, playable offline artifacts
type Registry struct {
	config *Config
	repo   port.RegistryRepository
	fs     port.FileSystem
	sink   event.Sink
	logger *zap.Logger

	// locks serializes writes per download id; cleanup re-reads an entry
	// under its lock so it never races a registration of the same id
	locks *keylock.Locks
}

// New creates a new Registry
func New(cfg *Config, repo port.RegistryRepository, fs port.FileSystem, sink event.Sink, logger *zap.Logger) *Registry {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = time.Second
	}
	if sink == nil {
		sink = event.NullSink{}
	}
	return &Registry{
		config: cfg,
		repo:   repo,
		fs:     fs,
		sink:   sink,
		logger: logger,
		locks:  keylock.New(),
	}
}

// Register records a completed artifact downloaded from sourceURL,
// measuring its size on disk. Registering the same id and location again
// returns the existing entry.
func (r *Registry) Register(downloadID, sourceURL, location string) (*domain.RegistryEntry, error) {
	unlock := r.locks.Lock(downloadID)
	defer unlock()
	return r.register(downloadID, sourceURL, location, false)
}

func (r *Registry) register(downloadID, sourceURL, location string, orphan bool) (*domain.RegistryEntry, error) {
	if strings.TrimSpace(downloadID) == "" || strings.TrimSpace(location) == "" {
		return nil, fmt.Errorf("%w: download id and location are required", domain.ErrInvalidInput)
	}
	if !r.fs.FileExists(location) {
		return nil, fmt.Errorf("artifact %s: %w", location, domain.ErrNotFound)
	}

	existing, err := r.repo.GetEntry(downloadID)
	if err != nil {
		return nil, fmt.Errorf("failed to read registry entry: %w", err)
	}
	if existing != nil && existing.ArtifactLocation == location {
		return existing, nil
	}

	size, err := r.fs.GetFileSize(location)
	if err != nil {
		return nil, fmt.Errorf("failed to measure artifact: %w", err)
	}

	entry := &domain.RegistryEntry{
		DownloadID:       downloadID,
		ArtifactLocation: location,
		FileSizeBytes:    size,
		SourceURL:        sourceURL,
		RegisteredAt:     time.Now(),
	}
	if id, ok := vo.ExtractContentID(downloadID); ok {
		entry.ContentID = id.String()
	} else if id, ok := vo.ExtractContentID(sourceURL); ok {
		entry.ContentID = id.String()
	}

	if err := r.repo.PutEntry(entry); err != nil {
		return nil, fmt.Errorf("failed to save registry entry: %w", err)
	}

	r.logger.Info("artifact registered",
		zap.String("download_id", downloadID),
		zap.String("location", location),
		zap.String("size", vo.SizeOf(size).String()),
		zap.Bool("orphan", orphan),
	)
	r.sink.Emit(event.NewArtifactRegistered(downloadID, location, size, orphan))

	return entry, nil
}

// IsCached reports whether uri resolves to a playable artifact. Lookups
// slower than the configured timeout report false.
func (r *Registry) IsCached(ctx context.Context, uri string) bool {
	ctx, cancel := context.WithTimeout(ctx, r.config.LookupTimeout)
	defer cancel()

	result := make(chan bool, 1)
	go func() {
		entry, err := r.Lookup(uri)
		result <- err == nil && entry != nil
	}()

	select {
	case cached := <-result:
		return cached
	case <-ctx.Done():
		r.logger.Warn("registry lookup timed out",
			zap.String("uri", uri),
			zap.Duration("timeout", r.config.LookupTimeout),
		)
		return false
	}
}

// Lookup resolves a playback URI to its registry entry. The URI matches
// an entry by exact id or source URL, or by the content token it shares
// with either. Entries whose artifact is gone never match. Returns nil if
// nothing matches.
func (r *Registry) Lookup(uri string) (*domain.RegistryEntry, error) {
	entry, err := r.repo.GetEntry(uri)
	if err != nil {
		return nil, err
	}
	if entry != nil && r.fs.FileExists(entry.ArtifactLocation) {
		return entry, nil
	}

	bySource, err := r.repo.FindBySourceURL(uri)
	if err != nil {
		return nil, err
	}
	for _, c := range bySource {
		if r.fs.FileExists(c.ArtifactLocation) {
			return c, nil
		}
	}

	contentID, ok := vo.ExtractContentID(uri)
	if !ok {
		return nil, nil
	}

	candidates, err := r.repo.FindByContentID(contentID.String())
	if err != nil {
		return nil, err
	}
	for _, c := range candidates {
		matches := vo.SameContent(uri, c.DownloadID) || (c.SourceURL != "" && vo.SameContent(uri, c.SourceURL))
		if matches && r.fs.FileExists(c.ArtifactLocation) {
			return c, nil
		}
	}
	return nil, nil
}

// Get returns the entry registered for a download id, or nil
func (r *Registry) Get(downloadID string) (*domain.RegistryEntry, error) {
	return r.repo.GetEntry(downloadID)
}

// List returns every registered entry
func (r *Registry) List() ([]*domain.RegistryEntry, error) {
	return r.repo.ListEntries()
}

// Remove deletes an entry and its artifact. Only the entry of downloadID is
// touched: an artifact location still referenced by another entry is kept
// on disk. Removing an unknown id is a no-op.
func (r *Registry) Remove(downloadID string) error {
	unlock := r.locks.Lock(downloadID)
	defer unlock()

	entry, err := r.repo.GetEntry(downloadID)
	if err != nil {
		return err
	}
	if entry == nil {
		return nil
	}

	shared, err := r.sharedLocation(entry)
	if err != nil {
		return err
	}

	if !shared {
		if err := r.fs.DeleteFile(entry.ArtifactLocation); err != nil {
			return fmt.Errorf("failed to delete artifact: %w", err)
		}
	} else {
		r.logger.Warn("artifact shared with another download, keeping files",
			zap.String("download_id", downloadID),
			zap.String("location", entry.ArtifactLocation),
		)
	}

	if err := r.repo.DeleteEntry(downloadID); err != nil {
		return err
	}

	r.logger.Info("artifact removed",
		zap.String("download_id", downloadID),
		zap.String("location", entry.ArtifactLocation),
	)
	r.sink.Emit(event.NewArtifactRemoved(downloadID, entry.ArtifactLocation, ReasonRemoved))
	return nil
}

// CleanupMissing removes entries whose artifact no longer exists.
// skip reports ids that must be left alone, such as active downloads.
func (r *Registry) CleanupMissing(skip func(downloadID string) bool) (int, error) {
	entries, err := r.repo.ListEntries()
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, entry := range entries {
		if skip != nil && skip(entry.DownloadID) {
			continue
		}
		if r.fs.FileExists(entry.ArtifactLocation) {
			continue
		}
		ok, err := r.removeMissing(entry)
		if err != nil {
			r.logger.Warn("failed to delete stale registry entry",
				zap.String("download_id", entry.DownloadID),
				zap.Error(err),
			)
			continue
		}
		if ok {
			removed++
		}
	}

	if removed > 0 {
		r.logger.Info("removed registry entries with missing artifacts", zap.Int("count", removed))
	}
	return removed, nil
}

// removeMissing deletes entry if it still points at a missing artifact.
// The entry is re-read under the id lock since a registration may have
// replaced it after the listing.
func (r *Registry) removeMissing(listed *domain.RegistryEntry) (bool, error) {
	unlock := r.locks.Lock(listed.DownloadID)
	defer unlock()

	current, err := r.repo.GetEntry(listed.DownloadID)
	if err != nil {
		return false, err
	}
	if current == nil || current.ArtifactLocation != listed.ArtifactLocation || r.fs.FileExists(current.ArtifactLocation) {
		return false, nil
	}

	if err := r.repo.DeleteEntry(current.DownloadID); err != nil {
		return false, err
	}
	r.sink.Emit(event.NewArtifactRemoved(current.DownloadID, current.ArtifactLocation, ReasonMissing))
	return true, nil
}

// ScanOrphans registers valid bundles on disk that have no registry entry
func (r *Registry) ScanOrphans() (int, error) {
	bundles, err := r.fs.ListBundles()
	if err != nil {
		return 0, err
	}

	registered := 0
	for _, dir := range bundles {
		adopted, err := r.adoptOrphan(dir)
		if domain.IsSkippable(err) {
			r.logger.Debug("skipping bundle", zap.String("dir", dir), zap.Error(err))
			continue
		}
		if err != nil {
			return registered, err
		}
		if adopted {
			registered++
		}
	}
	return registered, nil
}

// adoptOrphan registers dir when it holds a valid bundle with no entry.
// Problems with the bundle itself are skippable; store failures are not.
func (r *Registry) adoptOrphan(dir string) (bool, error) {
	manifest, err := r.fs.ValidateBundle(dir)
	if err != nil {
		return false, domain.NewSkippableError(err, "bundle is not playable")
	}

	unlock := r.locks.Lock(manifest.DownloadID)
	defer unlock()

	existing, err := r.repo.GetEntry(manifest.DownloadID)
	if err != nil {
		return false, err
	}
	if existing != nil {
		return false, nil
	}

	if _, err := r.register(manifest.DownloadID, manifest.MasterURL, dir, true); err != nil {
		return false, domain.NewSkippableError(err, "failed to register orphan bundle")
	}
	return true, nil
}

func (r *Registry) sharedLocation(entry *domain.RegistryEntry) (bool, error) {
	others, err := r.repo.FindByLocation(entry.ArtifactLocation)
	if err != nil {
		return false, err
	}
	for _, o := range others {
		if o.DownloadID != entry.DownloadID {
			return true, nil
		}
	}
	return false, nil
}
