package inspector

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/vertextoedge/offline-stream/internal/domain"
	"github.com/vertextoedge/offline-stream/internal/hls"
	"github.com/vertextoedge/offline-stream/internal/port"
	"github.com/vertextoedge/offline-stream/internal/service/estimator"
)

// SizeEstimator estimates the download size of a rendition pair
type SizeEstimator interface {
	Estimate(ctx context.Context, req estimator.Request) estimator.Result
}

// Config contains inspector configuration
type Config struct {
	// MinBitrates maps each allowed height to its minimum bitrate
	MinBitrates map[int]int64

	ManifestTimeout     time.Duration
	EstimateConcurrency int

	// CatalogueTTL bounds how long a listing is reused by the selector.
	// Zero keeps listings until the next inspection.
	CatalogueTTL time.Duration
}

// DefaultConfig returns default inspector configuration
func DefaultConfig() *Config {
	return &Config{
		MinBitrates: map[int]int64{
			1080: 2_500_000,
			720:  1_200_000,
			480:  600_000,
		},
		ManifestTimeout:     15 * time.Second,
		EstimateConcurrency: 4,
		CatalogueTTL:        30 * time.Minute,
	}
}

// Catalogue is the cached result of inspecting one manifest
type Catalogue struct {
	Listing   *domain.TrackListing
	Master    *hls.MasterPlaylist
	Audio     []domain.Rendition
	FetchedAt time.Time
}

// Inspector loads multivariant manifests and lists their downloadable tracks
type Inspector struct {
	config    *Config
	fetcher   port.Fetcher
	estimator SizeEstimator
	logger    *zap.Logger

	mu         sync.RWMutex
	catalogues map[string]*Catalogue
	group      singleflight.Group
}

// New creates a new Inspector
func New(cfg *Config, fetcher port.Fetcher, est SizeEstimator, logger *zap.Logger) *Inspector {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if len(cfg.MinBitrates) == 0 {
		cfg.MinBitrates = DefaultConfig().MinBitrates
	}
	if cfg.ManifestTimeout <= 0 {
		cfg.ManifestTimeout = 15 * time.Second
	}
	if cfg.EstimateConcurrency <= 0 {
		cfg.EstimateConcurrency = 4
	}

	return &Inspector{
		config:     cfg,
		fetcher:    fetcher,
		estimator:  est,
		logger:     logger,
		catalogues: make(map[string]*Catalogue),
	}
}

// Inspect fetches a multivariant manifest, filters its renditions and
// estimates the size of every video candidate. Concurrent calls for the
// same URL share one inspection.
func (i *Inspector) Inspect(ctx context.Context, masterURL string, headers map[string]string) (*domain.TrackListing, error) {
	if strings.TrimSpace(masterURL) == "" {
		return nil, fmt.Errorf("%w: master url is empty", domain.ErrInvalidInput)
	}

	v, err, _ := i.group.Do(masterURL, func() (interface{}, error) {
		return i.inspect(ctx, masterURL, headers)
	})
	if err != nil {
		return nil, err
	}
	return cloneListing(v.(*Catalogue).Listing), nil
}

// Catalogue returns the cached inspection of a manifest
func (i *Inspector) Catalogue(masterURL string) (*Catalogue, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	c, ok := i.catalogues[masterURL]
	if !ok {
		return nil, false
	}
	if i.config.CatalogueTTL > 0 && time.Since(c.FetchedAt) > i.config.CatalogueTTL {
		return nil, false
	}
	return c, true
}

// pruneLocked drops catalogues older than the TTL. Catalogue hides them
// already; this keeps the map bounded in a long-running process.
func (i *Inspector) pruneLocked(now time.Time) {
	if i.config.CatalogueTTL <= 0 {
		return
	}
	for url, c := range i.catalogues {
		if now.Sub(c.FetchedAt) > i.config.CatalogueTTL {
			delete(i.catalogues, url)
		}
	}
}

// Forget drops the cached inspection of a manifest
func (i *Inspector) Forget(masterURL string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	delete(i.catalogues, masterURL)
}

// FetchMaster loads and parses a multivariant manifest.
// Transport and parse failures are reported as ErrManifestUnreachable;
// a playlist without variant streams as ErrNoPlayableRenditions.
func (i *Inspector) FetchMaster(ctx context.Context, masterURL string, headers map[string]string) (*hls.MasterPlaylist, error) {
	ctx, cancel := context.WithTimeout(ctx, i.config.ManifestTimeout)
	defer cancel()

	body, err := i.fetcher.Get(ctx, masterURL, headers)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrManifestUnreachable, err)
	}

	master, err := hls.ParseMaster(body, masterURL)
	if errors.Is(err, hls.ErrNotMaster) {
		return nil, fmt.Errorf("%w: %v", domain.ErrNoPlayableRenditions, err)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrManifestUnreachable, err)
	}
	return master, nil
}

func (i *Inspector) inspect(ctx context.Context, masterURL string, headers map[string]string) (*Catalogue, error) {
	start := time.Now()

	master, err := i.FetchMaster(ctx, masterURL, headers)
	if err != nil {
		i.logger.Warn("failed to load manifest",
			zap.String("url", masterURL),
			zap.Error(err),
		)
		return nil, err
	}

	streamType := Classify(master)
	videos := VideoCandidates(master, i.config.MinBitrates)
	if len(videos) == 0 {
		return nil, fmt.Errorf("%w: no variant matches the allowed heights", domain.ErrNoPlayableRenditions)
	}

	var audioAll []domain.Rendition
	if streamType == domain.StreamTypeSeparateAudioVideo {
		audioAll = AudioRenditions(master)
	}

	duration := i.duration(ctx, videos[0], headers)
	i.estimate(ctx, videos, audioAll, streamType, duration, headers)

	catalogue := &Catalogue{
		Listing: &domain.TrackListing{
			MasterURL:       masterURL,
			VideoCandidates: videos,
			AudioCandidates: DedupeByLanguage(audioAll),
			StreamType:      streamType,
			DurationSeconds: duration,
		},
		Master:    master,
		Audio:     audioAll,
		FetchedAt: time.Now(),
	}

	i.mu.Lock()
	i.pruneLocked(catalogue.FetchedAt)
	i.catalogues[masterURL] = catalogue
	i.mu.Unlock()

	i.logger.Info("manifest inspected",
		zap.String("url", masterURL),
		zap.String("stream_type", string(streamType)),
		zap.Int("video_candidates", len(videos)),
		zap.Int("audio_candidates", len(catalogue.Listing.AudioCandidates)),
		zap.Float64("duration_seconds", duration),
		zap.Duration("elapsed", time.Since(start)),
	)

	return catalogue, nil
}

// duration sums the segment durations of a video media playlist.
// Failures degrade to zero, which only weakens fallback estimates.
func (i *Inspector) duration(ctx context.Context, video domain.Rendition, headers map[string]string) float64 {
	ctx, cancel := context.WithTimeout(ctx, i.config.ManifestTimeout)
	defer cancel()

	body, err := i.fetcher.Get(ctx, video.PlaylistURL, headers)
	if err != nil {
		i.logger.Debug("failed to fetch media playlist for duration",
			zap.String("url", video.PlaylistURL),
			zap.Error(err),
		)
		return 0
	}
	media, err := hls.ParseMedia(body, video.PlaylistURL)
	if err != nil {
		return 0
	}
	return media.Duration()
}

func (i *Inspector) estimate(ctx context.Context, videos, audio []domain.Rendition, streamType domain.StreamType, duration float64, headers map[string]string) {
	if i.estimator == nil {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(i.config.EstimateConcurrency)
	for idx := range videos {
		g.Go(func() error {
			req := estimator.Request{
				Video:           videos[idx],
				DurationSeconds: duration,
				StreamType:      streamType,
				Headers:         headers,
			}
			if streamType == domain.StreamTypeSeparateAudioVideo {
				req.Audio = PickAudio(audio, videos[idx], domain.StereoChannelCap)
			}
			videos[idx].EstimatedSizeBytes = i.estimator.Estimate(gctx, req).Bytes
			return nil
		})
	}
	_ = g.Wait()
}

func cloneListing(l *domain.TrackListing) *domain.TrackListing {
	out := *l
	out.VideoCandidates = append([]domain.Rendition(nil), l.VideoCandidates...)
	out.AudioCandidates = append([]domain.Rendition(nil), l.AudioCandidates...)
	return &out
}
