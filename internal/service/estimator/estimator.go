package estimator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/vertextoedge/offline-stream/internal/domain"
	"github.com/vertextoedge/offline-stream/internal/hls"
	"github.com/vertextoedge/offline-stream/internal/port"
)

// sampleFractions is the fixed distribution of probed segment positions
var sampleFractions = []float64{0, 0.125, 0.25, 0.375, 0.5, 0.625, 0.75, 1}

// ErrNoSamples is returned when every probe of a rendition failed
var ErrNoSamples = errors.New("no usable segment samples")

// Config contains estimator configuration
type Config struct {
	SampleConcurrency int
	ProbeTimeout      time.Duration
	PlaylistTimeout   time.Duration
	OverheadFactor    float64
}

// DefaultConfig returns default estimator configuration
func DefaultConfig() *Config {
	return &Config{
		SampleConcurrency: 8,
		ProbeTimeout:      5 * time.Second,
		PlaylistTimeout:   10 * time.Second,
		OverheadFactor:    1.02,
	}
}

// Request describes the renditions to estimate
type Request struct {
	Video           domain.Rendition
	Audio           *domain.Rendition
	DurationSeconds float64
	StreamType      domain.StreamType
	Headers         map[string]string
}

// Result is an estimate in bytes. Sampled is true only when every
// rendition was measured by segment sampling.
type Result struct {
	Bytes      int64
	VideoBytes int64
	AudioBytes int64
	Sampled    bool
}

// cacheKey identifies a sampled size. Renditions declared by EXT-X-MEDIA
// carry no height or bitrate, so the media playlist URL tells them apart.
type cacheKey struct {
	role       domain.Role
	playlist   string
	height     int
	bitrate    int64
	streamType domain.StreamType
	language   string
	channels   int
}

func (k cacheKey) String() string {
	return fmt.Sprintf("%s/%d/%d/%s/%s/%dch %s",
		k.role, k.height, k.bitrate, k.streamType, k.language, k.channels, k.playlist)
}

// Estimator computes expected download sizes
type Estimator struct {
	config  *Config
	fetcher port.Fetcher
	logger  *zap.Logger

	mu    sync.RWMutex
	cache map[cacheKey]int64
	group singleflight.Group
}

// New creates a new Estimator
func New(cfg *Config, fetcher port.Fetcher, logger *zap.Logger) *Estimator {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.SampleConcurrency <= 0 {
		cfg.SampleConcurrency = 8
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 5 * time.Second
	}
	if cfg.PlaylistTimeout <= 0 {
		cfg.PlaylistTimeout = 10 * time.Second
	}
	if cfg.OverheadFactor <= 0 {
		cfg.OverheadFactor = 1.02
	}

	return &Estimator{
		config:  cfg,
		fetcher: fetcher,
		logger:  logger,
		cache:   make(map[cacheKey]int64),
	}
}

// Estimate returns the expected size of a download. It never fails:
// renditions that cannot be sampled fall back to the bitrate formula.
func (e *Estimator) Estimate(ctx context.Context, req Request) Result {
	result := Result{Sampled: true}

	video, ok := e.renditionBytes(ctx, req.Video, req)
	result.VideoBytes = video
	result.Sampled = ok

	if req.StreamType == domain.StreamTypeSeparateAudioVideo && req.Audio != nil {
		audio, ok := e.renditionBytes(ctx, *req.Audio, req)
		result.AudioBytes = audio
		result.Sampled = result.Sampled && ok
	}

	result.Bytes = result.VideoBytes + result.AudioBytes

	e.logger.Debug("size estimated",
		zap.Int("height", req.Video.Height),
		zap.Int64("bitrate", req.Video.BitrateBps),
		zap.Int64("bytes", result.Bytes),
		zap.String("size", humanize.Bytes(uint64(result.Bytes))),
		zap.Bool("sampled", result.Sampled),
	)

	return result
}

// Fallback returns the bitrate-formula estimate for a request
func (e *Estimator) Fallback(req Request) int64 {
	total := e.fallbackFor(req.Video, req.DurationSeconds)
	if req.StreamType == domain.StreamTypeSeparateAudioVideo && req.Audio != nil {
		total += e.fallbackFor(*req.Audio, req.DurationSeconds)
	}
	return total
}

// Cached returns the sampled size cached for a rendition
func (e *Estimator) Cached(r domain.Rendition, streamType domain.StreamType) (int64, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	size, ok := e.cache[keyFor(r, streamType)]
	return size, ok
}

// renditionBytes returns the sampled size of one rendition, or its
// fallback size and false
func (e *Estimator) renditionBytes(ctx context.Context, r domain.Rendition, req Request) (int64, bool) {
	key := keyFor(r, req.StreamType)

	e.mu.RLock()
	cached, ok := e.cache[key]
	e.mu.RUnlock()
	if ok {
		return cached, true
	}

	v, err, _ := e.group.Do(key.String(), func() (interface{}, error) {
		sample, err := e.Sample(ctx, r, req.Headers)
		if err != nil {
			return sample, err
		}
		e.mu.Lock()
		e.cache[key] = sample.Bytes
		e.mu.Unlock()
		return sample, nil
	})

	sample, _ := v.(SampleResult)
	if err != nil {
		duration := req.DurationSeconds
		if duration <= 0 {
			duration = sample.DurationSeconds
		}
		e.logger.Debug("segment sampling failed, using bitrate estimate",
			zap.String("url", r.PlaylistURL),
			zap.Error(err),
		)
		return e.fallbackFor(r, duration), false
	}
	return sample.Bytes, true
}

// SampleResult is the outcome of sampling one media playlist
type SampleResult struct {
	Bytes           int64
	Segments        int
	Samples         int
	DurationSeconds float64
}

// Sample measures a rendition by probing a fixed distribution of its
// segments and extrapolating the average size to the whole playlist
func (e *Estimator) Sample(ctx context.Context, r domain.Rendition, headers map[string]string) (SampleResult, error) {
	if r.PlaylistURL == "" {
		return SampleResult{}, fmt.Errorf("rendition has no playlist: %w", ErrNoSamples)
	}

	playlistCtx, cancel := context.WithTimeout(ctx, e.config.PlaylistTimeout)
	body, err := e.fetcher.Get(playlistCtx, r.PlaylistURL, headers)
	cancel()
	if err != nil {
		return SampleResult{}, err
	}

	media, err := hls.ParseMedia(body, r.PlaylistURL)
	if err != nil {
		return SampleResult{}, err
	}

	result := SampleResult{
		Segments:        len(media.Segments),
		DurationSeconds: media.Duration(),
	}
	indices := SampleIndices(len(media.Segments))

	var (
		mu    sync.Mutex
		total int64
		count int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.config.SampleConcurrency)
	for _, idx := range indices {
		seg := media.Segments[idx]
		g.Go(func() error {
			size, err := e.segmentSize(gctx, seg, headers)
			if err != nil || size <= 0 {
				// A failed probe only drops this sample
				return nil
			}
			mu.Lock()
			total += size
			count++
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if count == 0 {
		return result, ErrNoSamples
	}

	avg := float64(total) / float64(count)
	result.Samples = count
	result.Bytes = int64(math.Round(avg * float64(len(media.Segments))))
	return result, nil
}

func (e *Estimator) segmentSize(ctx context.Context, seg hls.Segment, headers map[string]string) (int64, error) {
	if seg.ByteRange != nil {
		return seg.ByteRange.Length, nil
	}
	ctx, cancel := context.WithTimeout(ctx, e.config.ProbeTimeout)
	defer cancel()
	return e.fetcher.Probe(ctx, seg.URI, headers)
}

func (e *Estimator) fallbackFor(r domain.Rendition, duration float64) int64 {
	bitrate := r.BitrateBps
	if bitrate <= 0 && r.Role == domain.RoleAudio {
		bitrate = r.AudioType.NominalBitrate()
	}
	return FallbackBytes(bitrate, duration, e.config.OverheadFactor)
}

// FallbackBytes is bitrate * duration / 8 scaled by the container overhead
func FallbackBytes(bitrateBps int64, durationSeconds, overhead float64) int64 {
	if bitrateBps <= 0 || durationSeconds <= 0 {
		return 0
	}
	return int64(math.Round(float64(bitrateBps) * durationSeconds / 8 * overhead))
}

// SampleIndices returns the segment indices to probe for a playlist of n
// segments: all of them up to eight, otherwise the fixed fractions of the
// index range, deduplicated
func SampleIndices(n int) []int {
	if n <= 0 {
		return nil
	}
	if n <= len(sampleFractions) {
		out := make([]int, n)
		for i := range out {
			out[i] = i
		}
		return out
	}

	seen := make(map[int]bool, len(sampleFractions))
	out := make([]int, 0, len(sampleFractions))
	for _, f := range sampleFractions {
		idx := int(math.Round(f * float64(n-1)))
		if !seen[idx] {
			seen[idx] = true
			out = append(out, idx)
		}
	}
	return out
}

func keyFor(r domain.Rendition, streamType domain.StreamType) cacheKey {
	return cacheKey{
		role:       r.Role,
		playlist:   r.PlaylistURL,
		height:     r.Height,
		bitrate:    r.BitrateBps,
		streamType: streamType,
		language:   r.Language,
		channels:   r.ChannelCount,
	}
}
