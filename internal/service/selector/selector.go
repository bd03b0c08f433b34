package selector

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/vertextoedge/offline-stream/internal/domain"
	"github.com/vertextoedge/offline-stream/internal/hls"
	"github.com/vertextoedge/offline-stream/internal/service/estimator"
	"github.com/vertextoedge/offline-stream/internal/service/inspector"
)

// ManifestSource provides cached and live views of a manifest
type ManifestSource interface {
	Catalogue(masterURL string) (*inspector.Catalogue, bool)
	FetchMaster(ctx context.Context, masterURL string, headers map[string]string) (*hls.MasterPlaylist, error)
}

// Config contains selector configuration
type Config struct {
	// BitrateTolerance is how far a variant's bandwidth may drift from the
	// catalogued rendition and still count as the same bracket
	BitrateTolerance int64
}

// DefaultConfig returns default selector configuration
func DefaultConfig() *Config {
	return &Config{BitrateTolerance: 200_000}
}

// Selector resolves a track request into concrete renditions
type Selector struct {
	config    *Config
	source    ManifestSource
	estimator inspector.SizeEstimator
	logger    *zap.Logger
}

// New creates a new Selector
func New(cfg *Config, source ManifestSource, est inspector.SizeEstimator, logger *zap.Logger) *Selector {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Selector{
		config:    cfg,
		source:    source,
		estimator: est,
		logger:    logger,
	}
}

// Select resolves the renditions to fetch for a request. The cached
// catalogue is consulted first; on a miss the live manifest is searched by
// raw width and height.
func (s *Selector) Select(ctx context.Context, req domain.TrackRequest) (*domain.TrackSelection, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	var (
		master   *hls.MasterPlaylist
		audioAll []domain.Rendition
		video    domain.Rendition
		found    bool
		duration float64
	)

	streamType := req.StreamType

	if cat, ok := s.source.Catalogue(req.MasterURL); ok {
		if streamType == "" {
			streamType = cat.Listing.StreamType
		}
		duration = cat.Listing.DurationSeconds
		if base, ok := cat.Listing.VideoByHeight(req.Height); ok {
			master = cat.Master
			audioAll = cat.Audio
			video = s.resolveVideo(cat.Master, base, streamType)
			found = true
		}
	}

	if !found {
		live, err := s.source.FetchMaster(ctx, req.MasterURL, req.Headers)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrTrackNotFound, err)
		}
		if streamType == "" {
			streamType = inspector.Classify(live)
		}
		video, found = inspector.VideoByResolution(live, req.Height, req.Width)
		if !found {
			return nil, fmt.Errorf("%w: no %dx%d variant in %s", domain.ErrTrackNotFound, req.Width, req.Height, req.MasterURL)
		}
		master = live
		audioAll = inspector.AudioRenditions(live)

		s.logger.Debug("resolved track from live manifest",
			zap.String("download_id", req.DownloadID),
			zap.Int("height", req.Height),
			zap.Int("width", req.Width),
		)
	}

	selection := &domain.TrackSelection{
		DownloadID:       req.DownloadID,
		MasterURL:        req.MasterURL,
		StreamType:       streamType,
		ChosenVideo:      video,
		MaxAudioChannels: req.ChannelCap(),
	}

	if streamType == domain.StreamTypeSeparateAudioVideo {
		if len(audioAll) == 0 && master != nil {
			audioAll = inspector.AudioRenditions(master)
		}
		selection.ChosenAudio = inspector.PickAudio(audioAll, video, req.ChannelCap())
	}

	selection.EstimatedSizeBytes = s.estimate(ctx, selection, duration, req.Headers)

	s.logger.Info("tracks selected",
		zap.String("download_id", req.DownloadID),
		zap.String("stream_type", string(streamType)),
		zap.String("video", video.Resolution()),
		zap.Int64("video_bitrate", video.BitrateBps),
		zap.Bool("has_audio", selection.ChosenAudio != nil),
		zap.Int("max_audio_channels", selection.MaxAudioChannels),
	)

	return selection, nil
}

// resolveVideo confirms a catalogued rendition against the manifest.
// Separate streams stay within the bitrate bracket of the catalogued
// rendition; muxed and unknown streams take the highest bitrate at that
// resolution.
func (s *Selector) resolveVideo(master *hls.MasterPlaylist, base domain.Rendition, streamType domain.StreamType) domain.Rendition {
	if master == nil {
		return base
	}

	if streamType != domain.StreamTypeSeparateAudioVideo {
		if r, ok := inspector.VideoByResolution(master, base.Height, base.Width); ok {
			r.EstimatedSizeBytes = base.EstimatedSizeBytes
			return r
		}
		return base
	}

	best := base
	bestDelta := int64(-1)
	for _, v := range master.Variants {
		if v.IFrameOnly || v.Height != base.Height || (base.Width > 0 && v.Width != base.Width) {
			continue
		}
		delta := abs(v.Bandwidth - base.BitrateBps)
		if delta > s.config.BitrateTolerance {
			continue
		}
		if bestDelta < 0 || delta < bestDelta {
			bestDelta = delta
			best.BitrateBps = v.Bandwidth
			best.Codecs = v.Codecs
			best.GroupID = v.Audio
			best.PlaylistURL = v.URI
		}
	}
	return best
}

func (s *Selector) estimate(ctx context.Context, sel *domain.TrackSelection, duration float64, headers map[string]string) int64 {
	if s.estimator == nil {
		return sel.ChosenVideo.EstimatedSizeBytes
	}
	return s.estimator.Estimate(ctx, estimator.Request{
		Video:           sel.ChosenVideo,
		Audio:           sel.ChosenAudio,
		DurationSeconds: duration,
		StreamType:      sel.StreamType,
		Headers:         headers,
	}).Bytes
}

func validate(req domain.TrackRequest) error {
	switch {
	case strings.TrimSpace(req.MasterURL) == "":
		return fmt.Errorf("%w: master url is empty", domain.ErrInvalidInput)
	case strings.TrimSpace(req.DownloadID) == "":
		return fmt.Errorf("%w: download id is empty", domain.ErrInvalidInput)
	case req.Height <= 0:
		return fmt.Errorf("%w: height must be positive", domain.ErrInvalidInput)
	}
	return nil
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
