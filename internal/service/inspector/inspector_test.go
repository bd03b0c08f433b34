package inspector

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vertextoedge/offline-stream/internal/adapter/httpfetch"
	"github.com/vertextoedge/offline-stream/internal/domain"
	"github.com/vertextoedge/offline-stream/internal/hls"
	"github.com/vertextoedge/offline-stream/internal/hls/hlstest"
	"github.com/vertextoedge/offline-stream/internal/service/estimator"
)

func newInspector() *Inspector {
	client := httpfetch.NewClient(httpfetch.DefaultConfig(), zap.NewNop())
	est := estimator.New(nil, client, zap.NewNop())
	return New(nil, client, est, zap.NewNop())
}

func heights(rs []domain.Rendition) []int {
	out := make([]int, len(rs))
	for i, r := range rs {
		out[i] = r.Height
	}
	return out
}

func TestInspector_SeparateAudioVideo(t *testing.T) {
	srv := hlstest.NewServer(t, hlstest.Options{Kind: hlstest.SeparateAudioVideo, Segments: 30})
	i := newInspector()

	listing, err := i.Inspect(context.Background(), srv.MasterURL(), nil)
	require.NoError(t, err)

	assert.Equal(t, domain.StreamTypeSeparateAudioVideo, listing.StreamType)
	assert.Equal(t, []int{1080, 720, 480}, heights(listing.VideoCandidates))
	assert.Equal(t, int64(6_000_000), listing.VideoCandidates[0].BitrateBps)
	assert.InDelta(t, srv.Duration(), listing.DurationSeconds, 0.001)

	require.Len(t, listing.AudioCandidates, 2)
	assert.Equal(t, "en", listing.AudioCandidates[0].Language)
	assert.Equal(t, domain.AudioTypeDolbyAtmos, listing.AudioCandidates[0].AudioType)
	assert.Equal(t, "fr-FR", listing.AudioCandidates[1].Language)

	// 720p is sized with its default stereo track
	want := (srv.SegmentSize("video/720.m3u8") + srv.SegmentSize("audio/en_stereo.m3u8")) * 30
	assert.Equal(t, want, listing.VideoCandidates[1].EstimatedSizeBytes)

	c, ok := i.Catalogue(srv.MasterURL())
	require.True(t, ok)
	assert.Len(t, c.Audio, 3)
}

func TestInspector_PrunesExpiredCatalogues(t *testing.T) {
	srv := hlstest.NewServer(t, hlstest.Options{Kind: hlstest.MuxedVideoAudio, Segments: 4})
	client := httpfetch.NewClient(httpfetch.DefaultConfig(), zap.NewNop())
	cfg := DefaultConfig()
	cfg.CatalogueTTL = time.Minute
	i := New(cfg, client, estimator.New(nil, client, zap.NewNop()), zap.NewNop())

	i.catalogues["https://old.example.com/master.m3u8"] = &Catalogue{FetchedAt: time.Now().Add(-time.Hour)}
	i.catalogues["https://recent.example.com/master.m3u8"] = &Catalogue{FetchedAt: time.Now()}

	_, err := i.Inspect(context.Background(), srv.MasterURL(), nil)
	require.NoError(t, err)

	assert.Len(t, i.catalogues, 2)
	assert.NotContains(t, i.catalogues, "https://old.example.com/master.m3u8")
	_, ok := i.Catalogue("https://recent.example.com/master.m3u8")
	assert.True(t, ok)
	_, ok = i.Catalogue(srv.MasterURL())
	assert.True(t, ok)
}

func TestInspector_Muxed(t *testing.T) {
	srv := hlstest.NewServer(t, hlstest.Options{Kind: hlstest.MuxedVideoAudio, Segments: 10})

	listing, err := newInspector().Inspect(context.Background(), srv.MasterURL(), nil)
	require.NoError(t, err)

	assert.Equal(t, domain.StreamTypeMuxedVideoAudio, listing.StreamType)
	assert.Equal(t, []int{1080, 720, 480}, heights(listing.VideoCandidates))
	assert.Empty(t, listing.AudioCandidates)
	assert.Equal(t, srv.SegmentSize("muxed/480.m3u8")*10, listing.VideoCandidates[2].EstimatedSizeBytes)
}

func TestInspector_VideoOnlyIsUnknown(t *testing.T) {
	srv := hlstest.NewServer(t, hlstest.Options{Kind: hlstest.VideoOnly, Segments: 5})

	listing, err := newInspector().Inspect(context.Background(), srv.MasterURL(), nil)
	require.NoError(t, err)
	assert.Equal(t, domain.StreamTypeUnknown, listing.StreamType)
	assert.Equal(t, []int{1080, 720}, heights(listing.VideoCandidates))
}

func TestInspector_Errors(t *testing.T) {
	srv := hlstest.NewServer(t, hlstest.Options{Kind: hlstest.SeparateAudioVideo})
	i := newInspector()

	_, err := i.Inspect(context.Background(), "", nil)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	srv.SetFailMaster(true)
	_, err = i.Inspect(context.Background(), srv.MasterURL(), nil)
	assert.ErrorIs(t, err, domain.ErrManifestUnreachable)

	// A media playlist has no variants to offer
	_, err = i.Inspect(context.Background(), srv.URL+"/video/720.m3u8", nil)
	assert.ErrorIs(t, err, domain.ErrNoPlayableRenditions)
}

func TestInspector_NoAllowedHeights(t *testing.T) {
	srv := hlstest.NewServer(t, hlstest.Options{Kind: hlstest.VideoOnly, Segments: 2})
	client := httpfetch.NewClient(httpfetch.DefaultConfig(), zap.NewNop())
	i := New(&Config{MinBitrates: map[int]int64{2160: 10_000_000}}, client, nil, zap.NewNop())

	_, err := i.Inspect(context.Background(), srv.MasterURL(), nil)
	assert.ErrorIs(t, err, domain.ErrNoPlayableRenditions)
}

func TestClassifyAudio(t *testing.T) {
	tests := []struct {
		name  string
		media hls.Media
		codec string
		want  domain.AudioType
	}{
		{"joc", hls.Media{Channels: "16/JOC"}, "ec-3", domain.AudioTypeDolbyAtmos},
		{"atmos name", hls.Media{Name: "English (Atmos)", Channels: "6"}, "", domain.AudioTypeDolbyAtmos},
		{"eac3", hls.Media{Channels: "6"}, "ec-3", domain.AudioTypeDolbyDigital},
		{"ac3", hls.Media{}, "ac-3", domain.AudioTypeDolbyDigital},
		{"surround aac", hls.Media{Channels: "6"}, "mp4a.40.2", domain.AudioTypeSurround},
		{"stereo", hls.Media{Channels: "2"}, "mp4a.40.2", domain.AudioTypeStereo},
		{"no channels", hls.Media{}, "", domain.AudioTypeStereo},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyAudio(tt.media, tt.codec))
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		master hls.MasterPlaylist
		want   domain.StreamType
	}{
		{
			"separate",
			hls.MasterPlaylist{
				Variants: []hls.Variant{{Audio: "a"}},
				Media:    []hls.Media{{Type: "AUDIO", GroupID: "a", URI: "http://x/a.m3u8"}},
			},
			domain.StreamTypeSeparateAudioVideo,
		},
		{
			"audio group without uri",
			hls.MasterPlaylist{
				Variants: []hls.Variant{{Audio: "a"}},
				Media:    []hls.Media{{Type: "AUDIO", GroupID: "a"}},
			},
			domain.StreamTypeMuxedVideoAudio,
		},
		{
			"codec tag",
			hls.MasterPlaylist{Variants: []hls.Variant{{Codecs: "avc1.4d401f,mp4a.40.2"}}},
			domain.StreamTypeMuxedVideoAudio,
		},
		{
			"video only",
			hls.MasterPlaylist{Variants: []hls.Variant{{Codecs: "avc1.4d401f"}}},
			domain.StreamTypeUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(&tt.master))
		})
	}
}

func TestDedupeByLanguage(t *testing.T) {
	audio := []domain.Rendition{
		{Language: "en", AudioType: domain.AudioTypeStereo, IsDefault: true},
		{Language: "de", AudioType: domain.AudioTypeStereo},
		{Language: "en", AudioType: domain.AudioTypeDolbyDigital},
		{Language: "en", AudioType: domain.AudioTypeSurround},
	}

	got := DedupeByLanguage(audio)
	require.Len(t, got, 2)
	assert.Equal(t, domain.AudioTypeDolbyDigital, got[0].AudioType)
	assert.Equal(t, "de", got[1].Language)
}

func TestPickAudio(t *testing.T) {
	video := domain.Rendition{Role: domain.RoleVideo, GroupID: "aud"}
	audio := []domain.Rendition{
		{Language: "en", GroupID: "aud", ChannelCount: 2, IsDefault: true, Name: "en-stereo"},
		{Language: "en", GroupID: "aud", ChannelCount: 16, AudioType: domain.AudioTypeDolbyAtmos, Name: "en-atmos"},
		{Language: "en", GroupID: "aud", ChannelCount: 6, AudioType: domain.AudioTypeDolbyDigital, Name: "en-dd"},
		{Language: "fr", GroupID: "aud", ChannelCount: 2, Name: "fr-stereo"},
		{Language: "en", GroupID: "other", ChannelCount: 2, Name: "wrong-group"},
	}

	got := PickAudio(audio, video, domain.StereoChannelCap)
	require.NotNil(t, got)
	assert.Equal(t, "en-stereo", got.Name)

	got = PickAudio(audio, video, domain.AtmosChannelCap)
	require.NotNil(t, got)
	assert.Equal(t, "en-atmos", got.Name)

	got = PickAudio(audio[1:3], video, domain.StereoChannelCap)
	require.NotNil(t, got)
	assert.Equal(t, "en-dd", got.Name, "narrowest layout when nothing fits the cap")

	assert.Nil(t, PickAudio(nil, video, domain.StereoChannelCap))
}

func TestNormalizeLanguage(t *testing.T) {
	assert.Equal(t, "en-US", NormalizeLanguage("en-us"))
	assert.Equal(t, "fr", NormalizeLanguage("FR"))
	assert.Equal(t, "und", NormalizeLanguage(""))
	assert.Equal(t, "und", NormalizeLanguage("not a tag!"))
}
