package selector

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vertextoedge/offline-stream/internal/adapter/httpfetch"
	"github.com/vertextoedge/offline-stream/internal/domain"
	"github.com/vertextoedge/offline-stream/internal/hls"
	"github.com/vertextoedge/offline-stream/internal/hls/hlstest"
	"github.com/vertextoedge/offline-stream/internal/service/estimator"
	"github.com/vertextoedge/offline-stream/internal/service/inspector"
)

type fixture struct {
	srv       *hlstest.Server
	inspector *inspector.Inspector
	selector  *Selector
}

func newFixture(t *testing.T, kind hlstest.Kind) *fixture {
	t.Helper()
	srv := hlstest.NewServer(t, hlstest.Options{Kind: kind, Segments: 12})
	client := httpfetch.NewClient(httpfetch.DefaultConfig(), zap.NewNop())
	est := estimator.New(nil, client, zap.NewNop())
	insp := inspector.New(nil, client, est, zap.NewNop())
	return &fixture{
		srv:       srv,
		inspector: insp,
		selector:  New(nil, insp, est, zap.NewNop()),
	}
}

func (f *fixture) request(height int) domain.TrackRequest {
	return domain.TrackRequest{
		MasterURL:  f.srv.MasterURL(),
		DownloadID: "dl-1",
		Height:     height,
	}
}

func TestSelector_SeparateFromCatalogue(t *testing.T) {
	f := newFixture(t, hlstest.SeparateAudioVideo)
	_, err := f.inspector.Inspect(context.Background(), f.srv.MasterURL(), nil)
	require.NoError(t, err)

	sel, err := f.selector.Select(context.Background(), f.request(720))
	require.NoError(t, err)

	assert.Equal(t, domain.StreamTypeSeparateAudioVideo, sel.StreamType)
	assert.Equal(t, f.srv.URL+"/video/720.m3u8", sel.ChosenVideo.PlaylistURL)
	require.NotNil(t, sel.ChosenAudio)
	assert.Equal(t, f.srv.URL+"/audio/en_stereo.m3u8", sel.ChosenAudio.PlaylistURL)
	assert.Equal(t, domain.StereoChannelCap, sel.MaxAudioChannels)

	want := (f.srv.SegmentSize("video/720.m3u8") + f.srv.SegmentSize("audio/en_stereo.m3u8")) * 12
	assert.Equal(t, want, sel.EstimatedSizeBytes)
}

func TestSelector_PrefersAtmos(t *testing.T) {
	f := newFixture(t, hlstest.SeparateAudioVideo)
	_, err := f.inspector.Inspect(context.Background(), f.srv.MasterURL(), nil)
	require.NoError(t, err)

	req := f.request(1080)
	req.PreferDolbyAtmos = true
	sel, err := f.selector.Select(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, int64(6_000_000), sel.ChosenVideo.BitrateBps)
	require.NotNil(t, sel.ChosenAudio)
	assert.Equal(t, domain.AudioTypeDolbyAtmos, sel.ChosenAudio.AudioType)
	assert.Equal(t, domain.AtmosChannelCap, sel.MaxAudioChannels)
}

func TestSelector_AtmosSizedWithItsOwnSegments(t *testing.T) {
	f := newFixture(t, hlstest.SeparateAudioVideo)
	_, err := f.inspector.Inspect(context.Background(), f.srv.MasterURL(), nil)
	require.NoError(t, err)

	// Size the stereo track first so both English tracks have been seen
	stereo, err := f.selector.Select(context.Background(), f.request(1080))
	require.NoError(t, err)
	require.NotNil(t, stereo.ChosenAudio)
	assert.Equal(t, domain.AudioTypeStereo, stereo.ChosenAudio.AudioType)

	req := f.request(1080)
	req.PreferDolbyAtmos = true
	atmos, err := f.selector.Select(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, atmos.ChosenAudio)
	assert.Equal(t, f.srv.URL+"/audio/en_atmos.m3u8", atmos.ChosenAudio.PlaylistURL)

	video := f.srv.SegmentSize("video/1080.m3u8")
	assert.Equal(t, (video+f.srv.SegmentSize("audio/en_stereo.m3u8"))*12, stereo.EstimatedSizeBytes)
	assert.Equal(t, (video+f.srv.SegmentSize("audio/en_atmos.m3u8"))*12, atmos.EstimatedSizeBytes)
}

func TestSelector_LiveLookupOnCatalogueMiss(t *testing.T) {
	f := newFixture(t, hlstest.SeparateAudioVideo)

	req := f.request(720)
	req.Width = 1280
	sel, err := f.selector.Select(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, domain.StreamTypeSeparateAudioVideo, sel.StreamType)
	assert.Equal(t, int64(3_000_000), sel.ChosenVideo.BitrateBps)
	require.NotNil(t, sel.ChosenAudio)
	assert.Equal(t, "en", sel.ChosenAudio.Language)
}

func TestSelector_LiveLookupForFilteredHeight(t *testing.T) {
	f := newFixture(t, hlstest.SeparateAudioVideo)
	_, err := f.inspector.Inspect(context.Background(), f.srv.MasterURL(), nil)
	require.NoError(t, err)

	// 360p is not in the allow-list but still exists in the manifest
	sel, err := f.selector.Select(context.Background(), f.request(360))
	require.NoError(t, err)
	assert.Equal(t, f.srv.URL+"/video/360.m3u8", sel.ChosenVideo.PlaylistURL)
}

func TestSelector_TrackNotFound(t *testing.T) {
	f := newFixture(t, hlstest.SeparateAudioVideo)
	_, err := f.inspector.Inspect(context.Background(), f.srv.MasterURL(), nil)
	require.NoError(t, err)

	_, err = f.selector.Select(context.Background(), f.request(2160))
	assert.ErrorIs(t, err, domain.ErrTrackNotFound)

	f.inspector.Forget(f.srv.MasterURL())
	f.srv.SetFailMaster(true)
	_, err = f.selector.Select(context.Background(), f.request(720))
	assert.ErrorIs(t, err, domain.ErrTrackNotFound)
	assert.ErrorIs(t, err, domain.ErrManifestUnreachable)
}

func TestSelector_MuxedHasNoSeparateAudio(t *testing.T) {
	f := newFixture(t, hlstest.MuxedVideoAudio)
	_, err := f.inspector.Inspect(context.Background(), f.srv.MasterURL(), nil)
	require.NoError(t, err)

	req := f.request(480)
	req.PreferDolbyAtmos = true
	sel, err := f.selector.Select(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, domain.StreamTypeMuxedVideoAudio, sel.StreamType)
	assert.Nil(t, sel.ChosenAudio)
	assert.Equal(t, domain.AtmosChannelCap, sel.MaxAudioChannels)
	assert.Equal(t, f.srv.URL+"/muxed/480.m3u8", sel.ChosenVideo.PlaylistURL)
}

func TestSelector_ValidatesRequest(t *testing.T) {
	f := newFixture(t, hlstest.VideoOnly)

	tests := []struct {
		name string
		req  domain.TrackRequest
	}{
		{"no url", domain.TrackRequest{DownloadID: "a", Height: 720}},
		{"no id", domain.TrackRequest{MasterURL: "http://x", Height: 720}},
		{"no height", domain.TrackRequest{MasterURL: "http://x", DownloadID: "a"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.selector.Select(context.Background(), tt.req)
			assert.ErrorIs(t, err, domain.ErrInvalidInput)
		})
	}
}

type staticSource struct {
	catalogue *inspector.Catalogue
}

func (s staticSource) Catalogue(string) (*inspector.Catalogue, bool) {
	return s.catalogue, s.catalogue != nil
}

func (s staticSource) FetchMaster(context.Context, string, map[string]string) (*hls.MasterPlaylist, error) {
	return nil, domain.ErrManifestUnreachable
}

func TestSelector_SeparateStaysInBitrateBracket(t *testing.T) {
	master := &hls.MasterPlaylist{
		Variants: []hls.Variant{
			{URI: "http://cdn/hi.m3u8", Bandwidth: 6_000_000, Width: 1920, Height: 1080, Audio: "aud"},
			{URI: "http://cdn/lo.m3u8", Bandwidth: 5_000_000, Width: 1920, Height: 1080, Audio: "aud"},
		},
	}
	catalogue := &inspector.Catalogue{
		Listing: &domain.TrackListing{
			StreamType: domain.StreamTypeSeparateAudioVideo,
			VideoCandidates: []domain.Rendition{
				{Role: domain.RoleVideo, Height: 1080, Width: 1920, BitrateBps: 5_100_000, PlaylistURL: "http://cdn/stale.m3u8"},
			},
		},
		Master: master,
	}

	s := New(nil, staticSource{catalogue: catalogue}, nil, zap.NewNop())
	sel, err := s.Select(context.Background(), domain.TrackRequest{MasterURL: "http://cdn/master.m3u8", DownloadID: "x", Height: 1080})
	require.NoError(t, err)
	assert.Equal(t, "http://cdn/lo.m3u8", sel.ChosenVideo.PlaylistURL)
	assert.Equal(t, int64(5_000_000), sel.ChosenVideo.BitrateBps)
	assert.Nil(t, sel.ChosenAudio)
}
