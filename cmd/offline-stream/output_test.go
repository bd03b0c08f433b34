package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vertextoedge/offline-stream/internal/domain"
	"github.com/vertextoedge/offline-stream/internal/domain/event"
	"github.com/vertextoedge/offline-stream/internal/service/engine"
)

func sampleStatuses() []*engine.Status {
	return []*engine.Status{
		{DownloadID: "dl-1", State: domain.StateDownloading, BytesDownloaded: 1500, TotalBytes: 3000, Percent: 50},
		{DownloadID: "dl-2", State: domain.StateFailed, LastError: "segment 3: status 500"},
	}
}

func TestRenderStatuses_Table(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, renderStatuses(&buf, formatTable, sampleStatuses()))

	out := buf.String()
	assert.Contains(t, out, "ID")
	assert.Contains(t, out, "dl-1")
	assert.Contains(t, out, "50.0%")
	assert.Contains(t, out, "1.5 kB / 3.0 kB")
	assert.Contains(t, out, "segment 3: status 500")
}

func TestRenderStatuses_JSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, renderStatuses(&buf, formatJSON, sampleStatuses()))

	out := buf.String()
	assert.Contains(t, out, `"download_id": "dl-1"`)
	assert.Contains(t, out, `"state": "downloading"`)
}

func TestRenderStatuses_YAMLUsesJSONKeys(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, renderStatuses(&buf, formatYAML, sampleStatuses()))

	out := buf.String()
	assert.Contains(t, out, "- bytes_downloaded: 1500")
	assert.Contains(t, out, "download_id: dl-2")
	assert.Contains(t, out, "segment 3: status 500")
}

func TestRenderListing_Table(t *testing.T) {
	listing := &domain.TrackListing{
		StreamType:      domain.StreamTypeSeparateAudioVideo,
		DurationSeconds: 120,
		VideoCandidates: []domain.Rendition{
			{Role: domain.RoleVideo, Width: 1280, Height: 720, BitrateBps: 1_200_000, Codecs: "avc1.4d401f", EstimatedSizeBytes: 18_000_000},
		},
		AudioCandidates: []domain.Rendition{
			{Role: domain.RoleAudio, Language: "en", ChannelCount: 2, Codecs: "mp4a.40.2"},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, renderListing(&buf, formatTable, listing))

	out := buf.String()
	assert.Contains(t, out, "1280x720")
	assert.Contains(t, out, "1.2Mbps")
	assert.Contains(t, out, "18 MB")
	assert.Contains(t, out, "mp4a.40.2")
}

func TestProgressLine(t *testing.T) {
	line := progressLine(event.DownloadProgress{
		DownloadID:      "dl-1",
		State:           domain.StateDownloading,
		Progress:        42,
		BytesDownloaded: 42_000,
		TotalBytes:      100_000,
	})
	assert.Contains(t, line, "dl-1")
	assert.Contains(t, line, "42.0%")
	assert.Contains(t, line, "42 kB / 100 kB")
}
