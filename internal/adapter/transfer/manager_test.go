package transfer

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vertextoedge/offline-stream/internal/adapter/filesystem"
	"github.com/vertextoedge/offline-stream/internal/adapter/httpfetch"
	"github.com/vertextoedge/offline-stream/internal/domain"
	"github.com/vertextoedge/offline-stream/internal/hls"
	"github.com/vertextoedge/offline-stream/internal/hls/hlstest"
	"github.com/vertextoedge/offline-stream/internal/port"
)

type finished struct {
	taskID   string
	location string
	err      error
}

type recordingObserver struct {
	mu       sync.Mutex
	started  chan string
	finished chan finished
	progress map[string]int64
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{
		started:  make(chan string, 16),
		finished: make(chan finished, 16),
		progress: make(map[string]int64),
	}
}

func (o *recordingObserver) OnStarted(taskID string) { o.started <- taskID }

func (o *recordingObserver) OnProgress(taskID string, written, total int64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.progress[taskID] = written
}

func (o *recordingObserver) OnFinished(taskID, location string, err error) {
	o.finished <- finished{taskID, location, err}
}

func (o *recordingObserver) waitStarted(t *testing.T) string {
	t.Helper()
	select {
	case id := <-o.started:
		return id
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for OnStarted")
		return ""
	}
}

func (o *recordingObserver) waitFinished(t *testing.T) finished {
	t.Helper()
	select {
	case f := <-o.finished:
		return f
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for OnFinished")
		return finished{}
	}
}

type fixture struct {
	srv      *hlstest.Server
	fs       *filesystem.Manager
	manager  *Manager
	observer *recordingObserver
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	srv := hlstest.NewServer(t, hlstest.Options{Segments: 4, SegmentSeconds: 0.01})
	fs, err := filesystem.NewManager(t.TempDir())
	require.NoError(t, err)

	fetcher := httpfetch.NewClient(httpfetch.DefaultConfig(), zap.NewNop())
	manager := NewManager(DefaultConfig(), fetcher, fs, zap.NewNop())
	observer := newRecordingObserver()
	manager.SetObserver(observer)
	t.Cleanup(func() { manager.Close() })

	return &fixture{srv: srv, fs: fs, manager: manager, observer: observer}
}

func (f *fixture) request(id string) port.TransferRequest {
	return port.TransferRequest{
		DownloadID: id,
		MasterURL:  f.srv.MasterURL(),
		Video: &domain.Rendition{
			Role: domain.RoleVideo, Height: 720, Width: 1280, BitrateBps: 3_000_000,
			Codecs: "avc1.64001f", PlaylistURL: f.srv.URL + "/video/720.m3u8",
		},
		Audio: &domain.Rendition{
			Role: domain.RoleAudio, Language: "en", Name: "English", ChannelCount: 2,
			AudioType: domain.AudioTypeStereo, BitrateBps: 128_000,
			PlaylistURL: f.srv.URL + "/audio/en_stereo.m3u8",
		},
		MaxAudioChannels: 2,
		EstimatedBytes:   1000,
	}
}

func TestManager_CompletesBundle(t *testing.T) {
	f := newFixture(t)

	taskID, err := f.manager.Create(context.Background(), f.request("dl-1"))
	require.NoError(t, err)

	tasks := f.manager.Tasks()
	require.Len(t, tasks, 1)
	assert.Equal(t, port.TaskSuspended, tasks[0].State)
	assert.Equal(t, "dl-1", tasks[0].Label)

	require.NoError(t, f.manager.Resume(taskID))
	assert.Equal(t, taskID, f.observer.waitStarted(t))

	done := f.observer.waitFinished(t)
	require.NoError(t, done.err)
	assert.Equal(t, f.fs.BundlePath("dl-1"), done.location)

	manifest, err := f.fs.ValidateBundle(done.location)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"video/index.m3u8", "audio/index.m3u8"}, manifest.Playlists)

	master, err := os.ReadFile(filepath.Join(done.location, filesystem.MasterPlaylist))
	require.NoError(t, err)
	assert.Contains(t, string(master), `URI="audio/index.m3u8"`)
	assert.Contains(t, string(master), "RESOLUTION=1280x720")

	segments, err := filepath.Glob(filepath.Join(done.location, "video", "seg*.ts"))
	require.NoError(t, err)
	assert.Len(t, segments, 4)

	wantBytes := 4*f.srv.SegmentSize("video/720.m3u8") + 4*f.srv.SegmentSize("audio/en_stereo.m3u8")
	f.observer.mu.Lock()
	assert.Equal(t, wantBytes, f.observer.progress[taskID])
	f.observer.mu.Unlock()

	assert.Empty(t, f.manager.Tasks())
	assert.False(t, f.fs.FileExists(f.fs.PartialPath("dl-1")))
}

func TestManager_ThreadsHeaders(t *testing.T) {
	srv := hlstest.NewServer(t, hlstest.Options{Segments: 2, SegmentSeconds: 0.01, RequireAuth: "Bearer x"})
	fs, err := filesystem.NewManager(t.TempDir())
	require.NoError(t, err)
	manager := NewManager(DefaultConfig(), httpfetch.NewClient(httpfetch.DefaultConfig(), zap.NewNop()), fs, zap.NewNop())
	observer := newRecordingObserver()
	manager.SetObserver(observer)
	defer manager.Close()

	req := port.TransferRequest{
		DownloadID: "auth",
		Video:      &domain.Rendition{Role: domain.RoleVideo, Height: 480, PlaylistURL: srv.URL + "/video/480.m3u8"},
		Headers:    map[string]string{"Authorization": "Bearer x"},
	}
	taskID, err := manager.Create(context.Background(), req)
	require.NoError(t, err)
	require.NoError(t, manager.Resume(taskID))

	done := observer.waitFinished(t)
	assert.NoError(t, done.err)
}

func TestManager_SuspendKeepsTaskResumable(t *testing.T) {
	f := newFixture(t)
	release := f.srv.HoldSegments()
	defer release()

	taskID, err := f.manager.Create(context.Background(), f.request("dl-2"))
	require.NoError(t, err)
	require.NoError(t, f.manager.Resume(taskID))
	f.observer.waitStarted(t)

	require.NoError(t, f.manager.Suspend(taskID))
	tasks := f.manager.Tasks()
	require.Len(t, tasks, 1)
	assert.Equal(t, port.TaskSuspended, tasks[0].State)

	select {
	case got := <-f.observer.finished:
		t.Fatalf("unexpected completion after suspend: %+v", got)
	case <-time.After(100 * time.Millisecond):
	}

	release()
	require.NoError(t, f.manager.Resume(taskID))
	done := f.observer.waitFinished(t)
	assert.NoError(t, done.err)
}

func TestManager_CancelReportsCanceled(t *testing.T) {
	f := newFixture(t)
	release := f.srv.HoldSegments()
	defer release()

	taskID, err := f.manager.Create(context.Background(), f.request("dl-3"))
	require.NoError(t, err)
	require.NoError(t, f.manager.Resume(taskID))
	f.observer.waitStarted(t)

	require.NoError(t, f.manager.Cancel(taskID))
	done := f.observer.waitFinished(t)
	assert.ErrorIs(t, done.err, domain.ErrTaskCanceled)
	assert.Equal(t, f.fs.PartialPath("dl-3"), done.location)
	assert.Empty(t, f.manager.Tasks())

	// Cancelling an unknown task is a no-op
	assert.NoError(t, f.manager.Cancel(taskID))
}

func TestManager_SkipsSegmentsAlreadyOnDisk(t *testing.T) {
	f := newFixture(t)

	existing := filepath.Join(f.fs.PartialPath("dl-4"), "video", "seg00000.ts")
	_, err := f.fs.WriteFile(existing, strings.NewReader("already here"))
	require.NoError(t, err)

	taskID, err := f.manager.Create(context.Background(), f.request("dl-4"))
	require.NoError(t, err)
	require.NoError(t, f.manager.Resume(taskID))

	done := f.observer.waitFinished(t)
	require.NoError(t, done.err)
	assert.Equal(t, 0, f.srv.Hits("GET", "video/720/seg0.ts"))
	assert.Equal(t, 1, f.srv.Hits("GET", "video/720/seg1.ts"))
}

func TestManager_FailureReportsError(t *testing.T) {
	f := newFixture(t)
	f.srv.SetFailSegments(true)

	taskID, err := f.manager.Create(context.Background(), f.request("dl-5"))
	require.NoError(t, err)
	require.NoError(t, f.manager.Resume(taskID))

	done := f.observer.waitFinished(t)
	require.Error(t, done.err)
	assert.NotErrorIs(t, done.err, domain.ErrTaskCanceled)
	assert.Empty(t, f.manager.Tasks())
}

func TestManager_CreateValidatesRequest(t *testing.T) {
	f := newFixture(t)
	_, err := f.manager.Create(context.Background(), port.TransferRequest{DownloadID: "x"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestLocalize_RewritesRangesAndKeys(t *testing.T) {
	remote := `#EXTM3U
#EXT-X-TARGETDURATION:6
#EXT-X-MAP:URI="init.mp4"
#EXT-X-KEY:METHOD=AES-128,URI="https://keys/k"
#EXTINF:6,
#EXT-X-BYTERANGE:100@0
media.mp4
#EXTINF:6,
#EXT-X-BYTERANGE:100
media.mp4
#EXT-X-ENDLIST
`
	pl, err := hls.ParseMedia([]byte(remote), "https://cdn.example/v/index.m3u8")
	require.NoError(t, err)

	tr := localize(pl, videoDir)
	// two segments, one init section, one key
	require.Len(t, tr.items, 4)
	assert.Equal(t, int64(100), tr.items[3].byteRange.Offset)

	for _, s := range tr.playlist.Segments {
		assert.Nil(t, s.ByteRange)
		assert.Equal(t, "key0.key", s.Key.URI)
		assert.Equal(t, "init0.mp4", s.Map.URI)
	}
	assert.Same(t, tr.playlist.Segments[0].Key, tr.playlist.Segments[1].Key)
}
