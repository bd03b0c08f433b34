package transfer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vertextoedge/offline-stream/internal/adapter/filesystem"
	"github.com/vertextoedge/offline-stream/internal/domain"
	"github.com/vertextoedge/offline-stream/internal/hls"
	"github.com/vertextoedge/offline-stream/internal/port"
)

// Config holds transfer configuration
type Config struct {
	MaxConcurrent      int // Concurrent transfer tasks
	SegmentConcurrency int // Parallel segment fetches per task
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		MaxConcurrent:      3,
		SegmentConcurrency: 4,
	}
}

var (
	ErrTaskNotFound = errors.New("transfer task not found")
	ErrTaskFinished = errors.New("transfer task already finished")
	ErrClosed       = errors.New("transfer manager closed")
)

// task is one transfer. Fields guarded by Manager.mu unless atomic.
type task struct {
	id  string
	req port.TransferRequest

	state    port.TaskState
	canceled bool

	// run bookkeeping; done is closed when the worker stops touching disk
	cancelRun context.CancelFunc
	done      chan struct{}

	bytesWritten atomic.Int64
	totalBytes   atomic.Int64
}

// Manager mirrors HLS renditions into the artifact storage area.
// It implements port.Transfer.
type Manager struct {
	config  Config
	fetcher port.Fetcher
	fs      port.FileSystem
	logger  *zap.Logger

	slots chan struct{}

	mu       sync.Mutex
	tasks    map[string]*task
	observer port.TransferObserver
	closed   bool
}

// Ensure Manager implements port.Transfer
var _ port.Transfer = (*Manager)(nil)

// NewManager creates a new transfer manager
func NewManager(cfg Config, fetcher port.Fetcher, fs port.FileSystem, logger *zap.Logger) *Manager {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultConfig().MaxConcurrent
	}
	if cfg.SegmentConcurrency <= 0 {
		cfg.SegmentConcurrency = DefaultConfig().SegmentConcurrency
	}

	return &Manager{
		config:  cfg,
		fetcher: fetcher,
		fs:      fs,
		logger:  logger,
		slots:   make(chan struct{}, cfg.MaxConcurrent),
		tasks:   make(map[string]*task),
	}
}

// SetObserver sets the callback receiver
func (m *Manager) SetObserver(observer port.TransferObserver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observer = observer
}

// Create registers a suspended task. An existing partial directory for the
// download is reused so already-fetched segments are skipped.
func (m *Manager) Create(ctx context.Context, req port.TransferRequest) (string, error) {
	if req.DownloadID == "" || req.Video == nil || req.Video.PlaylistURL == "" {
		return "", fmt.Errorf("%w: transfer request needs a download id and a video playlist", domain.ErrInvalidInput)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return "", ErrClosed
	}
	m.mu.Unlock()

	t := &task{
		id:    uuid.NewString(),
		req:   req,
		state: port.TaskSuspended,
	}
	t.totalBytes.Store(req.EstimatedBytes)

	dir := m.fs.PartialPath(req.DownloadID)
	manifest, err := m.fs.ReadBundleManifest(dir)
	if err != nil || manifest.DownloadID != req.DownloadID {
		manifest = &domain.BundleManifest{
			DownloadID: req.DownloadID,
			MasterURL:  req.MasterURL,
			CreatedAt:  time.Now(),
		}
	} else if size, err := m.fs.GetFileSize(dir); err == nil {
		t.bytesWritten.Store(size)
	}
	manifest.TaskID = t.id
	if err := m.fs.WriteBundleManifest(dir, manifest); err != nil {
		return "", fmt.Errorf("failed to prepare partial artifact: %w", err)
	}

	m.mu.Lock()
	m.tasks[t.id] = t
	m.mu.Unlock()

	m.logger.Debug("transfer task created",
		zap.String("task_id", t.id),
		zap.String("download_id", req.DownloadID),
		zap.String("location", dir),
	)

	return t.id, nil
}

// Resume starts or continues a task
func (m *Manager) Resume(taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	t, ok := m.tasks[taskID]
	if !ok {
		return ErrTaskNotFound
	}
	switch t.state {
	case port.TaskRunning:
		return nil
	case port.TaskCompleted, port.TaskCanceled:
		return ErrTaskFinished
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.state = port.TaskRunning
	t.cancelRun = cancel
	t.done = make(chan struct{})

	go m.run(ctx, t, t.done)
	return nil
}

// Suspend pauses a task and waits until it stops writing. Bytes already
// written stay in the partial directory.
func (m *Manager) Suspend(taskID string) error {
	m.mu.Lock()
	t, ok := m.tasks[taskID]
	if !ok {
		m.mu.Unlock()
		return ErrTaskNotFound
	}
	if t.state != port.TaskRunning {
		m.mu.Unlock()
		return nil
	}
	t.state = port.TaskSuspended
	cancel, done := t.cancelRun, t.done
	m.mu.Unlock()

	cancel()
	<-done
	return nil
}

// Cancel stops a task and waits until it stops writing. A running task
// reports domain.ErrTaskCanceled through its completion callback; a
// suspended task is dropped silently.
func (m *Manager) Cancel(taskID string) error {
	m.mu.Lock()
	t, ok := m.tasks[taskID]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	t.canceled = true
	running := t.state == port.TaskRunning
	t.state = port.TaskCanceled
	cancel, done := t.cancelRun, t.done
	if !running {
		delete(m.tasks, taskID)
	}
	m.mu.Unlock()

	if running {
		cancel()
		<-done
	}
	return nil
}

// Tasks lists live tasks
func (m *Manager) Tasks() []port.TaskInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	infos := make([]port.TaskInfo, 0, len(m.tasks))
	for _, t := range m.tasks {
		infos = append(infos, port.TaskInfo{
			TaskID:       t.id,
			Label:        t.req.DownloadID,
			State:        t.state,
			BytesWritten: t.bytesWritten.Load(),
			TotalBytes:   t.totalBytes.Load(),
			Location:     m.fs.PartialPath(t.req.DownloadID),
		})
	}
	return infos
}

// Close stops every task without reporting completion
func (m *Manager) Close() error {
	m.mu.Lock()
	m.closed = true
	var waits []chan struct{}
	for _, t := range m.tasks {
		if t.state == port.TaskRunning {
			t.state = port.TaskSuspended
			t.cancelRun()
			waits = append(waits, t.done)
		}
	}
	m.mu.Unlock()

	for _, done := range waits {
		<-done
	}
	return nil
}

// run executes one task until it completes, fails, or its context is
// canceled by Suspend or Cancel
func (m *Manager) run(ctx context.Context, t *task, done chan struct{}) {
	location, err := m.execute(ctx, t)
	close(done)

	m.mu.Lock()
	observer := m.observer
	current := t.done == done

	switch {
	case err == nil:
		t.state = port.TaskCompleted
		delete(m.tasks, t.id)
		if !current {
			// A newer run raced this one; the artifact is already final
			t.cancelRun()
		}
	case !current:
		m.mu.Unlock()
		return
	case t.canceled:
		delete(m.tasks, t.id)
		location = m.fs.PartialPath(t.req.DownloadID)
		err = domain.ErrTaskCanceled
	case ctx.Err() != nil:
		// Suspend or Close; no callback, the task stays resumable
		m.mu.Unlock()
		return
	default:
		delete(m.tasks, t.id)
		location = m.fs.PartialPath(t.req.DownloadID)
	}
	m.mu.Unlock()

	if err != nil && !errors.Is(err, domain.ErrTaskCanceled) {
		m.logger.Warn("transfer task failed",
			zap.String("task_id", t.id),
			zap.String("download_id", t.req.DownloadID),
			zap.Error(err),
		)
	}

	if observer != nil {
		observer.OnFinished(t.id, location, err)
	}
}

func (m *Manager) execute(ctx context.Context, t *task) (string, error) {
	select {
	case m.slots <- struct{}{}:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	defer func() { <-m.slots }()

	m.notifyStarted(t)

	req := t.req
	dir := m.fs.PartialPath(req.DownloadID)

	tracks, err := m.plan(ctx, req)
	if err != nil {
		return "", err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.config.SegmentConcurrency)
	for _, tr := range tracks {
		for _, it := range tr.items {
			target := filepath.Join(dir, filepath.FromSlash(it.rel))
			if m.fs.FileExists(target) {
				continue
			}
			g.Go(func() error {
				n, err := m.fetchItem(gctx, it, req.Headers, target)
				if err != nil {
					return err
				}
				m.notifyProgress(t, t.bytesWritten.Add(n))
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	return m.finalize(t, dir, tracks)
}

// plan fetches the selected media playlists and lists what to copy
func (m *Manager) plan(ctx context.Context, req port.TransferRequest) ([]*track, error) {
	sources := []struct {
		rendition *domain.Rendition
		dir       string
	}{{req.Video, videoDir}}
	if req.Audio != nil && req.Audio.PlaylistURL != "" {
		sources = append(sources, struct {
			rendition *domain.Rendition
			dir       string
		}{req.Audio, audioDir})
	}

	var tracks []*track
	for _, src := range sources {
		body, err := m.fetcher.Get(ctx, src.rendition.PlaylistURL, req.Headers)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch %s playlist: %w", src.dir, err)
		}
		remote, err := hls.ParseMedia(body, src.rendition.PlaylistURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s playlist: %w", src.dir, err)
		}
		tracks = append(tracks, localize(remote, src.dir))
	}
	return tracks, nil
}

func (m *Manager) fetchItem(ctx context.Context, it item, headers map[string]string, target string) (int64, error) {
	if it.byteRange != nil {
		ranged := make(map[string]string, len(headers)+1)
		for k, v := range headers {
			ranged[k] = v
		}
		ranged["Range"] = fmt.Sprintf("bytes=%d-%d", it.byteRange.Offset, it.byteRange.Offset+it.byteRange.Length-1)
		headers = ranged
	}

	body, _, err := m.fetcher.Open(ctx, it.url, headers)
	if err != nil {
		return 0, err
	}
	defer body.Close()

	var r io.Reader = body
	if it.byteRange != nil {
		// Servers that ignore Range send the whole resource
		r = io.LimitReader(body, it.byteRange.Length)
	}

	n, err := m.fs.WriteFile(target, r)
	if err != nil {
		return 0, fmt.Errorf("failed to store %s: %w", it.rel, err)
	}
	return n, nil
}

// finalize writes the local playlists and bundle manifest, then moves the
// partial directory into place
func (m *Manager) finalize(t *task, dir string, tracks []*track) (string, error) {
	manifest, err := m.fs.ReadBundleManifest(dir)
	if err != nil {
		manifest = &domain.BundleManifest{
			DownloadID: t.req.DownloadID,
			MasterURL:  t.req.MasterURL,
			CreatedAt:  time.Now(),
		}
	}

	version := 3
	manifest.Playlists = nil
	for _, tr := range tracks {
		var buf bytes.Buffer
		if err := hls.WriteMedia(&buf, tr.playlist); err != nil {
			return "", err
		}
		rel := tr.dir + "/" + indexPlaylist
		if _, err := m.fs.WriteFile(filepath.Join(dir, filepath.FromSlash(rel)), &buf); err != nil {
			return "", err
		}
		manifest.Playlists = append(manifest.Playlists, rel)
		if tr.playlist.Version > version {
			version = tr.playlist.Version
		}
	}

	var audio *domain.Rendition
	if len(tracks) > 1 {
		audio = t.req.Audio
	}
	var buf bytes.Buffer
	if err := hls.WriteMaster(&buf, localMaster(t.req.Video, audio, version)); err != nil {
		return "", err
	}
	if _, err := m.fs.WriteFile(filepath.Join(dir, filesystem.MasterPlaylist), &buf); err != nil {
		return "", err
	}

	manifest.TaskID = t.id
	manifest.MasterPath = filesystem.MasterPlaylist
	manifest.CompletedAt = time.Now()
	if err := m.fs.WriteBundleManifest(dir, manifest); err != nil {
		return "", err
	}

	location, err := m.fs.FinalizeBundle(t.req.DownloadID)
	if err != nil {
		return "", err
	}

	written := t.bytesWritten.Load()
	t.totalBytes.Store(written)
	m.notifyProgress(t, written)

	m.logger.Info("transfer task completed",
		zap.String("task_id", t.id),
		zap.String("download_id", t.req.DownloadID),
		zap.String("location", location),
		zap.Int64("bytes", written),
	)

	return location, nil
}

func (m *Manager) notifyStarted(t *task) {
	m.mu.Lock()
	observer := m.observer
	m.mu.Unlock()

	if observer != nil {
		observer.OnStarted(t.id)
		observer.OnProgress(t.id, t.bytesWritten.Load(), t.totalBytes.Load())
	}
}

func (m *Manager) notifyProgress(t *task, written int64) {
	total := t.totalBytes.Load()
	if written > total {
		total = written
	}

	m.mu.Lock()
	observer := m.observer
	m.mu.Unlock()

	if observer != nil {
		observer.OnProgress(t.id, written, total)
	}
}
