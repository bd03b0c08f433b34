package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vertextoedge/offline-stream/internal/domain"
	"github.com/vertextoedge/offline-stream/internal/domain/event"
	"github.com/vertextoedge/offline-stream/internal/port"
	"github.com/vertextoedge/offline-stream/internal/service/engine"
)

type fakeStore struct {
	port.Store
	pingErr error
	stats   *domain.StorageStats
}

func (s *fakeStore) Ping() error { return s.pingErr }

func (s *fakeStore) GetStorageStats() (*domain.StorageStats, error) {
	if s.stats == nil {
		return nil, errors.New("no stats")
	}
	return s.stats, nil
}

type fakeDownloads map[string]*engine.Status

func (f fakeDownloads) Get(id string) (*engine.Status, error) {
	if s, ok := f[id]; ok {
		return s, nil
	}
	return nil, domain.ErrNotFound
}

func (f fakeDownloads) List() ([]*engine.Status, error) {
	out := make([]*engine.Status, 0, len(f))
	for _, s := range f {
		out = append(out, s)
	}
	return out, nil
}

type fakeLibrary map[string]*domain.RegistryEntry

func (f fakeLibrary) Get(id string) (*domain.RegistryEntry, error) { return f[id], nil }

func (f fakeLibrary) List() ([]*domain.RegistryEntry, error) {
	out := make([]*domain.RegistryEntry, 0, len(f))
	for _, e := range f {
		out = append(out, e)
	}
	return out, nil
}

func (f fakeLibrary) Lookup(uri string) (*domain.RegistryEntry, error) { return f[uri], nil }

func (f fakeLibrary) IsCached(_ context.Context, uri string) bool { return f[uri] != nil }

func newTestServer(t *testing.T, cfg *Config, store *fakeStore) (*Server, string) {
	t.Helper()
	bundle := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(bundle, "master.m3u8"), []byte("#EXTM3U\n"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(bundle, "video"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(bundle, "video", "seg0.ts"), []byte{0x47, 0x47}, 0o644))

	downloads := fakeDownloads{
		"dl-1": {DownloadID: "dl-1", State: domain.StateDownloading, BytesDownloaded: 50, TotalBytes: 100, Percent: 50},
	}
	library := fakeLibrary{
		"done": {DownloadID: "done", ArtifactLocation: bundle, FileSizeBytes: 10, RegisteredAt: time.Now()},
	}
	return New(cfg, store, downloads, library, event.NewMetricsHandler(), zap.NewNop()), bundle
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestServer_Health(t *testing.T) {
	srv, _ := newTestServer(t, nil, &fakeStore{})
	rec := get(t, srv.Handler(), "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"healthy"`)

	srv, _ = newTestServer(t, nil, &fakeStore{pingErr: errors.New("closed")})
	rec = get(t, srv.Handler(), "/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_Downloads(t *testing.T) {
	srv, _ := newTestServer(t, nil, &fakeStore{})

	rec := get(t, srv.Handler(), "/api/downloads/dl-1")
	require.Equal(t, http.StatusOK, rec.Code)
	var status engine.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, domain.StateDownloading, status.State)
	assert.Equal(t, float64(50), status.Percent)

	rec = get(t, srv.Handler(), "/api/downloads/missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = get(t, srv.Handler(), "/api/downloads")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Downloads []engine.Status `json:"downloads"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list.Downloads, 1)
}

func TestServer_Cached(t *testing.T) {
	srv, _ := newTestServer(t, nil, &fakeStore{})

	rec := get(t, srv.Handler(), "/api/cached?uri=done")
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["cached"])
	assert.Equal(t, "/library/done/master.m3u8", body["playback_url"])

	rec = get(t, srv.Handler(), "/api/cached?uri=other")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"cached":false`)

	rec = get(t, srv.Handler(), "/api/cached")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_RegistryAndStats(t *testing.T) {
	store := &fakeStore{stats: &domain.StorageStats{RegisteredEntries: 1, RegisteredBytes: 2048}}
	srv, _ := newTestServer(t, nil, store)

	rec := get(t, srv.Handler(), "/api/registry")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"download_id":"done"`)

	rec = get(t, srv.Handler(), "/api/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"registered_size":"2.0 kB"`)
	assert.Contains(t, rec.Body.String(), `"downloads_completed":0`)
}

func TestServer_ServeArtifact(t *testing.T) {
	srv, _ := newTestServer(t, nil, &fakeStore{})

	tests := []struct {
		name        string
		path        string
		wantStatus  int
		contentType string
	}{
		{"master playlist", "/library/done/master.m3u8", http.StatusOK, "application/vnd.apple.mpegurl"},
		{"bare id serves master", "/library/done/", http.StatusOK, "application/vnd.apple.mpegurl"},
		{"segment", "/library/done/video/seg0.ts", http.StatusOK, "video/mp2t"},
		{"missing file", "/library/done/video/seg9.ts", http.StatusNotFound, ""},
		{"unknown artifact", "/library/nope/master.m3u8", http.StatusNotFound, ""},
		{"directory", "/library/done/video", http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := get(t, srv.Handler(), tt.path)
			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.contentType != "" {
				assert.Equal(t, tt.contentType, rec.Header().Get("Content-Type"))
			}
		})
	}
}

func TestServer_BasicAuth(t *testing.T) {
	cfg := DefaultConfig()
	cfg.APIUsername = "admin"
	cfg.APIPassword = "secret"
	srv, _ := newTestServer(t, cfg, &fakeStore{})

	rec := get(t, srv.Handler(), "/api/downloads")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))

	req := httptest.NewRequest(http.MethodGet, "/api/downloads", nil)
	req.SetBasicAuth("admin", "wrong")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/downloads", nil)
	req.SetBasicAuth("admin", "secret")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Health and playback stay open
	assert.Equal(t, http.StatusOK, get(t, srv.Handler(), "/health").Code)
	assert.Equal(t, http.StatusOK, get(t, srv.Handler(), "/library/done/master.m3u8").Code)
}
