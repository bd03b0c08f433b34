package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/offline-stream", cfg.Storage.RootDir)
	assert.Equal(t, 3, cfg.Download.ConcurrentTransfers)
	assert.Equal(t, map[int]int64{1080: 2_500_000, 720: 1_200_000, 480: 600_000}, cfg.Download.MinBitrates())
	assert.Equal(t, time.Second, cfg.Download.GetProgressInterval())
	assert.Equal(t, 1.02, cfg.Estimator.OverheadFactor)
	assert.Equal(t, time.Second, cfg.Registry.GetLookupTimeout())
	assert.Equal(t, 168*time.Hour, cfg.Maintenance.GetPartialMaxAge())
	assert.Equal(t, "/var/lib/offline-stream/offline-stream.db", cfg.GetDatabasePath())
}

func TestLoad_FileAndEnvironment(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	path := writeFile(t, dir, "config.yaml", `
storage:
  root_dir: /data/offline
  max_size_gb: 10
download:
  concurrent_transfers: 2
  renditions:
    - height: 720
      min_bitrate: 1000000
logging:
  level: debug
  format: text
`)
	t.Setenv("OFFLINE_STREAM_DOWNLOAD_CONCURRENT_TRANSFERS", "5")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/data/offline", cfg.Storage.RootDir)
	assert.Equal(t, float64(10), cfg.Storage.MaxSizeGB)
	assert.Equal(t, 5, cfg.Download.ConcurrentTransfers, "environment overrides the file")
	assert.Equal(t, map[int]int64{720: 1_000_000}, cfg.Download.MinBitrates())
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	writeFile(t, dir, ".env", "OFFLINE_STREAM_REGISTRY_LOOKUP_TIMEOUT=250ms\n")
	t.Cleanup(func() { os.Unsetenv("OFFLINE_STREAM_REGISTRY_LOOKUP_TIMEOUT") })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, cfg.Registry.GetLookupTimeout())
}

func TestLoad_MissingFile(t *testing.T) {
	t.Chdir(t.TempDir())
	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Storage:   StorageConfig{RootDir: "/data", MaxSizeGB: 10, MaxDiskUsagePercent: 90},
			Download:  DownloadConfig{ConcurrentTransfers: 3, SegmentConcurrency: 4, Renditions: []RenditionRule{{Height: 720}}},
			Estimator: EstimatorConfig{SampleConcurrency: 8, OverheadFactor: 1.02},
			Logging:   LoggingConfig{Level: "info", Format: "json"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"missing root dir", func(c *Config) { c.Storage.RootDir = "" }, true},
		{"disk percent over 100", func(c *Config) { c.Storage.MaxDiskUsagePercent = 101 }, true},
		{"zero transfers", func(c *Config) { c.Download.ConcurrentTransfers = 0 }, true},
		{"no renditions", func(c *Config) { c.Download.Renditions = nil }, true},
		{"bad rendition height", func(c *Config) { c.Download.Renditions = []RenditionRule{{Height: -1}} }, true},
		{"overhead below one", func(c *Config) { c.Estimator.OverheadFactor = 0.9 }, true},
		{"bad duration", func(c *Config) { c.Registry.LookupTimeout = "soon" }, true},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, true},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDurationFallbacks(t *testing.T) {
	var d DownloadConfig
	assert.Equal(t, 15*time.Second, d.GetManifestTimeout())
	assert.Equal(t, 30*time.Minute, d.GetCatalogueTTL())

	var h HTTPConfig
	assert.Equal(t, 30*time.Second, h.GetReadTimeout())
	assert.Equal(t, 60*time.Second, h.GetIdleTimeout())

	var s StorageConfig
	assert.Equal(t, 1024*1024, s.GetBufferSize())
}
