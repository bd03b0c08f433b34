package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment variable overrides,
// e.g. OFFLINE_STREAM_STORAGE_ROOT_DIR
const EnvPrefix = "OFFLINE_STREAM"

// Config represents the entire application configuration
type Config struct {
	Storage     StorageConfig     `mapstructure:"storage"`
	Download    DownloadConfig    `mapstructure:"download"`
	Estimator   EstimatorConfig   `mapstructure:"estimator"`
	Registry    RegistryConfig    `mapstructure:"registry"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
	HTTP        HTTPConfig        `mapstructure:"http"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Database    DatabaseConfig    `mapstructure:"database"`
}

// StorageConfig contains artifact storage settings
type StorageConfig struct {
	RootDir             string  `mapstructure:"root_dir"`
	MaxSizeGB           float64 `mapstructure:"max_size_gb"`
	MaxDiskUsagePercent float64 `mapstructure:"max_disk_usage_percent"`
	BufferSizeMB        int     `mapstructure:"buffer_size_mb"`
}

// RenditionRule admits video renditions of one height
type RenditionRule struct {
	Height     int   `mapstructure:"height"`
	MinBitrate int64 `mapstructure:"min_bitrate"`
}

// DownloadConfig contains download engine settings
type DownloadConfig struct {
	ConcurrentTransfers int             `mapstructure:"concurrent_transfers"`
	SegmentConcurrency  int             `mapstructure:"segment_concurrency"`
	ProgressInterval    string          `mapstructure:"progress_interval"`
	PersistInterval     string          `mapstructure:"persist_interval"`
	Renditions          []RenditionRule `mapstructure:"renditions"`
	BitrateTolerance    int64           `mapstructure:"bitrate_tolerance"`
	ManifestTimeout     string          `mapstructure:"manifest_timeout"`
	CatalogueTTL        string          `mapstructure:"catalogue_ttl"`
	NetworkProbeURL     string          `mapstructure:"network_probe_url"`
}

// EstimatorConfig contains size estimation settings
type EstimatorConfig struct {
	SampleConcurrency int     `mapstructure:"sample_concurrency"`
	ProbeTimeout      string  `mapstructure:"probe_timeout"`
	OverheadFactor    float64 `mapstructure:"overhead_factor"`
}

// RegistryConfig contains offline registry settings
type RegistryConfig struct {
	LookupTimeout string `mapstructure:"lookup_timeout"`
}

// MaintenanceConfig contains cleanup settings
type MaintenanceConfig struct {
	RegistryCheckInterval string `mapstructure:"registry_check_interval"`
	CleanupInterval       string `mapstructure:"cleanup_interval"`
	PartialMaxAge         string `mapstructure:"partial_max_age"`
	FailedRecordMaxAge    string `mapstructure:"failed_record_max_age"`
	TriggerInterval       string `mapstructure:"trigger_interval"`
}

// HTTPConfig contains HTTP client and status server configuration
type HTTPConfig struct {
	BindAddr      string `mapstructure:"bind_addr"`
	APIUsername   string `mapstructure:"api_username"`
	APIPassword   string `mapstructure:"api_password"`
	ReadTimeout   string `mapstructure:"read_timeout"`
	WriteTimeout  string `mapstructure:"write_timeout"`
	IdleTimeout   string `mapstructure:"idle_timeout"`
	UserAgent     string `mapstructure:"user_agent"`
	SkipTLSVerify bool   `mapstructure:"skip_tls_verify"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("storage.root_dir", "/var/lib/offline-stream")
	v.SetDefault("storage.max_size_gb", 50)
	v.SetDefault("storage.max_disk_usage_percent", 90)
	v.SetDefault("storage.buffer_size_mb", 1)
	v.SetDefault("download.concurrent_transfers", 3)
	v.SetDefault("download.segment_concurrency", 4)
	v.SetDefault("download.progress_interval", "1s")
	v.SetDefault("download.persist_interval", "5s")
	v.SetDefault("download.renditions", []map[string]any{
		{"height": 1080, "min_bitrate": 2_500_000},
		{"height": 720, "min_bitrate": 1_200_000},
		{"height": 480, "min_bitrate": 600_000},
	})
	v.SetDefault("download.bitrate_tolerance", 200_000)
	v.SetDefault("download.manifest_timeout", "15s")
	v.SetDefault("download.catalogue_ttl", "30m")
	v.SetDefault("download.network_probe_url", "")
	v.SetDefault("estimator.sample_concurrency", 8)
	v.SetDefault("estimator.probe_timeout", "5s")
	v.SetDefault("estimator.overhead_factor", 1.02)
	v.SetDefault("registry.lookup_timeout", "1s")
	v.SetDefault("maintenance.registry_check_interval", "10m")
	v.SetDefault("maintenance.cleanup_interval", "1h")
	v.SetDefault("maintenance.partial_max_age", "168h")
	v.SetDefault("maintenance.failed_record_max_age", "168h")
	v.SetDefault("maintenance.trigger_interval", "5m")
	v.SetDefault("http.bind_addr", "127.0.0.1:8787")
	v.SetDefault("http.api_username", "")
	v.SetDefault("http.api_password", "")
	v.SetDefault("http.read_timeout", "30s")
	v.SetDefault("http.write_timeout", "30s")
	v.SetDefault("http.idle_timeout", "60s")
	v.SetDefault("http.user_agent", "offline-stream/1.0")
	v.SetDefault("http.skip_tls_verify", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("database.path", "")
}

// Load loads configuration from the specified file path. An empty path
// uses defaults and environment overrides only. A .env file in the
// working directory is loaded first when present.
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env file: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Storage.RootDir == "" {
		return fmt.Errorf("storage.root_dir is required")
	}
	if c.Storage.MaxSizeGB < 0 {
		return fmt.Errorf("storage.max_size_gb must not be negative")
	}
	if c.Storage.MaxDiskUsagePercent < 0 || c.Storage.MaxDiskUsagePercent > 100 {
		return fmt.Errorf("storage.max_disk_usage_percent must be between 0 and 100")
	}

	if c.Download.ConcurrentTransfers < 1 || c.Download.ConcurrentTransfers > 10 {
		return fmt.Errorf("download.concurrent_transfers must be between 1 and 10")
	}
	if c.Download.SegmentConcurrency < 1 || c.Download.SegmentConcurrency > 32 {
		return fmt.Errorf("download.segment_concurrency must be between 1 and 32")
	}
	if len(c.Download.Renditions) == 0 {
		return fmt.Errorf("download.renditions must list at least one height")
	}
	for _, r := range c.Download.Renditions {
		if r.Height <= 0 || r.MinBitrate < 0 {
			return fmt.Errorf("invalid download.renditions entry: height %d, min_bitrate %d", r.Height, r.MinBitrate)
		}
	}

	if c.Estimator.SampleConcurrency < 1 {
		return fmt.Errorf("estimator.sample_concurrency must be positive")
	}
	if c.Estimator.OverheadFactor < 1 || c.Estimator.OverheadFactor > 2 {
		return fmt.Errorf("estimator.overhead_factor must be between 1 and 2")
	}

	durations := map[string]string{
		"download.progress_interval":          c.Download.ProgressInterval,
		"download.persist_interval":           c.Download.PersistInterval,
		"download.manifest_timeout":           c.Download.ManifestTimeout,
		"download.catalogue_ttl":              c.Download.CatalogueTTL,
		"estimator.probe_timeout":             c.Estimator.ProbeTimeout,
		"registry.lookup_timeout":             c.Registry.LookupTimeout,
		"maintenance.registry_check_interval": c.Maintenance.RegistryCheckInterval,
		"maintenance.cleanup_interval":        c.Maintenance.CleanupInterval,
		"maintenance.partial_max_age":         c.Maintenance.PartialMaxAge,
		"maintenance.failed_record_max_age":   c.Maintenance.FailedRecordMaxAge,
		"maintenance.trigger_interval":        c.Maintenance.TriggerInterval,
	}
	for key, value := range durations {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		// Valid levels
	default:
		return fmt.Errorf("invalid logging.level: %s", c.Logging.Level)
	}

	switch c.Logging.Format {
	case "json", "text":
		// Valid formats
	default:
		return fmt.Errorf("invalid logging.format: %s", c.Logging.Format)
	}

	return nil
}

// parseDuration parses value, returning fallback when it is empty or zero
func parseDuration(value string, fallback time.Duration) time.Duration {
	d, _ := time.ParseDuration(value)
	if d == 0 {
		return fallback
	}
	return d
}

// GetDatabasePath returns the database path, defaulting to a file in the
// storage root
func (c *Config) GetDatabasePath() string {
	if c.Database.Path != "" {
		return c.Database.Path
	}
	return filepath.Join(c.Storage.RootDir, "offline-stream.db")
}

// GetBufferSize returns the copy buffer size in bytes
func (c *StorageConfig) GetBufferSize() int {
	if c.BufferSizeMB <= 0 {
		return 1024 * 1024
	}
	return c.BufferSizeMB * 1024 * 1024
}

// MinBitrates returns the allowed heights mapped to their minimum bitrate
func (c *DownloadConfig) MinBitrates() map[int]int64 {
	out := make(map[int]int64, len(c.Renditions))
	for _, r := range c.Renditions {
		out[r.Height] = r.MinBitrate
	}
	return out
}

// GetProgressInterval returns the progress emission interval
func (c *DownloadConfig) GetProgressInterval() time.Duration {
	return parseDuration(c.ProgressInterval, time.Second)
}

// GetPersistInterval returns how often progress is written to the store
func (c *DownloadConfig) GetPersistInterval() time.Duration {
	return parseDuration(c.PersistInterval, 5*time.Second)
}

// GetManifestTimeout returns the master manifest fetch timeout
func (c *DownloadConfig) GetManifestTimeout() time.Duration {
	return parseDuration(c.ManifestTimeout, 15*time.Second)
}

// GetCatalogueTTL returns how long an inspected listing is reused
func (c *DownloadConfig) GetCatalogueTTL() time.Duration {
	return parseDuration(c.CatalogueTTL, 30*time.Minute)
}

// GetProbeTimeout returns the per-segment probe timeout
func (c *EstimatorConfig) GetProbeTimeout() time.Duration {
	return parseDuration(c.ProbeTimeout, 5*time.Second)
}

// GetLookupTimeout returns the isCached time budget
func (c *RegistryConfig) GetLookupTimeout() time.Duration {
	return parseDuration(c.LookupTimeout, time.Second)
}

// GetRegistryCheckInterval returns the registry reconciliation interval
func (c *MaintenanceConfig) GetRegistryCheckInterval() time.Duration {
	return parseDuration(c.RegistryCheckInterval, 10*time.Minute)
}

// GetCleanupInterval returns the cleanup interval
func (c *MaintenanceConfig) GetCleanupInterval() time.Duration {
	return parseDuration(c.CleanupInterval, time.Hour)
}

// GetPartialMaxAge returns the age after which unowned partials are removed
func (c *MaintenanceConfig) GetPartialMaxAge() time.Duration {
	return parseDuration(c.PartialMaxAge, 168*time.Hour)
}

// GetFailedRecordMaxAge returns how long failed downloads stay retryable
func (c *MaintenanceConfig) GetFailedRecordMaxAge() time.Duration {
	return parseDuration(c.FailedRecordMaxAge, 168*time.Hour)
}

// GetTriggerInterval returns the minimum spacing of event-triggered runs
func (c *MaintenanceConfig) GetTriggerInterval() time.Duration {
	return parseDuration(c.TriggerInterval, 5*time.Minute)
}

// GetReadTimeout returns the read timeout as time.Duration
func (c *HTTPConfig) GetReadTimeout() time.Duration {
	return parseDuration(c.ReadTimeout, 30*time.Second)
}

// GetWriteTimeout returns the write timeout as time.Duration
func (c *HTTPConfig) GetWriteTimeout() time.Duration {
	return parseDuration(c.WriteTimeout, 30*time.Second)
}

// GetIdleTimeout returns the idle timeout as time.Duration
func (c *HTTPConfig) GetIdleTimeout() time.Duration {
	return parseDuration(c.IdleTimeout, 60*time.Second)
}
