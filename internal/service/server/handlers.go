package server

import (
	"errors"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/vertextoedge/offline-stream/internal/domain"
	"github.com/vertextoedge/offline-stream/internal/domain/event"
	"github.com/vertextoedge/offline-stream/internal/port"
)

// StatusHandler serves download status and statistics
type StatusHandler struct {
	downloads Downloads
	stats     port.StatsRepository
	metrics   *event.MetricsHandler
	logger    *zap.Logger
}

// NewStatusHandler creates a new StatusHandler
func NewStatusHandler(downloads Downloads, stats port.StatsRepository, metrics *event.MetricsHandler, logger *zap.Logger) *StatusHandler {
	return &StatusHandler{
		downloads: downloads,
		stats:     stats,
		metrics:   metrics,
		logger:    logger,
	}
}

// ListDownloads handles GET /api/downloads
func (h *StatusHandler) ListDownloads(c *gin.Context) {
	list, err := h.downloads.List()
	if err != nil {
		h.logger.Error("failed to list downloads", zap.Error(err))
		c.JSON(http.StatusInternalServerError, errorBody("internal", "Failed to list downloads"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"downloads": list})
}

// GetDownload handles GET /api/downloads/:id
func (h *StatusHandler) GetDownload(c *gin.Context) {
	id := c.Param("id")
	status, err := h.downloads.Get(id)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, errorBody("not_found", "Download not found"))
	case err != nil:
		h.logger.Error("failed to get download", zap.String("download_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, errorBody("internal", "Failed to get download"))
	default:
		c.JSON(http.StatusOK, status)
	}
}

// Stats handles GET /api/stats
func (h *StatusHandler) Stats(c *gin.Context) {
	stats, err := h.stats.GetStorageStats()
	if err != nil {
		h.logger.Error("failed to get storage stats", zap.Error(err))
		c.JSON(http.StatusInternalServerError, errorBody("internal", "Failed to get storage stats"))
		return
	}

	body := gin.H{
		"registered_entries": stats.RegisteredEntries,
		"registered_bytes":   stats.RegisteredBytes,
		"registered_size":    humanize.Bytes(uint64(stats.RegisteredBytes)),
		"active_records":     stats.ActiveRecords,
		"failed_records":     stats.FailedRecords,
	}
	if h.metrics != nil {
		body["events"] = h.metrics.GetMetrics()
	}
	c.JSON(http.StatusOK, body)
}

// entryResponse is the JSON view of a registry entry
type entryResponse struct {
	DownloadID       string    `json:"download_id"`
	ArtifactLocation string    `json:"artifact_location"`
	FileSizeBytes    int64     `json:"file_size_bytes"`
	ContentID        string    `json:"content_id,omitempty"`
	RegisteredAt     time.Time `json:"registered_at"`
}

func toEntryResponse(e *domain.RegistryEntry) entryResponse {
	return entryResponse{
		DownloadID:       e.DownloadID,
		ArtifactLocation: e.ArtifactLocation,
		FileSizeBytes:    e.FileSizeBytes,
		ContentID:        e.ContentID,
		RegisteredAt:     e.RegisteredAt,
	}
}

// LibraryHandler serves the offline registry and the artifacts it indexes
type LibraryHandler struct {
	library Library
	logger  *zap.Logger
}

// NewLibraryHandler creates a new LibraryHandler
func NewLibraryHandler(library Library, logger *zap.Logger) *LibraryHandler {
	return &LibraryHandler{
		library: library,
		logger:  logger,
	}
}

// ListEntries handles GET /api/registry
func (h *LibraryHandler) ListEntries(c *gin.Context) {
	entries, err := h.library.List()
	if err != nil {
		h.logger.Error("failed to list registry entries", zap.Error(err))
		c.JSON(http.StatusInternalServerError, errorBody("internal", "Failed to list registry"))
		return
	}

	out := make([]entryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, toEntryResponse(e))
	}
	c.JSON(http.StatusOK, gin.H{"entries": out})
}

// IsCached handles GET /api/cached?uri=. The answer is bounded by the
// registry lookup timeout and is false when the lookup is slow.
func (h *LibraryHandler) IsCached(c *gin.Context) {
	uri := c.Query("uri")
	if uri == "" {
		c.JSON(http.StatusBadRequest, errorBody("invalid_request", "uri is required"))
		return
	}

	body := gin.H{"uri": uri, "cached": false}
	if h.library.IsCached(c.Request.Context(), uri) {
		body["cached"] = true
		if entry, err := h.library.Lookup(uri); err == nil && entry != nil {
			body["download_id"] = entry.DownloadID
			body["playback_url"] = "/library/" + entry.DownloadID + "/master.m3u8"
		}
	}
	c.JSON(http.StatusOK, body)
}

// ServeArtifact handles GET /library/:id/*file, serving files out of a
// registered bundle so players can stream it from localhost
func (h *LibraryHandler) ServeArtifact(c *gin.Context) {
	id := c.Param("id")
	entry, err := h.library.Get(id)
	if err != nil {
		h.logger.Error("failed to get registry entry", zap.String("download_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, errorBody("internal", "Failed to read registry"))
		return
	}
	if entry == nil {
		c.JSON(http.StatusNotFound, errorBody("not_found", "Artifact not found"))
		return
	}

	rel := strings.TrimPrefix(c.Param("file"), "/")
	if rel == "" {
		rel = "master.m3u8"
	}

	root := filepath.Clean(entry.ArtifactLocation)
	full := filepath.Join(root, filepath.FromSlash(rel))
	if !strings.HasPrefix(full, root+string(filepath.Separator)) {
		c.JSON(http.StatusBadRequest, errorBody("invalid_path", "Invalid path"))
		return
	}

	info, err := os.Stat(full)
	if err != nil || info.IsDir() {
		c.JSON(http.StatusNotFound, errorBody("not_found", "File not found"))
		return
	}

	c.Header("Content-Type", contentType(full))
	c.File(full)

	h.logger.Debug("artifact file served",
		zap.String("download_id", id),
		zap.String("file", rel),
		zap.Int64("size", info.Size()))
}

// contentType returns the media type for an artifact file
func contentType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".m3u8":
		return "application/vnd.apple.mpegurl"
	case ".ts":
		return "video/mp2t"
	case ".aac":
		return "audio/aac"
	case ".m4s", ".mp4":
		return "video/mp4"
	}
	if t := mime.TypeByExtension(filepath.Ext(path)); t != "" {
		return t
	}
	return "application/octet-stream"
}
