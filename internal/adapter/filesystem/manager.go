package filesystem

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/vertextoedge/offline-stream/internal/domain"
	"github.com/vertextoedge/offline-stream/internal/port"
)

// Artifact directory layout under the root
const (
	BundleSuffix   = ".bundle"
	PartialSuffix  = ".partial"
	ManifestFile   = "bundle.json"
	MasterPlaylist = "master.m3u8"
	tempSuffix     = ".downloading"
	maxNameLength  = 96
)

// Manager handles the local artifact storage area
type Manager struct {
	rootDir    string
	bufferSize int
}

// Ensure Manager implements port.FileSystem
var _ port.FileSystem = (*Manager)(nil)

// NewManager creates a new filesystem manager
func NewManager(rootDir string) (*Manager, error) {
	return NewManagerWithBufferSize(rootDir, 1024*1024) // 1MB default
}

// NewManagerWithBufferSize creates a new filesystem manager with custom buffer size
func NewManagerWithBufferSize(rootDir string, bufferSize int) (*Manager, error) {
	if err := os.MkdirAll(rootDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage root dir: %w", err)
	}

	if bufferSize <= 0 {
		bufferSize = 1024 * 1024
	}

	return &Manager{
		rootDir:    rootDir,
		bufferSize: bufferSize,
	}, nil
}

// RootDir returns the storage root directory
func (m *Manager) RootDir() string {
	return m.rootDir
}

// BundlePath returns the directory a completed artifact lives in
func (m *Manager) BundlePath(downloadID string) string {
	return filepath.Join(m.rootDir, safeName(downloadID)+BundleSuffix)
}

// PartialPath returns the directory an in-progress artifact is written to
func (m *Manager) PartialPath(downloadID string) string {
	return filepath.Join(m.rootDir, safeName(downloadID)+PartialSuffix)
}

// EnsureDir ensures the directory for a file path exists
func (m *Manager) EnsureDir(filePath string) error {
	dir := filepath.Dir(filePath)
	return os.MkdirAll(dir, 0755)
}

// WriteFile writes content to a temp file and renames it into place, so a
// file at path is always complete
func (m *Manager) WriteFile(path string, reader io.Reader) (int64, error) {
	if err := m.EnsureDir(path); err != nil {
		return 0, fmt.Errorf("failed to create parent dir: %w", err)
	}

	tempPath := path + tempSuffix
	f, err := os.Create(tempPath)
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}

	buf := make([]byte, m.bufferSize)
	written, err := io.CopyBuffer(f, reader, buf)
	if err != nil {
		f.Close()
		os.Remove(tempPath)
		return 0, fmt.Errorf("failed to write file: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tempPath)
		return 0, fmt.Errorf("failed to close file: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		return 0, fmt.Errorf("failed to rename temp file: %w", err)
	}

	return written, nil
}

// DeleteFile removes a file or an artifact directory
func (m *Manager) DeleteFile(path string) error {
	if path == "" {
		return nil
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("failed to delete %s: %w", path, err)
	}
	return nil
}

// FileExists checks if a file or directory exists
func (m *Manager) FileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

// GetFileSize returns the size of a file, or the total size of a directory
func (m *Manager) GetFileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	if !info.IsDir() {
		return info.Size(), nil
	}
	return dirSize(path)
}

// GetLibrarySize returns the total size of the artifact storage area
func (m *Manager) GetLibrarySize() (int64, error) {
	return dirSize(m.rootDir)
}

// ReadBundleManifest reads the bundle.json marker of an artifact directory
func (m *Manager) ReadBundleManifest(dir string) (*domain.BundleManifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, err
	}

	var manifest domain.BundleManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrInvalidBundle, dir, err)
	}
	return &manifest, nil
}

// WriteBundleManifest writes the bundle.json marker of an artifact directory
func (m *Manager) WriteBundleManifest(dir string, manifest *domain.BundleManifest) error {
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode bundle manifest: %w", err)
	}
	_, err = m.WriteFile(filepath.Join(dir, ManifestFile), strings.NewReader(string(data)))
	return err
}

// ValidateBundle returns the manifest when dir holds a complete, playable
// artifact: bundle.json parses, names a master playlist and every media
// playlist, and all of them exist
func (m *Manager) ValidateBundle(dir string) (*domain.BundleManifest, error) {
	manifest, err := m.ReadBundleManifest(dir)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidBundle) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrInvalidBundle, dir, err)
	}

	if !manifest.IsComplete() {
		return nil, fmt.Errorf("%w: %s: manifest lists no playlists", domain.ErrInvalidBundle, dir)
	}

	required := append([]string{manifest.MasterPath}, manifest.Playlists...)
	for _, rel := range required {
		if !m.FileExists(filepath.Join(dir, filepath.FromSlash(rel))) {
			return nil, fmt.Errorf("%w: %s: missing %s", domain.ErrInvalidBundle, dir, rel)
		}
	}

	return manifest, nil
}

// FinalizeBundle moves a partial directory into its completed location.
// An older bundle for the same id is replaced.
func (m *Manager) FinalizeBundle(downloadID string) (string, error) {
	partial := m.PartialPath(downloadID)
	bundle := m.BundlePath(downloadID)

	if !m.FileExists(partial) {
		return "", fmt.Errorf("partial artifact for %s: %w", downloadID, domain.ErrNotFound)
	}
	if err := os.RemoveAll(bundle); err != nil {
		return "", fmt.Errorf("failed to replace bundle: %w", err)
	}
	if err := os.Rename(partial, bundle); err != nil {
		return "", fmt.Errorf("failed to finalize bundle: %w", err)
	}
	return bundle, nil
}

// ListBundles returns the directories of all completed artifacts
func (m *Manager) ListBundles() ([]string, error) {
	entries, err := os.ReadDir(m.rootDir)
	if err != nil {
		return nil, err
	}

	var bundles []string
	for _, e := range entries {
		if e.IsDir() && strings.HasSuffix(e.Name(), BundleSuffix) {
			bundles = append(bundles, filepath.Join(m.rootDir, e.Name()))
		}
	}
	return bundles, nil
}

// ListPartials returns all partial artifact directories. DownloadID is
// empty when the directory carries no readable manifest.
func (m *Manager) ListPartials() ([]port.PartialInfo, error) {
	entries, err := os.ReadDir(m.rootDir)
	if err != nil {
		return nil, err
	}

	var partials []port.PartialInfo
	for _, e := range entries {
		if !e.IsDir() || !strings.HasSuffix(e.Name(), PartialSuffix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}

		dir := filepath.Join(m.rootDir, e.Name())
		p := port.PartialInfo{Path: dir, ModTime: info.ModTime()}
		if manifest, err := m.ReadBundleManifest(dir); err == nil {
			p.DownloadID = manifest.DownloadID
		}
		if latest, err := latestModTime(dir); err == nil && latest.After(p.ModTime) {
			p.ModTime = latest
		}
		partials = append(partials, p)
	}
	return partials, nil
}

// CleanOldPartials removes partial directories older than the specified
// duration, skipping ids for which keep returns true
func (m *Manager) CleanOldPartials(olderThan time.Duration, keep func(downloadID string) bool) (int, error) {
	partials, err := m.ListPartials()
	if err != nil {
		return 0, err
	}

	count := 0
	threshold := time.Now().Add(-olderThan)
	for _, p := range partials {
		if !p.ModTime.Before(threshold) {
			continue
		}
		if p.DownloadID != "" && keep != nil && keep(p.DownloadID) {
			continue
		}
		if err := os.RemoveAll(p.Path); err == nil {
			count++
		}
	}
	return count, nil
}

// CleanTempFiles removes leftover temp files from interrupted writes
func (m *Manager) CleanTempFiles() (int, error) {
	count := 0
	err := filepath.Walk(m.rootDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == tempSuffix {
			if removeErr := os.Remove(path); removeErr == nil {
				count++
			}
		}
		return nil
	})
	return count, err
}

// safeName maps a download id to a directory name. Ids that need escaping
// get a hash suffix so distinct ids never share a directory.
func safeName(downloadID string) string {
	var b strings.Builder
	changed := false
	for _, r := range downloadID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
			changed = true
		}
	}

	name := b.String()
	if len(name) > maxNameLength {
		name = name[:maxNameLength]
		changed = true
	}
	if name == "" || changed {
		sum := sha1.Sum([]byte(downloadID))
		name += "-" + hex.EncodeToString(sum[:])[:12]
	}
	return name
}

func dirSize(root string) (int64, error) {
	var size int64
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return size, err
}

func latestModTime(root string) (time.Time, error) {
	var latest time.Time
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.ModTime().After(latest) {
			latest = info.ModTime()
		}
		return nil
	})
	return latest, err
}
