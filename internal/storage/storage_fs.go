package storage

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
)

const (
	ManifestName = "man_pages.json"
	cacheDir     = ".cache"
	gzipDir      = "gz"
	sourceExt    = ".rst"
)

// FSStorage publishes manpage sources and the build manifest below Root.
type FSStorage struct {
	Root string
}

func NewFSStorage(root string) *FSStorage {
	return &FSStorage{Root: root}
}

// SourcePath is the published location of a source, relative to Root.
func SourcePath(relPath string) string {
	return path.Clean(filepath.ToSlash(relPath)) + sourceExt
}

// GzipPath is the published location of the compressed source, relative to Root.
func GzipPath(relPath string) string {
	return path.Join(gzipDir, SourcePath(relPath)) + ".gz"
}

// Checksum returns the hex SHA-1 used as the cache key of a source.
func Checksum(content []byte) string {
	sum := sha1.Sum(content)
	return hex.EncodeToString(sum[:])
}

func (s *FSStorage) WriteManifest(ctx context.Context, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	return s.writeFile(ManifestName, append(data, '\n'))
}

func (s *FSStorage) ReadManifest(v any) error {
	data, err := os.ReadFile(filepath.Join(s.Root, ManifestName))
	if err != nil {
		return fmt.Errorf("read manifest: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse manifest: %w", err)
	}
	return nil
}

// WriteSource publishes a plain and a gzip copy of the source.
func (s *FSStorage) WriteSource(ctx context.Context, relPath string, content []byte) error {
	if err := s.writeFile(SourcePath(relPath), content); err != nil {
		return err
	}

	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	gw.Name = path.Base(SourcePath(relPath))
	if _, err := gw.Write(content); err != nil {
		return fmt.Errorf("gzip source: %w", err)
	}
	if err := gw.Close(); err != nil {
		return fmt.Errorf("gzip source: %w", err)
	}
	return s.writeFile(GzipPath(relPath), buf.Bytes())
}

func (s *FSStorage) CheckCache(relPath string, sum string) bool {
	data, err := os.ReadFile(s.cachePath(relPath))
	return err == nil && string(data) == sum
}

func (s *FSStorage) WriteCache(ctx context.Context, relPath string, sum string) error {
	if strings.TrimSpace(relPath) == "" {
		return fmt.Errorf("cache path required")
	}
	return s.writeFileAbsolute(s.cachePath(relPath), []byte(sum))
}

func (s *FSStorage) cachePath(relPath string) string {
	return filepath.Join(s.Root, cacheDir, filepath.FromSlash(path.Clean(relPath)))
}

func (s *FSStorage) writeFile(destPath string, content []byte) error {
	fullPath := filepath.Join(s.Root, filepath.FromSlash(destPath))
	return s.writeFileAbsolute(fullPath, content)
}

func (s *FSStorage) writeFileAbsolute(fullPath string, content []byte) error {
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	// Remove any existing file or symlink so os.WriteFile does not
	// follow a stale symlink.
	if err := os.Remove(fullPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing: %w", err)
	}
	if err := os.WriteFile(fullPath, content, 0o644); err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	return nil
}
