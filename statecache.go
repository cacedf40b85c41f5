package keg

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/tactkit/keg/cdn"
)

// StateCache stores fetched metadata responses on disk, addressed by
// (path, digest) with the same partitioned layout the CDN cache uses.
type StateCache struct {
	dir string
}

// NewStateCache creates a state cache rooted at dir.
func NewStateCache(dir string) StateCache {
	return StateCache{dir: dir}
}

// FilePath resolves the cache file for (path, digest).
func (c StateCache) FilePath(path, digest string) string {
	return filepath.Join(
		c.dir,
		filepath.FromSlash(strings.Trim(path, "/")),
		filepath.FromSlash(cdn.PartitionPath(digest)),
	)
}

// Write atomically publishes body at the cache location for (path, digest).
func (c StateCache) Write(path, digest string, body []byte) error {
	w, err := cdn.NewCacheWriter(io.NopCloser(bytes.NewReader(body)), c.FilePath(path, digest))
	if err != nil {
		return fmt.Errorf("caching response %s: %w", path, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("caching response %s: %w", path, err)
	}
	return nil
}

// Read returns the cached body for (path, digest).
func (c StateCache) Read(path, digest string) ([]byte, error) {
	data, err := os.ReadFile(c.FilePath(path, digest))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("response %s (%s): %w", path, digest, cdn.ErrNotFound)
		}
		return nil, fmt.Errorf("reading cached response %s: %w", path, err)
	}
	return data, nil
}

// Exists reports whether a cached body exists for (path, digest).
func (c StateCache) Exists(path, digest string) bool {
	_, err := os.Stat(c.FilePath(path, digest))
	return err == nil
}
