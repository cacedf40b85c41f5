package cdn

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/tactkit/keg/telemetry"
)

// Caching serves every read from local storage, transparently populating
// it from the remote origin on first miss. Concurrent fetches of the same
// path by independent processes race benignly: the last atomic rename
// wins and no reader ever observes a partial file.
type Caching struct {
	*CDN

	local  *Local
	remote *Remote
	logger *slog.Logger
}

// NewCaching creates a caching CDN over the descriptor's origin, backed
// by baseDir. The cache root is created if absent. Options are forwarded
// to the remote variant.
func NewCaching(d Descriptor, baseDir string, opts ...RemoteOption) (*Caching, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache root: %w", err)
	}

	remote, err := NewRemote(d, opts...)
	if err != nil {
		return nil, err
	}

	c := &Caching{
		local:  NewLocal(baseDir),
		remote: remote,
		logger: remote.logger,
	}
	c.CDN = New(c)
	return c, nil
}

// GetItem returns the item from local storage, fetching and publishing it
// first if absent. Both the hit and the miss path read from local storage,
// so callers always take the "already cached" code path.
func (c *Caching) GetItem(ctx context.Context, path string) (io.ReadCloser, error) {
	if !c.local.Exists(path) {
		telemetry.RecordCacheEvent(ctx, itemCategory(path), false)

		body, err := c.remote.GetItem(ctx, path)
		if err != nil {
			return nil, err
		}

		w, err := NewCacheWriter(body, c.local.FullPath(path))
		if err != nil {
			_ = body.Close()
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("caching %s: %w", path, err)
		}

		c.logger.Debug("cached item", "path", path)
	} else {
		telemetry.RecordCacheEvent(ctx, itemCategory(path), true)
	}

	return c.local.GetItem(ctx, path)
}

// HasConfig reports whether the config blob for key is cached locally.
// No network I/O is performed.
func (c *Caching) HasConfig(key string) bool {
	return c.local.Exists(configItemPath(key))
}

// HasData reports whether the data blob for key is cached locally.
func (c *Caching) HasData(key string) bool {
	return c.local.Exists(dataItemPath(key))
}

// HasIndex reports whether the archive index for key is cached locally.
func (c *Caching) HasIndex(key string) bool {
	return c.local.Exists(indexItemPath(key))
}

// itemCategory maps an item path to its metric category.
func itemCategory(path string) string {
	switch {
	case len(path) > 8 && path[:8] == "/config/":
		return "config"
	case len(path) > 6 && path[len(path)-6:] == ".index":
		return "index"
	default:
		return "data"
	}
}

var _ ItemGetter = (*Caching)(nil)
