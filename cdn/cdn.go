// Package cdn provides access to the content-addressed storage of an
// NGDP-style patch distribution network. Three variants share one
// capability, GetItem: Remote fetches from an HTTP origin, Local reads a
// directory, and Caching composes the two so every read is served from
// disk after at most one remote fetch.
package cdn

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/tactkit/keg/archive"
	"github.com/tactkit/keg/blizini"
	"github.com/tactkit/keg/blte"
)

var (
	// ErrNotFound is returned when an item does not exist in local storage
	// or at the remote origin.
	ErrNotFound = errors.New("item not found")

	// ErrNotImplemented is returned when the derived operations are used
	// without an item getter. Hitting it is a programming error.
	ErrNotImplemented = errors.New("get item not implemented")
)

// ItemGetter is the single capability a CDN variant must provide: a
// streaming read of the item at a CDN-relative path (e.g. "/config/ab/cd/...").
// The caller must close the returned ReadCloser.
type ItemGetter interface {
	GetItem(ctx context.Context, path string) (io.ReadCloser, error)
}

// CDN layers the derived fetch and decode operations over an ItemGetter.
// All of them are built solely on GetItem; none of them cache.
type CDN struct {
	items ItemGetter
}

// New creates a CDN over the given item getter. A nil getter yields a CDN
// whose operations all fail with ErrNotImplemented.
func New(items ItemGetter) *CDN {
	return &CDN{items: items}
}

// GetItem dispatches to the underlying variant.
func (c *CDN) GetItem(ctx context.Context, path string) (io.ReadCloser, error) {
	if c.items == nil {
		return nil, ErrNotImplemented
	}
	return c.items.GetItem(ctx, path)
}

// fetchAll reads the entire item at path.
func (c *CDN) fetchAll(ctx context.Context, path string) ([]byte, error) {
	rc, err := c.GetItem(ctx, path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return data, nil
}

// FetchConfig reads the raw config blob for a content key.
func (c *CDN) FetchConfig(ctx context.Context, key string) ([]byte, error) {
	return c.fetchAll(ctx, configItemPath(key))
}

// FetchIndex reads the raw archive index blob for a content key.
func (c *CDN) FetchIndex(ctx context.Context, key string) ([]byte, error) {
	return c.fetchAll(ctx, indexItemPath(key))
}

// LoadConfig fetches and decodes a config blob into its key/value form.
func (c *CDN) LoadConfig(ctx context.Context, key string) (map[string]string, error) {
	data, err := c.FetchConfig(ctx, key)
	if err != nil {
		return nil, err
	}
	return blizini.Load(string(data)), nil
}

// GetBuildConfig fetches a config blob and views it as a build config.
func (c *CDN) GetBuildConfig(ctx context.Context, key string) (*blizini.BuildConfig, error) {
	values, err := c.LoadConfig(ctx, key)
	if err != nil {
		return nil, err
	}
	return blizini.NewBuildConfig(values), nil
}

// GetCDNConfig fetches a config blob and views it as a CDN config.
func (c *CDN) GetCDNConfig(ctx context.Context, key string) (*blizini.CDNConfig, error) {
	values, err := c.LoadConfig(ctx, key)
	if err != nil {
		return nil, err
	}
	return blizini.NewCDNConfig(values), nil
}

// GetPatchConfig fetches a config blob and views it as a patch config.
func (c *CDN) GetPatchConfig(ctx context.Context, key string) (*blizini.PatchConfig, error) {
	values, err := c.LoadConfig(ctx, key)
	if err != nil {
		return nil, err
	}
	return blizini.NewPatchConfig(values), nil
}

// GetIndex fetches and parses the archive index for a content key.
func (c *CDN) GetIndex(ctx context.Context, key string, verify bool) (*archive.Index, error) {
	data, err := c.FetchIndex(ctx, key)
	if err != nil {
		return nil, err
	}
	return archive.ParseIndex(data, key, verify)
}

// DownloadBLTEData streams the data blob for a content key through the
// BLTE block decoder and returns the concatenated decoded blocks.
func (c *CDN) DownloadBLTEData(ctx context.Context, key string, verify bool) ([]byte, error) {
	rc, err := c.GetItem(ctx, dataItemPath(key))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()

	data, err := blte.Decode(rc, key, verify)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", key, err)
	}
	return data, nil
}

// DownloadData returns the raw data stream for a content key without
// decoding. The caller must close it.
func (c *CDN) DownloadData(ctx context.Context, key string) (io.ReadCloser, error) {
	return c.GetItem(ctx, dataItemPath(key))
}
