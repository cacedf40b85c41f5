// Package keg is the top-level façade over the patch-distribution
// fetch-and-cache layer. It fetches metadata blobs and tabular responses
// from a remote endpoint, writes every response through to a disk cache,
// indexes tabular responses into a relational metadata store, and serves
// CDN-list lookups cache-first with a live fallback.
package keg

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/tactkit/keg/cdn"
	"github.com/tactkit/keg/metadb"
	"github.com/tactkit/keg/psv"
	"github.com/tactkit/keg/telemetry"
)

// CDNsPath is the tabular endpoint listing the CDN origins for a product.
const CDNsPath = "/cdns"

// Keg combines a remote metadata endpoint, a state cache directory and a
// relational metadata store.
type Keg struct {
	remote   string
	cacheDir string
	store    *metadb.Store
	client   *http.Client
	logger   *slog.Logger
}

// Option configures a Keg.
type Option func(*Keg)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(k *Keg) {
		k.client = client
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(k *Keg) {
		k.logger = logger
	}
}

// New creates a Keg for the given remote endpoint, caching responses
// under cacheDir and indexing tabular responses in store.
func New(remote, cacheDir string, store *metadb.Store, opts ...Option) *Keg {
	k := &Keg{
		remote:   strings.TrimSuffix(remote, "/"),
		cacheDir: cacheDir,
		store:    store,
		client: &http.Client{
			Transport: telemetry.NewInstrumentedTransport(nil, "meta"),
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// Remote returns the remote endpoint the Keg fetches from.
func (k *Keg) Remote() string {
	return k.remote
}

// fetch performs one GET against the remote endpoint and captures the
// response. Transport failures and non-200 statuses propagate; nothing
// is cached for them.
func (k *Keg) fetch(ctx context.Context, path string) (*Response, error) {
	url := k.remote + path

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	k.logger.Debug("http get", "url", url)

	resp, err := k.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%s: %w", path, cdn.ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("remote returned %d for %s: %s", resp.StatusCode, path, string(body))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	return newResponse(k.remote, path, body), nil
}

// GetBlob fetches the metadata blob at path and writes it through to the
// state cache.
func (k *Keg) GetBlob(ctx context.Context, path string) ([]byte, *Response, error) {
	resp, err := k.fetch(ctx, path)
	if err != nil {
		return nil, nil, err
	}
	if err := resp.WriteToCache(k.cacheDir); err != nil {
		return nil, nil, err
	}
	return resp.Body, resp, nil
}

// GetPSV fetches the tabular response at path, writes it through to the
// state cache, and indexes it: rows for (remote, digest) are replaced in
// the table named for path, the response record is updated, and the whole
// batch commits as one unit.
func (k *Keg) GetPSV(ctx context.Context, path string) (*psv.File, *Response, error) {
	resp, err := k.fetch(ctx, path)
	if err != nil {
		return nil, nil, err
	}

	file, err := psv.Parse(string(resp.Body))
	if err != nil {
		return nil, nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	if err := resp.WriteToCache(k.cacheDir); err != nil {
		return nil, nil, err
	}

	rec := metadb.Record{
		Remote:    k.remote,
		Path:      path,
		Timestamp: resp.Timestamp,
		Digest:    resp.Digest,
		Source:    metadb.SourceHTTP,
	}
	if err := k.store.IndexTabular(ctx, rec, file.Header, file.Rows); err != nil {
		return nil, nil, fmt.Errorf("indexing %s: %w", path, err)
	}

	if table, err := metadb.TableName(path); err == nil {
		telemetry.RecordTabularIndexed(ctx, table, len(file.Rows))
	}

	k.logger.Debug("indexed tabular response",
		"path", path, "digest", resp.Digest, "rows", len(file.Rows))

	return file, resp, nil
}

// GetCachedPSV reads a previously cached tabular response by (path,
// digest) from the state cache under cacheDir. No network access occurs.
func (k *Keg) GetCachedPSV(path, digest, cacheDir string) (*psv.File, error) {
	data, err := NewStateCache(cacheDir).Read(path, digest)
	if err != nil {
		return nil, err
	}
	return psv.Parse(string(data))
}

// GetCDNs fetches the CDN list live, populating cache and store as a
// side effect.
func (k *Keg) GetCDNs(ctx context.Context) ([]CDNEntry, error) {
	file, _, err := k.GetPSV(ctx, CDNsPath)
	if err != nil {
		return nil, err
	}
	return cdnEntries(file)
}

// GetCachedCDNs returns the CDN list for remote from the most recent
// cached /cdns response. When no response record exists it falls back to
// one live fetch, which populates the cache for the next call.
func (k *Keg) GetCachedCDNs(ctx context.Context, remote, cacheDir string) ([]CDNEntry, error) {
	digest, err := k.store.LatestDigest(ctx, remote, CDNsPath)
	if errors.Is(err, metadb.ErrNotFound) {
		return k.GetCDNs(ctx)
	}
	if err != nil {
		return nil, err
	}

	file, err := k.GetCachedPSV(CDNsPath, digest, cacheDir)
	if err != nil {
		return nil, err
	}
	return cdnEntries(file)
}

// CDNEntry is one row of the /cdns tabular response.
type CDNEntry struct {
	Name       string
	Path       string
	Hosts      []string
	Servers    []string
	ConfigPath string
}

// AllServers returns the candidate origin servers: the declared server
// URLs, then the plain hosts as http URLs.
func (e CDNEntry) AllServers() []string {
	servers := make([]string, 0, len(e.Servers)+len(e.Hosts))
	servers = append(servers, e.Servers...)
	for _, host := range e.Hosts {
		servers = append(servers, "http://"+host)
	}
	return servers
}

// Descriptor converts the entry into a CDN descriptor.
func (e CDNEntry) Descriptor() cdn.Descriptor {
	return cdn.Descriptor{Servers: e.AllServers(), Path: e.Path}
}

// cdnEntries builds CDN entries from a parsed /cdns response.
func cdnEntries(file *psv.File) ([]CDNEntry, error) {
	name := file.Column("name")
	path := file.Column("path")
	hosts := file.Column("hosts")
	if name < 0 || path < 0 || hosts < 0 {
		return nil, fmt.Errorf("cdns response missing required columns, have %v", file.Header)
	}
	servers := file.Column("servers")
	configPath := file.Column("configpath")

	entries := make([]CDNEntry, 0, len(file.Rows))
	for _, row := range file.Rows {
		e := CDNEntry{
			Name:  row[name],
			Path:  row[path],
			Hosts: strings.Fields(row[hosts]),
		}
		if servers >= 0 {
			e.Servers = strings.Fields(row[servers])
		}
		if configPath >= 0 {
			e.ConfigPath = row[configPath]
		}
		entries = append(entries, e)
	}
	return entries, nil
}
