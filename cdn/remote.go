package cdn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/tactkit/keg/telemetry"
)

// ErrNoServers is returned when a descriptor carries no origin servers.
// It is a precondition violation; retrying with the same descriptor
// cannot succeed.
var ErrNoServers = errors.New("cdn descriptor has no servers")

// Descriptor identifies the candidate origin servers for one CDN region
// plus the path prefix shared by all items on those servers.
type Descriptor struct {
	Servers []string
	Path    string
}

// Remote implements the item capability over a single HTTP origin.
// It issues one streaming GET per item and never retries.
type Remote struct {
	*CDN

	server string
	path   string
	client *http.Client
	logger *slog.Logger
}

// RemoteOption configures a Remote.
type RemoteOption func(*Remote)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) RemoteOption {
	return func(r *Remote) {
		r.client = client
	}
}

// WithLogger sets the logger used for fetch logging.
func WithLogger(logger *slog.Logger) RemoteOption {
	return func(r *Remote) {
		r.logger = logger
	}
}

// NewRemote creates a Remote over the first server in the descriptor.
func NewRemote(d Descriptor, opts ...RemoteOption) (*Remote, error) {
	if len(d.Servers) == 0 {
		return nil, ErrNoServers
	}

	r := &Remote{
		server: d.Servers[0],
		path:   d.Path,
		client: &http.Client{
			Transport: telemetry.NewInstrumentedTransport(nil, "cdn"),
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.CDN = New(r)
	return r, nil
}

// GetItem issues a streaming GET for {server}/{path}{item} and returns the
// response body. Non-200 responses are rejected before the body is handed
// to any caching layer, so error pages are never published into a cache.
func (r *Remote) GetItem(ctx context.Context, path string) (io.ReadCloser, error) {
	url := r.server + "/" + r.path + path

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	r.logger.Debug("http get", "url", url)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", url, err)
	}

	if resp.StatusCode == http.StatusNotFound {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		_ = resp.Body.Close()
		return nil, fmt.Errorf("origin returned %d for %s: %s", resp.StatusCode, path, string(body))
	}

	r.logger.Debug("downloading", "url", url, "content_length", resp.ContentLength)

	return resp.Body, nil
}

var _ ItemGetter = (*Remote)(nil)
