package cdn

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// CacheWriter tees an upstream byte stream into a temporary file and
// atomically publishes it to its destination on Close. Reads pass through
// to the caller, so memory use is bounded by one read chunk regardless of
// blob size. The destination path only ever exists fully written; an
// interrupted transfer leaves a stray temp file and no destination.
type CacheWriter struct {
	upstream io.ReadCloser
	tmp      *os.File
	tmpPath  string
	dstPath  string
	closed   bool
	teeErr   error
}

// NewCacheWriter creates a writer publishing to dst. The destination's
// parent directory is created if absent.
func NewCacheWriter(upstream io.ReadCloser, dst string) (*CacheWriter, error) {
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(dst)+".tmp-*")
	if err != nil {
		return nil, fmt.Errorf("creating temp file: %w", err)
	}

	return &CacheWriter{
		upstream: upstream,
		tmp:      tmp,
		tmpPath:  tmp.Name(),
		dstPath:  dst,
	}, nil
}

// Read pulls from the upstream stream and appends any returned bytes to
// the temp file before handing them to the caller. A failed tee write is
// remembered so a later Close cannot publish the incomplete file.
func (w *CacheWriter) Read(p []byte) (int, error) {
	n, err := w.upstream.Read(p)
	if n > 0 {
		if _, werr := w.tmp.Write(p[:n]); werr != nil {
			w.teeErr = fmt.Errorf("writing cache file: %w", werr)
			return n, w.teeErr
		}
	}
	return n, err
}

// Close drains the remaining upstream bytes into the temp file, publishes
// it at the destination with an atomic rename, then closes the upstream
// stream. Safe to call more than once. On failure before the rename the
// temp file is left behind and the destination is untouched; the next
// fetch starts clean.
func (w *CacheWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	if w.teeErr != nil {
		_ = w.tmp.Close()
		_ = w.upstream.Close()
		return w.teeErr
	}

	if _, err := io.Copy(w.tmp, w.upstream); err != nil {
		_ = w.tmp.Close()
		_ = w.upstream.Close()
		return fmt.Errorf("draining upstream: %w", err)
	}

	if err := w.tmp.Sync(); err != nil {
		_ = w.tmp.Close()
		_ = w.upstream.Close()
		return fmt.Errorf("syncing cache file: %w", err)
	}

	if err := w.tmp.Close(); err != nil {
		_ = w.upstream.Close()
		return fmt.Errorf("closing cache file: %w", err)
	}

	if err := os.Rename(w.tmpPath, w.dstPath); err != nil {
		_ = w.upstream.Close()
		return fmt.Errorf("publishing cache file: %w", err)
	}

	return w.upstream.Close()
}

var _ io.ReadCloser = (*CacheWriter)(nil)
