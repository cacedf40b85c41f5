package cdn

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Local implements the item capability over a directory on disk.
type Local struct {
	*CDN

	baseDir string
}

// NewLocal creates a Local rooted at baseDir. The directory is not
// created; Caching owns directory creation.
func NewLocal(baseDir string) *Local {
	l := &Local{baseDir: baseDir}
	l.CDN = New(l)
	return l
}

// FullPath resolves a CDN-relative item path to a filesystem path.
func (l *Local) FullPath(path string) string {
	return filepath.Join(l.baseDir, filepath.FromSlash(strings.TrimPrefix(path, "/")))
}

// GetItem opens the file backing the item for reading.
func (l *Local) GetItem(_ context.Context, path string) (io.ReadCloser, error) {
	f, err := os.Open(l.FullPath(path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
		}
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	return f, nil
}

// Exists reports whether the item is present on disk. It performs a
// single stat and no other I/O.
func (l *Local) Exists(path string) bool {
	_, err := os.Stat(l.FullPath(path))
	return err == nil
}

var _ ItemGetter = (*Local)(nil)
