package local

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"grocery-backend/internal/shared/storage/object"
)

// Store implements object.Store using the local filesystem. Buckets map to
// directories under baseDir.
type Store struct {
	baseDir string
}

// New creates a new local object store rooted at baseDir.
func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

// Save writes the reader to disk under <baseDir>/<bucket>/<key>.
func (s *Store) Save(ctx context.Context, loc object.Locator, contentType string, r io.Reader) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	_ = contentType

	fullPath, err := s.resolve(loc)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return 0, fmt.Errorf("mkdir: %w", err)
	}

	f, err := os.OpenFile(fullPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	written, err := io.Copy(f, r)
	if err != nil {
		return 0, fmt.Errorf("write body: %w", err)
	}
	return written, nil
}

// Open reads a stored object.
func (s *Store) Open(ctx context.Context, loc object.Locator) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fullPath, err := s.resolve(loc)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(fullPath)
	if err != nil {
		return nil, fmt.Errorf("open object bucket=%s key=%s: %w", loc.Bucket, loc.Key, err)
	}
	return f, nil
}

func (s *Store) resolve(loc object.Locator) (string, error) {
	if strings.TrimSpace(loc.Bucket) == "" || strings.TrimSpace(loc.Key) == "" {
		return "", fmt.Errorf("object locator requires bucket and key")
	}
	cleaned := filepath.Clean(filepath.Join(loc.Bucket, loc.Key))
	if strings.HasPrefix(cleaned, "..") {
		return "", fmt.Errorf("object key escapes store root: %s", loc.Key)
	}
	return filepath.Join(s.baseDir, cleaned), nil
}

var _ object.Store = (*Store)(nil)
