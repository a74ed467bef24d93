package cache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"merchant-cohort-lab/internal/domain"
)

// FileCache keeps the newest table in a single zstd-compressed gob file.
// There is no locking; concurrent writers race and the last rename wins.
type FileCache struct {
	path  string
	clock func() time.Time
}

// NewFileCache creates a cache backed by path.
func NewFileCache(path string) *FileCache {
	return &FileCache{path: path, clock: time.Now}
}

var _ Cache = (*FileCache)(nil)

// Path returns the artifact location.
func (c *FileCache) Path() string {
	return c.path
}

// Get returns ErrMiss when the file is absent, unreadable or written for another key.
func (c *FileCache) Get(_ context.Context, key string) ([]domain.LongRow, error) {
	env, _, err := c.read()
	if err != nil {
		return nil, err
	}
	if env.Key != key {
		return nil, ErrMiss
	}
	return env.Rows, nil
}

// Put replaces the artifact atomically via rename.
func (c *FileCache) Put(_ context.Context, key string, rows []domain.LongRow) error {
	data, err := encode(envelope{Key: key, WrittenAt: c.clock().UTC(), Rows: rows})
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(c.path), ".longform-*")
	if err != nil {
		return fmt.Errorf("create temp cache file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close cache file: %w", err)
	}
	if err := os.Rename(tmp.Name(), c.path); err != nil {
		return fmt.Errorf("replace cache file: %w", err)
	}
	return nil
}

// Inspect describes the current artifact.
func (c *FileCache) Inspect(_ context.Context) (Entry, error) {
	env, size, err := c.read()
	if err != nil {
		return Entry{}, err
	}
	return Entry{Key: env.Key, Rows: len(env.Rows), Bytes: size, WrittenAt: env.WrittenAt}, nil
}

// Clear deletes the artifact. A missing file is not an error.
func (c *FileCache) Clear(_ context.Context) error {
	if err := os.Remove(c.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove cache file: %w", err)
	}
	return nil
}

func (c *FileCache) read() (envelope, int, error) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return envelope{}, 0, ErrMiss
		}
		return envelope{}, 0, fmt.Errorf("read cache file: %w", err)
	}
	env, err := decode(data)
	if err != nil {
		// A truncated or foreign file is recomputed, not fatal.
		return envelope{}, 0, fmt.Errorf("%w: %v", ErrMiss, err)
	}
	return env, len(data), nil
}
