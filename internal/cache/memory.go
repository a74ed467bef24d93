package cache

import (
	"context"
	"sync"
	"time"

	"merchant-cohort-lab/internal/domain"
)

// MemoryCache holds entries for the life of the process.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string][]domain.LongRow
	latest  Entry
	clock   func() time.Time
}

// NewMemoryCache creates an empty in-process cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string][]domain.LongRow), clock: time.Now}
}

var _ Cache = (*MemoryCache)(nil)

func (c *MemoryCache) Get(_ context.Context, key string) ([]domain.LongRow, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rows, ok := c.entries[key]
	if !ok {
		return nil, ErrMiss
	}
	return copyRows(rows), nil
}

func (c *MemoryCache) Put(_ context.Context, key string, rows []domain.LongRow) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = copyRows(rows)
	c.latest = Entry{Key: key, Rows: len(rows), WrittenAt: c.clock().UTC()}
	return nil
}

func (c *MemoryCache) Inspect(_ context.Context) (Entry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.latest.Key == "" {
		return Entry{}, ErrMiss
	}
	return c.latest, nil
}

func (c *MemoryCache) Clear(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string][]domain.LongRow)
	c.latest = Entry{}
	return nil
}
