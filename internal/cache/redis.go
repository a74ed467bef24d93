package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"merchant-cohort-lab/internal/domain"
)

const (
	keyNamespace = "cohortlab"
	keyPrefix    = keyNamespace + ":longform:"
	latestKey    = keyPrefix + "latest"
)

type cmdable interface {
	Ping(context.Context) *redis.StatusCmd
	Get(context.Context, string) *redis.StringCmd
	Set(context.Context, string, any, time.Duration) *redis.StatusCmd
	Del(context.Context, ...string) *redis.IntCmd
}

// RedisCache shares the long-form table between processes.
type RedisCache struct {
	store cmdable
	raw   *redis.Client
	ttl   time.Duration
	clock func() time.Time
}

// NewRedisCache connects to url and verifies connectivity. A zero ttl keeps entries forever.
func NewRedisCache(ctx context.Context, url string, ttl time.Duration) (*RedisCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	raw := redis.NewClient(opts)
	if err := raw.Ping(ctx).Err(); err != nil {
		raw.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisCache{store: raw, raw: raw, ttl: ttl, clock: time.Now}, nil
}

var _ Cache = (*RedisCache)(nil)

// EntryKey returns the redis key holding the table for key.
func EntryKey(key string) string {
	return keyPrefix + key
}

// Get returns ErrMiss when the key is absent.
func (c *RedisCache) Get(ctx context.Context, key string) ([]domain.LongRow, error) {
	data, err := c.store.Get(ctx, EntryKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrMiss
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}
	env, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMiss, err)
	}
	return env.Rows, nil
}

// Put stores the table and records it as the newest entry.
func (c *RedisCache) Put(ctx context.Context, key string, rows []domain.LongRow) error {
	data, err := encode(envelope{Key: key, WrittenAt: c.clock().UTC(), Rows: rows})
	if err != nil {
		return err
	}
	if err := c.store.Set(ctx, EntryKey(key), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	if err := c.store.Set(ctx, latestKey, key, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set latest: %w", err)
	}
	return nil
}

// Inspect describes the newest entry.
func (c *RedisCache) Inspect(ctx context.Context) (Entry, error) {
	key, err := c.store.Get(ctx, latestKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Entry{}, ErrMiss
		}
		return Entry{}, fmt.Errorf("redis get latest: %w", err)
	}
	data, err := c.store.Get(ctx, EntryKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Entry{}, ErrMiss
		}
		return Entry{}, fmt.Errorf("redis get: %w", err)
	}
	env, err := decode(data)
	if err != nil {
		return Entry{}, fmt.Errorf("%w: %v", ErrMiss, err)
	}
	return Entry{Key: env.Key, Rows: len(env.Rows), Bytes: len(data), WrittenAt: env.WrittenAt}, nil
}

// Clear removes the newest entry and its pointer.
func (c *RedisCache) Clear(ctx context.Context) error {
	keys := []string{latestKey}
	key, err := c.store.Get(ctx, latestKey).Result()
	switch {
	case err == nil:
		keys = append(keys, EntryKey(key))
	case !errors.Is(err, redis.Nil):
		return fmt.Errorf("redis get latest: %w", err)
	}
	if err := c.store.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Ping checks connectivity.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.store.Ping(ctx).Err()
}

// Close releases the connection pool.
func (c *RedisCache) Close() error {
	if c.raw == nil {
		return nil
	}
	return c.raw.Close()
}
