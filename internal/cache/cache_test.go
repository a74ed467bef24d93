package cache

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"merchant-cohort-lab/internal/domain"
)

func sampleRows() []domain.LongRow {
	return []domain.LongRow{
		{Date: "2023-03", Cohort: "2023-01", Segment: "smb", MonthsSinceRegister: domain.IntPtr(1),
			Product: "acquiring", TotalAmount: 100, TotalMerchants: 10, AvgTicket: 10},
		{Date: "2023-03", Cohort: "2023-03", Segment: "smb", MonthsSinceRegister: domain.IntPtr(0),
			Product: "acquiring", TotalAmount: 40, TotalMerchants: 8, AvgTicket: 5},
		{Date: "2023-03", Cohort: domain.CohortAll, Segment: "smb",
			Product: "banking", TotalAmount: 0, TotalMerchants: 0, AvgTicket: math.NaN()},
	}
}

func fixedClock() time.Time {
	return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
}

func TestKey(t *testing.T) {
	base := Key{SourceHash: "abc", CatalogHash: "def", CohortRollup: true, SegmentRollup: true}
	assert.Equal(t, base.String(), base.String())
	assert.Len(t, base.String(), 32)

	variants := []Key{
		{SourceHash: "abd", CatalogHash: "def", CohortRollup: true, SegmentRollup: true},
		{SourceHash: "abc", CatalogHash: "deg", CohortRollup: true, SegmentRollup: true},
		{SourceHash: "abc", CatalogHash: "def", CohortRollup: false, SegmentRollup: true},
		{SourceHash: "abc", CatalogHash: "def", CohortRollup: true, SegmentRollup: false},
	}
	for _, v := range variants {
		assert.NotEqual(t, base.String(), v.String(), "%+v", v)
	}
}

func testCaches(t *testing.T) map[string]Cache {
	file := NewFileCache(filepath.Join(t.TempDir(), "cache", "long_form.zst"))
	file.clock = fixedClock
	mem := NewMemoryCache()
	mem.clock = fixedClock
	return map[string]Cache{
		"file":   file,
		"memory": mem,
		"redis":  &RedisCache{store: newMockCmdable(), clock: fixedClock},
	}
}

func TestCache_RoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, c := range testCaches(t) {
		t.Run(name, func(t *testing.T) {
			_, err := c.Get(ctx, "k1")
			assert.ErrorIs(t, err, ErrMiss)
			_, err = c.Inspect(ctx)
			assert.ErrorIs(t, err, ErrMiss)

			require.NoError(t, c.Put(ctx, "k1", sampleRows()))

			got, err := c.Get(ctx, "k1")
			require.NoError(t, err)
			if diff := cmp.Diff(sampleRows(), got, cmpopts.EquateNaNs()); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}

			entry, err := c.Inspect(ctx)
			require.NoError(t, err)
			assert.Equal(t, "k1", entry.Key)
			assert.Equal(t, len(sampleRows()), entry.Rows)
			assert.True(t, entry.WrittenAt.Equal(fixedClock()))

			require.NoError(t, c.Clear(ctx))
			_, err = c.Get(ctx, "k1")
			assert.ErrorIs(t, err, ErrMiss)
			require.NoError(t, c.Clear(ctx), "clearing twice is fine")
		})
	}
}

func TestCache_MonthsZeroIsNotRollup(t *testing.T) {
	ctx := context.Background()
	for name, c := range testCaches(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, c.Put(ctx, "k", sampleRows()))
			got, err := c.Get(ctx, "k")
			require.NoError(t, err)
			require.Len(t, got, 3)

			require.NotNil(t, got[1].MonthsSinceRegister, "month 0 must stay set")
			assert.Equal(t, 0, *got[1].MonthsSinceRegister)
			assert.Nil(t, got[2].MonthsSinceRegister, "cohort rollup has no months")
		})
	}
}

func TestCache_KeyMismatchIsMiss(t *testing.T) {
	ctx := context.Background()
	for name, c := range testCaches(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, c.Put(ctx, "old", sampleRows()))
			_, err := c.Get(ctx, "new")
			assert.ErrorIs(t, err, ErrMiss)
		})
	}
}

func TestFileCache_CorruptFileIsMiss(t *testing.T) {
	path := filepath.Join(t.TempDir(), "long_form.zst")
	require.NoError(t, os.WriteFile(path, []byte("not zstd"), 0o644))

	_, err := NewFileCache(path).Get(context.Background(), "k")
	assert.True(t, errors.Is(err, ErrMiss), "got %v", err)
}

func TestFileCache_PutReplaces(t *testing.T) {
	ctx := context.Background()
	c := NewFileCache(filepath.Join(t.TempDir(), "long_form.zst"))

	require.NoError(t, c.Put(ctx, "a", sampleRows()))
	require.NoError(t, c.Put(ctx, "b", sampleRows()[:1]))

	_, err := c.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrMiss)
	got, err := c.Get(ctx, "b")
	require.NoError(t, err)
	assert.Len(t, got, 1)

	entries, err := os.ReadDir(filepath.Dir(c.Path()))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestMemoryCache_CopiesRows(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()
	rows := sampleRows()
	require.NoError(t, c.Put(ctx, "k", rows))

	*rows[0].MonthsSinceRegister = 42
	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, 1, *got[0].MonthsSinceRegister)
}

func TestRedisCache_KeyLayout(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	c := &RedisCache{store: mock, ttl: time.Hour, clock: fixedClock}

	require.NoError(t, c.Put(ctx, "abc", sampleRows()))
	assert.Contains(t, mock.data, "cohortlab:longform:abc")
	assert.Equal(t, "abc", mock.data["cohortlab:longform:latest"])
	assert.Equal(t, time.Hour, mock.ttl["cohortlab:longform:abc"])
	require.NoError(t, c.Ping(ctx))
}

type mockCmdable struct {
	data map[string]string
	ttl  map[string]time.Duration
}

func newMockCmdable() *mockCmdable {
	return &mockCmdable{
		data: make(map[string]string),
		ttl:  make(map[string]time.Duration),
	}
}

func (m *mockCmdable) Ping(context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", nil)
}

func (m *mockCmdable) Get(_ context.Context, key string) *redis.StringCmd {
	v, ok := m.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (m *mockCmdable) Set(_ context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	switch v := value.(type) {
	case []byte:
		m.data[key] = string(v)
	default:
		m.data[key] = fmt.Sprint(v)
	}
	m.ttl[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func (m *mockCmdable) Del(_ context.Context, keys ...string) *redis.IntCmd {
	for _, key := range keys {
		delete(m.data, key)
	}
	return redis.NewIntResult(int64(len(keys)), nil)
}
