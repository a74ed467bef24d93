package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"merchant-cohort-lab/internal/cache"
	"merchant-cohort-lab/internal/config"
	"merchant-cohort-lab/internal/domain"
	"merchant-cohort-lab/internal/logging"
	"merchant-cohort-lab/internal/observability"
	"merchant-cohort-lab/internal/pipeline"
	"merchant-cohort-lab/internal/ranking"
	"merchant-cohort-lab/internal/reporting"
)

func fixturesConfig() *config.Config {
	return &config.Config{
		Source:        config.SourceFixtures,
		FactTable:     "merchant_cohorts",
		CacheBackend:  config.CacheMemory,
		RankEngine:    config.EngineMemory,
		CohortRollup:  true,
		SegmentRollup: true,
		LogFormat:     logging.FormatJSON,
	}
}

func TestBuild_Fixtures(t *testing.T) {
	ctx := context.Background()
	a, err := Build(ctx, fixturesConfig(), logging.Nop(), observability.NewMetrics("test", nil))
	require.NoError(t, err)
	defer a.Close()

	require.NotNil(t, a.Cache)
	rows, err := a.Pipeline.Ranking(ctx, domain.Filter{})
	require.NoError(t, err)
	assert.NotEmpty(t, rows)

	st := a.Pipeline.Status()
	assert.Equal(t, config.SourceFixtures, st.Source)
	assert.Equal(t, config.EngineMemory, st.Engine)
	assert.True(t, st.CohortRollup)
}

func TestBuild_NoCache(t *testing.T) {
	cfg := fixturesConfig()
	cfg.CacheBackend = config.CacheNone
	cfg.RankEngine = config.EngineSQLite

	a, err := Build(context.Background(), cfg, logging.Nop(), nil)
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.Cache)
	assert.Equal(t, config.EngineSQLite, a.Pipeline.Status().Engine)
}

func TestBuild_InvalidConfig(t *testing.T) {
	cfg := fixturesConfig()
	cfg.RankEngine = "duckdb"

	_, err := Build(context.Background(), cfg, logging.Nop(), nil)
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestBuild_MissingCatalogFile(t *testing.T) {
	cfg := fixturesConfig()
	cfg.Source = config.SourceFile
	cfg.DataPath = filepath.Join(t.TempDir(), "wide.csv")
	cfg.MetaPath = filepath.Join(t.TempDir(), "meta.json")

	_, err := Build(context.Background(), cfg, logging.Nop(), nil)
	assert.Error(t, err)
}

// A CSV export of the fixtures, read back through the file source with a file
// cache, ranks the same as the in-memory fixtures.
func TestBuild_FileSourceMatchesFixtures(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	dataPath := filepath.Join(dir, "wide.csv")
	require.NoError(t, os.WriteFile(dataPath, []byte(reporting.RenderWideCSV(pipeline.FixtureTable())), 0o644))

	metaPath := filepath.Join(dir, "meta.json")
	f, err := os.Create(metaPath)
	require.NoError(t, err)
	require.NoError(t, pipeline.WriteFixtureCatalog(f))
	require.NoError(t, f.Close())

	cfg := fixturesConfig()
	cfg.Source = config.SourceFile
	cfg.DataPath = dataPath
	cfg.MetaPath = metaPath
	cfg.CacheBackend = config.CacheFile
	cfg.CachePath = filepath.Join(dir, "cache", "long_form.bin.zst")

	fromFile, err := Build(ctx, cfg, logging.Nop(), nil)
	require.NoError(t, err)
	defer fromFile.Close()

	fixtures, err := Build(ctx, fixturesConfig(), logging.Nop(), nil)
	require.NoError(t, err)
	defer fixtures.Close()

	got, err := fromFile.Pipeline.Ranking(ctx, domain.Filter{Segment: domain.SegmentAllActive})
	require.NoError(t, err)
	want, err := fixtures.Pipeline.Ranking(ctx, domain.Filter{Segment: domain.SegmentAllActive})
	require.NoError(t, err)

	index := func(rows []domain.RankRow) map[string]float64 {
		m := make(map[string]float64, len(rows))
		for _, r := range rows {
			m[r.Date+"/"+r.Product] = r.AvgTicket
		}
		return m
	}
	opts := []cmp.Option{cmpopts.EquateNaNs(), cmpopts.EquateApprox(0, 1e-6)}
	if diff := cmp.Diff(index(want), index(got), opts...); diff != "" {
		t.Errorf("file source ranking mismatch (-want +got):\n%s", diff)
	}

	entry, err := fromFile.Cache.Inspect(ctx)
	require.NoError(t, err)
	assert.Equal(t, fromFile.Pipeline.Status().CacheKey, entry.Key)
}

func TestOpenCache(t *testing.T) {
	ctx := context.Background()
	cfg := fixturesConfig()

	cfg.CacheBackend = config.CacheFile
	cfg.CachePath = filepath.Join(t.TempDir(), "c.bin.zst")
	c, closeFn, err := OpenCache(ctx, cfg)
	require.NoError(t, err)
	assert.IsType(t, &cache.FileCache{}, c)
	assert.NoError(t, closeFn())

	cfg.CacheBackend = "memcached"
	_, _, err = OpenCache(ctx, cfg)
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestNewEngine(t *testing.T) {
	e, err := NewEngine(config.EngineSQLite)
	require.NoError(t, err)
	assert.IsType(t, &ranking.SQLEngine{}, e)

	e, err = NewEngine(config.EngineMemory)
	require.NoError(t, err)
	assert.IsType(t, &ranking.Aggregator{}, e)

	_, err = NewEngine("")
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestSeed_RequiresDatabase(t *testing.T) {
	_, err := Seed(context.Background(), fixturesConfig())
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}
