// Package app assembles a pipeline from configuration. Both CLIs share it.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"merchant-cohort-lab/internal/cache"
	"merchant-cohort-lab/internal/catalog"
	"merchant-cohort-lab/internal/config"
	"merchant-cohort-lab/internal/observability"
	"merchant-cohort-lab/internal/pipeline"
	"merchant-cohort-lab/internal/ranking"
	"merchant-cohort-lab/internal/storage"
	chstore "merchant-cohort-lab/internal/storage/clickhouse"
	"merchant-cohort-lab/internal/storage/file"
	"merchant-cohort-lab/internal/storage/memory"
	"merchant-cohort-lab/internal/storage/migrations"
	pgstore "merchant-cohort-lab/internal/storage/postgres"
	"merchant-cohort-lab/internal/transform"
)

// App owns the pipeline and every connection opened for it.
type App struct {
	Config   *config.Config
	Pipeline *pipeline.Pipeline
	Cache    cache.Cache // nil when caching is disabled
	Metrics  *observability.Metrics

	closers []func() error
}

// Build validates cfg and wires store, catalog, cache and ranking engine into a pipeline.
// metrics may be nil.
func Build(ctx context.Context, cfg *config.Config, log zerolog.Logger, metrics *observability.Metrics) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &App{Config: cfg, Metrics: metrics}

	store, closeStore, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, closeStore)

	var cat *catalog.Catalog
	if cfg.Source == config.SourceFixtures {
		cat, err = pipeline.LoadFixtures(ctx, store.(storage.WritableFactStore))
	} else {
		cat, err = catalog.LoadFile(cfg.MetaPath)
	}
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("load catalog: %w", err)
	}

	c, closeCache, err := OpenCache(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, closeCache)
	a.Cache = c

	engine, err := NewEngine(cfg.RankEngine)
	if err != nil {
		a.Close()
		return nil, err
	}

	p := pipeline.New(store, cat, log).
		WithSource(cfg.Source).
		WithEngine(cfg.RankEngine, engine).
		WithOptions(transform.Options{
			CohortRollup:  cfg.CohortRollup,
			SegmentRollup: cfg.SegmentRollup,
		}).
		WithMetrics(metrics)
	if c != nil {
		p = p.WithCache(c)
	}
	a.Pipeline = p

	log.Info().
		Str("source", cfg.Source).
		Str("cache", cfg.CacheBackend).
		Str("engine", cfg.RankEngine).
		Int("catalog_columns", cat.Len()).
		Msg("pipeline assembled")
	return a, nil
}

// Close releases connections in reverse order of opening.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func noopClose() error { return nil }

// OpenStore returns the fact store named by cfg.Source. Fixtures get an empty
// in-memory store; Build seeds it.
func OpenStore(ctx context.Context, cfg *config.Config) (storage.FactStore, func() error, error) {
	switch cfg.Source {
	case config.SourceFixtures:
		return memory.NewFactStore(), noopClose, nil

	case config.SourceFile:
		return file.NewFactStore(cfg.DataPath), noopClose, nil

	case config.SourcePostgres:
		pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		store, err := pgstore.NewFactStore(pool, cfg.FactTable)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		return store, func() error { pool.Close(); return nil }, nil

	case config.SourceClickhouse:
		conn, err := chstore.NewConn(ctx, cfg.ClickhouseDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connect clickhouse: %w", err)
		}
		store, err := chstore.NewFactStore(conn, cfg.FactTable)
		if err != nil {
			conn.Close()
			return nil, nil, err
		}
		return store, conn.Close, nil
	}
	return nil, nil, fmt.Errorf("%w: unknown source %q", config.ErrInvalidConfig, cfg.Source)
}

// OpenCache returns the long-form cache named by cfg.CacheBackend, nil for none.
func OpenCache(ctx context.Context, cfg *config.Config) (cache.Cache, func() error, error) {
	switch cfg.CacheBackend {
	case config.CacheNone:
		return nil, noopClose, nil
	case config.CacheMemory:
		return cache.NewMemoryCache(), noopClose, nil
	case config.CacheFile:
		return cache.NewFileCache(cfg.CachePath), noopClose, nil
	case config.CacheRedis:
		rc, err := cache.NewRedisCache(ctx, cfg.RedisURL, cfg.CacheTTL)
		if err != nil {
			return nil, nil, err
		}
		return rc, rc.Close, nil
	}
	return nil, nil, fmt.Errorf("%w: unknown cache backend %q", config.ErrInvalidConfig, cfg.CacheBackend)
}

// NewEngine returns the ranking engine by name.
func NewEngine(name string) (ranking.Engine, error) {
	switch name {
	case config.EngineMemory:
		return ranking.NewAggregator(), nil
	case config.EngineSQLite:
		return ranking.NewSQLEngine(), nil
	}
	return nil, fmt.Errorf("%w: unknown rank engine %q", config.ErrInvalidConfig, name)
}

// Seed applies the embedded migrations to the configured database and inserts
// the fixture table. It returns the number of rows written.
func Seed(ctx context.Context, cfg *config.Config) (int, error) {
	table := pipeline.FixtureTable()

	switch cfg.Source {
	case config.SourcePostgres:
		pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
		if err != nil {
			return 0, fmt.Errorf("connect postgres: %w", err)
		}
		defer pool.Close()
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			return 0, err
		}
		store, err := pgstore.NewFactStore(pool, cfg.FactTable)
		if err != nil {
			return 0, err
		}
		if err := store.InsertBulk(ctx, table); err != nil {
			return 0, err
		}

	case config.SourceClickhouse:
		conn, err := migrations.RunClickhouseMigrations(ctx, cfg.ClickhouseDSN)
		if err != nil {
			return 0, err
		}
		defer conn.Close()
		store, err := chstore.NewFactStore(conn, cfg.FactTable)
		if err != nil {
			return 0, err
		}
		if err := store.InsertBulk(ctx, table); err != nil {
			return 0, err
		}

	default:
		return 0, fmt.Errorf("%w: seed needs a database source, got %q", config.ErrInvalidConfig, cfg.Source)
	}
	return len(table.Rows), nil
}
