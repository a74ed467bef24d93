// Package pipeline orchestrates load -> derive -> unpivot -> rank and writes reports.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"merchant-cohort-lab/internal/cache"
	"merchant-cohort-lab/internal/catalog"
	"merchant-cohort-lab/internal/domain"
	"merchant-cohort-lab/internal/observability"
	"merchant-cohort-lab/internal/ranking"
	"merchant-cohort-lab/internal/reporting"
	"merchant-cohort-lab/internal/storage"
	"merchant-cohort-lab/internal/transform"
)

// GeneratorVersion is recorded in every report for reproducibility.
const GeneratorVersion = "1.0.0"

// Output file names written by Run.
const (
	ReportFile  = "REPORT.md"
	WideFile    = "wide.csv"
	LongFile    = "long_form.csv"
	RankingFile = "ranking.csv"
	XLSXFile    = "report.xlsx"
)

// Stage names used in logs and metrics.
const (
	stageLoad    = "load"
	stageDerive  = "derive"
	stageUnpivot = "unpivot"
	stageRank    = "rank"
	stageReport  = "report"
)

// Pipeline computes the derived wide table, the long-form table and the
// ranking tables for one fact store. Results are memoized in process until
// Invalidate is called; the long-form table is also kept in the cache.
//
// Returned tables are shared and must be treated as read-only.
type Pipeline struct {
	store   storage.FactStore
	catalog *catalog.Catalog
	log     zerolog.Logger

	cache      cache.Cache // optional
	engine     ranking.Engine
	engineName string
	opts       transform.Options
	clock      func() time.Time
	metrics    *observability.Metrics // optional
	source     string

	mu       sync.Mutex
	wide     *domain.WideTable
	key      cache.Key
	long     []domain.LongRow
	cacheHit bool
	rankings map[string][]domain.RankRow
	loadedAt time.Time
}

// New creates a pipeline with the in-memory ranking engine, both rollups
// enabled and no cache.
func New(store storage.FactStore, cat *catalog.Catalog, log zerolog.Logger) *Pipeline {
	return &Pipeline{
		store:      store,
		catalog:    cat,
		log:        log,
		engine:     ranking.NewAggregator(),
		engineName: "memory",
		opts:       transform.Options{CohortRollup: true, SegmentRollup: true},
		clock:      func() time.Time { return time.Now().UTC() },
		source:     "unknown",
		rankings:   make(map[string][]domain.RankRow),
	}
}

// WithCache sets the long-form cache.
func (p *Pipeline) WithCache(c cache.Cache) *Pipeline {
	p.cache = c
	return p
}

// WithEngine sets the ranking engine and the name reported for it.
func (p *Pipeline) WithEngine(name string, e ranking.Engine) *Pipeline {
	p.engineName = name
	p.engine = e
	return p
}

// WithOptions sets the unpivot rollup options.
func (p *Pipeline) WithOptions(opts transform.Options) *Pipeline {
	p.opts = opts
	return p
}

// WithClock sets a custom clock function for deterministic output.
func (p *Pipeline) WithClock(clock func() time.Time) *Pipeline {
	p.clock = clock
	return p
}

// WithMetrics enables Prometheus instrumentation.
func (p *Pipeline) WithMetrics(m *observability.Metrics) *Pipeline {
	p.metrics = m
	return p
}

// WithSource names the data source for reproducibility metadata.
func (p *Pipeline) WithSource(source string) *Pipeline {
	p.source = source
	return p
}

// Catalog returns the column catalog.
func (p *Pipeline) Catalog() *catalog.Catalog {
	return p.catalog
}

// Wide returns the derived wide table.
func (p *Pipeline) Wide(ctx context.Context) (*domain.WideTable, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.wideLocked(ctx)
}

func (p *Pipeline) wideLocked(ctx context.Context) (*domain.WideTable, error) {
	if p.wide != nil {
		return p.wide, nil
	}

	var raw *domain.WideTable
	err := p.stage(stageLoad, func() error {
		var err error
		raw, err = p.store.Load(ctx)
		if err != nil {
			return fmt.Errorf("load fact table: %w", err)
		}
		if err := raw.Validate(); err != nil {
			return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	p.metrics.RecordSourceRows(len(raw.Rows))

	sourceHash := p.sourceHash(ctx, raw)

	var derived *domain.WideTable
	err = p.stage(stageDerive, func() error {
		var err error
		derived, err = transform.Derive(raw, transform.AvgTicketPairs)
		return err
	})
	if err != nil {
		return nil, err
	}
	p.metrics.AddRows("wide", len(derived.Rows))

	p.wide = derived
	p.key = cache.Key{
		SourceHash:    sourceHash,
		CatalogHash:   p.catalog.Fingerprint(),
		CohortRollup:  p.opts.CohortRollup,
		SegmentRollup: p.opts.SegmentRollup,
	}
	p.loadedAt = p.clock()
	p.log.Info().
		Int("rows", len(derived.Rows)).
		Int("metrics", len(derived.Columns)).
		Str("source_hash", sourceHash).
		Msg("wide table ready")
	return p.wide, nil
}

// sourceHash prefers the store's own content hash and falls back to hashing the loaded rows.
func (p *Pipeline) sourceHash(ctx context.Context, raw *domain.WideTable) string {
	stats, err := p.store.Stats(ctx)
	if err != nil {
		p.log.Warn().Err(err).Msg("store stats unavailable, hashing loaded rows")
	}
	if err != nil || stats.ContentHash == "" {
		stats = storage.TableStats(raw)
	}
	return p.source + ":" + stats.ContentHash
}

// LongForm returns the unpivoted table, from the cache when its key matches.
func (p *Pipeline) LongForm(ctx context.Context) ([]domain.LongRow, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.longLocked(ctx)
}

func (p *Pipeline) longLocked(ctx context.Context) ([]domain.LongRow, error) {
	if p.long != nil {
		return p.long, nil
	}
	wide, err := p.wideLocked(ctx)
	if err != nil {
		return nil, err
	}
	key := p.key.String()

	if p.cache != nil {
		rows, err := p.cache.Get(ctx, key)
		switch {
		case err == nil:
			p.metrics.RecordCache("hit")
			p.log.Info().Str("key", key).Int("rows", len(rows)).Msg("long-form cache hit")
			p.long = rows
			p.cacheHit = true
			return p.long, nil
		case errors.Is(err, cache.ErrMiss):
			p.metrics.RecordCache("miss")
			p.log.Debug().Str("key", key).Msg("long-form cache miss")
		default:
			p.metrics.RecordCache("error")
			p.log.Warn().Err(err).Msg("long-form cache read failed, recomputing")
		}
	}

	var rows []domain.LongRow
	err = p.stage(stageUnpivot, func() error {
		var err error
		rows, err = transform.Unpivot(wide, p.catalog, p.opts)
		return err
	})
	if err != nil {
		return nil, err
	}
	p.metrics.AddRows("long_form", len(rows))

	if p.cache != nil {
		if err := p.cache.Put(ctx, key, rows); err != nil {
			p.log.Warn().Err(err).Msg("long-form cache write failed")
		}
	}
	p.long = rows
	p.cacheHit = false
	return p.long, nil
}

// Animated returns a presentation copy of the long-form table with
// non-positive values floored for log-scale plotting.
func (p *Pipeline) Animated(ctx context.Context) ([]domain.LongRow, error) {
	rows, err := p.LongForm(ctx)
	if err != nil {
		return nil, err
	}
	return transform.ForAnimation(rows), nil
}

// maxMemoizedRankings bounds the per-filter memo. Filters come from clients.
const maxMemoizedRankings = 64

// Ranking returns the ranking/share table for a filter. Non-empty results are
// memoized per filter until the memo holds maxMemoizedRankings entries.
func (p *Pipeline) Ranking(ctx context.Context, f domain.Filter) ([]domain.RankRow, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if rows, ok := p.rankings[f.Key()]; ok {
		return rows, nil
	}
	long, err := p.longLocked(ctx)
	if err != nil {
		return nil, err
	}

	var rows []domain.RankRow
	err = p.stage(stageRank, func() error {
		var err error
		rows, err = p.engine.Rank(ctx, long, f)
		return err
	})
	if err != nil {
		return nil, err
	}
	p.metrics.AddRows("ranking", len(rows))
	p.log.Debug().
		Str("cohort", f.Cohort).
		Str("segment", f.Segment).
		Int("rows", len(rows)).
		Msg("ranking computed")

	if len(rows) > 0 && len(p.rankings) < maxMemoizedRankings {
		p.rankings[f.Key()] = rows
	}
	return rows, nil
}

// Invalidate drops every memoized table and clears the cache.
func (p *Pipeline) Invalidate(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.wide = nil
	p.long = nil
	p.key = cache.Key{}
	p.cacheHit = false
	p.rankings = make(map[string][]domain.RankRow)
	p.loadedAt = time.Time{}

	if p.cache != nil {
		if err := p.cache.Clear(ctx); err != nil {
			return fmt.Errorf("clear cache: %w", err)
		}
	}
	p.log.Info().Msg("pipeline invalidated")
	return nil
}

// Status is a snapshot of the pipeline state.
type Status struct {
	Source        string    `json:"source"`
	Engine        string    `json:"engine"`
	Loaded        bool      `json:"loaded"`
	LoadedAt      time.Time `json:"loaded_at,omitempty"`
	WideRows      int       `json:"wide_rows"`
	LongRows      int       `json:"long_rows"`
	CachedFilters int       `json:"cached_filters"`
	SourceHash    string    `json:"source_hash,omitempty"`
	CacheKey      string    `json:"cache_key,omitempty"`
	CacheHit      bool      `json:"cache_hit"`
	CohortRollup  bool      `json:"cohort_rollup"`
	SegmentRollup bool      `json:"segment_rollup"`
}

// Status reports what is currently memoized without computing anything.
func (p *Pipeline) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := Status{
		Source:        p.source,
		Engine:        p.engineName,
		Loaded:        p.wide != nil,
		LoadedAt:      p.loadedAt,
		LongRows:      len(p.long),
		CachedFilters: len(p.rankings),
		CacheHit:      p.cacheHit,
		CohortRollup:  p.opts.CohortRollup,
		SegmentRollup: p.opts.SegmentRollup,
	}
	if p.wide != nil {
		s.WideRows = len(p.wide.Rows)
		s.SourceHash = p.key.SourceHash
		s.CacheKey = p.key.String()
	}
	return s
}

// Quality runs the data-quality checks over the current tables.
func (p *Pipeline) Quality(ctx context.Context) (reporting.DataQualitySection, error) {
	wide, err := p.Wide(ctx)
	if err != nil {
		return reporting.DataQualitySection{}, err
	}
	long, err := p.LongForm(ctx)
	if err != nil {
		return reporting.DataQualitySection{}, err
	}
	result := NewQualityChecker(p.catalog, p.opts).Check(wide, long)
	return convertToDataQuality(result), nil
}

// Run computes every table and writes the report files into outputDir:
// REPORT.md, wide.csv, long_form.csv, ranking.csv and report.xlsx.
func (p *Pipeline) Run(ctx context.Context, outputDir string) (*reporting.Report, error) {
	start := p.clock()

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, err
	}

	wide, err := p.Wide(ctx)
	if err != nil {
		return nil, err
	}
	long, err := p.LongForm(ctx)
	if err != nil {
		return nil, err
	}
	ranked, err := p.Ranking(ctx, domain.Filter{})
	if err != nil {
		return nil, err
	}
	quality, err := p.Quality(ctx)
	if err != nil {
		return nil, err
	}

	var report *reporting.Report
	err = p.stage(stageReport, func() error {
		report = reporting.NewGenerator().WithClock(p.clock).Generate(wide, long, ranked)
		report.Source = p.source
		report.Quality = quality
		p.populateReproducibility(report)
		return p.writeOutputs(outputDir, report, wide, long, ranked)
	})
	if err != nil {
		return nil, err
	}

	p.metrics.RecordReport(p.clock())
	p.log.Info().
		Str("output_dir", outputDir).
		Bool("quality_passed", quality.AllChecksPassed).
		Bool("cache_hit", report.Reproducibility.CacheHit).
		Dur("elapsed", p.clock().Sub(start)).
		Msg("report written")
	return report, nil
}

func (p *Pipeline) populateReproducibility(report *reporting.Report) {
	st := p.Status()
	report.Reproducibility = reporting.Reproducibility{
		GeneratorVersion: GeneratorVersion,
		CatalogHash:      p.catalog.Fingerprint(),
		SourceHash:       st.SourceHash,
		CacheKey:         st.CacheKey,
		CacheHit:         st.CacheHit,
		RankEngine:       st.Engine,
		CohortRollup:     st.CohortRollup,
		SegmentRollup:    st.SegmentRollup,
	}
}

func (p *Pipeline) writeOutputs(dir string, report *reporting.Report, wide *domain.WideTable, long []domain.LongRow, ranked []domain.RankRow) error {
	files := []struct {
		name    string
		content string
	}{
		{ReportFile, reporting.RenderMarkdown(report)},
		{WideFile, reporting.RenderWideCSV(wide)},
		{LongFile, reporting.RenderLongCSV(long)},
		{RankingFile, reporting.RenderRankingCSV(ranked)},
	}
	for _, f := range files {
		if err := os.WriteFile(filepath.Join(dir, f.name), []byte(f.content), 0644); err != nil {
			return fmt.Errorf("write %s: %w", f.name, err)
		}
	}
	if err := reporting.WriteXLSX(filepath.Join(dir, XLSXFile), wide, long, ranked); err != nil {
		return fmt.Errorf("write %s: %w", XLSXFile, err)
	}
	return nil
}

// stage times fn and records it under name.
func (p *Pipeline) stage(name string, fn func() error) error {
	start := time.Now()
	err := fn()
	elapsed := time.Since(start)
	p.metrics.ObserveStage(name, elapsed, err)
	if err != nil {
		p.log.Error().Err(err).Str("stage", name).Msg("stage failed")
		return err
	}
	p.log.Debug().Str("stage", name).Dur("elapsed", elapsed).Msg("stage done")
	return nil
}
