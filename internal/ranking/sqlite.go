package ranking

import (
	"context"
	"database/sql"
	"fmt"
	"math"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"merchant-cohort-lab/internal/domain"
)

// SQLEngine ranks with windowed SQL on a throwaway in-memory sqlite database.
// Filter values are always bound parameters.
type SQLEngine struct {
	dsn string
}

// NewSQLEngine creates a sqlite-backed ranking engine.
func NewSQLEngine() *SQLEngine {
	return &SQLEngine{dsn: ":memory:"}
}

var _ Engine = (*SQLEngine)(nil)

const createLongForm = `CREATE TABLE long_form (
	date       TEXT NOT NULL,
	cohort     TEXT NOT NULL,
	segment    TEXT NOT NULL,
	product    TEXT NOT NULL,
	avg_ticket REAL
)`

const insertLongForm = `INSERT INTO long_form (date, cohort, segment, product, avg_ticket) VALUES (?, ?, ?, ?, ?)`

// rankQuery parameters, in order:
// ALL, ALL_ACTIVE, cohort, ALL, cohort, cohort, ALL, ALL_ACTIVE, inactive, segment, segment.
const rankQuery = `
WITH base AS (
	SELECT date, segment, product, avg_ticket
	FROM long_form
	WHERE segment NOT IN (?, ?)
	  AND ((? = '' AND cohort <> ?) OR (? <> '' AND cohort = ?))
),
grouped AS (
	SELECT date, segment, product, SUM(avg_ticket) AS avg_ticket
	FROM base
	GROUP BY date, segment, product
	UNION ALL
	SELECT date, ? AS segment, product, SUM(avg_ticket) AS avg_ticket
	FROM base
	GROUP BY date, product
	UNION ALL
	SELECT date, ? AS segment, product, SUM(avg_ticket) AS avg_ticket
	FROM base
	WHERE segment <> ?
	GROUP BY date, product
),
filtered AS (
	SELECT * FROM grouped WHERE ? = '' OR segment = ?
)
SELECT
	date,
	segment,
	product,
	avg_ticket,
	avg_ticket / NULLIF(SUM(avg_ticket) OVER (PARTITION BY date, segment), 0) AS percent_avg_ticket,
	ROW_NUMBER() OVER (
		PARTITION BY date, segment
		ORDER BY avg_ticket IS NULL, avg_ticket DESC, product ASC
	) AS product_rank
FROM filtered
ORDER BY date, segment, product_rank`

// Rank loads rows into sqlite and runs the windowed aggregation.
func (e *SQLEngine) Rank(ctx context.Context, rows []domain.LongRow, f domain.Filter) ([]domain.RankRow, error) {
	db, err := sql.Open("sqlite", e.dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	defer db.Close()
	// Every connection to :memory: is a separate database.
	db.SetMaxOpenConns(1)

	if err := load(ctx, db, rows); err != nil {
		return nil, err
	}

	result, err := db.QueryContext(ctx, rankQuery,
		domain.SegmentAll, domain.SegmentAllActive,
		f.Cohort, domain.CohortAll, f.Cohort, f.Cohort,
		domain.SegmentAll, domain.SegmentAllActive, domain.SegmentInactive,
		f.Segment, f.Segment,
	)
	if err != nil {
		return nil, fmt.Errorf("rank query: %w", err)
	}
	defer result.Close()

	out := make([]domain.RankRow, 0)
	for result.Next() {
		var (
			r            domain.RankRow
			avg, percent sql.NullFloat64
		)
		if err := result.Scan(&r.Date, &r.Segment, &r.Product, &avg, &percent, &r.Rank); err != nil {
			return nil, fmt.Errorf("scan rank row: %w", err)
		}
		r.AvgTicket = fromNull(avg)
		r.PercentAvgTicket = fromNull(percent)
		out = append(out, r)
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("iterate rank rows: %w", err)
	}
	return out, nil
}

func load(ctx context.Context, db *sql.DB, rows []domain.LongRow) error {
	if _, err := db.ExecContext(ctx, createLongForm); err != nil {
		return fmt.Errorf("create long_form: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertLongForm)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, r.Date, r.Cohort, r.Segment, r.Product, toNull(r.AvgTicket)); err != nil {
			return fmt.Errorf("insert long_form row: %w", err)
		}
	}
	return tx.Commit()
}

func toNull(v float64) sql.NullFloat64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}

func fromNull(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}
