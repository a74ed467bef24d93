package postgres

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"merchant-cohort-lab/internal/domain"
	"merchant-cohort-lab/internal/storage"
)

// DefaultTable is the fact table created by the embedded migrations.
const DefaultTable = "merchant_cohorts"

// FactStore implements storage.WritableFactStore using PostgreSQL.
// Metric columns are discovered from the table, so adding a metric is a
// schema change plus a catalog entry.
type FactStore struct {
	pool  *Pool
	table string
}

// NewFactStore creates a new FactStore reading table.
func NewFactStore(pool *Pool, table string) (*FactStore, error) {
	if table == "" {
		table = DefaultTable
	}
	if err := storage.ValidateIdentifier(table); err != nil {
		return nil, err
	}
	return &FactStore{pool: pool, table: table}, nil
}

// Compile-time interface check.
var _ storage.WritableFactStore = (*FactStore)(nil)

func (s *FactStore) ident() string {
	return pgx.Identifier{s.table}.Sanitize()
}

// Load reads every row ordered by (date, cohort, segment). NULL metrics become NaN.
func (s *FactStore) Load(ctx context.Context) (*domain.WideTable, error) {
	query := fmt.Sprintf(`SELECT * FROM %s ORDER BY date, cohort, segment`, s.ident())

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, translateError(err, "load fact table", s.table)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	names := make([]string, len(fields))
	t := &domain.WideTable{}
	for i, f := range fields {
		names[i] = f.Name
		if !isDimension(f.Name) {
			t.Columns = append(t.Columns, f.Name)
		}
	}

	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("read fact row: %w", err)
		}
		row := domain.WideRow{Values: make(map[string]float64, len(t.Columns))}
		for i, v := range values {
			switch names[i] {
			case domain.ColumnDate:
				row.Date, err = toTime(v)
			case domain.ColumnCohort:
				row.Cohort, err = toTime(v)
			case domain.ColumnSegment:
				row.Segment, _ = v.(string)
			case domain.ColumnMonthsSinceRegister:
			default:
				row.Values[names[i]], err = toFloat(v)
			}
			if err != nil {
				return nil, fmt.Errorf("column %s: %w", names[i], err)
			}
		}
		t.Rows = append(t.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fact rows: %w", err)
	}
	return t, nil
}

// Columns returns the metric columns in ordinal order.
func (s *FactStore) Columns(ctx context.Context) ([]string, error) {
	query := `
		SELECT column_name
		FROM information_schema.columns
		WHERE table_schema = current_schema() AND table_name = $1
		ORDER BY ordinal_position
	`

	rows, err := s.pool.Query(ctx, query, s.table)
	if err != nil {
		return nil, fmt.Errorf("list columns: %w", err)
	}
	defer rows.Close()

	var cols []string
	found := false
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan column name: %w", err)
		}
		found = true
		if !isDimension(name) {
			cols = append(cols, name)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate columns: %w", err)
	}
	if !found {
		return nil, fmt.Errorf("%w: table %s", storage.ErrNotFound, s.table)
	}
	return cols, nil
}

// Stats hashes the table server-side; row order does not affect the hash.
func (s *FactStore) Stats(ctx context.Context) (domain.TableStats, error) {
	cols, err := s.Columns(ctx)
	if err != nil {
		return domain.TableStats{}, err
	}

	query := fmt.Sprintf(`
		SELECT count(*), max(date), md5(coalesce(string_agg(t::text, '|' ORDER BY t::text), ''))
		FROM %s t
	`, s.ident())

	var (
		count   int64
		maxDate *time.Time
		hash    string
	)
	if err := s.pool.QueryRow(ctx, query).Scan(&count, &maxDate, &hash); err != nil {
		return domain.TableStats{}, translateError(err, "fact table stats", s.table)
	}

	stats := domain.TableStats{
		RowCount:    int(count),
		Columns:     cols,
		ContentHash: hash[:16],
	}
	if maxDate != nil {
		stats.MaxDate = maxDate.UTC()
	}
	return stats, nil
}

// InsertBulk copies all rows in one transaction. Returns ErrDuplicateKey if
// any (date, cohort, segment) already exists.
func (s *FactStore) InsertBulk(ctx context.Context, t *domain.WideTable) error {
	if t == nil {
		return storage.ErrInvalidInput
	}
	if err := t.Validate(); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}
	if len(t.Rows) == 0 {
		return nil
	}
	for _, c := range t.Columns {
		if err := storage.ValidateIdentifier(c); err != nil {
			return err
		}
	}

	columns := append([]string{domain.ColumnDate, domain.ColumnCohort, domain.ColumnSegment}, t.Columns...)
	data := make([][]any, 0, len(t.Rows))
	for _, r := range t.Rows {
		values := make([]any, 0, len(columns))
		values = append(values, r.Date, r.Cohort, r.Segment)
		for _, c := range t.Columns {
			values = append(values, nullable(r.Value(c)))
		}
		data = append(data, values)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.CopyFrom(ctx, pgx.Identifier{s.table}, columns, pgx.CopyFromRows(data)); err != nil {
		return translateError(err, "copy fact rows", s.table)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func isDimension(name string) bool {
	switch strings.ToLower(name) {
	case domain.ColumnDate, domain.ColumnCohort, domain.ColumnSegment, domain.ColumnMonthsSinceRegister:
		return true
	}
	return false
}

func toTime(v any) (time.Time, error) {
	switch x := v.(type) {
	case time.Time:
		return x.UTC(), nil
	case pgtype.Date:
		if !x.Valid {
			return time.Time{}, fmt.Errorf("%w: null date", storage.ErrInvalidInput)
		}
		return x.Time.UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("%w: unexpected date type %T", storage.ErrInvalidInput, v)
	}
}

func toFloat(v any) (float64, error) {
	switch x := v.(type) {
	case nil:
		return math.NaN(), nil
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case int32:
		return float64(x), nil
	case int16:
		return float64(x), nil
	case pgtype.Numeric:
		f, err := x.Float64Value()
		if err != nil {
			return 0, err
		}
		if !f.Valid {
			return math.NaN(), nil
		}
		return f.Float64, nil
	default:
		return 0, fmt.Errorf("%w: unexpected metric type %T", storage.ErrInvalidInput, v)
	}
}

func nullable(v float64) any {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return v
}
