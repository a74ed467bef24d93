package clickhouse

import (
	"context"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"

	"merchant-cohort-lab/internal/domain"
	"merchant-cohort-lab/internal/storage"
)

// DefaultTable is the fact table created by the embedded migrations.
const DefaultTable = "merchant_cohorts"

// FactStore implements storage.WritableFactStore using ClickHouse.
// Reads use FINAL so ReplacingMergeTree duplicates never surface.
type FactStore struct {
	conn  *Conn
	table string
}

// NewFactStore creates a new FactStore reading table.
func NewFactStore(conn *Conn, table string) (*FactStore, error) {
	if table == "" {
		table = DefaultTable
	}
	if err := storage.ValidateIdentifier(table); err != nil {
		return nil, err
	}
	return &FactStore{conn: conn, table: table}, nil
}

// Compile-time interface check.
var _ storage.WritableFactStore = (*FactStore)(nil)

// Load reads every row ordered by (date, cohort, segment). NULL metrics become NaN.
func (s *FactStore) Load(ctx context.Context) (*domain.WideTable, error) {
	query := fmt.Sprintf(`SELECT * FROM %s FINAL ORDER BY date, cohort, segment`, s.table)

	rows, err := s.conn.Query(ctx, query)
	if err != nil {
		if isUnknownTableError(err) {
			return nil, fmt.Errorf("%w: table %s", storage.ErrNotFound, s.table)
		}
		return nil, fmt.Errorf("load fact table: %w", err)
	}
	defer rows.Close()

	types := rows.ColumnTypes()
	t := &domain.WideTable{}
	for _, ct := range types {
		if !isDimension(ct.Name()) {
			t.Columns = append(t.Columns, ct.Name())
		}
	}

	for rows.Next() {
		dest := make([]any, len(types))
		for i, ct := range types {
			dest[i] = reflect.New(ct.ScanType()).Interface()
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan fact row: %w", err)
		}

		row := domain.WideRow{Values: make(map[string]float64, len(t.Columns))}
		for i, ct := range types {
			v := reflect.ValueOf(dest[i]).Elem().Interface()
			switch ct.Name() {
			case domain.ColumnDate:
				row.Date, err = toTime(v)
			case domain.ColumnCohort:
				row.Cohort, err = toTime(v)
			case domain.ColumnSegment:
				row.Segment, _ = v.(string)
			case domain.ColumnMonthsSinceRegister:
			default:
				row.Values[ct.Name()], err = toFloat(v)
			}
			if err != nil {
				return nil, fmt.Errorf("column %s: %w", ct.Name(), err)
			}
		}
		t.Rows = append(t.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fact rows: %w", err)
	}
	return t, nil
}

// Columns returns the metric columns in table order.
func (s *FactStore) Columns(ctx context.Context) ([]string, error) {
	query := `
		SELECT name
		FROM system.columns
		WHERE database = currentDatabase() AND table = ?
		ORDER BY position
	`

	rows, err := s.conn.Query(ctx, query, s.table)
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

// Stats hashes the table server-side; XOR of row hashes ignores row order.
func (s *FactStore) Stats(ctx context.Context) (domain.TableStats, error) {
	cols, err := s.Columns(ctx)
	if err != nil {
		return domain.TableStats{}, err
	}

	query := fmt.Sprintf(`
		SELECT count(), max(date), toString(groupBitXor(cityHash64(*)))
		FROM %s FINAL
	`, s.table)

	var (
		count   uint64
		maxDate time.Time
		hash    string
	)
	if err := s.conn.QueryRow(ctx, query).Scan(&count, &maxDate, &hash); err != nil {
		return domain.TableStats{}, fmt.Errorf("fact table stats: %w", err)
	}

	stats := domain.TableStats{
		RowCount:    int(count),
		Columns:     cols,
		ContentHash: hash,
	}
	// max() over an empty table is the Date epoch.
	if count > 0 {
		stats.MaxDate = maxDate.UTC()
	}
	return stats, nil
}

// InsertBulk sends all rows in one batch. Returns ErrDuplicateKey if any
// (date, cohort, segment) already exists.
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

	// ReplacingMergeTree does not reject duplicates, so check first.
	existing, err := s.keys(ctx)
	if err != nil {
		return err
	}
	for _, r := range t.Rows {
		if _, ok := existing[rowKey(r.Date, r.Cohort, r.Segment)]; ok {
			return storage.ErrDuplicateKey
		}
	}

	columns := append([]string{domain.ColumnDate, domain.ColumnCohort, domain.ColumnSegment}, t.Columns...)
	batch, err := s.conn.PrepareBatch(ctx,
		fmt.Sprintf("INSERT INTO %s (%s)", s.table, strings.Join(columns, ", ")))
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, r := range t.Rows {
		values := make([]any, 0, len(columns))
		values = append(values, r.Date, r.Cohort, r.Segment)
		for _, c := range t.Columns {
			values = append(values, nullable(r.Value(c)))
		}
		if err := batch.Append(values...); err != nil {
			return fmt.Errorf("append fact row: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

func (s *FactStore) keys(ctx context.Context) (map[string]struct{}, error) {
	query := fmt.Sprintf(`SELECT date, cohort, segment FROM %s FINAL`, s.table)

	rows, err := s.conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("read existing keys: %w", err)
	}
	defer rows.Close()

	keys := make(map[string]struct{})
	for rows.Next() {
		var (
			date, cohort time.Time
			segment      string
		)
		if err := rows.Scan(&date, &cohort, &segment); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		keys[rowKey(date, cohort, segment)] = struct{}{}
	}
	return keys, rows.Err()
}

func rowKey(date, cohort time.Time, segment string) string {
	return date.Format("2006-01-02") + "|" + cohort.Format("2006-01-02") + "|" + segment
}

func isDimension(name string) bool {
	switch strings.ToLower(name) {
	case domain.ColumnDate, domain.ColumnCohort, domain.ColumnSegment, domain.ColumnMonthsSinceRegister:
		return true
	}
	return false
}

// chErrUnknownTable is the UNKNOWN_TABLE server error code.
const chErrUnknownTable = 60

func isUnknownTableError(err error) bool {
	var ex *clickhouse.Exception
	if errors.As(err, &ex) {
		return ex.Code == chErrUnknownTable
	}
	return false
}

func toTime(v any) (time.Time, error) {
	switch x := v.(type) {
	case time.Time:
		return x.UTC(), nil
	case *time.Time:
		if x == nil {
			return time.Time{}, fmt.Errorf("%w: null date", storage.ErrInvalidInput)
		}
		return x.UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("%w: unexpected date type %T", storage.ErrInvalidInput, v)
	}
}

func toFloat(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case *float64:
		if x == nil {
			return math.NaN(), nil
		}
		return *x, nil
	case float32:
		return float64(x), nil
	case *float32:
		if x == nil {
			return math.NaN(), nil
		}
		return float64(*x), nil
	default:
		return 0, fmt.Errorf("%w: unexpected metric type %T", storage.ErrInvalidInput, v)
	}
}

func nullable(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
