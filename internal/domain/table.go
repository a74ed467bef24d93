package domain

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"
)

// Dimension column names of the wide fact table.
const (
	ColumnDate                = "date"
	ColumnCohort              = "cohort"
	ColumnSegment             = "segment"
	ColumnMonthsSinceRegister = "months_since_register"
)

// MonthLayout is the label format used for dates and cohorts outside the wide table.
const MonthLayout = "2006-01"

// ErrInvalidRow is returned when a wide row violates a table invariant.
var ErrInvalidRow = errors.New("invalid wide row")

// WideRow is one (date, cohort, segment) observation of the wide fact table.
type WideRow struct {
	Date    time.Time // end-of-month snapshot
	Cohort  time.Time // month of first registration
	Segment string

	// MonthsSinceRegister is populated by the derived-column step.
	MonthsSinceRegister int

	// Values holds metric columns by name. NaN means missing.
	Values map[string]float64
}

// Value returns the named metric, NaN if the row does not carry it.
func (r *WideRow) Value(column string) float64 {
	v, ok := r.Values[column]
	if !ok {
		return math.NaN()
	}
	return v
}

// WideTable is the wide fact table: dimension fields plus an ordered set of metric columns.
type WideTable struct {
	Columns []string // metric columns, in source order
	Rows    []WideRow
	Derived bool // true once the derived-column step has run
}

// HasColumn reports whether the table carries the metric column.
func (t *WideTable) HasColumn(column string) bool {
	for _, c := range t.Columns {
		if c == column {
			return true
		}
	}
	return false
}

// AllColumns returns dimension columns followed by metric columns.
func (t *WideTable) AllColumns() []string {
	cols := []string{ColumnDate, ColumnCohort, ColumnSegment}
	if t.Derived {
		cols = append(cols, ColumnMonthsSinceRegister)
	}
	return append(cols, t.Columns...)
}

// Clone returns a deep copy so transforms never mutate their input.
func (t *WideTable) Clone() *WideTable {
	out := &WideTable{
		Columns: append([]string(nil), t.Columns...),
		Rows:    make([]WideRow, len(t.Rows)),
		Derived: t.Derived,
	}
	for i, r := range t.Rows {
		values := make(map[string]float64, len(r.Values))
		for k, v := range r.Values {
			values[k] = v
		}
		r.Values = values
		out.Rows[i] = r
	}
	return out
}

// Sort orders rows by (date, cohort, segment).
func (t *WideTable) Sort() {
	sort.SliceStable(t.Rows, func(i, j int) bool {
		a, b := t.Rows[i], t.Rows[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		if !a.Cohort.Equal(b.Cohort) {
			return a.Cohort.Before(b.Cohort)
		}
		return a.Segment < b.Segment
	})
}

// Validate checks the row invariants: cohort <= date, non-empty segment and
// a unique (date, cohort, segment) key.
func (t *WideTable) Validate() error {
	type key struct {
		date, cohort time.Time
		segment      string
	}
	seen := make(map[key]struct{}, len(t.Rows))
	for i, r := range t.Rows {
		if r.Segment == "" {
			return fmt.Errorf("%w: row %d has empty segment", ErrInvalidRow, i)
		}
		if r.Cohort.After(r.Date) {
			return fmt.Errorf("%w: row %d cohort %s after date %s",
				ErrInvalidRow, i, r.Cohort.Format(MonthLayout), r.Date.Format(MonthLayout))
		}
		k := key{date: r.Date, cohort: r.Cohort, segment: r.Segment}
		if _, dup := seen[k]; dup {
			return fmt.Errorf("%w: duplicate row for date=%s cohort=%s segment=%s",
				ErrInvalidRow, r.Date.Format(MonthLayout), r.Cohort.Format(MonthLayout), r.Segment)
		}
		seen[k] = struct{}{}
	}
	return nil
}

// TableStats summarises a fact table for cache invalidation.
type TableStats struct {
	RowCount    int
	Columns     []string
	MaxDate     time.Time
	ContentHash string // empty when the store cannot hash cheaply
}

// MonthLabel formats a date as YYYY-MM.
func MonthLabel(t time.Time) string {
	return t.Format(MonthLayout)
}
