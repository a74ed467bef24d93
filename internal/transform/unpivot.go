package transform

import (
	"fmt"
	"math"
	"sort"

	"merchant-cohort-lab/internal/catalog"
	"merchant-cohort-lab/internal/domain"
)

// Options selects the rollups emitted next to the per-cohort rows.
type Options struct {
	CohortRollup  bool // cohort = ALL rows per (date, segment, product)
	SegmentRollup bool // segment = ALL / ALL_ACTIVE rows per (date, cohort, product)
}

// metricRole is one of the three melted value sets.
type metricRole int

const (
	roleAmount metricRole = iota
	roleMerchants
	roleAvg
)

type roleColumn struct {
	column  string
	product string
	role    metricRole
}

// Unpivot reshapes the derived wide table into one row per
// (date, cohort, segment, months_since_register, product).
//
// The three value sets (raw money, unit, average) are joined with outer-join
// semantics: every product present in any set gets a row for every wide row,
// and a value missing from a set (or NaN) becomes 0.
func Unpivot(t *domain.WideTable, cat *catalog.Catalog, opts Options) ([]domain.LongRow, error) {
	if !t.Derived {
		return nil, ErrNotDerived
	}
	if err := cat.CheckColumns(t.AllColumns()); err != nil {
		return nil, fmt.Errorf("unpivot: %w", err)
	}
	if err := cat.ValidateUnpivot(); err != nil {
		return nil, fmt.Errorf("unpivot: %w", err)
	}

	cols, products, err := resolveRoles(cat)
	if err != nil {
		return nil, err
	}

	rows := make([]domain.LongRow, 0, len(t.Rows)*len(products))
	for _, wr := range t.Rows {
		values := make(map[string]*domain.LongRow, len(products))
		date := domain.MonthLabel(wr.Date)
		cohort := domain.MonthLabel(wr.Cohort)
		for _, p := range products {
			values[p] = &domain.LongRow{
				Date:                date,
				Cohort:              cohort,
				Segment:             wr.Segment,
				MonthsSinceRegister: domain.IntPtr(wr.MonthsSinceRegister),
				Product:             p,
			}
		}
		for _, rc := range cols {
			v := zeroIfNaN(wr.Value(rc.column))
			lr := values[rc.product]
			switch rc.role {
			case roleAmount:
				lr.TotalAmount = v
			case roleMerchants:
				lr.TotalMerchants = v
			case roleAvg:
				lr.AvgTicket = v
			}
		}
		for _, p := range products {
			rows = append(rows, *values[p])
		}
	}

	if opts.CohortRollup {
		rows = append(rows, CohortRollup(rows)...)
	}
	if opts.SegmentRollup {
		rows = append(rows, SegmentRollup(rows)...)
	}
	SortLongRows(rows)
	return rows, nil
}

// resolveRoles maps every in-scope metric to its product and role.
func resolveRoles(cat *catalog.Catalog) ([]roleColumn, []string, error) {
	sets := []struct {
		role  metricRole
		names []string
	}{
		{roleAmount, cat.RawMoney()},
		{roleMerchants, cat.Units()},
		{roleAvg, cat.Averages()},
	}

	var cols []roleColumn
	productSet := make(map[string]struct{})
	for _, set := range sets {
		for _, name := range set.names {
			product, err := cat.Product(name)
			if err != nil {
				return nil, nil, fmt.Errorf("resolve product: %w", err)
			}
			cols = append(cols, roleColumn{column: name, product: product, role: set.role})
			productSet[product] = struct{}{}
		}
	}

	products := make([]string, 0, len(productSet))
	for p := range productSet {
		products = append(products, p)
	}
	sort.Strings(products)
	return cols, products, nil
}

// SortLongRows orders rows by (date, cohort, segment, product).
func SortLongRows(rows []domain.LongRow) {
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.Date != b.Date {
			return a.Date < b.Date
		}
		if a.Cohort != b.Cohort {
			return a.Cohort < b.Cohort
		}
		if a.Segment != b.Segment {
			return a.Segment < b.Segment
		}
		return a.Product < b.Product
	})
}

func zeroIfNaN(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return v
}
