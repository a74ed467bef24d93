package reporting

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"merchant-cohort-lab/internal/domain"
)

// Heatmap fields.
const (
	FieldTotalAmount    = "total_amount"
	FieldTotalMerchants = "total_merchants"
	FieldAvgTicket      = "avg_ticket"
)

// ErrUnknownField is returned for a heatmap field that is not a long-form value.
var ErrUnknownField = errors.New("unknown heatmap field")

// HeatmapMatrix is a cohort x months_since_register grid for one product and segment.
// Values[i][j] is NaN where the cohort has no row for that month.
type HeatmapMatrix struct {
	Product string      `json:"product"`
	Segment string      `json:"segment"`
	Field   string      `json:"field"`
	Cohorts []string    `json:"cohorts"`
	Months  []int       `json:"months"`
	Values  [][]float64 `json:"values"`
}

// Heatmap pivots long-form rows into a cohort heatmap. Cohort rollup rows have
// no months_since_register and are skipped. An unmatched filter gives an empty matrix.
func Heatmap(rows []domain.LongRow, product, segment, field string) (HeatmapMatrix, error) {
	value, err := fieldGetter(field)
	if err != nil {
		return HeatmapMatrix{}, err
	}

	m := HeatmapMatrix{Product: product, Segment: segment, Field: field, Cohorts: []string{}, Months: []int{}, Values: [][]float64{}}

	type cellKey struct {
		cohort string
		months int
	}
	cells := make(map[cellKey]float64)
	cohorts := make(map[string]struct{})
	months := make(map[int]struct{})
	for _, r := range rows {
		if r.Product != product || r.Segment != segment || r.MonthsSinceRegister == nil {
			continue
		}
		k := cellKey{r.Cohort, *r.MonthsSinceRegister}
		cells[k] = value(r)
		cohorts[k.cohort] = struct{}{}
		months[k.months] = struct{}{}
	}

	for c := range cohorts {
		m.Cohorts = append(m.Cohorts, c)
	}
	sort.Strings(m.Cohorts)
	for mo := range months {
		m.Months = append(m.Months, mo)
	}
	sort.Ints(m.Months)

	for _, c := range m.Cohorts {
		line := make([]float64, len(m.Months))
		for j, mo := range m.Months {
			v, ok := cells[cellKey{c, mo}]
			if !ok {
				v = math.NaN()
			}
			line[j] = v
		}
		m.Values = append(m.Values, line)
	}
	return m, nil
}

func fieldGetter(field string) (func(domain.LongRow) float64, error) {
	switch field {
	case FieldTotalAmount:
		return func(r domain.LongRow) float64 { return r.TotalAmount }, nil
	case FieldTotalMerchants:
		return func(r domain.LongRow) float64 { return r.TotalMerchants }, nil
	case FieldAvgTicket, "":
		return func(r domain.LongRow) float64 { return r.AvgTicket }, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownField, field)
	}
}
