// Package ranking computes each product's share of the summed average ticket
// and its rank within every (date, segment) group.
package ranking

import (
	"context"
	"math"
	"sort"

	"merchant-cohort-lab/internal/domain"
)

// Engine ranks a long-form table.
type Engine interface {
	Rank(ctx context.Context, rows []domain.LongRow, f domain.Filter) ([]domain.RankRow, error)
}

// includeRow applies the cohort filter. Segment rollup rows are never input:
// the ALL and ALL_ACTIVE segments are recomputed here from real segments.
//
// An empty cohort means every real cohort; domain.CohortAll selects only the
// cohort rollup rows so a cohort never contributes twice.
func includeRow(r domain.LongRow, cohort string) bool {
	if r.IsSegmentRollup() {
		return false
	}
	if cohort == "" {
		return !r.IsCohortRollup()
	}
	return r.Cohort == cohort
}

// nanSum adds values, skipping NaN. It returns NaN when every value was NaN.
type nanSum struct {
	total float64
	seen  bool
}

func (s *nanSum) add(v float64) {
	if math.IsNaN(v) {
		return
	}
	s.total += v
	s.seen = true
}

func (s nanSum) value() float64 {
	if !s.seen {
		return math.NaN()
	}
	return s.total
}

// finalize fills PercentAvgTicket and Rank per (date, segment) group and
// returns the rows ordered by (date, segment, rank).
//
// Rank order: avg ticket descending, NaN last, then product ascending.
func finalize(rows []domain.RankRow) []domain.RankRow {
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.Date != b.Date {
			return a.Date < b.Date
		}
		if a.Segment != b.Segment {
			return a.Segment < b.Segment
		}
		return ranksBefore(a, b)
	})

	for start := 0; start < len(rows); {
		end := start
		var sum nanSum
		for end < len(rows) && rows[end].Date == rows[start].Date && rows[end].Segment == rows[start].Segment {
			sum.add(rows[end].AvgTicket)
			end++
		}
		total := sum.value()
		for i := start; i < end; i++ {
			rows[i].Rank = i - start + 1
			rows[i].PercentAvgTicket = share(rows[i].AvgTicket, total)
		}
		start = end
	}
	return rows
}

func ranksBefore(a, b domain.RankRow) bool {
	aNaN, bNaN := math.IsNaN(a.AvgTicket), math.IsNaN(b.AvgTicket)
	if aNaN != bNaN {
		return bNaN
	}
	if !aNaN && a.AvgTicket != b.AvgTicket {
		return a.AvgTicket > b.AvgTicket
	}
	return a.Product < b.Product
}

// share is v/total, NaN when total is 0 or either side is undefined.
func share(v, total float64) float64 {
	if math.IsNaN(v) || math.IsNaN(total) || total == 0 {
		return math.NaN()
	}
	return v / total
}
