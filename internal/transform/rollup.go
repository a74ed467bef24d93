package transform

import (
	"math"

	"merchant-cohort-lab/internal/domain"
)

type sums struct {
	amount    float64
	merchants float64
}

func (s sums) row(base domain.LongRow) domain.LongRow {
	base.TotalAmount = s.amount
	base.TotalMerchants = s.merchants
	base.AvgTicket = rollupAvg(s.amount, s.merchants)
	return base
}

// rollupAvg recomputes the average ticket from the summed totals. Averaging
// the per-row tickets would weight low-volume cohorts like large ones.
func rollupAvg(amount, merchants float64) float64 {
	if merchants == 0 {
		return math.NaN()
	}
	return amount / merchants
}

// CohortRollup sums per-cohort rows into cohort = ALL rows, one per
// (date, segment, product). Rollup rows in the input are ignored.
func CohortRollup(rows []domain.LongRow) []domain.LongRow {
	type key struct{ date, segment, product string }

	acc := make(map[key]*sums)
	var order []key
	for _, r := range rows {
		if r.IsCohortRollup() || r.IsSegmentRollup() {
			continue
		}
		k := key{r.Date, r.Segment, r.Product}
		s, ok := acc[k]
		if !ok {
			s = &sums{}
			acc[k] = s
			order = append(order, k)
		}
		s.amount += r.TotalAmount
		s.merchants += r.TotalMerchants
	}

	out := make([]domain.LongRow, 0, len(order))
	for _, k := range order {
		out = append(out, acc[k].row(domain.LongRow{
			Date:    k.date,
			Cohort:  domain.CohortAll,
			Segment: k.segment,
			Product: k.product,
		}))
	}
	return out
}

// SegmentRollup sums real segments into ALL and ALL_ACTIVE (everything but
// inactive) rows, one per (date, cohort, months_since_register, product).
// Cohort rollup rows are rolled up too, so (ALL, ALL) rows exist when both
// rollups are enabled. ALL_ACTIVE is only emitted when an active segment
// contributed.
func SegmentRollup(rows []domain.LongRow) []domain.LongRow {
	type key struct {
		date, cohort, product string
		months                int // -1 on cohort rollup rows
	}
	type group struct {
		months      *int
		all, active sums
		activeSeen  bool
	}

	acc := make(map[key]*group)
	var order []key
	for _, r := range rows {
		if r.IsSegmentRollup() {
			continue
		}
		months := -1
		if r.MonthsSinceRegister != nil {
			months = *r.MonthsSinceRegister
		}
		k := key{date: r.Date, cohort: r.Cohort, product: r.Product, months: months}
		g, ok := acc[k]
		if !ok {
			g = &group{months: r.MonthsSinceRegister}
			acc[k] = g
			order = append(order, k)
		}
		g.all.amount += r.TotalAmount
		g.all.merchants += r.TotalMerchants
		if r.Segment != domain.SegmentInactive {
			g.activeSeen = true
			g.active.amount += r.TotalAmount
			g.active.merchants += r.TotalMerchants
		}
	}

	out := make([]domain.LongRow, 0, 2*len(order))
	for _, k := range order {
		g := acc[k]
		base := domain.LongRow{
			Date:    k.date,
			Cohort:  k.cohort,
			Product: k.product,
		}
		if g.months != nil {
			base.MonthsSinceRegister = domain.IntPtr(*g.months)
		}
		all := base
		all.Segment = domain.SegmentAll
		out = append(out, g.all.row(all))
		if g.activeSeen {
			active := base
			active.Segment = domain.SegmentAllActive
			if g.months != nil {
				active.MonthsSinceRegister = domain.IntPtr(*g.months)
			}
			out = append(out, g.active.row(active))
		}
	}
	return out
}
