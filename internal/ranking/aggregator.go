package ranking

import (
	"context"

	"merchant-cohort-lab/internal/domain"
)

// Aggregator ranks in memory.
type Aggregator struct{}

// NewAggregator creates an in-memory ranking engine.
func NewAggregator() *Aggregator {
	return &Aggregator{}
}

var _ Engine = (*Aggregator)(nil)

type groupKey struct {
	date, segment, product string
}

// Rank sums avg_ticket per (date, segment, product), adds the ALL and
// ALL_ACTIVE segment rollups, then computes share and rank. A filter that
// matches nothing yields an empty, non-nil table.
func (a *Aggregator) Rank(ctx context.Context, rows []domain.LongRow, f domain.Filter) ([]domain.RankRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sums := make(map[groupKey]*nanSum)
	add := func(k groupKey, v float64) {
		s, ok := sums[k]
		if !ok {
			s = &nanSum{}
			sums[k] = s
		}
		s.add(v)
	}

	for _, r := range rows {
		if !includeRow(r, f.Cohort) {
			continue
		}
		add(groupKey{r.Date, r.Segment, r.Product}, r.AvgTicket)
		add(groupKey{r.Date, domain.SegmentAll, r.Product}, r.AvgTicket)
		if r.Segment != domain.SegmentInactive {
			add(groupKey{r.Date, domain.SegmentAllActive, r.Product}, r.AvgTicket)
		}
	}

	out := make([]domain.RankRow, 0, len(sums))
	for k, s := range sums {
		if f.Segment != "" && k.segment != f.Segment {
			continue
		}
		out = append(out, domain.RankRow{
			Date:      k.date,
			Segment:   k.segment,
			Product:   k.product,
			AvgTicket: s.value(),
		})
	}
	return finalize(out), nil
}
