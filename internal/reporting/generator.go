package reporting

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"time"

	"merchant-cohort-lab/internal/domain"
)

// Generator builds a Report from computed tables.
type Generator struct {
	now func() time.Time // Injectable clock for deterministic output
}

// NewGenerator creates a new report generator.
func NewGenerator() *Generator {
	return &Generator{
		now: func() time.Time { return time.Now().UTC() },
	}
}

// WithClock sets a custom clock function for deterministic output.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// Generate produces the report. Quality and Reproducibility are filled by the caller.
func (g *Generator) Generate(wide *domain.WideTable, long []domain.LongRow, ranking []domain.RankRow) *Report {
	r := &Report{
		GeneratedAt: g.now(),
		DataVersion: DataVersion(long),
		Ranking:     ranking,
	}
	r.Summary = summarize(wide, long, ranking)
	r.Products = latestProducts(long, r.Summary.DateEnd)
	r.LatestShares = latestShares(ranking, r.Summary.DateEnd)
	return r
}

func summarize(wide *domain.WideTable, long []domain.LongRow, ranking []domain.RankRow) DataSummary {
	s := DataSummary{
		LongRows: len(long),
		RankRows: len(ranking),
	}
	if wide != nil {
		s.WideRows = len(wide.Rows)
		s.MetricColumns = len(wide.Columns)
	}

	cohorts := make(map[string]struct{})
	segments := make(map[string]struct{})
	products := make(map[string]struct{})
	for _, r := range long {
		if r.IsCohortRollup() || r.IsSegmentRollup() {
			continue
		}
		cohorts[r.Cohort] = struct{}{}
		segments[r.Segment] = struct{}{}
		products[r.Product] = struct{}{}
		if s.DateStart == "" || r.Date < s.DateStart {
			s.DateStart = r.Date
		}
		if r.Date > s.DateEnd {
			s.DateEnd = r.Date
		}
	}
	s.Cohorts = len(cohorts)
	s.Segments = sortedSet(segments)
	s.Products = sortedSet(products)
	return s
}

// latestProducts sums every real row of the latest date per product.
func latestProducts(long []domain.LongRow, date string) []ProductRow {
	if date == "" {
		return nil
	}
	acc := make(map[string]*ProductRow)
	for _, r := range long {
		if r.Date != date || r.IsCohortRollup() || r.IsSegmentRollup() {
			continue
		}
		p, ok := acc[r.Product]
		if !ok {
			p = &ProductRow{Product: r.Product}
			acc[r.Product] = p
		}
		p.TotalAmount += r.TotalAmount
		p.TotalMerchants += r.TotalMerchants
	}

	out := make([]ProductRow, 0, len(acc))
	for _, p := range acc {
		p.AvgTicket = math.NaN()
		if p.TotalMerchants != 0 {
			p.AvgTicket = p.TotalAmount / p.TotalMerchants
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Product < out[j].Product
	})
	return out
}

func latestShares(ranking []domain.RankRow, date string) []domain.RankRow {
	var out []domain.RankRow
	for _, r := range ranking {
		if r.Date == date && r.Segment == domain.SegmentAllActive {
			out = append(out, r)
		}
	}
	return out
}

// DataVersion is a short content hash of the long-form table.
func DataVersion(long []domain.LongRow) string {
	h := sha256.New()
	for _, r := range long {
		months := "-"
		if r.MonthsSinceRegister != nil {
			months = fmt.Sprint(*r.MonthsSinceRegister)
		}
		fmt.Fprintf(h, "%s|%s|%s|%s|%s|%g|%g|%g\n",
			r.Date, r.Cohort, r.Segment, months, r.Product, r.TotalAmount, r.TotalMerchants, r.AvgTicket)
	}
	return hex.EncodeToString(h.Sum(nil))[:12]
}

func sortedSet(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
