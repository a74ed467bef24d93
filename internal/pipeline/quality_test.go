package pipeline

import (
	"context"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"merchant-cohort-lab/internal/domain"
	"merchant-cohort-lab/internal/transform"
)

func fixtureTables(t *testing.T, opts transform.Options) (*domain.WideTable, []domain.LongRow, *QualityChecker) {
	t.Helper()
	p := newPipeline(t).WithOptions(opts)
	ctx := context.Background()
	wide, err := p.Wide(ctx)
	require.NoError(t, err)
	long, err := p.LongForm(ctx)
	require.NoError(t, err)
	return wide, long, NewQualityChecker(p.Catalog(), opts)
}

func checkByName(t *testing.T, r *QualityResult, name string) QualityCheck {
	t.Helper()
	for _, c := range r.Checks {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("check %q not found", name)
	return QualityCheck{}
}

func TestQualityChecker_FixturesPass(t *testing.T) {
	wide, long, checker := fixtureTables(t, transform.Options{CohortRollup: true, SegmentRollup: true})

	result := checker.Check(wide, long)
	assert.True(t, result.AllPass, "checks: %+v errors: %v", result.Checks, result.Errors)
	assert.Len(t, result.Checks, 7)
	assert.Empty(t, result.Errors)

	undefined := checkByName(t, result, "Undefined average ticket")
	assert.Contains(t, undefined.Actual, "of 588")
}

func TestQualityChecker_RollupsDisabled(t *testing.T) {
	wide, long, checker := fixtureTables(t, transform.Options{})

	result := checker.Check(wide, long)
	assert.True(t, result.AllPass)
	assert.Equal(t, "skipped (disabled)", checkByName(t, result, "Cohort rollup identity").Actual)
	assert.Equal(t, "skipped (disabled)", checkByName(t, result, "Segment rollup identity").Actual)
}

func TestQualityChecker_DetectsBrokenRollups(t *testing.T) {
	wide, long, checker := fixtureTables(t, transform.Options{CohortRollup: true, SegmentRollup: true})
	broken := append([]domain.LongRow(nil), long...)

	// Averaging instead of the ratio of sums on a cohort rollup row.
	for i := range broken {
		r := &broken[i]
		if r.IsCohortRollup() && !r.IsSegmentRollup() && r.TotalMerchants > 0 {
			r.AvgTicket *= 1.5
			break
		}
	}
	// ALL_ACTIVE that still includes inactive.
	for i := range broken {
		r := &broken[i]
		if r.Segment == domain.SegmentAllActive && r.TotalAmount > 0 {
			r.TotalAmount += 1
			break
		}
	}

	result := checker.Check(wide, broken)
	assert.False(t, result.AllPass)
	assert.False(t, checkByName(t, result, "Cohort rollup identity").Pass)
	assert.False(t, checkByName(t, result, "Segment rollup identity").Pass)
	assert.NotEmpty(t, result.Errors)
}

func TestQualityChecker_NegativeAndEmpty(t *testing.T) {
	_, _, checker := fixtureTables(t, transform.Options{})

	m := 0
	long := []domain.LongRow{{Date: "2023-01", Cohort: "2023-01", Segment: "smb", MonthsSinceRegister: &m, Product: "acquiring", TotalAmount: -5}}
	result := checker.Check(&domain.WideTable{Derived: true}, long)

	assert.False(t, result.AllPass)
	assert.False(t, checkByName(t, result, "Wide rows").Pass)
	neg := checkByName(t, result, "Negative long-form values")
	assert.False(t, neg.Pass)
	assert.Equal(t, "1", neg.Actual)
}

func TestQualityChecker_UndefinedShare(t *testing.T) {
	_, _, checker := fixtureTables(t, transform.Options{})

	wide := &domain.WideTable{
		Columns: []string{"avg_transacted_amount"},
		Derived: true,
		Rows: []domain.WideRow{
			{Segment: "smb", Values: map[string]float64{"avg_transacted_amount": math.NaN()}},
			{Segment: "micro", Values: map[string]float64{"avg_transacted_amount": math.NaN()}},
			{Segment: "cnp", Values: map[string]float64{"avg_transacted_amount": 3}},
		},
	}
	check, errs := checker.checkUndefinedAverages(wide)
	assert.False(t, check.Pass)
	assert.Equal(t, "2 of 3 (66.7%)", check.Actual)
	require.Len(t, errs, 1)
	assert.True(t, strings.HasPrefix(errs[0], "avg_transacted_amount undefined in 2 rows"))
}

func TestPipeline_Quality(t *testing.T) {
	p := newPipeline(t)
	q, err := p.Quality(context.Background())
	require.NoError(t, err)
	assert.True(t, q.AllChecksPassed)
	assert.Len(t, q.Checks, 7)

}
