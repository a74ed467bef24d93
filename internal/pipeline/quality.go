package pipeline

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"merchant-cohort-lab/internal/catalog"
	"merchant-cohort-lab/internal/domain"
	"merchant-cohort-lab/internal/reporting"
	"merchant-cohort-lab/internal/transform"
)

// MaxUndefinedAvgShare is the largest tolerated share of undefined average-ticket cells.
const MaxUndefinedAvgShare = 0.5

// maxErrors caps the integrity messages collected per check.
const maxErrors = 20

// QualityCheck represents one data-quality criterion.
type QualityCheck struct {
	Name      string
	Threshold string
	Actual    string
	Pass      bool
}

// QualityResult contains every check.
type QualityResult struct {
	Checks  []QualityCheck
	AllPass bool
	Errors  []string // data integrity errors
}

// QualityChecker validates the computed tables before they are reported.
type QualityChecker struct {
	catalog *catalog.Catalog
	opts    transform.Options
}

// NewQualityChecker creates a checker for the catalog and rollup options in use.
func NewQualityChecker(cat *catalog.Catalog, opts transform.Options) *QualityChecker {
	return &QualityChecker{catalog: cat, opts: opts}
}

// Check runs all checks against the derived wide table and the long-form table.
func (c *QualityChecker) Check(wide *domain.WideTable, long []domain.LongRow) *QualityResult {
	result := &QualityResult{AllPass: true, Errors: []string{}}

	add := func(check QualityCheck, errs []string) {
		result.Checks = append(result.Checks, check)
		if !check.Pass {
			result.AllPass = false
			result.Errors = append(result.Errors, errs...)
		}
	}

	add(c.checkRows(wide), nil)
	add(c.checkCohortOrder(wide))
	add(c.checkCatalogCoverage(wide))
	add(c.checkUndefinedAverages(wide))
	add(c.checkNonNegative(long))
	add(c.checkCohortRollup(long))
	add(c.checkSegmentRollup(long))

	return result
}

// checkRows: wide table has at least one row.
func (c *QualityChecker) checkRows(wide *domain.WideTable) QualityCheck {
	n := len(wide.Rows)
	return QualityCheck{
		Name:      "Wide rows",
		Threshold: "> 0",
		Actual:    fmt.Sprintf("%d", n),
		Pass:      n > 0,
	}
}

// checkCohortOrder: cohort <= date on every row.
func (c *QualityChecker) checkCohortOrder(wide *domain.WideTable) (QualityCheck, []string) {
	var errs []string
	violations := 0
	for _, r := range wide.Rows {
		if r.Cohort.After(r.Date) {
			violations++
			if len(errs) < maxErrors {
				errs = append(errs, fmt.Sprintf("cohort %s after date %s (segment %s)",
					domain.MonthLabel(r.Cohort), domain.MonthLabel(r.Date), r.Segment))
			}
		}
	}
	return QualityCheck{
		Name:      "Cohort after date",
		Threshold: "== 0",
		Actual:    fmt.Sprintf("%d", violations),
		Pass:      violations == 0,
	}, errs
}

// checkCatalogCoverage: catalog and table describe the same columns and products resolve.
func (c *QualityChecker) checkCatalogCoverage(wide *domain.WideTable) (QualityCheck, []string) {
	check := QualityCheck{
		Name:      "Catalog coverage",
		Threshold: "all columns typed",
		Actual:    fmt.Sprintf("%d columns, %d products", len(wide.AllColumns()), len(c.catalog.Products())),
		Pass:      true,
	}
	var errs []string
	if err := c.catalog.CheckColumns(wide.AllColumns()); err != nil {
		errs = append(errs, err.Error())
	}
	if err := c.catalog.ValidateUnpivot(); err != nil {
		errs = append(errs, err.Error())
	}
	if len(errs) > 0 {
		check.Pass = false
		check.Actual = fmt.Sprintf("%d problems", len(errs))
	}
	return check, errs
}

// checkUndefinedAverages: share of undefined avg_* cells stays below MaxUndefinedAvgShare.
// Undefined averages are expected (no merchants in a product that month), so
// only the overall share is gated; per-column counts go to the message.
func (c *QualityChecker) checkUndefinedAverages(wide *domain.WideTable) (QualityCheck, []string) {
	perColumn := make(map[string]int)
	total, undefined := 0, 0
	for _, name := range wide.Columns {
		if !strings.HasPrefix(name, "avg_") {
			continue
		}
		for i := range wide.Rows {
			total++
			if math.IsNaN(wide.Rows[i].Value(name)) {
				undefined++
				perColumn[name]++
			}
		}
	}

	share := 0.0
	if total > 0 {
		share = float64(undefined) / float64(total)
	}
	check := QualityCheck{
		Name:      "Undefined average ticket",
		Threshold: fmt.Sprintf("<= %.0f%%", MaxUndefinedAvgShare*100),
		Actual:    fmt.Sprintf("%d of %d (%.1f%%)", undefined, total, share*100),
		Pass:      share <= MaxUndefinedAvgShare,
	}

	cols := make([]string, 0, len(perColumn))
	for name := range perColumn {
		cols = append(cols, name)
	}
	sort.Strings(cols)
	var errs []string
	for _, name := range cols {
		errs = append(errs, fmt.Sprintf("%s undefined in %d rows", name, perColumn[name]))
	}
	return check, errs
}

// checkNonNegative: long-form values are >= 0 or undefined.
func (c *QualityChecker) checkNonNegative(long []domain.LongRow) (QualityCheck, []string) {
	var errs []string
	negatives := 0
	for _, r := range long {
		for _, v := range []float64{r.TotalAmount, r.TotalMerchants, r.AvgTicket} {
			if v < 0 {
				negatives++
				if len(errs) < maxErrors {
					errs = append(errs, fmt.Sprintf("negative value %g at %s/%s/%s/%s",
						v, r.Date, r.Cohort, r.Segment, r.Product))
				}
			}
		}
	}
	return QualityCheck{
		Name:      "Negative long-form values",
		Threshold: "== 0",
		Actual:    fmt.Sprintf("%d", negatives),
		Pass:      negatives == 0,
	}, errs
}

// checkCohortRollup: every cohort ALL row carries amount/merchants as its average
// and the sums of the cohorts it covers.
func (c *QualityChecker) checkCohortRollup(long []domain.LongRow) (QualityCheck, []string) {
	check := QualityCheck{Name: "Cohort rollup identity", Threshold: "== 0 mismatches"}
	if !c.opts.CohortRollup {
		check.Actual = "skipped (disabled)"
		check.Pass = true
		return check, nil
	}

	type key struct{ date, segment, product string }
	sums := make(map[key][2]float64)
	for _, r := range long {
		if r.IsCohortRollup() || r.IsSegmentRollup() {
			continue
		}
		k := key{r.Date, r.Segment, r.Product}
		s := sums[k]
		s[0] += r.TotalAmount
		s[1] += r.TotalMerchants
		sums[k] = s
	}

	var errs []string
	mismatches, checked := 0, 0
	for _, r := range long {
		if !r.IsCohortRollup() || r.IsSegmentRollup() {
			continue
		}
		checked++
		s := sums[key{r.Date, r.Segment, r.Product}]
		ok := approxEqual(r.TotalAmount, s[0]) &&
			approxEqual(r.TotalMerchants, s[1]) &&
			approxEqual(r.AvgTicket, ratio(r.TotalAmount, r.TotalMerchants))
		if !ok {
			mismatches++
			if len(errs) < maxErrors {
				errs = append(errs, fmt.Sprintf("cohort rollup mismatch at %s/%s/%s", r.Date, r.Segment, r.Product))
			}
		}
	}
	check.Actual = fmt.Sprintf("%d of %d", mismatches, checked)
	check.Pass = mismatches == 0
	return check, errs
}

// checkSegmentRollup: ALL equals the sum of real segments and ALL - inactive equals ALL_ACTIVE.
func (c *QualityChecker) checkSegmentRollup(long []domain.LongRow) (QualityCheck, []string) {
	check := QualityCheck{Name: "Segment rollup identity", Threshold: "== 0 mismatches"}
	if !c.opts.SegmentRollup {
		check.Actual = "skipped (disabled)"
		check.Pass = true
		return check, nil
	}

	type key struct{ date, cohort, months, product string }
	keyOf := func(r domain.LongRow) key {
		months := "-"
		if r.MonthsSinceRegister != nil {
			months = fmt.Sprint(*r.MonthsSinceRegister)
		}
		return key{r.Date, r.Cohort, months, r.Product}
	}

	type totals struct{ all, inactive [2]float64 }
	groups := make(map[key]*totals)
	rollups := make(map[key]map[string]domain.LongRow)
	for _, r := range long {
		k := keyOf(r)
		if r.IsSegmentRollup() {
			if rollups[k] == nil {
				rollups[k] = make(map[string]domain.LongRow)
			}
			rollups[k][r.Segment] = r
			continue
		}
		t := groups[k]
		if t == nil {
			t = &totals{}
			groups[k] = t
		}
		t.all[0] += r.TotalAmount
		t.all[1] += r.TotalMerchants
		if r.Segment == domain.SegmentInactive {
			t.inactive[0] += r.TotalAmount
			t.inactive[1] += r.TotalMerchants
		}
	}

	keys := make([]key, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.date != b.date {
			return a.date < b.date
		}
		if a.cohort != b.cohort {
			return a.cohort < b.cohort
		}
		if a.months != b.months {
			return a.months < b.months
		}
		return a.product < b.product
	})

	var errs []string
	mismatches := 0
	for _, k := range keys {
		t := groups[k]
		all, ok := rollups[k][domain.SegmentAll]
		bad := !ok || !approxEqual(all.TotalAmount, t.all[0]) || !approxEqual(all.TotalMerchants, t.all[1])
		if active, ok := rollups[k][domain.SegmentAllActive]; ok {
			bad = bad ||
				!approxEqual(active.TotalAmount, t.all[0]-t.inactive[0]) ||
				!approxEqual(active.TotalMerchants, t.all[1]-t.inactive[1])
		}
		if bad {
			mismatches++
			if len(errs) < maxErrors {
				errs = append(errs, fmt.Sprintf("segment rollup mismatch at %s/%s/%s", k.date, k.cohort, k.product))
			}
		}
	}
	check.Actual = fmt.Sprintf("%d of %d", mismatches, len(keys))
	check.Pass = mismatches == 0
	return check, errs
}

func ratio(amount, merchants float64) float64 {
	if merchants == 0 || math.IsNaN(merchants) || math.IsNaN(amount) {
		return math.NaN()
	}
	return amount / merchants
}

// approxEqual compares with a relative tolerance; two NaNs are equal.
func approxEqual(a, b float64) bool {
	if math.IsNaN(a) || math.IsNaN(b) {
		return math.IsNaN(a) && math.IsNaN(b)
	}
	return math.Abs(a-b) <= 1e-9*math.Max(1, math.Max(math.Abs(a), math.Abs(b)))
}

// convertToDataQuality converts QualityResult to reporting.DataQualitySection.
func convertToDataQuality(result *QualityResult) reporting.DataQualitySection {
	checks := make([]reporting.QualityCheckRow, len(result.Checks))
	for i, c := range result.Checks {
		checks[i] = reporting.QualityCheckRow{
			Name:      c.Name,
			Threshold: c.Threshold,
			Actual:    c.Actual,
			Pass:      c.Pass,
		}
	}
	return reporting.DataQualitySection{
		Checks:          checks,
		IntegrityErrors: result.Errors,
		AllChecksPassed: result.AllPass,
	}
}
