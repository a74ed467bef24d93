package domain

// Synthetic labels produced by rollups.
const (
	CohortAll        = "ALL"
	SegmentAll       = "ALL"
	SegmentAllActive = "ALL_ACTIVE"
	SegmentInactive  = "inactive"
)

// LongRow is one (date, cohort, segment, months_since_register, product) row of
// the unpivoted table.
type LongRow struct {
	Date    string // YYYY-MM
	Cohort  string // YYYY-MM or CohortAll
	Segment string

	// MonthsSinceRegister is nil on cohort rollup rows.
	MonthsSinceRegister *int

	Product        string
	TotalAmount    float64
	TotalMerchants float64
	AvgTicket      float64 // NaN on rollup rows with zero merchants
}

// IsCohortRollup reports whether the row was synthesised across cohorts.
func (r LongRow) IsCohortRollup() bool {
	return r.Cohort == CohortAll
}

// IsSegmentRollup reports whether the row was synthesised across segments.
func (r LongRow) IsSegmentRollup() bool {
	return IsSyntheticSegment(r.Segment)
}

// IsSyntheticSegment reports whether segment is a rollup label.
func IsSyntheticSegment(segment string) bool {
	return segment == SegmentAll || segment == SegmentAllActive
}

// RankRow is one (date, segment, product) row of the ranking/share table.
type RankRow struct {
	Date             string
	Segment          string
	Product          string
	AvgTicket        float64 // summed average ticket
	PercentAvgTicket float64 // share of the (date, segment) total, NaN when the total is 0
	Rank             int     // 1 = highest avg ticket
}

// Filter restricts the ranking transform. Empty fields mean "no restriction".
type Filter struct {
	Cohort  string `json:"cohort,omitempty"`
	Segment string `json:"segment,omitempty"`
}

// Key returns a stable identifier for memoization.
func (f Filter) Key() string {
	return f.Cohort + "|" + f.Segment
}

// IntPtr returns a pointer to v.
func IntPtr(v int) *int {
	return &v
}
