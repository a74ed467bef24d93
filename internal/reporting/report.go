package reporting

import (
	"time"

	"merchant-cohort-lab/internal/domain"
)

// Report is the merchant cohort report model.
type Report struct {
	// Metadata
	GeneratedAt time.Time
	DataVersion string // short hash of the long-form table
	Source      string // fixtures | file | postgres | clickhouse

	Summary DataSummary
	Quality DataQualitySection

	// Products at the latest date across all cohorts and segments.
	Products []ProductRow

	// Latest shares for the ALL_ACTIVE segment, rank order.
	LatestShares []domain.RankRow

	// Full ranking table (default filter), sorted by (date, segment, rank).
	Ranking []domain.RankRow

	// Reproducibility
	Reproducibility Reproducibility
}

// DataSummary describes the input data.
type DataSummary struct {
	WideRows      int
	MetricColumns int
	LongRows      int
	RankRows      int
	Cohorts       int
	Segments      []string
	Products      []string
	DateStart     string // YYYY-MM
	DateEnd       string // YYYY-MM
}

// DataQualitySection contains data quality checks and integrity errors.
type DataQualitySection struct {
	Checks          []QualityCheckRow
	IntegrityErrors []string
	AllChecksPassed bool
}

// QualityCheckRow represents one data quality criterion.
type QualityCheckRow struct {
	Name      string
	Threshold string
	Actual    string
	Pass      bool
}

// ProductRow is one product's rollup totals.
type ProductRow struct {
	Product        string
	TotalAmount    float64
	TotalMerchants float64
	AvgTicket      float64
}

// Reproducibility records what produced the report.
type Reproducibility struct {
	GeneratorVersion string
	CatalogHash      string
	SourceHash       string
	CacheKey         string
	CacheHit         bool
	RankEngine       string
	CohortRollup     bool
	SegmentRollup    bool
}
