package reporting

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// RenderMarkdown renders report as Markdown string.
func RenderMarkdown(r *Report) string {
	var sb strings.Builder

	// Header
	sb.WriteString("# Merchant Cohort Report\n\n")
	sb.WriteString(fmt.Sprintf("Generated: %s\n\n", r.GeneratedAt.Format(time.RFC3339)))
	sb.WriteString(fmt.Sprintf("Source: %s | Data version: %s\n\n", r.Source, r.DataVersion))

	// Data Summary
	sb.WriteString("## Data Summary\n\n")
	sb.WriteString("| Metric | Value |\n")
	sb.WriteString("|--------|-------|\n")
	sb.WriteString(fmt.Sprintf("| Wide Rows | %d |\n", r.Summary.WideRows))
	sb.WriteString(fmt.Sprintf("| Metric Columns | %d |\n", r.Summary.MetricColumns))
	sb.WriteString(fmt.Sprintf("| Long-Form Rows | %d |\n", r.Summary.LongRows))
	sb.WriteString(fmt.Sprintf("| Ranking Rows | %d |\n", r.Summary.RankRows))
	sb.WriteString(fmt.Sprintf("| Cohorts | %d |\n", r.Summary.Cohorts))
	sb.WriteString(fmt.Sprintf("| Segments | %s |\n", strings.Join(r.Summary.Segments, ", ")))
	sb.WriteString(fmt.Sprintf("| Products | %s |\n", strings.Join(r.Summary.Products, ", ")))
	sb.WriteString(fmt.Sprintf("| Date Range | %s .. %s |\n", r.Summary.DateStart, r.Summary.DateEnd))
	sb.WriteString("\n")

	// Data Quality
	sb.WriteString("## Data Quality\n\n")
	if len(r.Quality.Checks) > 0 {
		sb.WriteString("| Check | Threshold | Actual | Status |\n")
		sb.WriteString("|-------|-----------|--------|--------|\n")
		for _, check := range r.Quality.Checks {
			status := "FAIL"
			if check.Pass {
				status = "PASS"
			}
			sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s |\n",
				check.Name, check.Threshold, check.Actual, status))
		}
		sb.WriteString("\n")

		if r.Quality.AllChecksPassed {
			sb.WriteString("**All checks passed.**\n\n")
		} else {
			sb.WriteString("**Some checks failed.** Treat shares and ranks with care.\n\n")
		}
	} else if len(r.Quality.IntegrityErrors) == 0 {
		sb.WriteString("No data quality checks performed.\n\n")
	}

	if len(r.Quality.IntegrityErrors) > 0 {
		sb.WriteString("### Integrity Errors\n\n")
		for _, err := range r.Quality.IntegrityErrors {
			sb.WriteString(fmt.Sprintf("- %s\n", err))
		}
		sb.WriteString("\n")
	}

	// Products
	sb.WriteString(fmt.Sprintf("## Products (%s, all cohorts and segments)\n\n", r.Summary.DateEnd))
	if len(r.Products) > 0 {
		sb.WriteString("| Product | Total Amount | Merchants | Avg Ticket |\n")
		sb.WriteString("|---------|--------------|-----------|------------|\n")
		for _, p := range r.Products {
			sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s |\n",
				p.Product, formatFloat(p.TotalAmount, 2), formatFloat(p.TotalMerchants, 0), formatFloat(p.AvgTicket, 2)))
		}
	} else {
		sb.WriteString("No product data available.\n")
	}
	sb.WriteString("\n")

	// Latest shares
	sb.WriteString("## Average Ticket Share (ALL_ACTIVE, latest date)\n\n")
	if len(r.LatestShares) > 0 {
		sb.WriteString("| Rank | Product | Avg Ticket (sum) | Share |\n")
		sb.WriteString("|------|---------|------------------|-------|\n")
		for _, s := range r.LatestShares {
			sb.WriteString(fmt.Sprintf("| %d | %s | %s | %s |\n",
				s.Rank, s.Product, formatFloat(s.AvgTicket, 2), formatPercent(s.PercentAvgTicket)))
		}
	} else {
		sb.WriteString("No ranking data available.\n")
	}
	sb.WriteString("\n")

	// Reproducibility
	rep := r.Reproducibility
	sb.WriteString("## Reproducibility\n\n")
	sb.WriteString("| Field | Value |\n")
	sb.WriteString("|-------|-------|\n")
	sb.WriteString(fmt.Sprintf("| Generator Version | %s |\n", rep.GeneratorVersion))
	sb.WriteString(fmt.Sprintf("| Catalog Hash | %s |\n", rep.CatalogHash))
	sb.WriteString(fmt.Sprintf("| Source Hash | %s |\n", rep.SourceHash))
	sb.WriteString(fmt.Sprintf("| Cache Key | %s |\n", rep.CacheKey))
	sb.WriteString(fmt.Sprintf("| Cache Hit | %t |\n", rep.CacheHit))
	sb.WriteString(fmt.Sprintf("| Rank Engine | %s |\n", rep.RankEngine))
	sb.WriteString(fmt.Sprintf("| Cohort Rollup | %t |\n", rep.CohortRollup))
	sb.WriteString(fmt.Sprintf("| Segment Rollup | %t |\n", rep.SegmentRollup))
	sb.WriteString("\n")

	return sb.String()
}

// formatFloat renders NaN as "NaN" so undefined ratios stay visible.
func formatFloat(v float64, prec int) string {
	if math.IsNaN(v) {
		return "NaN"
	}
	return fmt.Sprintf("%.*f", prec, v)
}

func formatPercent(v float64) string {
	if math.IsNaN(v) {
		return "NaN"
	}
	return fmt.Sprintf("%.1f%%", v*100)
}
