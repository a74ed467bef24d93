package reporting

import (
	"math"
	"strconv"
	"strings"

	"merchant-cohort-lab/internal/domain"
)

// RenderWideCSV renders the (derived) wide table. Missing values are empty cells.
func RenderWideCSV(t *domain.WideTable) string {
	var sb strings.Builder

	// Header
	header := t.AllColumns()
	sb.WriteString(strings.Join(header, ","))
	sb.WriteString("\n")

	// Rows
	for _, r := range t.Rows {
		fields := []string{r.Date.Format("2006-01-02"), r.Cohort.Format("2006-01-02"), csvField(r.Segment)}
		if t.Derived {
			fields = append(fields, strconv.Itoa(r.MonthsSinceRegister))
		}
		for _, c := range t.Columns {
			fields = append(fields, csvFloat(r.Value(c)))
		}
		sb.WriteString(strings.Join(fields, ","))
		sb.WriteString("\n")
	}

	return sb.String()
}

// RenderLongCSV renders the long-form table. Cohort rollup rows have an empty
// months_since_register.
func RenderLongCSV(rows []domain.LongRow) string {
	var sb strings.Builder

	sb.WriteString("date,cohort,segment,months_since_register,product,total_amount,total_merchants,avg_ticket\n")

	for _, r := range rows {
		months := ""
		if r.MonthsSinceRegister != nil {
			months = strconv.Itoa(*r.MonthsSinceRegister)
		}
		sb.WriteString(strings.Join([]string{
			r.Date,
			r.Cohort,
			csvField(r.Segment),
			months,
			csvField(r.Product),
			csvFloat(r.TotalAmount),
			csvFloat(r.TotalMerchants),
			csvFloat(r.AvgTicket),
		}, ","))
		sb.WriteString("\n")
	}

	return sb.String()
}

// RenderRankingCSV renders the ranking/share table.
func RenderRankingCSV(rows []domain.RankRow) string {
	var sb strings.Builder

	sb.WriteString("date,segment,product,avg_ticket,percent_avg_ticket,rank\n")

	for _, r := range rows {
		sb.WriteString(strings.Join([]string{
			r.Date,
			csvField(r.Segment),
			csvField(r.Product),
			csvFloat(r.AvgTicket),
			csvFloat(r.PercentAvgTicket),
			strconv.Itoa(r.Rank),
		}, ","))
		sb.WriteString("\n")
	}

	return sb.String()
}

func csvFloat(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return ""
	}
	return strconv.FormatFloat(v, 'f', 6, 64)
}

// csvField quotes values containing separators or quotes.
func csvField(s string) string {
	if !strings.ContainsAny(s, ",\"\n") {
		return s
	}
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
