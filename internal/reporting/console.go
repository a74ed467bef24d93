package reporting

import (
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"

	"merchant-cohort-lab/internal/domain"
)

// WriteRankingTable prints ranking rows as a console table.
func WriteRankingTable(w io.Writer, rows []domain.RankRow) {
	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_CENTER)
	table.SetAutoFormatHeaders(false)
	table.SetBorder(true)
	table.SetHeader([]string{"Date", "Segment", "Rank", "Product", "Avg Ticket", "Share"})

	prevGroup := ""
	for _, r := range rows {
		date, segment := r.Date, r.Segment
		group := r.Date + "|" + r.Segment
		if group == prevGroup {
			date, segment = "", ""
		}
		prevGroup = group
		table.Append([]string{
			date, segment, strconv.Itoa(r.Rank), r.Product,
			formatFloat(r.AvgTicket, 2), formatPercent(r.PercentAvgTicket),
		})
	}
	table.Render()
}

// WriteLongTable prints long-form rows as a console table.
func WriteLongTable(w io.Writer, rows []domain.LongRow) {
	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_CENTER)
	table.SetAutoFormatHeaders(false)
	table.SetBorder(true)
	table.SetHeader([]string{"Date", "Cohort", "Segment", "Months", "Product", "Amount", "Merchants", "Avg Ticket"})

	for _, r := range rows {
		months := "-"
		if r.MonthsSinceRegister != nil {
			months = strconv.Itoa(*r.MonthsSinceRegister)
		}
		table.Append([]string{
			r.Date, r.Cohort, r.Segment, months, r.Product,
			formatFloat(r.TotalAmount, 2), formatFloat(r.TotalMerchants, 0), formatFloat(r.AvgTicket, 2),
		})
	}
	table.Render()
}

// WriteHeatmapTable prints a heatmap matrix with months as columns.
func WriteHeatmapTable(w io.Writer, m HeatmapMatrix) {
	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(false)
	table.SetBorder(true)

	header := []string{"Cohort"}
	for _, mo := range m.Months {
		header = append(header, fmt.Sprintf("M%d", mo))
	}
	table.SetHeader(header)

	for i, c := range m.Cohorts {
		line := []string{c}
		for _, v := range m.Values[i] {
			line = append(line, formatFloat(v, 2))
		}
		table.Append(line)
	}
	table.Render()
}
