package reporting

import (
	"fmt"
	"math"

	"github.com/xuri/excelize/v2"

	"merchant-cohort-lab/internal/domain"
)

// Sheet names of the exported workbook.
const (
	SheetWide    = "wide"
	SheetLong    = "long_form"
	SheetRanking = "ranking"
)

// WriteXLSX exports the three tables to one workbook, one sheet each.
// Undefined values are left as empty cells.
func WriteXLSX(path string, wide *domain.WideTable, long []domain.LongRow, ranking []domain.RankRow) error {
	f := excelize.NewFile()
	defer f.Close()

	// Reuse the default sheet for the first table.
	if err := f.SetSheetName("Sheet1", SheetWide); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	for _, name := range []string{SheetLong, SheetRanking} {
		if _, err := f.NewSheet(name); err != nil {
			return fmt.Errorf("create sheet %s: %w", name, err)
		}
	}

	if err := writeSheet(f, SheetWide, wideRows(wide)); err != nil {
		return err
	}
	if err := writeSheet(f, SheetLong, longRows(long)); err != nil {
		return err
	}
	if err := writeSheet(f, SheetRanking, rankingRows(ranking)); err != nil {
		return err
	}

	idx, err := f.GetSheetIndex(SheetRanking)
	if err != nil {
		return fmt.Errorf("find sheet %s: %w", SheetRanking, err)
	}
	f.SetActiveSheet(idx)

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save workbook: %w", err)
	}
	return nil
}

func writeSheet(f *excelize.File, sheet string, rows [][]any) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("write %s row %d: %w", sheet, i+1, err)
		}
	}
	if len(rows) > 0 {
		if err := f.SetPanes(sheet, &excelize.Panes{
			Freeze:      true,
			YSplit:      1,
			TopLeftCell: "A2",
			ActivePane:  "bottomLeft",
		}); err != nil {
			return fmt.Errorf("freeze %s header: %w", sheet, err)
		}
	}
	return nil
}

func wideRows(t *domain.WideTable) [][]any {
	if t == nil {
		return nil
	}
	cols := t.AllColumns()
	header := make([]any, len(cols))
	for i, c := range cols {
		header[i] = c
	}
	out := [][]any{header}
	for _, r := range t.Rows {
		row := []any{r.Date.Format("2006-01-02"), r.Cohort.Format("2006-01-02"), r.Segment}
		if t.Derived {
			row = append(row, r.MonthsSinceRegister)
		}
		for _, c := range t.Columns {
			row = append(row, cellValue(r.Value(c)))
		}
		out = append(out, row)
	}
	return out
}

func longRows(rows []domain.LongRow) [][]any {
	out := [][]any{{"date", "cohort", "segment", "months_since_register", "product", "total_amount", "total_merchants", "avg_ticket"}}
	for _, r := range rows {
		var months any
		if r.MonthsSinceRegister != nil {
			months = *r.MonthsSinceRegister
		}
		out = append(out, []any{
			r.Date, r.Cohort, r.Segment, months, r.Product,
			cellValue(r.TotalAmount), cellValue(r.TotalMerchants), cellValue(r.AvgTicket),
		})
	}
	return out
}

func rankingRows(rows []domain.RankRow) [][]any {
	out := [][]any{{"date", "segment", "product", "avg_ticket", "percent_avg_ticket", "rank"}}
	for _, r := range rows {
		out = append(out, []any{
			r.Date, r.Segment, r.Product,
			cellValue(r.AvgTicket), cellValue(r.PercentAvgTicket), r.Rank,
		})
	}
	return out
}

// cellValue maps NaN to nil; excelize cannot store NaN.
func cellValue(v float64) any {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return v
}
