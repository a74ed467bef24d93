package transform

import (
	"errors"
	"fmt"
	"math"
	"time"

	"merchant-cohort-lab/internal/domain"
)

var (
	// ErrMissingColumn is returned when a transform references a column the table lacks.
	ErrMissingColumn = errors.New("column missing from wide table")

	// ErrNotDerived is returned when a transform needs the derived columns.
	ErrNotDerived = errors.New("wide table has no derived columns")
)

// AvgTicketPair pairs a money column with the merchant-count column it is divided by.
type AvgTicketPair struct {
	Money string
	Count string
}

// AvgTicketPairs is the fixed money -> count mapping of the merchant dataset.
var AvgTicketPairs = []AvgTicketPair{
	{Money: "transacted_amount", Count: "acquiring_merchants"},
	{Money: "account_balance", Count: "banking_merchants"},
	{Money: "account_cashin", Count: "banking_merchants"},
	{Money: "account_cashout", Count: "banking_merchants"},
	{Money: "infinitecard_transacted_amount", Count: "infinitecard_merchants"},
	{Money: "smartcash_amount_lent", Count: "smartcash_merchants"},
	{Money: "pix_credit_lent", Count: "pix_credit_merchants"},
}

// AvgColumn returns the derived average-ticket column name for a money column.
func AvgColumn(money string) string {
	return "avg_" + money
}

// Derive returns a copy of t with one avg_<money> column per pair and
// MonthsSinceRegister set on every row. The input is not modified.
//
// A zero or missing count (or a missing amount) yields NaN for that row;
// merchants absent from a product in a period is expected data.
func Derive(t *domain.WideTable, pairs []AvgTicketPair) (*domain.WideTable, error) {
	for _, p := range pairs {
		if !t.HasColumn(p.Money) {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, p.Money)
		}
		if !t.HasColumn(p.Count) {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, p.Count)
		}
	}

	out := t.Clone()
	for _, p := range pairs {
		col := AvgColumn(p.Money)
		if !out.HasColumn(col) {
			out.Columns = append(out.Columns, col)
		}
	}

	for i := range out.Rows {
		row := &out.Rows[i]
		for _, p := range pairs {
			row.Values[AvgColumn(p.Money)] = ratio(row.Value(p.Money), row.Value(p.Count))
		}
		row.MonthsSinceRegister = MonthsSinceRegister(row.Date, row.Cohort)
	}
	out.Derived = true
	return out, nil
}

// MonthsSinceRegister is the whole-day difference divided by 30, floored.
// It is a month count, not a calendar-month difference.
func MonthsSinceRegister(date, cohort time.Time) int {
	days := int(math.Floor(date.Sub(cohort).Hours() / 24))
	return floorDiv(days, 30)
}

// ratio divides amount by count, NaN when either side is missing or count is 0.
func ratio(amount, count float64) float64 {
	if math.IsNaN(amount) || math.IsNaN(count) || count == 0 {
		return math.NaN()
	}
	return amount / count
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
