package transform

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"merchant-cohort-lab/internal/catalog"
	"merchant-cohort-lab/internal/domain"
)

var testPairs = []AvgTicketPair{
	{Money: "transacted_amount", Count: "acquiring_merchants"},
	{Money: "account_balance", Count: "banking_merchants"},
}

func month(y int, m time.Month) time.Time {
	return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
}

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	c, err := catalog.New([]catalog.Column{
		{Name: domain.ColumnDate, Class: catalog.ClassDimension},
		{Name: domain.ColumnCohort, Class: catalog.ClassDimension},
		{Name: domain.ColumnSegment, Class: catalog.ClassDimension},
		{Name: domain.ColumnMonthsSinceRegister, Class: catalog.ClassDimension},
		{Name: "transacted_amount", Class: catalog.ClassMetric, Kind: catalog.KindMoney, Active: true, Product: "acquiring"},
		{Name: "acquiring_merchants", Class: catalog.ClassMetric, Kind: catalog.KindUnit, Active: true, Product: "acquiring"},
		{Name: "avg_transacted_amount", Class: catalog.ClassMetric, Kind: catalog.KindMoney, Active: true, Calculation: true, Product: "acquiring"},
		{Name: "account_balance", Class: catalog.ClassMetric, Kind: catalog.KindMoney, Active: true, Product: "banking"},
		{Name: "banking_merchants", Class: catalog.ClassMetric, Kind: catalog.KindUnit, Active: true, Product: "banking"},
		{Name: "avg_account_balance", Class: catalog.ClassMetric, Kind: catalog.KindMoney, Active: true, Calculation: true, Product: "banking"},
	})
	require.NoError(t, err)
	return c
}

func wideRow(date, cohort time.Time, segment string, amount, merchants, balance, banking float64) domain.WideRow {
	return domain.WideRow{
		Date:    date,
		Cohort:  cohort,
		Segment: segment,
		Values: map[string]float64{
			"transacted_amount":   amount,
			"acquiring_merchants": merchants,
			"account_balance":     balance,
			"banking_merchants":   banking,
		},
	}
}

func testTable() *domain.WideTable {
	return &domain.WideTable{
		Columns: []string{"transacted_amount", "acquiring_merchants", "account_balance", "banking_merchants"},
		Rows: []domain.WideRow{
			wideRow(month(2023, 3), month(2023, 1), "smb", 100, 10, 50, 5),
			wideRow(month(2023, 3), month(2023, 2), "smb", 200, 5, 0, 0),
			wideRow(month(2023, 3), month(2023, 1), "inactive", 30, 3, 10, 2),
			wideRow(month(2023, 3), month(2023, 2), "micro", 40, 4, math.NaN(), 1),
		},
	}
}

func find(t *testing.T, rows []domain.LongRow, cohort, segment, product string) domain.LongRow {
	t.Helper()
	for _, r := range rows {
		if r.Cohort == cohort && r.Segment == segment && r.Product == product {
			return r
		}
	}
	t.Fatalf("row (%s, %s, %s) not found", cohort, segment, product)
	return domain.LongRow{}
}

func TestDerive(t *testing.T) {
	in := testTable()
	out, err := Derive(in, testPairs)
	require.NoError(t, err)

	assert.True(t, out.Derived)
	assert.False(t, in.Derived, "input must not be modified")
	assert.True(t, out.HasColumn("avg_transacted_amount"))
	assert.False(t, in.HasColumn("avg_transacted_amount"))

	assert.Equal(t, 10.0, out.Rows[0].Value("avg_transacted_amount"))
	assert.Equal(t, 1, out.Rows[0].MonthsSinceRegister) // 59 days
	assert.True(t, math.IsNaN(out.Rows[1].Value("avg_account_balance")), "0/0 is undefined")
	assert.True(t, math.IsNaN(out.Rows[3].Value("avg_account_balance")), "missing amount is undefined")
}

func TestDerive_MissingColumn(t *testing.T) {
	_, err := Derive(testTable(), []AvgTicketPair{{Money: "pix_credit_lent", Count: "pix_credit_merchants"}})
	assert.True(t, errors.Is(err, ErrMissingColumn))
}

func TestMonthsSinceRegister(t *testing.T) {
	tests := []struct {
		date, cohort time.Time
		want         int
	}{
		{month(2023, 1), month(2023, 1), 0},
		{month(2023, 2), month(2023, 1), 1},  // 31 days
		{month(2023, 3), month(2023, 2), 0},  // 28 days
		{month(2024, 1), month(2023, 1), 12}, // 365 days
		{time.Date(2023, 1, 31, 0, 0, 0, 0, time.UTC), month(2023, 1), 1},
	}
	for _, tt := range tests {
		got := MonthsSinceRegister(tt.date, tt.cohort)
		assert.Equal(t, tt.want, got, "date=%s cohort=%s", tt.date, tt.cohort)
	}
}

func TestUnpivot_RequiresDerived(t *testing.T) {
	_, err := Unpivot(testTable(), testCatalog(t), Options{})
	assert.ErrorIs(t, err, ErrNotDerived)
}

func TestUnpivot_CatalogMismatch(t *testing.T) {
	derived, err := Derive(testTable(), testPairs)
	require.NoError(t, err)
	derived.Columns = append(derived.Columns, "surprise")
	for i := range derived.Rows {
		derived.Rows[i].Values["surprise"] = 1
	}

	_, err = Unpivot(derived, testCatalog(t), Options{})
	assert.ErrorIs(t, err, catalog.ErrUnknownColumn)
}

func TestUnpivot_OuterJoinFillsZero(t *testing.T) {
	derived, err := Derive(testTable(), testPairs)
	require.NoError(t, err)

	rows, err := Unpivot(derived, testCatalog(t), Options{})
	require.NoError(t, err)
	require.Len(t, rows, 8, "4 wide rows x 2 products")

	r := find(t, rows, "2023-02", "micro", "banking")
	assert.Equal(t, 0.0, r.TotalAmount)
	assert.Equal(t, 1.0, r.TotalMerchants)
	assert.Equal(t, 0.0, r.AvgTicket)

	r = find(t, rows, "2023-01", "smb", "acquiring")
	assert.Equal(t, "2023-03", r.Date)
	require.NotNil(t, r.MonthsSinceRegister)
	assert.Equal(t, 1, *r.MonthsSinceRegister)
	assert.Equal(t, 100.0, r.TotalAmount)
	assert.Equal(t, 10.0, r.TotalMerchants)
	assert.Equal(t, 10.0, r.AvgTicket)

	for _, r := range rows {
		assert.False(t, math.IsNaN(r.AvgTicket), "per-cohort rows never carry NaN")
	}
}

func TestUnpivot_CohortRollup(t *testing.T) {
	derived, err := Derive(testTable(), testPairs)
	require.NoError(t, err)

	rows, err := Unpivot(derived, testCatalog(t), Options{CohortRollup: true})
	require.NoError(t, err)

	all := find(t, rows, domain.CohortAll, "smb", "acquiring")
	assert.Equal(t, 300.0, all.TotalAmount)
	assert.Equal(t, 15.0, all.TotalMerchants)
	assert.Equal(t, 20.0, all.AvgTicket)
	assert.Nil(t, all.MonthsSinceRegister)

	// Arithmetic mean of per-cohort tickets would be (10+40)/2 = 25.
	assert.NotEqual(t, 25.0, all.AvgTicket)
}

func TestUnpivot_CohortRollupSumsMatch(t *testing.T) {
	derived, err := Derive(testTable(), testPairs)
	require.NoError(t, err)

	rows, err := Unpivot(derived, testCatalog(t), Options{CohortRollup: true})
	require.NoError(t, err)

	type key struct{ date, segment, product string }
	sum := make(map[key][2]float64)
	for _, r := range rows {
		if r.IsCohortRollup() {
			continue
		}
		k := key{r.Date, r.Segment, r.Product}
		s := sum[k]
		s[0] += r.TotalAmount
		s[1] += r.TotalMerchants
		sum[k] = s
	}
	for _, r := range rows {
		if !r.IsCohortRollup() {
			continue
		}
		s := sum[key{r.Date, r.Segment, r.Product}]
		assert.Equal(t, s[0], r.TotalAmount)
		assert.Equal(t, s[1], r.TotalMerchants)
		if r.TotalMerchants == 0 {
			assert.True(t, math.IsNaN(r.AvgTicket))
		} else {
			assert.InDelta(t, r.TotalAmount/r.TotalMerchants, r.AvgTicket, 1e-9)
		}
	}
}

func TestUnpivot_SegmentRollup(t *testing.T) {
	derived, err := Derive(testTable(), testPairs)
	require.NoError(t, err)

	rows, err := Unpivot(derived, testCatalog(t), Options{CohortRollup: true, SegmentRollup: true})
	require.NoError(t, err)

	all := find(t, rows, "2023-01", domain.SegmentAll, "acquiring")
	active := find(t, rows, "2023-01", domain.SegmentAllActive, "acquiring")
	inactive := find(t, rows, "2023-01", domain.SegmentInactive, "acquiring")

	assert.Equal(t, 130.0, all.TotalAmount)
	assert.Equal(t, all.TotalAmount-inactive.TotalAmount, active.TotalAmount)
	assert.Equal(t, all.TotalMerchants-inactive.TotalMerchants, active.TotalMerchants)
	assert.Equal(t, 10.0, active.AvgTicket)

	grand := find(t, rows, domain.CohortAll, domain.SegmentAll, "acquiring")
	assert.Equal(t, 370.0, grand.TotalAmount)
	assert.Equal(t, 22.0, grand.TotalMerchants)
	assert.Nil(t, grand.MonthsSinceRegister)
}

func TestUnpivot_Deterministic(t *testing.T) {
	derived, err := Derive(testTable(), testPairs)
	require.NoError(t, err)
	opts := Options{CohortRollup: true, SegmentRollup: true}

	first, err := Unpivot(derived, testCatalog(t), opts)
	require.NoError(t, err)

	// Reverse input order; output must not change.
	rev := derived.Clone()
	for i, j := 0, len(rev.Rows)-1; i < j; i, j = i+1, j-1 {
		rev.Rows[i], rev.Rows[j] = rev.Rows[j], rev.Rows[i]
	}
	second, err := Unpivot(rev, testCatalog(t), opts)
	require.NoError(t, err)

	require.Len(t, second, len(first))
	for i := range first {
		assert.Equal(t, first[i].Date, second[i].Date)
		assert.Equal(t, first[i].Cohort, second[i].Cohort)
		assert.Equal(t, first[i].Segment, second[i].Segment)
		assert.Equal(t, first[i].Product, second[i].Product)
		assert.Equal(t, first[i].TotalAmount, second[i].TotalAmount)
	}
}

func TestForAnimation(t *testing.T) {
	rows := []domain.LongRow{
		{Product: "acquiring", TotalAmount: 0, TotalMerchants: -2, AvgTicket: math.NaN(), MonthsSinceRegister: domain.IntPtr(1)},
		{Product: "banking", TotalAmount: 5, TotalMerchants: 1, AvgTicket: 5},
	}
	out := ForAnimation(rows)

	assert.Equal(t, AnimationFloor, out[0].TotalAmount)
	assert.Equal(t, AnimationFloor, out[0].TotalMerchants)
	assert.Equal(t, AnimationFloor, out[0].AvgTicket)
	assert.Equal(t, 5.0, out[1].TotalAmount)

	assert.Equal(t, 0.0, rows[0].TotalAmount, "input must not be modified")
	*out[0].MonthsSinceRegister = 7
	assert.Equal(t, 1, *rows[0].MonthsSinceRegister)

	for _, r := range out {
		assert.Greater(t, r.TotalAmount, 0.0)
		assert.Greater(t, r.TotalMerchants, 0.0)
		assert.Greater(t, r.AvgTicket, 0.0)
	}
}
