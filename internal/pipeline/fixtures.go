package pipeline

import (
	"context"
	"encoding/json"
	"io"
	"math"
	"time"

	"merchant-cohort-lab/internal/catalog"
	"merchant-cohort-lab/internal/domain"
	"merchant-cohort-lab/internal/storage"
	"merchant-cohort-lab/internal/transform"
)

// Fixture shape: six monthly snapshots, every cohort registered up to the snapshot,
// four segments.
var (
	fixtureStart    = time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	fixtureMonths   = 6
	fixtureSegments = []string{"cnp", "inactive", "micro", "smb"}
)

// fixtureProducts maps each raw metric to its product.
var fixtureProducts = map[string]string{
	"transacted_amount":              "acquiring",
	"acquiring_merchants":            "acquiring",
	"account_balance":                "banking",
	"account_cashin":                 "banking",
	"account_cashout":                "banking",
	"banking_merchants":              "banking",
	"infinitecard_transacted_amount": "infinitecard",
	"infinitecard_merchants":         "infinitecard",
	"smartcash_amount_lent":          "smartcash",
	"smartcash_merchants":            "smartcash",
	"pix_credit_lent":                "pix_credit",
	"pix_credit_merchants":           "pix_credit",
}

// fixtureInactive lists money metrics kept out of the average-ticket scope;
// banking keeps only the balance so the product stays unambiguous.
var fixtureInactive = map[string]bool{
	"account_cashin":  true,
	"account_cashout": true,
}

// FixtureColumns is the ordered metric column list of the fixture table.
var FixtureColumns = []string{
	"transacted_amount", "acquiring_merchants",
	"account_balance", "account_cashin", "account_cashout", "banking_merchants",
	"infinitecard_transacted_amount", "infinitecard_merchants",
	"smartcash_amount_lent", "smartcash_merchants",
	"pix_credit_lent", "pix_credit_merchants",
}

// LoadFixtures inserts the demo wide table into store and returns the matching catalog.
func LoadFixtures(ctx context.Context, store storage.WritableFactStore) (*catalog.Catalog, error) {
	if err := store.InsertBulk(ctx, FixtureTable()); err != nil {
		return nil, err
	}
	return FixtureCatalog()
}

// FixtureTable builds the deterministic demo wide table.
func FixtureTable() *domain.WideTable {
	t := &domain.WideTable{Columns: append([]string(nil), FixtureColumns...)}
	for d := 0; d < fixtureMonths; d++ {
		// End-of-month snapshot.
		date := fixtureStart.AddDate(0, d+1, -1)
		for c := 0; c <= d; c++ {
			cohort := fixtureStart.AddDate(0, c, 0)
			for s, segment := range fixtureSegments {
				t.Rows = append(t.Rows, domain.WideRow{
					Date:    date,
					Cohort:  cohort,
					Segment: segment,
					Values:  fixtureValues(d, c, s, segment),
				})
			}
		}
	}
	return t
}

func fixtureValues(d, c, s int, segment string) map[string]float64 {
	age := float64(d - c)
	scale := map[string]float64{"cnp": 0.6, "inactive": 0.05, "micro": 0.3, "smb": 1}[segment]

	acquiring := math.Round(scale*40) + float64(5*c)
	banking := math.Round(scale * 20)
	balance := banking * 500 * (1 + 0.05*age)

	v := map[string]float64{
		"transacted_amount":   acquiring * 100 * (1 + 0.1*age) * (1 + 0.2*float64(s)),
		"acquiring_merchants": acquiring,
		"account_balance":     balance,
		"account_cashin":      balance * 0.4,
		"account_cashout":     balance * 0.35,
		"banking_merchants":   banking,
	}

	// Card only for card-heavy segments.
	card := 0.0
	if segment == "smb" || segment == "cnp" {
		card = math.Round(scale * 15)
	}
	v["infinitecard_merchants"] = card
	v["infinitecard_transacted_amount"] = card * 80 * (1 + 0.05*age)

	// Lending starts two months after registration.
	lent := 0.0
	if age >= 2 && segment != "inactive" {
		lent = math.Round(scale*10) + age
	}
	v["smartcash_merchants"] = lent
	v["smartcash_amount_lent"] = lent * 1500

	// Pix credit was not reported for the first snapshot.
	if d == 0 {
		v["pix_credit_merchants"] = math.NaN()
		v["pix_credit_lent"] = math.NaN()
	} else {
		pix := math.Round(scale*8) + float64(c%2)
		v["pix_credit_merchants"] = pix
		v["pix_credit_lent"] = pix * 900 * (1 + 0.1*float64(c))
	}
	return v
}

// FixtureCatalog returns the typed catalog of the fixture table, including
// the derived columns.
func FixtureCatalog() (*catalog.Catalog, error) {
	return catalog.New(fixtureCatalogColumns())
}

func fixtureCatalogColumns() []catalog.Column {
	cols := []catalog.Column{
		{Name: domain.ColumnDate, Class: catalog.ClassDimension},
		{Name: domain.ColumnCohort, Class: catalog.ClassDimension},
		{Name: domain.ColumnSegment, Class: catalog.ClassDimension},
		{Name: domain.ColumnMonthsSinceRegister, Class: catalog.ClassDimension},
	}
	money := make(map[string]bool)
	for _, p := range transform.AvgTicketPairs {
		money[p.Money] = true
	}
	for _, name := range FixtureColumns {
		col := catalog.Column{
			Name:    name,
			Class:   catalog.ClassMetric,
			Kind:    catalog.KindUnit,
			Active:  true,
			Product: fixtureProducts[name],
		}
		if money[name] {
			col.Kind = catalog.KindMoney
			col.Active = !fixtureInactive[name]
		}
		cols = append(cols, col)
	}
	for _, p := range transform.AvgTicketPairs {
		cols = append(cols, catalog.Column{
			Name:        transform.AvgColumn(p.Money),
			Class:       catalog.ClassMetric,
			Kind:        catalog.KindMoney,
			Active:      !fixtureInactive[p.Money],
			Calculation: true,
			Product:     fixtureProducts[p.Money],
		})
	}
	return cols
}

// WriteFixtureCatalog writes the fixture catalog in the metadata JSON layout
// read by catalog.Load.
func WriteFixtureCatalog(w io.Writer) error {
	type entry struct {
		Class       string `json:"meta_class"`
		Kind        string `json:"meta_kind,omitempty"`
		Active      *bool  `json:"meta_active"`
		Calculation *bool  `json:"meta_calculation"`
		Product     string `json:"meta_product,omitempty"`
	}
	out := make(map[string]entry)
	for _, c := range fixtureCatalogColumns() {
		e := entry{Class: c.Class, Kind: c.Kind, Product: c.Product}
		if c.Class != catalog.ClassDimension {
			active, calc := c.Active, c.Calculation
			e.Active, e.Calculation = &active, &calc
		}
		out[c.Name] = e
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
