package catalog

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleMeta = `{
  "date":                  {"meta_class": "dimension", "meta_kind": null, "meta_active": null, "meta_calculation": null, "meta_product": null},
  "cohort":                {"meta_class": "dimension"},
  "segment":               {"meta_class": "dimension"},
  "months_since_register": {"meta_class": "dimension"},
  "transacted_amount":     {"meta_class": "metric", "meta_kind": "money", "meta_active": true, "meta_calculation": false, "meta_product": "acquiring"},
  "acquiring_merchants":   {"meta_class": "metric", "meta_kind": "unit", "meta_active": true, "meta_calculation": false, "meta_product": "acquiring"},
  "avg_transacted_amount": {"meta_class": "metric", "meta_kind": "money", "meta_active": true, "meta_calculation": true, "meta_product": "acquiring"},
  "account_balance":       {"meta_class": "metric", "meta_kind": "money", "meta_active": true, "meta_calculation": false, "meta_product": "banking"},
  "account_cashin":        {"meta_class": "metric", "meta_kind": "money", "meta_active": false, "meta_calculation": false, "meta_product": "banking"},
  "banking_merchants":     {"meta_class": "metric", "meta_kind": "unit", "meta_active": true, "meta_calculation": false, "meta_product": "banking"},
  "avg_account_balance":   {"meta_class": "metric", "meta_kind": "money", "meta_active": true, "meta_calculation": true, "meta_product": "banking"},
  "avg_account_cashin":    {"meta_class": "metric", "meta_kind": "money", "meta_active": null, "meta_calculation": true, "meta_product": "banking"}
}`

func TestLoad_Selectors(t *testing.T) {
	c, err := Load(strings.NewReader(sampleMeta))
	require.NoError(t, err)

	assert.Equal(t, 12, c.Len())
	assert.Equal(t, []string{"cohort", "date", "months_since_register", "segment"}, c.Dimensions())
	assert.Equal(t, []string{"account_balance", "transacted_amount"}, c.RawMoney())
	assert.Equal(t, []string{"acquiring_merchants", "banking_merchants"}, c.Units())
	assert.Equal(t, []string{"avg_account_balance", "avg_transacted_amount"}, c.Averages())
	assert.Equal(t, []string{"acquiring", "banking"}, c.Products())
	require.NoError(t, c.ValidateUnpivot())
}

func TestLoad_NullBooleansAreFalse(t *testing.T) {
	c, err := Load(strings.NewReader(sampleMeta))
	require.NoError(t, err)

	col, ok := c.Column("avg_account_cashin")
	require.True(t, ok)
	assert.False(t, col.Active)
	assert.True(t, col.Calculation)
	assert.False(t, col.IsAverage())
}

func TestLoad_InvalidEntries(t *testing.T) {
	tests := []struct {
		name string
		meta string
	}{
		{"missing class", `{"x": {"meta_kind": "money", "meta_product": "p"}}`},
		{"bad kind", `{"x": {"meta_class": "metric", "meta_kind": "ratio", "meta_product": "p"}}`},
		{"missing product", `{"x": {"meta_class": "metric", "meta_kind": "unit"}}`},
		{"null entry", `{"x": null}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(strings.NewReader(tt.meta))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidEntry), "got %v", err)
		})
	}
}

func TestLoad_MalformedJSON(t *testing.T) {
	_, err := Load(strings.NewReader(`{"x": `))
	require.Error(t, err)
}

func TestNew_DuplicateColumn(t *testing.T) {
	_, err := New([]Column{
		{Name: "date", Class: ClassDimension},
		{Name: "date", Class: ClassDimension},
	})
	assert.ErrorIs(t, err, ErrInvalidEntry)
}

func TestProduct(t *testing.T) {
	c, err := Load(strings.NewReader(sampleMeta))
	require.NoError(t, err)

	p, err := c.Product("banking_merchants")
	require.NoError(t, err)
	assert.Equal(t, "banking", p)

	_, err = c.Product("nope")
	assert.ErrorIs(t, err, ErrUnknownColumn)

	_, err = c.Product("segment")
	assert.ErrorIs(t, err, ErrInvalidEntry)
}

func TestCheckColumns(t *testing.T) {
	c, err := Load(strings.NewReader(sampleMeta))
	require.NoError(t, err)

	all := make([]string, 0, c.Len())
	for _, col := range c.Columns() {
		all = append(all, col.Name)
	}
	require.NoError(t, c.CheckColumns(all))

	err = c.CheckColumns(append(all, "brand_new_metric"))
	require.ErrorIs(t, err, ErrUnknownColumn)
	assert.Contains(t, err.Error(), "brand_new_metric")

	err = c.CheckColumns(all[1:])
	require.ErrorIs(t, err, ErrMissingColumn)
	assert.Contains(t, err.Error(), all[0])
}

func TestValidateUnpivot_AmbiguousProduct(t *testing.T) {
	c, err := New([]Column{
		{Name: "account_balance", Class: ClassMetric, Kind: KindMoney, Active: true, Product: "banking"},
		{Name: "account_cashin", Class: ClassMetric, Kind: KindMoney, Active: true, Product: "banking"},
		{Name: "banking_merchants", Class: ClassMetric, Kind: KindUnit, Product: "banking"},
	})
	require.NoError(t, err)

	err = c.ValidateUnpivot()
	require.ErrorIs(t, err, ErrAmbiguousProduct)
	assert.Contains(t, err.Error(), "banking")
}

func TestFingerprint(t *testing.T) {
	a, err := Load(strings.NewReader(sampleMeta))
	require.NoError(t, err)
	b, err := Load(strings.NewReader(sampleMeta))
	require.NoError(t, err)
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
	assert.Len(t, a.Fingerprint(), 16)

	changed := strings.Replace(sampleMeta, `"meta_active": false, "meta_calculation": false, "meta_product": "banking"`,
		`"meta_active": false, "meta_calculation": false, "meta_product": "savings"`, 1)
	c, err := Load(strings.NewReader(changed))
	require.NoError(t, err)
	assert.NotEqual(t, a.Fingerprint(), c.Fingerprint())
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meta.json")
	require.NoError(t, os.WriteFile(path, []byte(sampleMeta), 0o644))

	c, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 12, c.Len())

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
