// Package catalog holds the typed column metadata of the wide fact table.
// It is parsed once and every transform consults it instead of re-reading
// the raw metadata file.
package catalog

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
)

// Column classes and kinds.
const (
	ClassDimension = "dimension"
	ClassMetric    = "metric"

	KindMoney = "money"
	KindUnit  = "unit"
)

var (
	// ErrUnknownColumn is returned when a column is not listed in the catalog.
	ErrUnknownColumn = errors.New("column not in catalog")

	// ErrMissingColumn is returned when a catalog column is absent from the table.
	ErrMissingColumn = errors.New("catalog column missing from table")

	// ErrAmbiguousProduct is returned when a product has more than one metric
	// of the same role, which would make the (dimensions, product) join fan out.
	ErrAmbiguousProduct = errors.New("ambiguous product metrics")

	// ErrInvalidEntry is returned for malformed metadata entries.
	ErrInvalidEntry = errors.New("invalid catalog entry")
)

// Column is the typed metadata of one wide-table column.
type Column struct {
	Name        string
	Class       string // dimension | metric
	Kind        string // money | unit, empty for dimensions
	Active      bool
	Calculation bool // derived average rather than a raw total
	Product     string
}

// IsRawMoney reports whether the column is an in-scope raw money total.
func (c Column) IsRawMoney() bool {
	return c.Class != ClassDimension && c.Kind == KindMoney && c.Active && !c.Calculation
}

// IsUnit reports whether the column is a merchant count.
func (c Column) IsUnit() bool {
	return c.Class != ClassDimension && c.Kind == KindUnit
}

// IsAverage reports whether the column is an in-scope derived average ticket.
func (c Column) IsAverage() bool {
	return c.Class != ClassDimension && c.Kind == KindMoney && c.Active && c.Calculation
}

// Catalog maps column name to its metadata.
type Catalog struct {
	columns map[string]Column
	order   []string // sorted names
}

// rawEntry mirrors one value of the metadata JSON object.
type rawEntry struct {
	Class       string `json:"meta_class"`
	Kind        string `json:"meta_kind"`
	Active      *bool  `json:"meta_active"`
	Calculation *bool  `json:"meta_calculation"`
	Product     string `json:"meta_product"`
}

// Load parses metadata keyed by column name:
//
//	{"transacted_amount": {"meta_class": "metric", "meta_kind": "money", ...}, ...}
//
// Null booleans are read as false.
func Load(r io.Reader) (*Catalog, error) {
	var raw map[string]*rawEntry
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}

	cols := make([]Column, 0, len(raw))
	for name, e := range raw {
		if e == nil {
			return nil, fmt.Errorf("%w: %s has no fields", ErrInvalidEntry, name)
		}
		cols = append(cols, Column{
			Name:        name,
			Class:       strings.TrimSpace(e.Class),
			Kind:        strings.TrimSpace(e.Kind),
			Active:      e.Active != nil && *e.Active,
			Calculation: e.Calculation != nil && *e.Calculation,
			Product:     strings.TrimSpace(e.Product),
		})
	}
	return New(cols)
}

// LoadFile reads the catalog from a JSON file.
func LoadFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// New builds a catalog from typed columns.
func New(cols []Column) (*Catalog, error) {
	c := &Catalog{columns: make(map[string]Column, len(cols))}
	for _, col := range cols {
		if col.Name == "" {
			return nil, fmt.Errorf("%w: empty column name", ErrInvalidEntry)
		}
		if _, dup := c.columns[col.Name]; dup {
			return nil, fmt.Errorf("%w: %s listed twice", ErrInvalidEntry, col.Name)
		}
		switch col.Class {
		case ClassDimension:
		case "":
			return nil, fmt.Errorf("%w: %s has no meta_class", ErrInvalidEntry, col.Name)
		default:
			// Anything that is not a dimension is a metric.
			if col.Kind != KindMoney && col.Kind != KindUnit {
				return nil, fmt.Errorf("%w: %s has meta_kind %q", ErrInvalidEntry, col.Name, col.Kind)
			}
			if col.Product == "" {
				return nil, fmt.Errorf("%w: %s has no meta_product", ErrInvalidEntry, col.Name)
			}
		}
		c.columns[col.Name] = col
		c.order = append(c.order, col.Name)
	}
	sort.Strings(c.order)
	return c, nil
}

// Column returns the metadata for name.
func (c *Catalog) Column(name string) (Column, bool) {
	col, ok := c.columns[name]
	return col, ok
}

// Len returns the number of catalogued columns.
func (c *Catalog) Len() int {
	return len(c.order)
}

// Product resolves the product a metric belongs to.
func (c *Catalog) Product(name string) (string, error) {
	col, ok := c.columns[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownColumn, name)
	}
	if col.Class == ClassDimension {
		return "", fmt.Errorf("%w: %s is a dimension", ErrInvalidEntry, name)
	}
	return col.Product, nil
}

// Dimensions returns dimension column names, sorted.
func (c *Catalog) Dimensions() []string {
	return c.names(func(col Column) bool { return col.Class == ClassDimension })
}

// RawMoney returns active, non-derived money metrics, sorted.
func (c *Catalog) RawMoney() []string {
	return c.names(Column.IsRawMoney)
}

// Units returns merchant-count metrics, sorted.
func (c *Catalog) Units() []string {
	return c.names(Column.IsUnit)
}

// Averages returns active derived average-ticket metrics, sorted.
func (c *Catalog) Averages() []string {
	return c.names(Column.IsAverage)
}

// Products returns every product that owns at least one metric, sorted.
func (c *Catalog) Products() []string {
	set := make(map[string]struct{})
	for _, name := range c.order {
		col := c.columns[name]
		if col.Class != ClassDimension {
			set[col.Product] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func (c *Catalog) names(keep func(Column) bool) []string {
	var out []string
	for _, name := range c.order {
		if keep(c.columns[name]) {
			out = append(out, name)
		}
	}
	return out
}

// CheckColumns verifies the catalog and the table columns describe the same set.
func (c *Catalog) CheckColumns(tableColumns []string) error {
	present := make(map[string]struct{}, len(tableColumns))
	var unknown []string
	for _, name := range tableColumns {
		present[name] = struct{}{}
		if _, ok := c.columns[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return fmt.Errorf("%w: %s", ErrUnknownColumn, strings.Join(unknown, ", "))
	}

	var missing []string
	for _, name := range c.order {
		if _, ok := present[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingColumn, strings.Join(missing, ", "))
	}
	return nil
}

// ValidateUnpivot checks that each product has at most one metric per role.
func (c *Catalog) ValidateUnpivot() error {
	roles := []struct {
		name  string
		names []string
	}{
		{"money", c.RawMoney()},
		{"unit", c.Units()},
		{"average", c.Averages()},
	}
	for _, role := range roles {
		byProduct := make(map[string][]string)
		for _, name := range role.names {
			p := c.columns[name].Product
			byProduct[p] = append(byProduct[p], name)
		}
		for _, p := range sortedKeys(byProduct) {
			if cols := byProduct[p]; len(cols) > 1 {
				return fmt.Errorf("%w: product %s has %d %s metrics (%s)",
					ErrAmbiguousProduct, p, len(cols), role.name, strings.Join(cols, ", "))
			}
		}
	}
	return nil
}

// Fingerprint returns a short content hash of the catalog.
func (c *Catalog) Fingerprint() string {
	h := sha256.New()
	for _, name := range c.order {
		col := c.columns[name]
		fmt.Fprintf(h, "%s|%s|%s|%t|%t|%s\n",
			col.Name, col.Class, col.Kind, col.Active, col.Calculation, col.Product)
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// Columns returns all entries sorted by name.
func (c *Catalog) Columns() []Column {
	out := make([]Column, len(c.order))
	for i, name := range c.order {
		out[i] = c.columns[name]
	}
	return out
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
