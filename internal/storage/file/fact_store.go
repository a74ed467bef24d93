// Package file reads the wide fact table from a CSV export (optionally gzip
// or zstd compressed) or from the first sheet of an XLSX workbook.
package file

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/xuri/excelize/v2"

	"merchant-cohort-lab/internal/domain"
	"merchant-cohort-lab/internal/storage"
)

// FactStore is a read-only storage.FactStore over a file.
type FactStore struct {
	path string
}

// NewFactStore creates a store reading path. The format follows the suffix:
// .csv, .csv.gz, .csv.zst or .xlsx.
func NewFactStore(path string) *FactStore {
	return &FactStore{path: path}
}

// Compile-time interface check.
var _ storage.FactStore = (*FactStore)(nil)

// Load parses the whole file. Rows failing validation are an ErrInvalidInput.
func (s *FactStore) Load(ctx context.Context) (*domain.WideTable, error) {
	records, err := s.records(ctx)
	if err != nil {
		return nil, err
	}
	t, err := parseRecords(records)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.path, err)
	}
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}
	t.Sort()
	return t, nil
}

// Columns returns the metric columns from the header.
func (s *FactStore) Columns(ctx context.Context) ([]string, error) {
	records, err := s.records(ctx)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: %s has no header", storage.ErrInvalidInput, s.path)
	}
	h, err := parseHeader(records[0])
	if err != nil {
		return nil, err
	}
	return h.metrics, nil
}

// Stats loads the file and hashes its content.
func (s *FactStore) Stats(ctx context.Context) (domain.TableStats, error) {
	t, err := s.Load(ctx)
	if err != nil {
		return domain.TableStats{}, err
	}
	return storage.TableStats(t), nil
}

func (s *FactStore) records(ctx context.Context) ([][]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.HasSuffix(s.path, ".xlsx") {
		return readXLSX(s.path)
	}

	f, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, s.path)
		}
		return nil, fmt.Errorf("open fact file: %w", err)
	}
	defer f.Close()

	var r io.Reader = f
	switch {
	case strings.HasSuffix(s.path, ".gz"):
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("open gzip stream: %w", err)
		}
		defer gz.Close()
		r = gz
	case strings.HasSuffix(s.path, ".zst"):
		zr, err := zstd.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("open zstd stream: %w", err)
		}
		defer zr.Close()
		r = zr
	}

	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	return records, nil
}

func readXLSX(path string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, path)
		}
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%w: %s has no sheets", storage.ErrInvalidInput, path)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheets[0], err)
	}
	return rows, nil
}

type header struct {
	date, cohort, segment int
	metrics               []string
	metricIdx             []int
}

func parseHeader(rec []string) (header, error) {
	h := header{date: -1, cohort: -1, segment: -1}
	for i, name := range rec {
		name = strings.TrimSpace(name)
		switch name {
		case domain.ColumnDate:
			h.date = i
		case domain.ColumnCohort:
			h.cohort = i
		case domain.ColumnSegment:
			h.segment = i
		case domain.ColumnMonthsSinceRegister, "":
			// Recomputed by the derived-column step.
		default:
			if err := storage.ValidateIdentifier(name); err != nil {
				return header{}, err
			}
			h.metrics = append(h.metrics, name)
			h.metricIdx = append(h.metricIdx, i)
		}
	}
	if h.date < 0 || h.cohort < 0 || h.segment < 0 {
		return header{}, fmt.Errorf("%w: header needs %s, %s and %s",
			storage.ErrInvalidInput, domain.ColumnDate, domain.ColumnCohort, domain.ColumnSegment)
	}
	return h, nil
}

func parseRecords(records [][]string) (*domain.WideTable, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: empty file", storage.ErrInvalidInput)
	}
	h, err := parseHeader(records[0])
	if err != nil {
		return nil, err
	}

	t := &domain.WideTable{
		Columns: h.metrics,
		Rows:    make([]domain.WideRow, 0, len(records)-1),
	}
	for n, rec := range records[1:] {
		line := n + 2
		date, err := parseDate(cell(rec, h.date))
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		cohort, err := parseDate(cell(rec, h.cohort))
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		row := domain.WideRow{
			Date:    date,
			Cohort:  cohort,
			Segment: cell(rec, h.segment),
			Values:  make(map[string]float64, len(h.metrics)),
		}
		for i, name := range h.metrics {
			v, err := parseValue(cell(rec, h.metricIdx[i]))
			if err != nil {
				return nil, fmt.Errorf("line %d column %s: %w", line, name, err)
			}
			row.Values[name] = v
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

// cell tolerates short records; spreadsheet exports drop trailing empty cells.
func cell(rec []string, i int) string {
	if i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

var dateLayouts = []string{"2006-01-02", "2006-01", time.RFC3339}

func parseDate(s string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: date %q", storage.ErrInvalidInput, s)
}

func parseValue(s string) (float64, error) {
	switch strings.ToLower(s) {
	case "", "nan", "null", "none", "na":
		return math.NaN(), nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: value %q", storage.ErrInvalidInput, s)
	}
	return v, nil
}
