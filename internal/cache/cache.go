// Package cache persists the long-form table between runs. Entries are keyed
// by the content of everything the table is computed from, so a changed
// source or catalog is a miss instead of a stale hit.
package cache

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"

	"merchant-cohort-lab/internal/domain"
)

// SchemaVersion changes whenever LongRow or the unpivot semantics change.
const SchemaVersion = 2

// ErrMiss is returned by Get when no entry exists for the key.
var ErrMiss = errors.New("cache miss")

// Cache stores one long-form table per key.
type Cache interface {
	Get(ctx context.Context, key string) ([]domain.LongRow, error)
	Put(ctx context.Context, key string, rows []domain.LongRow) error
	Inspect(ctx context.Context) (Entry, error)
	Clear(ctx context.Context) error
}

// Entry describes the newest cached table.
type Entry struct {
	Key       string    `json:"key"`
	Rows      int       `json:"rows"`
	Bytes     int       `json:"bytes"`
	WrittenAt time.Time `json:"written_at"`
}

// Key identifies a long-form table by its inputs.
type Key struct {
	SourceHash    string
	CatalogHash   string
	CohortRollup  bool
	SegmentRollup bool
}

// String returns the hex digest used as the storage key.
func (k Key) String() string {
	h := sha256.New()
	fmt.Fprintf(h, "v%d|%s|%s|%t|%t", SchemaVersion, k.SourceHash, k.CatalogHash, k.CohortRollup, k.SegmentRollup)
	return hex.EncodeToString(h.Sum(nil))[:32]
}

// envelope is the serialised form shared by every backend.
type envelope struct {
	Key       string
	WrittenAt time.Time
	Rows      []domain.LongRow
}

// wireRow is LongRow as gob sees it. gob omits pointers to zero values, so the
// months pointer travels as a value plus a presence flag.
type wireRow struct {
	Date, Cohort, Segment string
	Months                int
	HasMonths             bool
	Product               string
	TotalAmount           float64
	TotalMerchants        float64
	AvgTicket             float64
}

type wireEnvelope struct {
	Key       string
	WrittenAt time.Time
	Rows      []wireRow
}

func toWire(env envelope) wireEnvelope {
	out := wireEnvelope{Key: env.Key, WrittenAt: env.WrittenAt, Rows: make([]wireRow, len(env.Rows))}
	for i, r := range env.Rows {
		w := wireRow{
			Date:           r.Date,
			Cohort:         r.Cohort,
			Segment:        r.Segment,
			Product:        r.Product,
			TotalAmount:    r.TotalAmount,
			TotalMerchants: r.TotalMerchants,
			AvgTicket:      r.AvgTicket,
		}
		if r.MonthsSinceRegister != nil {
			w.Months, w.HasMonths = *r.MonthsSinceRegister, true
		}
		out.Rows[i] = w
	}
	return out
}

func fromWire(w wireEnvelope) envelope {
	out := envelope{Key: w.Key, WrittenAt: w.WrittenAt, Rows: make([]domain.LongRow, len(w.Rows))}
	for i, r := range w.Rows {
		row := domain.LongRow{
			Date:           r.Date,
			Cohort:         r.Cohort,
			Segment:        r.Segment,
			Product:        r.Product,
			TotalAmount:    r.TotalAmount,
			TotalMerchants: r.TotalMerchants,
			AvgTicket:      r.AvgTicket,
		}
		if r.HasMonths {
			row.MonthsSinceRegister = domain.IntPtr(r.Months)
		}
		out.Rows[i] = row
	}
	return out
}

var (
	encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	decoder, _ = zstd.NewReader(nil)
)

func encode(env envelope) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(toWire(env)); err != nil {
		return nil, fmt.Errorf("gob encode: %w", err)
	}
	return encoder.EncodeAll(buf.Bytes(), nil), nil
}

func decode(data []byte) (envelope, error) {
	raw, err := decoder.DecodeAll(data, nil)
	if err != nil {
		return envelope{}, fmt.Errorf("zstd decode: %w", err)
	}
	var w wireEnvelope
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&w); err != nil {
		return envelope{}, fmt.Errorf("gob decode: %w", err)
	}
	return fromWire(w), nil
}

func copyRows(rows []domain.LongRow) []domain.LongRow {
	out := make([]domain.LongRow, len(rows))
	for i, r := range rows {
		if r.MonthsSinceRegister != nil {
			r.MonthsSinceRegister = domain.IntPtr(*r.MonthsSinceRegister)
		}
		out[i] = r
	}
	return out
}
