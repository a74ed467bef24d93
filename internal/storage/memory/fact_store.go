package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"merchant-cohort-lab/internal/domain"
	"merchant-cohort-lab/internal/storage"
)

// FactStore is an in-memory implementation of storage.WritableFactStore.
type FactStore struct {
	mu      sync.RWMutex
	columns []string
	data    map[factKey]domain.WideRow
}

type factKey struct {
	date, cohort time.Time
	segment      string
}

// NewFactStore creates a new in-memory fact store.
func NewFactStore() *FactStore {
	return &FactStore{
		data: make(map[factKey]domain.WideRow),
	}
}

// Compile-time interface check.
var _ storage.WritableFactStore = (*FactStore)(nil)

// InsertBulk adds all rows atomically. The first insert fixes the column set;
// later inserts must carry the same columns.
func (s *FactStore) InsertBulk(_ context.Context, t *domain.WideTable) error {
	if t == nil {
		return storage.ErrInvalidInput
	}
	if err := t.Validate(); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}
	if len(t.Rows) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.columns != nil && !sameColumns(s.columns, t.Columns) {
		return fmt.Errorf("%w: column set differs from stored table", storage.ErrInvalidInput)
	}

	for _, r := range t.Rows {
		if _, exists := s.data[keyOf(r)]; exists {
			return storage.ErrDuplicateKey
		}
	}

	copied := t.Clone()
	if s.columns == nil {
		s.columns = copied.Columns
	}
	for _, r := range copied.Rows {
		s.data[keyOf(r)] = r
	}
	return nil
}

// Load returns a deep copy of the table ordered by (date, cohort, segment).
func (s *FactStore) Load(_ context.Context) (*domain.WideTable, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.snapshot(), nil
}

// Columns returns the metric column names.
func (s *FactStore) Columns(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]string(nil), s.columns...), nil
}

// Stats returns row count, max date and content hash.
func (s *FactStore) Stats(_ context.Context) (domain.TableStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return storage.TableStats(s.snapshot()), nil
}

func (s *FactStore) snapshot() *domain.WideTable {
	t := &domain.WideTable{
		Columns: s.columns,
		Rows:    make([]domain.WideRow, 0, len(s.data)),
	}
	for _, r := range s.data {
		t.Rows = append(t.Rows, r)
	}
	out := t.Clone()
	out.Sort()
	return out
}

func keyOf(r domain.WideRow) factKey {
	return factKey{date: r.Date.UTC(), cohort: r.Cohort.UTC(), segment: r.Segment}
}

func sameColumns(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
