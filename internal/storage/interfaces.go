package storage

import (
	"context"

	"merchant-cohort-lab/internal/domain"
)

// FactStore provides read access to the wide merchant cohort fact table.
type FactStore interface {
	// Load returns the whole table ordered by (date, cohort, segment).
	// Missing metric values are NaN.
	Load(ctx context.Context) (*domain.WideTable, error)

	// Columns returns the metric column names in source order.
	Columns(ctx context.Context) ([]string, error)

	// Stats summarises the table for cache invalidation.
	Stats(ctx context.Context) (domain.TableStats, error)
}

// WritableFactStore is implemented by stores that can be seeded with fixtures.
type WritableFactStore interface {
	FactStore

	// InsertBulk adds all rows atomically. Returns ErrDuplicateKey if any
	// (date, cohort, segment) key already exists, ErrInvalidInput if the
	// table fails validation.
	InsertBulk(ctx context.Context, t *domain.WideTable) error
}
