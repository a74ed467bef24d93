package migrations

import (
	"context"
	"fmt"

	"merchant-cohort-lab/internal/storage/postgres"
)

// RunPostgresMigrations applies every embedded migration in one transaction.
// Migrations are idempotent (CREATE ... IF NOT EXISTS).
func RunPostgresMigrations(ctx context.Context, pool *postgres.Pool) error {
	migrations, err := Postgres()
	if err != nil {
		return err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin migrations: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, m := range migrations {
		for _, stmt := range m.Statements {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("apply migration %s: %w", m.Name, err)
			}
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit migrations: %w", err)
	}
	return nil
}
