package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"merchant-cohort-lab/internal/storage"
)

// ApplicationName tags report connections in pg_stat_activity.
const ApplicationName = "cohortlab"

// Reads are one full-table scan per run; a small pool is enough.
const defaultMaxConns = 4

// Pool is the pgx pool shared by the fact store and the migrations.
type Pool struct {
	*pgxpool.Pool
}

// NewPool connects and pings. pool_max_conns and application_name in the DSN
// take precedence over the defaults.
func NewPool(ctx context.Context, dsn string) (*Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if !strings.Contains(dsn, "pool_max_conns") {
		cfg.MaxConns = defaultMaxConns
	}
	if _, ok := cfg.ConnConfig.RuntimeParams["application_name"]; !ok {
		cfg.ConnConfig.RuntimeParams["application_name"] = ApplicationName
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Pool{Pool: pool}, nil
}

// Close closes the connection pool.
func (p *Pool) Close() {
	p.Pool.Close()
}

// PostgreSQL error codes mapped onto storage sentinels.
const (
	pgErrUniqueViolation = "23505"
	pgErrCheckViolation  = "23514"
	pgErrUndefinedTable  = "42P01"
)

// translateError maps a Postgres error onto the storage sentinel errors so
// callers can use errors.Is. Unrecognised errors are wrapped with op.
func translateError(err error, op, table string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgErrUniqueViolation:
			return fmt.Errorf("%w: %s", storage.ErrDuplicateKey, pgErr.ConstraintName)
		case pgErrCheckViolation:
			return fmt.Errorf("%w: %s violates %s", storage.ErrInvalidInput, table, pgErr.ConstraintName)
		case pgErrUndefinedTable:
			return fmt.Errorf("%w: table %s", storage.ErrNotFound, table)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
