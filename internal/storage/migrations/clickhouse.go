package migrations

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"merchant-cohort-lab/internal/storage"
	chstore "merchant-cohort-lab/internal/storage/clickhouse"
)

// RunClickhouseMigrations creates the DSN's database if needed, applies every
// embedded migration and returns a connection to that database.
func RunClickhouseMigrations(ctx context.Context, dsn string) (*chstore.Conn, error) {
	db, err := databaseFromDSN(dsn)
	if err != nil {
		return nil, err
	}
	if err := ensureDatabase(ctx, dsn, db); err != nil {
		return nil, err
	}

	migrations, err := Clickhouse()
	if err != nil {
		return nil, err
	}

	conn, err := chstore.NewConnWithDatabase(ctx, dsn, db)
	if err != nil {
		return nil, fmt.Errorf("connect clickhouse db: %w", err)
	}
	for _, m := range migrations {
		for _, stmt := range m.Statements {
			if err := conn.Exec(ctx, stmt); err != nil {
				conn.Close()
				return nil, fmt.Errorf("apply migration %s: %w", m.Name, err)
			}
		}
	}
	return conn, nil
}

// ensureDatabase runs CREATE DATABASE on a connection to the server default database.
func ensureDatabase(ctx context.Context, dsn, db string) error {
	if err := storage.ValidateIdentifier(db); err != nil {
		return fmt.Errorf("clickhouse database name: %w", err)
	}

	admin, err := chstore.NewConnWithDatabase(ctx, dsn, "")
	if err != nil {
		return fmt.Errorf("connect clickhouse admin: %w", err)
	}
	defer admin.Close()

	if err := admin.Exec(ctx, "CREATE DATABASE IF NOT EXISTS "+db); err != nil {
		return fmt.Errorf("create database %s: %w", db, err)
	}
	return nil
}

func databaseFromDSN(dsn string) (string, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("parse clickhouse dsn: %w", err)
	}
	db := strings.TrimPrefix(u.Path, "/")
	if db == "" {
		return "", fmt.Errorf("clickhouse dsn missing database")
	}
	return db, nil
}
