package clickhouse_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcclickhouse "github.com/testcontainers/testcontainers-go/modules/clickhouse"

	"merchant-cohort-lab/internal/storage/clickhouse"
	"merchant-cohort-lab/internal/storage/migrations"
)

// setupTestDB creates a ClickHouse container, applies the embedded migrations
// and returns a connection to the test database.
func setupTestDB(t *testing.T) *clickhouse.Conn {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	container, err := tcclickhouse.Run(ctx,
		"clickhouse/clickhouse-server:24.1-alpine",
		tcclickhouse.WithUsername("default"),
		tcclickhouse.WithPassword("test"),
		tcclickhouse.WithDatabase("test"),
	)
	testcontainers.CleanupContainer(t, container)
	require.NoError(t, err)

	host, err := container.ConnectionHost(ctx)
	require.NoError(t, err)

	dsn := fmt.Sprintf("clickhouse://default:test@%s/cohorts", host)
	conn, err := migrations.RunClickhouseMigrations(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return conn
}
