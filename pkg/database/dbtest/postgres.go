// Package dbtest starts a throwaway Postgres for repository integration tests.
package dbtest

import (
	"context"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"go.uber.org/zap"

	"github.com/JiscPER/jper-sub000/pkg/database"
)

// Logger returns a logger that discards everything
func Logger() ectologger.Logger {
	return zapadapter.NewZapEctoLogger(zap.NewNop(), nil)
}

// MigrationFolder returns the absolute path of the router's Postgres migrations
func MigrationFolder() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "..", "..", "..", "db", "pg")
}

// NewPostgres starts a Postgres container with every migration applied. The test is
// skipped in short mode.
func NewPostgres(t *testing.T) database.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}

	ctx := context.Background()
	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("router"),
		tcpostgres.WithUsername("router"),
		tcpostgres.WithPassword("router"),
		tcpostgres.BasicWaitStrategies(),
	)
	require.NoError(t, err, "failed to start postgres container")
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(container) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	conn, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	require.NoError(t, err, "failed to connect to test database")

	logger := Logger()
	db := database.NewDatabaseInstance(conn, logger)
	t.Cleanup(func() { _ = db.Close() })

	migrations := database.NewMigrationService(logger, database.MigrationConfig{
		MigrationFolderPath: MigrationFolder(),
	})
	require.NoError(t, migrations.Migrate(db))
	return db
}
