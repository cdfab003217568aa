// Package testutil provides shared test infrastructure for integration tests.
package testutil

import (
	"context"
	"database/sql"
	"os"
	"strings"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/carehub/platform/migrations"
)

// PGTest opens a test database connection, applies the embedded goose
// migrations, and returns the *sql.DB plus a cleanup function.
//
// Tests should call this at the top:
//
//	db, cleanup := testutil.PGTest(t)
//	defer cleanup()
//
// The database comes from POSTGRES_URL. When it is unset and
// TESTCONTAINERS=1, a throwaway postgres container is started instead;
// otherwise the test is skipped. Cleanup truncates all application tables.
func PGTest(t *testing.T) (*sql.DB, func()) {
	t.Helper()

	ctx := context.Background()
	dbURL := os.Getenv("POSTGRES_URL")
	var terminate func()

	if dbURL == "" {
		if os.Getenv("TESTCONTAINERS") != "1" {
			t.Skip("POSTGRES_URL not set, skipping integration test")
		}
		dbURL, terminate = startContainer(ctx, t)
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		t.Fatalf("pgtest: open database: %v", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		t.Fatalf("pgtest: connect to database: %v", err)
	}

	if err := migrations.Up(ctx, db); err != nil {
		_ = db.Close()
		t.Fatalf("pgtest: run migrations: %v", err)
	}

	cleanup := func() {
		truncateAll(ctx, db)
		_ = db.Close()
		if terminate != nil {
			terminate()
		}
	}

	return db, cleanup
}

func startContainer(ctx context.Context, t *testing.T) (string, func()) {
	t.Helper()

	ctr, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("carehub_test"),
		tcpostgres.WithUsername("carehub"),
		tcpostgres.WithPassword("carehub"),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Fatalf("pgtest: start postgres container: %v", err)
	}

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = testcontainers.TerminateContainer(ctr)
		t.Fatalf("pgtest: container dsn: %v", err)
	}

	return dsn, func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = ctr.Terminate(stopCtx)
	}
}

// truncateAll empties every application table between tests. The goose
// version table and the append-only audit trigger are bypassed: TRUNCATE
// does not fire row-level triggers.
func truncateAll(ctx context.Context, db *sql.DB) {
	rows, err := db.QueryContext(ctx, `
		SELECT tablename FROM pg_tables
		WHERE schemaname = 'public'
		  AND tablename <> 'goose_db_version'
	`)
	if err != nil {
		return
	}
	defer func() { _ = rows.Close() }()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err == nil {
			tables = append(tables, name)
		}
	}

	if len(tables) > 0 {
		// Table names come from the pg_tables catalog, not user input.
		stmt := "TRUNCATE " + strings.Join(tables, ", ") + " CASCADE" // #nosec G202
		_, _ = db.ExecContext(ctx, stmt)
	}
}
