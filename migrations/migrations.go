// Package migrations embeds the goose SQL migrations so binaries and
// integration tests apply the same schema without a checkout on disk.
package migrations

import (
	"context"
	"database/sql"
	"embed"

	"github.com/pressly/goose/v3"
)

//go:embed *.sql
var FS embed.FS

// Dir is the directory name goose resolves inside FS.
const Dir = "."

// Setup points goose at the embedded files.
func Setup() error {
	goose.SetBaseFS(FS)
	return goose.SetDialect("postgres")
}

// Up applies every pending migration.
func Up(ctx context.Context, db *sql.DB) error {
	if err := Setup(); err != nil {
		return err
	}
	return goose.UpContext(ctx, db, Dir)
}
