package persist

import (
	"context"
	"embed"
	"fmt"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
)

// migrationsDir holds the lifecycle journal and stats snapshot schema.
const migrationsDir = "migrations"

//go:embed migrations/*.sql
var migrations embed.FS

// Migrate brings the journal schema up to date and returns its version.
func (db *DB) Migrate(ctx context.Context) (int64, error) {
	goose.SetLogger(goose.NopLogger())
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return 0, fmt.Errorf("set dialect: %w", err)
	}

	sqlDB := stdlib.OpenDBFromPool(db.Pool)
	defer sqlDB.Close()

	before, err := goose.GetDBVersionContext(ctx, sqlDB)
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	if err := goose.UpContext(ctx, sqlDB, migrationsDir); err != nil {
		return before, fmt.Errorf("run migrations: %w", err)
	}
	after, err := goose.GetDBVersionContext(ctx, sqlDB)
	if err != nil {
		return before, fmt.Errorf("read schema version: %w", err)
	}
	if after != before {
		db.log.Info("journal schema migrated", zap.Int64("from", before), zap.Int64("to", after))
	}
	return after, nil
}
