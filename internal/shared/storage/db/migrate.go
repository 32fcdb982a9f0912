package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"

	"github.com/pressly/goose/v3"
)

const migrationsDir = "migrations"

// Schema for the session store (dashboard_sessions) and the job event
// audit (qc_job_events).
//
//go:embed migrations/*.sql
var migrationFiles embed.FS

func useEmbedded() error {
	goose.SetBaseFS(migrationFiles)
	return goose.SetDialect("postgres")
}

// RunMigrations brings the schema to the latest version. A nil database
// means sessions are kept in memory and there is nothing to migrate.
func RunMigrations(ctx context.Context, database *sql.DB) error {
	if database == nil {
		return nil
	}
	if err := useEmbedded(); err != nil {
		return err
	}
	return goose.UpContext(ctx, database, migrationsDir)
}

// MigrateTo moves the schema up or down until it is at version.
func MigrateTo(ctx context.Context, database *sql.DB, version int64) error {
	if database == nil {
		return fmt.Errorf("migrate to %d: no database configured", version)
	}
	current, err := SchemaVersion(ctx, database)
	if err != nil {
		return err
	}
	if version >= current {
		return goose.UpToContext(ctx, database, migrationsDir, version)
	}
	return goose.DownToContext(ctx, database, migrationsDir, version)
}

// SchemaVersion reports the last applied migration version.
func SchemaVersion(ctx context.Context, database *sql.DB) (int64, error) {
	if err := useEmbedded(); err != nil {
		return 0, err
	}
	v, err := goose.GetDBVersionContext(ctx, database)
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return v, nil
}

// Migrations lists the embedded migration files in apply order.
func Migrations() ([]string, error) {
	names, err := fs.Glob(migrationFiles, migrationsDir+"/*.sql")
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}
