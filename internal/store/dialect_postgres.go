package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PostgresDialect implements Dialect for PostgreSQL via pgx/stdlib.
type PostgresDialect struct{}

func (d *PostgresDialect) Name() string       { return "postgres" }
func (d *PostgresDialect) DriverName() string { return "pgx" }

func (d *PostgresDialect) Placeholder(index int) string {
	return fmt.Sprintf("$%d", index)
}

func (d *PostgresDialect) NewParamBuilder() ParamBuilder {
	return &pgParamBuilder{}
}

func (d *PostgresDialect) SchemaSQL() string {
	return pgSchemaSQL
}

func (d *PostgresDialect) TableExists(ctx context.Context, db *sql.DB, tableName string) (bool, error) {
	var exists bool
	err := db.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = 'public' AND table_name = $1)",
		tableName,
	).Scan(&exists)
	return exists, err
}

func (d *PostgresDialect) MapError(err error) error {
	if err == nil {
		return nil
	}
	// With pgx/stdlib, the underlying error message includes the PG code
	errStr := err.Error()
	if strings.Contains(errStr, "23505") || strings.Contains(errStr, "unique constraint") || strings.Contains(errStr, "duplicate key") {
		return fmt.Errorf("%w: %w", ErrUniqueViolation, err)
	}
	return err
}

// --- PostgreSQL DDL ---

const pgSchemaSQL = `
CREATE TABLE IF NOT EXISTS components (
    component_key TEXT PRIMARY KEY,
    repository    TEXT NOT NULL,
    namespace     TEXT NOT NULL DEFAULT '',
    name          TEXT NOT NULL,
    version       TEXT NOT NULL,
    created       TIMESTAMPTZ NOT NULL,
    UNIQUE (repository, namespace, name, version)
);
CREATE INDEX IF NOT EXISTS idx_components_repository_key ON components (repository, component_key);

CREATE TABLE IF NOT EXISTS component_tags (
    component_key TEXT NOT NULL REFERENCES components(component_key) ON DELETE CASCADE,
    tag           TEXT NOT NULL,
    attributes    TEXT NOT NULL DEFAULT '{}',
    PRIMARY KEY (component_key, tag)
);

CREATE TABLE IF NOT EXISTS component_assets (
    component_key TEXT NOT NULL REFERENCES components(component_key) ON DELETE CASCADE,
    position      INTEGER NOT NULL,
    path          TEXT NOT NULL,
    content_type  TEXT NOT NULL DEFAULT '',
    size          BIGINT NOT NULL DEFAULT 0,
    blob_ref      TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (component_key, path)
);

CREATE TABLE IF NOT EXISTS content_selectors (
    name        TEXT PRIMARY KEY,
    expression  TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    updated_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS deploy_runs (
    id          TEXT PRIMARY KEY,
    task        TEXT NOT NULL,
    repository  TEXT NOT NULL,
    filter      TEXT NOT NULL DEFAULT '',
    selector    TEXT NOT NULL DEFAULT '',
    status      TEXT NOT NULL,
    error       TEXT NOT NULL DEFAULT '',
    pages       INTEGER NOT NULL DEFAULT 0,
    seen        INTEGER NOT NULL DEFAULT 0,
    to_deploy   INTEGER NOT NULL DEFAULT 0,
    failures    INTEGER NOT NULL DEFAULT 0,
    watermark   BIGINT NOT NULL DEFAULT 0,
    started_at  TIMESTAMPTZ NOT NULL,
    finished_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_deploy_runs_task ON deploy_runs (task, started_at);
`
