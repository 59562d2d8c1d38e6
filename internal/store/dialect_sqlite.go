package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// SQLiteDialect implements Dialect for SQLite via modernc.org/sqlite.
type SQLiteDialect struct{}

func (d *SQLiteDialect) Name() string       { return "sqlite" }
func (d *SQLiteDialect) DriverName() string { return "sqlite" }

func (d *SQLiteDialect) Placeholder(index int) string {
	return fmt.Sprintf("?%d", index)
}

func (d *SQLiteDialect) NewParamBuilder() ParamBuilder {
	return &sqliteParamBuilder{}
}

func (d *SQLiteDialect) SchemaSQL() string {
	return sqliteSchemaSQL
}

func (d *SQLiteDialect) TableExists(ctx context.Context, db *sql.DB, tableName string) (bool, error) {
	var name string
	err := db.QueryRowContext(ctx,
		"SELECT name FROM sqlite_master WHERE type='table' AND name=?1",
		tableName,
	).Scan(&name)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (d *SQLiteDialect) MapError(err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("%w: %w", ErrUniqueViolation, err)
	}
	return err
}

// --- SQLite DDL ---

const sqliteSchemaSQL = `
CREATE TABLE IF NOT EXISTS components (
    component_key TEXT PRIMARY KEY,
    repository    TEXT NOT NULL,
    namespace     TEXT NOT NULL DEFAULT '',
    name          TEXT NOT NULL,
    version       TEXT NOT NULL,
    created       TIMESTAMP NOT NULL,
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
    size          INTEGER NOT NULL DEFAULT 0,
    blob_ref      TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (component_key, path)
);

CREATE TABLE IF NOT EXISTS content_selectors (
    name        TEXT PRIMARY KEY,
    expression  TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    updated_at  TIMESTAMP NOT NULL
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
    watermark   INTEGER NOT NULL DEFAULT 0,
    started_at  TIMESTAMP NOT NULL,
    finished_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_deploy_runs_task ON deploy_runs (task, started_at);
`
