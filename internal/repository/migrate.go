package repository

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationsFS embed.FS

// Migrate applies every pending "NNN_name.up.sql" file for the current dialect, each in its
// own transaction together with its schema_migrations row.
func (db *DB) Migrate(ctx context.Context) error {
	dir := "migrations/postgres"
	if db.dialect == dialect.SQLite {
		dir = "migrations/sqlite"
	}

	const ddl = `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TIMESTAMP NOT NULL
	)`
	if err := db.drv.Exec(ctx, ddl, []any{}, nil); err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	current, err := db.schemaVersion(ctx)
	if err != nil {
		return err
	}

	entries, err := fs.ReadDir(migrationsFS, dir)
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	var upFiles []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".up.sql") {
			upFiles = append(upFiles, e.Name())
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}
		if version <= current {
			continue
		}
		content, err := fs.ReadFile(migrationsFS, dir+"/"+name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		if err := db.applyMigration(ctx, version, name, string(content)); err != nil {
			return err
		}
		db.logger.Info("migration applied", "version", version, "name", name)
	}
	return nil
}

func (db *DB) applyMigration(ctx context.Context, version int, name, body string) error {
	tx, err := db.drv.Tx(ctx)
	if err != nil {
		return fmt.Errorf("begin migration %s: %w", name, err)
	}
	if err := tx.Exec(ctx, body, []any{}, nil); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("executing migration %s: %w", name, err)
	}
	q, args := db.builder().Insert("schema_migrations").
		Columns("version", "name", "applied_at").
		Values(version, name, time.Now().UTC()).
		Query()
	if err := tx.Exec(ctx, q, args, nil); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("recording migration %s: %w", name, err)
	}
	return tx.Commit()
}

func (db *DB) schemaVersion(ctx context.Context) (int, error) {
	q, args := db.builder().
		Select("COALESCE(MAX(version), 0)").
		From(db.builder().Table("schema_migrations")).
		Query()
	rows := &entsql.Rows{}
	if err := db.drv.Query(ctx, q, args, rows); err != nil {
		return 0, fmt.Errorf("getting current version: %w", err)
	}
	defer rows.Close()
	var v int
	if rows.Next() {
		if err := rows.Scan(&v); err != nil {
			return 0, fmt.Errorf("getting current version: %w", err)
		}
	}
	return v, rows.Err()
}
