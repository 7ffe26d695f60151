package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"sort"

	"github.com/tendant/simple-tokens/migrations"
)

// Migrate applies the embedded migrations for dialect that have not been
// applied yet. Applied versions are recorded in schema_migrations.
func Migrate(ctx context.Context, db *sql.DB, dialect Dialect) ([]string, error) {
	migrationFS, err := migrations.FS(string(dialect))
	if err != nil {
		return nil, fmt.Errorf("failed to load migrations: %w", err)
	}

	names, err := fs.Glob(migrationFS, "*.sql")
	if err != nil {
		return nil, fmt.Errorf("failed to list migrations: %w", err)
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("no migrations for dialect %q", dialect)
	}
	sort.Strings(names)

	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY
		)
	`); err != nil {
		return nil, fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	r := &TokensRepository{dialect: dialect}
	var applied []string
	for _, name := range names {
		var version string
		err := db.QueryRowContext(ctx, r.rebind(`SELECT version FROM schema_migrations WHERE version = $1`), name).Scan(&version)
		if err == nil {
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return applied, fmt.Errorf("failed to check migration %s: %w", name, err)
		}

		body, err := fs.ReadFile(migrationFS, name)
		if err != nil {
			return applied, fmt.Errorf("failed to read migration %s: %w", name, err)
		}

		err = Tx(ctx, db, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, string(body)); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx, r.rebind(`INSERT INTO schema_migrations (version) VALUES ($1)`), name)
			return err
		})
		if err != nil {
			return applied, fmt.Errorf("failed to apply migration %s: %w", name, err)
		}
		applied = append(applied, name)
	}

	return applied, nil
}

// ValidateSchema checks that the tokens table exists.
func ValidateSchema(ctx context.Context, db *sql.DB, dialect Dialect) error {
	var query string
	switch dialect {
	case DialectPostgres:
		query = `SELECT table_name FROM information_schema.tables WHERE table_schema = 'public' AND table_name = $1`
	case DialectSQLite:
		query = `SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`
	default:
		return fmt.Errorf("unsupported dialect %q", dialect)
	}

	var name string
	err := db.QueryRowContext(ctx, query, "tokens").Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return errors.New("missing table 'tokens' - run migrations first")
	}
	if err != nil {
		return fmt.Errorf("failed to check schema: %w", err)
	}
	return nil
}
