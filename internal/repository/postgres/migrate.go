package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// MigrationResult reports one migration file.
type MigrationResult struct {
	File    string
	Applied bool
	Err     error
}

// PendingMigrations lists the .sql files in dir, in name order.
func PendingMigrations(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir %s: %w", dir, err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

// Migrate applies every file in dir that schema_migrations does not list
// yet. Each file runs in its own transaction together with its bookkeeping
// row; a failing file is reported and stops the run.
func Migrate(ctx context.Context, db *sql.DB, dir string) ([]MigrationResult, error) {
	files, err := PendingMigrations(dir)
	if err != nil {
		return nil, err
	}

	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename   TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`); err != nil {
		return nil, fmt.Errorf("create schema_migrations: %w", err)
	}

	applied := map[string]bool{}
	rows, err := db.QueryContext(ctx, `SELECT filename FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("list applied migrations: %w", err)
	}
	for rows.Next() {
		var f string
		if err := rows.Scan(&f); err != nil {
			rows.Close()
			return nil, err
		}
		applied[f] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var results []MigrationResult
	for _, f := range files {
		if applied[f] {
			results = append(results, MigrationResult{File: f})
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, f))
		if err != nil {
			return results, fmt.Errorf("read %s: %w", f, err)
		}
		if strings.TrimSpace(string(data)) == "" {
			continue
		}
		if err := applyMigration(ctx, db, f, string(data)); err != nil {
			results = append(results, MigrationResult{File: f, Err: err})
			return results, fmt.Errorf("migration %s: %w", f, err)
		}
		results = append(results, MigrationResult{File: f, Applied: true})
	}
	return results, nil
}

func applyMigration(ctx context.Context, db *sql.DB, file, content string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, content); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (filename) VALUES ($1)`, file); err != nil {
		return err
	}
	return tx.Commit()
}
