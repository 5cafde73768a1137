package storage

import (
	"context"
	"database/sql"
	"fmt"
)

var sqliteMigrations = []string{
	// 1: alert ledger
	`CREATE TABLE IF NOT EXISTS alert_ledger (
		alert_key   TEXT PRIMARY KEY,
		sent        INTEGER NOT NULL DEFAULT 1,
		recorded_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`,
}

const postgresSchemaSQL = `CREATE TABLE IF NOT EXISTS alert_ledger (
    alert_key   TEXT PRIMARY KEY,
    sent        BOOLEAN NOT NULL DEFAULT TRUE,
    recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`

// runSQLiteMigrations applies pending schema migrations.
func runSQLiteMigrations(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		return fmt.Errorf("create migration table: %w", err)
	}

	var current int
	if err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("check migration version: %w", err)
	}

	for i := current; i < len(sqliteMigrations); i++ {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", i+1, err)
		}
		if _, err := tx.ExecContext(ctx, sqliteMigrations[i]); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("run migration %d: %w", i+1, err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (?)", i+1); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %d: %w", i+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", i+1, err)
		}
	}
	return nil
}
