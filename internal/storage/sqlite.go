package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"flight-price-alerts/internal/ledger"
)

// SQLite stores the ledger in a local SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens or creates the database at path and applies migrations.
func NewSQLite(ctx context.Context, path string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite allows a single writer at a time.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	if err := runSQLiteMigrations(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

func (s *SQLite) Load(ctx context.Context) (ledger.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT alert_key FROM alert_ledger WHERE sent = 1`)
	if err != nil {
		return nil, fmt.Errorf("query ledger: %w", err)
	}
	defer rows.Close()

	snap := make(ledger.Snapshot)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan ledger row: %w", err)
		}
		snap[ledger.Key(key)] = true
	}
	return snap, rows.Err()
}

// Save replaces the table contents in one transaction.
func (s *SQLite) Save(ctx context.Context, snap ledger.Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin ledger save: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM alert_ledger`); err != nil {
		return fmt.Errorf("clear ledger: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO alert_ledger (alert_key, sent) VALUES (?, 1)`)
	if err != nil {
		return fmt.Errorf("prepare ledger insert: %w", err)
	}
	defer stmt.Close()

	for _, k := range sentKeys(snap) {
		if _, err := stmt.ExecContext(ctx, string(k)); err != nil {
			return fmt.Errorf("insert ledger key: %w", err)
		}
	}
	return tx.Commit()
}

// Append inserts a single key; an existing key is left untouched.
func (s *SQLite) Append(ctx context.Context, key ledger.Key) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO alert_ledger (alert_key, sent) VALUES (?, 1)
		 ON CONFLICT(alert_key) DO NOTHING`, string(key))
	if err != nil {
		return fmt.Errorf("append ledger key: %w", err)
	}
	return nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

var (
	_ ledger.Backend  = (*SQLite)(nil)
	_ ledger.Appender = (*SQLite)(nil)
)
