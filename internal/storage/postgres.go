package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"flight-price-alerts/internal/config"
	"flight-price-alerts/internal/ledger"
)

const (
	loadLedgerSQL = `SELECT alert_key
    FROM alert_ledger
    WHERE sent
    ORDER BY alert_key;`

	appendLedgerSQL = `INSERT INTO alert_ledger (alert_key, sent)
    VALUES ($1, TRUE)
    ON CONFLICT (alert_key) DO NOTHING;`

	clearLedgerSQL = `DELETE FROM alert_ledger;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// NewPool configures a PostgreSQL connection pool from runtime settings.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}

	return pool, nil
}

// Postgres stores the ledger in the alert_ledger table.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres wires a pgx pool into a ledger backend and ensures the schema exists.
func NewPostgres(ctx context.Context, pool *pgxpool.Pool) (*Postgres, error) {
	p := &Postgres{pool: pool}
	if _, err := p.pool.Exec(ctx, postgresSchemaSQL); err != nil {
		return nil, fmt.Errorf("ensure ledger schema: %w", err)
	}
	return p, nil
}

// Close releases the underlying pool resources.
func (p *Postgres) Close() error {
	if p == nil || p.pool == nil {
		return nil
	}
	p.pool.Close()
	return nil
}

func (p *Postgres) getPool() (*pgxpool.Pool, error) {
	if p == nil || p.pool == nil {
		return nil, ErrNotConfigured
	}
	return p.pool, nil
}

func (p *Postgres) Load(ctx context.Context) (ledger.Snapshot, error) {
	pool, err := p.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, loadLedgerSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("load ledger: %w", queryErr)
	}
	keys, collectErr := pgx.CollectRows(rows, pgx.RowTo[string])
	if collectErr != nil {
		return nil, fmt.Errorf("scan ledger: %w", collectErr)
	}

	snap := make(ledger.Snapshot, len(keys))
	for _, k := range keys {
		snap[ledger.Key(k)] = true
	}
	return snap, nil
}

// Save replaces the table contents in one transaction using COPY.
func (p *Postgres) Save(ctx context.Context, snap ledger.Snapshot) error {
	pool, err := p.getPool()
	if err != nil {
		return err
	}

	keys := sentKeys(snap)
	rows := make([][]any, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, []any{string(k), true})
	}

	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, clearLedgerSQL); err != nil {
			return fmt.Errorf("clear ledger: %w", err)
		}
		if len(rows) == 0 {
			return nil
		}
		if _, err := tx.CopyFrom(ctx, pgx.Identifier{"alert_ledger"}, []string{"alert_key", "sent"}, pgx.CopyFromRows(rows)); err != nil {
			return fmt.Errorf("copy ledger: %w", err)
		}
		return nil
	})
}

// Append inserts one key; repeated keys are ignored.
func (p *Postgres) Append(ctx context.Context, key ledger.Key) error {
	pool, err := p.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, appendLedgerSQL, string(key)); execErr != nil {
		return fmt.Errorf("append ledger key: %w", execErr)
	}
	return nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (p *Postgres) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := p.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// a failed unlock is released with the session when the connection closes
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

var (
	_ ledger.Backend  = (*Postgres)(nil)
	_ ledger.Appender = (*Postgres)(nil)
	_ AdvisoryLocker  = (*Postgres)(nil)
)
