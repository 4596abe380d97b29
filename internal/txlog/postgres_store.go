package txlog

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists records in a PostgreSQL table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS transaction_journal (
    key TEXT PRIMARY KEY,
    tx_hash TEXT NOT NULL,
    method TEXT NOT NULL,
    contract TEXT NOT NULL,
    sender TEXT NOT NULL,
    status TEXT NOT NULL,
    block BIGINT NOT NULL,
    error TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL,
    expires_at TIMESTAMPTZ NOT NULL
);
`

const selectColumns = `tx_hash, method, contract, sender, status, block, error, created_at, expires_at`

// NewPostgresStore connects to Postgres using the DSN and ensures the table exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is empty")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	if _, err := pool.Exec(ctx, createTableSQL); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func (p *PostgresStore) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *PostgresStore) Get(ctx context.Context, key string) (*Record, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+selectColumns+` FROM transaction_journal WHERE key = $1`, key)

	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	if rec.expired(time.Now()) {
		go p.deleteKey(context.Background(), key)
		return nil, nil
	}
	return &rec, nil
}

func (p *PostgresStore) Save(ctx context.Context, key string, record Record) error {
	_, err := p.pool.Exec(ctx, `
INSERT INTO transaction_journal (key, tx_hash, method, contract, sender, status, block, error, created_at, expires_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (key) DO UPDATE
SET tx_hash = EXCLUDED.tx_hash,
    method = EXCLUDED.method,
    contract = EXCLUDED.contract,
    sender = EXCLUDED.sender,
    status = EXCLUDED.status,
    block = EXCLUDED.block,
    error = EXCLUDED.error,
    created_at = EXCLUDED.created_at,
    expires_at = EXCLUDED.expires_at
`, key, record.TxHash, record.Method, record.Contract, record.From, record.Status,
		int64(record.Block), record.Error, record.CreatedAt, record.ExpiresAt)
	return err
}

func (p *PostgresStore) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.pool.Query(ctx, `
SELECT `+selectColumns+`
FROM transaction_journal
WHERE expires_at > now()
ORDER BY created_at DESC
LIMIT $1
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanRecord(row pgx.Row) (Record, error) {
	var (
		rec   Record
		block int64
	)
	err := row.Scan(&rec.TxHash, &rec.Method, &rec.Contract, &rec.From, &rec.Status,
		&block, &rec.Error, &rec.CreatedAt, &rec.ExpiresAt)
	rec.Block = uint64(block)
	return rec, err
}

func (p *PostgresStore) deleteKey(ctx context.Context, key string) {
	_, _ = p.pool.Exec(ctx, `DELETE FROM transaction_journal WHERE key = $1`, key)
}
