package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

// PostgresRepository stores issued records in the issued_tokens table as jsonb
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository applies pending migrations and returns the repository
func NewPostgresRepository(ctx context.Context, pool *pgxpool.Pool) (*PostgresRepository, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, WrapBackendError(err, "failed to ping database")
	}
	if err := Migrate(pool); err != nil {
		return nil, err
	}
	return &PostgresRepository{pool: pool}, nil
}

// Migrate applies the embedded goose migrations
func Migrate(pool *pgxpool.Pool) error {
	// Convert pgx pool to database/sql interface that Goose expects
	var db *sql.DB = stdlib.OpenDBFromPool(pool)
	defer db.Close()

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return WrapBackendError(err, "failed to set goose dialect")
	}

	if err := goose.Up(db, "migrations"); err != nil {
		return WrapBackendError(err, "failed to apply migrations")
	}
	return nil
}

// Close closes the pool. The pool is owned by the repository once it is opened.
func (p *PostgresRepository) Close() error {
	p.pool.Close()
	return nil
}

func (p *PostgresRepository) Get(ctx context.Context, id string) (*IssuedRecord, error) {
	var data []byte
	err := p.pool.QueryRow(ctx, `
SELECT record
FROM issued_tokens
WHERE transaction_id=$1
`, id).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, NewNotFoundError(id)
		}
		return nil, WrapBackendError(err, "failed to read record")
	}
	return decodeRecord(data)
}

func (p *PostgresRepository) Put(ctx context.Context, rec *IssuedRecord) error {
	data, err := encodeRecord(rec)
	if err != nil {
		return err
	}

	_, err = p.pool.Exec(ctx, `
INSERT INTO issued_tokens(transaction_id, record, updated_at)
VALUES($1, $2::jsonb, $3)
ON CONFLICT (transaction_id)
DO UPDATE SET record=EXCLUDED.record, updated_at=EXCLUDED.updated_at
`, rec.ID(), string(data), time.Now().UTC())
	if err != nil {
		return WrapBackendError(err, "failed to write record")
	}
	return nil
}

func (p *PostgresRepository) Delete(ctx context.Context, id string) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM issued_tokens WHERE transaction_id=$1`, id); err != nil {
		return WrapBackendError(err, "failed to delete record")
	}
	return nil
}

func (p *PostgresRepository) List(ctx context.Context) ([]*IssuedRecord, error) {
	rows, err := p.pool.Query(ctx, `
SELECT record
FROM issued_tokens
ORDER BY transaction_id
`)
	if err != nil {
		return nil, WrapBackendError(err, "failed to list records")
	}
	defer rows.Close()

	out := []*IssuedRecord{}
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, WrapBackendError(err, "failed to scan record")
		}
		rec, err := decodeRecord(data)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, WrapBackendError(err, "failed to list records")
	}
	return out, nil
}
