package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/loykin/xpol/internal/store"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// DB implements store.Backend on PostgreSQL through the pgx stdlib driver.
type DB struct {
	db *sql.DB
	q  querier
	tx bool
}

func New(dsn string) (*DB, error) {
	d, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &DB{db: d, q: d}, nil
}

func (p *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS xpolgenes(
			id BIGSERIAL PRIMARY KEY,
			poolid INTEGER NOT NULL DEFAULT 0,
			genes BYTEA NOT NULL,
			created TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_xpolgenes_created ON xpolgenes(created);`,
	}
	for _, q := range stmts {
		if _, err := p.q.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (p *DB) Insert(ctx context.Context, rec store.Record) error {
	genes := rec.Genes
	if genes == nil {
		genes = []byte{}
	}
	_, err := p.q.ExecContext(ctx,
		`INSERT INTO xpolgenes(poolid, genes, created) VALUES($1, $2, $3);`,
		rec.PoolID, genes, rec.Created.UTC())
	return err
}

func (p *DB) RandomSince(ctx context.Context, pool int, cutoff time.Time) (store.Record, bool, error) {
	rec := store.Record{PoolID: pool}
	err := p.q.QueryRowContext(ctx, `
		SELECT genes, created FROM xpolgenes
		WHERE poolid = $1 AND created > $2
		ORDER BY random() LIMIT 1;`, pool, cutoff.UTC()).Scan(&rec.Genes, &rec.Created)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Record{}, false, nil
	}
	if err != nil {
		return store.Record{}, false, err
	}
	if rec.Genes == nil {
		rec.Genes = []byte{}
	}
	return rec, true, nil
}

func (p *DB) DeleteThrough(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := p.q.ExecContext(ctx, `DELETE FROM xpolgenes WHERE created <= $1;`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (p *DB) Count(ctx context.Context) (int, error) {
	var n int
	err := p.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM xpolgenes;`).Scan(&n)
	return n, err
}

func (p *DB) WithTx(ctx context.Context, fn func(store.Backend) error) error {
	if p.tx {
		return fn(p)
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(&DB{db: p.db, q: tx, tx: true}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (p *DB) Close() error {
	if p.tx {
		return errors.New("close inside transaction")
	}
	return p.db.Close()
}

var _ store.Backend = (*DB)(nil)
