package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/loykin/xpol/internal/store"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// DB implements store.Backend for SQLite (modernc.org/sqlite driver, CGO-free).
// DSN is a filesystem path to the SQLite database file. Use ":memory:" for in-memory.
// created is stored as unix nanoseconds.
type DB struct {
	db *sql.DB
	q  querier
	tx bool
}

// New opens a SQLite database at path.
func New(path string) (*DB, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	d, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	// One connection: ":memory:" databases are per connection and writers
	// are already serialized by the store lock.
	d.SetMaxOpenConns(1)
	// busy timeout helps when several store processes share one file
	_, _ = d.Exec("PRAGMA busy_timeout=3000;")
	return &DB{db: d, q: d}, nil
}

func (s *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS xpolgenes(
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			poolid INTEGER NOT NULL DEFAULT 0,
			genes BLOB NOT NULL,
			created INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_xpolgenes_created ON xpolgenes(created);`,
	}
	for _, q := range stmts {
		if _, err := s.q.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *DB) Insert(ctx context.Context, rec store.Record) error {
	genes := rec.Genes
	if genes == nil {
		genes = []byte{}
	}
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO xpolgenes(poolid, genes, created) VALUES(?, ?, ?);`,
		rec.PoolID, genes, rec.Created.UnixNano())
	return err
}

func (s *DB) RandomSince(ctx context.Context, pool int, cutoff time.Time) (store.Record, bool, error) {
	var (
		rec     = store.Record{PoolID: pool}
		created int64
	)
	err := s.q.QueryRowContext(ctx, `
		SELECT genes, created FROM xpolgenes
		WHERE poolid = ? AND created > ?
		ORDER BY RANDOM() LIMIT 1;`, pool, cutoff.UnixNano()).Scan(&rec.Genes, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Record{}, false, nil
	}
	if err != nil {
		return store.Record{}, false, err
	}
	if rec.Genes == nil {
		rec.Genes = []byte{}
	}
	rec.Created = time.Unix(0, created)
	return rec, true, nil
}

func (s *DB) DeleteThrough(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.q.ExecContext(ctx, `DELETE FROM xpolgenes WHERE created <= ?;`, cutoff.UnixNano())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *DB) Count(ctx context.Context) (int, error) {
	var n int
	err := s.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM xpolgenes;`).Scan(&n)
	return n, err
}

func (s *DB) WithTx(ctx context.Context, fn func(store.Backend) error) error {
	if s.tx {
		return fn(s)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(&DB{db: s.db, q: tx, tx: true}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *DB) Close() error {
	if s.tx {
		return errors.New("close inside transaction")
	}
	return s.db.Close()
}

var _ store.Backend = (*DB)(nil)
