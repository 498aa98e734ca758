package store

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/loykin/xpol/internal/lock"
	"github.com/loykin/xpol/internal/metrics"
)

// PoolID is the only pool the store serves.
const PoolID = 0

// DefaultRetention is the sliding window a record stays readable for.
const DefaultRetention = time.Hour

// Store operations, used in errors, logs and metrics.
const (
	OpFetch  = "fetch"
	OpSubmit = "submit"
	OpCount  = "count"
	OpPurge  = "purge"
)

// Record is one submitted gene payload. Records are never updated.
type Record struct {
	PoolID  int
	Genes   []byte
	Created time.Time
}

// Backend is a storage engine holding gene records.
type Backend interface {
	EnsureSchema(ctx context.Context) error
	Insert(ctx context.Context, rec Record) error
	// RandomSince returns one record of pool created strictly after cutoff,
	// chosen uniformly at random. found is false when none qualify.
	RandomSince(ctx context.Context, pool int, cutoff time.Time) (rec Record, found bool, err error)
	// DeleteThrough removes every record created at or before cutoff.
	DeleteThrough(ctx context.Context, cutoff time.Time) (int64, error)
	Count(ctx context.Context) (int, error)
	// WithTx runs fn against a transaction-scoped Backend; fn's error rolls back.
	WithTx(ctx context.Context, fn func(Backend) error) error
	Close() error
}

// Clock returns the current time.
type Clock func() time.Time

// Store serializes access to a Backend behind a Locker and applies the
// retention window. Expired records are removed only on submit or purge.
type Store struct {
	backend   Backend
	locker    lock.Locker
	now       Clock
	retention time.Duration
	logger    *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides time.Now.
func WithClock(c Clock) Option { return func(s *Store) { s.now = c } }

// WithRetention overrides DefaultRetention; non-positive values are ignored.
func WithRetention(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.retention = d
		}
	}
}

func WithLogger(l *slog.Logger) Option { return func(s *Store) { s.logger = l } }

// New returns a Store over backend. A nil locker means an in-process mutex.
func New(backend Backend, locker lock.Locker, opts ...Option) *Store {
	if locker == nil {
		locker = lock.NewMutex()
	}
	s := &Store{
		backend:   backend,
		locker:    locker,
		now:       time.Now,
		retention: DefaultRetention,
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Retention reports the configured window.
func (s *Store) Retention() time.Duration { return s.retention }

// Fetch returns a random payload from the retention window, or an empty
// payload when nothing qualifies.
func (s *Store) Fetch(ctx context.Context) ([]byte, error) {
	out := []byte{}
	err := s.locked(ctx, OpFetch, func(ctx context.Context, now time.Time) error {
		rec, found, err := s.backend.RandomSince(ctx, PoolID, now.Add(-s.retention))
		if err != nil {
			return err
		}
		if found {
			out = rec.Genes
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Submit stores payload and then removes expired records, in one
// transaction under one lock hold.
func (s *Store) Submit(ctx context.Context, payload []byte) error {
	if payload == nil {
		payload = []byte{}
	}
	return s.locked(ctx, OpSubmit, func(ctx context.Context, now time.Time) error {
		var removed int64
		err := s.backend.WithTx(ctx, func(tx Backend) error {
			if err := tx.Insert(ctx, Record{PoolID: PoolID, Genes: payload, Created: now}); err != nil {
				return err
			}
			n, err := tx.DeleteThrough(ctx, now.Add(-s.retention))
			removed = n
			return err
		})
		if err != nil {
			return err
		}
		metrics.AddPurged(removed)
		s.logger.Debug("genes stored", "bytes", len(payload), "expired", removed)
		return nil
	})
}

// Count returns the number of stored records, expired ones included.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.locked(ctx, OpCount, func(ctx context.Context, _ time.Time) error {
		var err error
		n, err = s.backend.Count(ctx)
		return err
	})
	return n, err
}

// Purge removes expired records without inserting anything.
func (s *Store) Purge(ctx context.Context) (int64, error) {
	var removed int64
	err := s.locked(ctx, OpPurge, func(ctx context.Context, now time.Time) error {
		return s.backend.WithTx(ctx, func(tx Backend) error {
			var err error
			removed, err = tx.DeleteThrough(ctx, now.Add(-s.retention))
			return err
		})
	})
	if err != nil {
		return 0, err
	}
	metrics.AddPurged(removed)
	s.logger.Info("expired genes purged", "count", removed)
	return removed, nil
}

// locked holds the store lock around fn. now is read after acquisition.
func (s *Store) locked(ctx context.Context, op string, fn func(context.Context, time.Time) error) (err error) {
	defer func() { metrics.IncStoreOp(op, err) }()

	start := time.Now()
	unlock, err := s.locker.Lock(ctx)
	metrics.ObserveLockWait(time.Since(start).Seconds())
	if err != nil {
		return &StorageError{Op: op, Err: errors.Join(ErrLock, err)}
	}
	defer unlock()

	if err := fn(ctx, s.now()); err != nil {
		return &StorageError{Op: op, Err: err}
	}
	return nil
}
