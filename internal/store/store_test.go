package store_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/xpol/internal/lock"
	"github.com/loykin/xpol/internal/store"
	"github.com/loykin/xpol/internal/store/sqlite"
)

// fakeClock is a settable clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newStore(t *testing.T) (*store.Store, *fakeClock) {
	t.Helper()
	db, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.EnsureSchema(context.Background()))
	clk := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	return store.New(db, lock.NewMutex(), store.WithClock(clk.Now)), clk
}

func TestSubmitThenFetch(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Submit(ctx, []byte("AAAA")))
	got, err := s.Fetch(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("AAAA"), got)
}

func TestFetchEmptyStore(t *testing.T) {
	s, _ := newStore(t)
	got, err := s.Fetch(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestRetentionWindowBoundary(t *testing.T) {
	s, clk := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.Submit(ctx, []byte("AAAA")))

	clk.Advance(time.Hour - time.Nanosecond)
	got, err := s.Fetch(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("AAAA"), got, "readable just before one hour")

	clk.Advance(time.Nanosecond)
	got, err = s.Fetch(ctx)
	require.NoError(t, err)
	assert.Empty(t, got, "not readable at exactly one hour")

	// expiry is lazy: nothing was deleted by the reads
	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSubmitExpiresOldRecords(t *testing.T) {
	s, clk := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Submit(ctx, []byte("AAAA")))
	clk.Advance(61 * time.Minute)
	require.NoError(t, s.Submit(ctx, []byte("BBBB")))

	got, err := s.Fetch(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("BBBB"), got)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSubmitKeepsRecordAtBoundaryMinusOne(t *testing.T) {
	s, clk := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.Submit(ctx, []byte("old")))
	clk.Advance(59 * time.Minute)
	require.NoError(t, s.Submit(ctx, []byte("new")))

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestConcurrentSubmits(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()
	const n = 50

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, s.Submit(ctx, []byte(fmt.Sprintf("genes-%02d", i))))
		}(i)
	}
	wg.Wait()

	count, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, n, count)

	// every submitted payload is eventually fetched
	seen := map[string]bool{}
	for i := 0; i < 5000 && len(seen) < n; i++ {
		got, err := s.Fetch(ctx)
		require.NoError(t, err)
		seen[string(got)] = true
	}
	assert.Len(t, seen, n)
}

func TestPurge(t *testing.T) {
	s, clk := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.Submit(ctx, []byte("a")))
	require.NoError(t, s.Submit(ctx, []byte("b")))
	clk.Advance(2 * time.Hour)

	removed, err := s.Purge(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	removed, err = s.Purge(ctx)
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestWithRetention(t *testing.T) {
	db, err := sqlite.New(":memory:")
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	require.NoError(t, db.EnsureSchema(context.Background()))
	clk := &fakeClock{now: time.Unix(1_700_000_000, 0)}

	s := store.New(db, nil, store.WithClock(clk.Now), store.WithRetention(time.Minute), store.WithRetention(0))
	assert.Equal(t, time.Minute, s.Retention())

	ctx := context.Background()
	require.NoError(t, s.Submit(ctx, []byte("x")))
	clk.Advance(time.Minute)
	got, err := s.Fetch(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)
}

// failingBackend fails selected operations and records what ran.
type failingBackend struct {
	store.Backend
	failDelete bool
}

func (f *failingBackend) DeleteThrough(ctx context.Context, cutoff time.Time) (int64, error) {
	if f.failDelete {
		return 0, errors.New("disk full")
	}
	return f.Backend.DeleteThrough(ctx, cutoff)
}

func (f *failingBackend) WithTx(ctx context.Context, fn func(store.Backend) error) error {
	return f.Backend.WithTx(ctx, func(tx store.Backend) error {
		return fn(&failingBackend{Backend: tx, failDelete: f.failDelete})
	})
}

func TestSubmitRollsBackOnCleanupFailure(t *testing.T) {
	db, err := sqlite.New(":memory:")
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	ctx := context.Background()
	require.NoError(t, db.EnsureSchema(ctx))

	s := store.New(&failingBackend{Backend: db, failDelete: true}, nil)
	err = s.Submit(ctx, []byte("x"))
	var se *store.StorageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, store.OpSubmit, se.Op)

	n, err := db.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "insert must be rolled back")
}

// stuckLocker never grants the lock.
type stuckLocker struct{}

func (stuckLocker) Lock(ctx context.Context) (func(), error) {
	<-ctx.Done()
	return nil, errors.Join(lock.ErrNotAcquired, ctx.Err())
}

func TestLockFailureIsStorageError(t *testing.T) {
	db, err := sqlite.New(":memory:")
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	s := store.New(db, stuckLocker{})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = s.Fetch(ctx)
	var se *store.StorageError
	require.ErrorAs(t, err, &se)
	assert.ErrorIs(t, err, store.ErrLock)
	assert.ErrorIs(t, err, lock.ErrNotAcquired)
}

// countingLocker tracks that every acquisition is released.
type countingLocker struct {
	inner lock.Locker
	mu    sync.Mutex
	held  int
}

func (c *countingLocker) Lock(ctx context.Context) (func(), error) {
	unlock, err := c.inner.Lock(ctx)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.held++
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		c.held--
		c.mu.Unlock()
		unlock()
	}, nil
}

func TestLockReleasedOnEngineError(t *testing.T) {
	db, err := sqlite.New(":memory:")
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	// no schema: every engine call fails

	cl := &countingLocker{inner: lock.NewMutex()}
	s := store.New(db, cl)
	ctx := context.Background()

	_, err = s.Fetch(ctx)
	assert.Error(t, err)
	assert.Error(t, s.Submit(ctx, []byte("x")))
	_, err = s.Count(ctx)
	assert.Error(t, err)
	assert.Zero(t, cl.held)
}
