// Package lock provides the mutual exclusion the gene store holds for the
// full duration of each request.
package lock

import (
	"context"
	"errors"
	"sync"
)

// ErrNotAcquired is returned when a lock could not be taken before ctx ended.
var ErrNotAcquired = errors.New("lock not acquired")

// Locker acquires an exclusive lock. The returned unlock func releases it
// and is safe to call more than once.
type Locker interface {
	Lock(ctx context.Context) (func(), error)
}

// Mutex is an in-process Locker usable with a context.
type Mutex struct {
	ch chan struct{}
}

// NewMutex returns an unlocked Mutex.
func NewMutex() *Mutex {
	return &Mutex{ch: make(chan struct{}, 1)}
}

func (m *Mutex) Lock(ctx context.Context) (func(), error) {
	select {
	case m.ch <- struct{}{}:
		return once(func() { <-m.ch }), nil
	case <-ctx.Done():
		return nil, errors.Join(ErrNotAcquired, ctx.Err())
	}
}

func once(f func()) func() {
	var o sync.Once
	return func() { o.Do(f) }
}
