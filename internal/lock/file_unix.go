//go:build !windows

package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

// File is an advisory flock(2) on a named file, shared by every store
// process on one host. An in-process Mutex serializes goroutines first since
// flock locks belong to the open file description.
type File struct {
	path string
	poll time.Duration
	mu   *Mutex
}

// NewFile returns a Locker on path; the file is created on first use.
func NewFile(path string) *File {
	return &File{path: path, poll: 10 * time.Millisecond, mu: NewMutex()}
}

func (l *File) Lock(ctx context.Context) (func(), error) {
	release, err := l.mu.Lock(ctx)
	if err != nil {
		return nil, err
	}
	if dir := filepath.Dir(l.path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			release()
			return nil, fmt.Errorf("lock dir: %w", err)
		}
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		release()
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	fd := int(f.Fd())
	for {
		err = syscall.Flock(fd, syscall.LOCK_EX|syscall.LOCK_NB)
		if err == nil {
			break
		}
		if !errors.Is(err, syscall.EWOULDBLOCK) && !errors.Is(err, syscall.EINTR) {
			_ = f.Close()
			release()
			return nil, fmt.Errorf("flock %s: %w", l.path, err)
		}
		select {
		case <-ctx.Done():
			_ = f.Close()
			release()
			return nil, errors.Join(ErrNotAcquired, ctx.Err())
		case <-time.After(l.poll):
		}
	}
	return once(func() {
		_ = syscall.Flock(fd, syscall.LOCK_UN)
		_ = f.Close()
		release()
	}), nil
}
