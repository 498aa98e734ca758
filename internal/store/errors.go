package store

import (
	"errors"
	"fmt"
)

// ErrLock marks a StorageError caused by failing to take the store lock.
var ErrLock = errors.New("store lock unavailable")

// StorageError reports a failed store operation. Nothing was written.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("store %s: %v", e.Op, e.Err) }

func (e *StorageError) Unwrap() error { return e.Err }
