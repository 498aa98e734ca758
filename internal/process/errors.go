package process

import (
	"errors"
	"fmt"
)

// ErrNotRunning is returned when signaling a worker that has been reaped.
var ErrNotRunning = errors.New("worker is not running")

// ErrUnsupported is returned for signals the platform cannot deliver.
var ErrUnsupported = errors.New("signal not supported on this platform")

// SpawnError reports that the worker executable could not be started.
type SpawnError struct {
	Path string
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn worker %s: %v", e.Path, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }
