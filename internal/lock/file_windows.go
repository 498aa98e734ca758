//go:build windows

package lock

import (
	"context"
	"errors"
)

// File is not available on windows; Lock always fails.
type File struct{ path string }

func NewFile(path string) *File { return &File{path: path} }

func (l *File) Lock(context.Context) (func(), error) {
	return nil, errors.New("file lock is not supported on windows")
}
