// Package detector decides whether the process named by a pid file is
// still the one that wrote it.
package detector

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrNotRunning is returned by Lookup when the recorded process is gone or
// its pid now belongs to another process.
var ErrNotRunning = errors.New("process not running")

// Meta is the optional second line of a pid file.
type Meta struct {
	StartUnix int64 `json:"start_unix"`
}

// StartUnix returns the start time of pid in Unix seconds, or 0 when unknown.
func StartUnix(pid int) int64 { return getProcStartUnix(pid) }

// MetaFor describes the running process pid; ok is false when its start
// time cannot be read.
func MetaFor(pid int) (m Meta, ok bool) {
	st := StartUnix(pid)
	return Meta{StartUnix: st}, st > 0
}

// PIDFile detects a process via a pid file: the pid on the first line,
// optionally followed by a Meta JSON line.
type PIDFile struct {
	Path string
}

// Lookup returns the recorded pid when that process is alive and, if the
// file carries a start time, still the same process.
func (d PIDFile) Lookup() (int, error) {
	pid, meta, err := d.read()
	if err != nil {
		return 0, err
	}
	if meta.StartUnix > 0 {
		if cur := getProcStartUnix(pid); cur > 0 && cur != meta.StartUnix {
			return 0, fmt.Errorf("pid %d was reused: %w", pid, ErrNotRunning)
		}
	}
	if !pidAlive(pid) {
		return 0, fmt.Errorf("pid %d: %w", pid, ErrNotRunning)
	}
	return pid, nil
}

// Alive reports whether Lookup succeeds; a missing file is not an error.
func (d PIDFile) Alive() (bool, error) {
	_, err := d.Lookup()
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNotRunning), errors.Is(err, os.ErrNotExist):
		return false, nil
	}
	return false, err
}

func (d PIDFile) Describe() string { return "pidfile:" + d.Path }

func (d PIDFile) read() (int, Meta, error) {
	var meta Meta
	data, err := os.ReadFile(filepath.Clean(d.Path))
	if err != nil {
		return 0, meta, err
	}
	lines := strings.Split(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n")
	pid, err := strconv.Atoi(strings.TrimSpace(lines[0]))
	if err != nil {
		return 0, meta, fmt.Errorf("invalid pid in %s: %w", d.Path, err)
	}
	if len(lines) >= 2 && strings.TrimSpace(lines[1]) != "" {
		// an unreadable meta line only disables the reuse check
		_ = json.Unmarshal([]byte(strings.TrimSpace(lines[1])), &meta)
	}
	return pid, meta, nil
}
