package process

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/loykin/xpol/internal/detector"
)

// WritePIDFile writes pid to path, creating parent directories. When the
// start time of pid is known it is recorded on a second line so a reused
// pid can be told apart later.
func WritePIDFile(path string, pid int) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	body := strconv.Itoa(pid) + "\n"
	if meta, ok := detector.MetaFor(pid); ok {
		b, err := json.Marshal(meta)
		if err != nil {
			return err
		}
		body += string(b) + "\n"
	}
	return os.WriteFile(path, []byte(body), 0o600)
}

// ReadPIDFile reads a pid written by WritePIDFile.
func ReadPIDFile(path string) (int, error) {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return 0, err
	}
	pidLine, _, _ := strings.Cut(string(b), "\n")
	return strconv.Atoi(strings.TrimSpace(pidLine))
}

func (p *Process) writePIDFile() {
	if p.spec.PIDFile == "" {
		return
	}
	_ = WritePIDFile(p.spec.PIDFile, p.PID())
}

// removePIDFile best-effort
func (p *Process) removePIDFile() {
	if p.spec.PIDFile == "" {
		return
	}
	_ = os.Remove(p.spec.PIDFile)
}
