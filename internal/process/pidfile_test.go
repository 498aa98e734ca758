package process

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/xpol/internal/detector"
)

func TestWriteReadPIDFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "xpol.pid")
	require.NoError(t, WritePIDFile(path, 12345))
	pid, err := ReadPIDFile(path)
	require.NoError(t, err)
	assert.Equal(t, 12345, pid)
}

func TestReadPIDFileInvalid(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.pid")
	require.NoError(t, os.WriteFile(bad, []byte("not-a-pid\n"), 0o600))
	_, err := ReadPIDFile(bad)
	assert.Error(t, err)

	_, err = ReadPIDFile(filepath.Join(dir, "missing.pid"))
	assert.Error(t, err)
}

func TestWritePIDFileRecordsStartTime(t *testing.T) {
	path := filepath.Join(t.TempDir(), "self.pid")
	require.NoError(t, WritePIDFile(path, os.Getpid()))

	pid, err := ReadPIDFile(path)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	got, err := detector.PIDFile{Path: path}.Lookup()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), got)
}
