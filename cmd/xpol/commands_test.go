package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/xpol"
)

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := buildRoot()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "xpol.toml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func storeServer(t *testing.T) (*httptest.Server, string) {
	t.Helper()
	dsn := "sqlite://" + filepath.Join(t.TempDir(), "genes.db")
	st, closeFn, err := xpol.OpenStore(context.Background(), xpol.StoreConfig{DSN: dsn, Retention: time.Hour}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = closeFn() })
	srv := httptest.NewServer(xpol.NewStoreHandler(st, "/xpol", nil, false))
	t.Cleanup(srv.Close)
	return srv, dsn
}

func TestHelpListsCommands(t *testing.T) {
	out, err := execute(t, "", "--help")
	require.NoError(t, err)
	for _, c := range []string{"supervise", "serve", "fetch", "submit", "count", "purge", "request"} {
		assert.Contains(t, out, c)
	}
}

func TestSubmitThenFetch(t *testing.T) {
	srv, _ := storeServer(t)
	url := srv.URL + "/xpol"

	out, err := execute(t, "AAAA", "submit", "--url", url)
	require.NoError(t, err)
	assert.Contains(t, out, "submitted 4 bytes")

	out, err = execute(t, "", "fetch", "--url", url)
	require.NoError(t, err)
	assert.Equal(t, "AAAA", out)

	file := filepath.Join(t.TempDir(), "got.bin")
	_, err = execute(t, "", "fetch", "--url", url, "--file", file)
	require.NoError(t, err)
	b, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Equal(t, "AAAA", string(b))
}

func TestSubmitFromFileUsesConfigURL(t *testing.T) {
	srv, dsn := storeServer(t)
	cfg := writeConfig(t, "[supervisor]\nurl = \""+srv.URL+"/xpol\"\n")
	payload := filepath.Join(t.TempDir(), "genes.bin")
	require.NoError(t, os.WriteFile(payload, []byte("BBBB"), 0o644))

	_, err := execute(t, "", "--config", cfg, "submit", "--file", payload)
	require.NoError(t, err)

	out, err := execute(t, "", "count", "--dsn", dsn)
	require.NoError(t, err)
	assert.Equal(t, "1\n", out)
}

func TestFetchUnreachable(t *testing.T) {
	_, err := execute(t, "", "fetch", "--url", "http://127.0.0.1:1/xpol", "--timeout", "500ms")
	assert.Error(t, err)
}

func TestCountAndPurge(t *testing.T) {
	dsn := "sqlite://" + filepath.Join(t.TempDir(), "genes.db")
	out, err := execute(t, "", "count", "--dsn", dsn)
	require.NoError(t, err)
	assert.Equal(t, "0\n", out)

	out, err = execute(t, "", "purge", "--dsn", dsn)
	require.NoError(t, err)
	assert.Equal(t, "purged 0\n", out)

	_, err = execute(t, "", "count", "--dsn", "redis://nope")
	assert.Error(t, err)
}

func TestRequestValidation(t *testing.T) {
	_, err := execute(t, "", "request", "sideways", "--pidfile", "/tmp/x.pid")
	assert.Error(t, err)

	_, err = execute(t, "", "request", "download")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pid file")

	_, err = execute(t, "", "request", "upload", "--pidfile", filepath.Join(t.TempDir(), "none.pid"))
	assert.Error(t, err)
}

func TestSuperviseRequiresConfig(t *testing.T) {
	_, err := execute(t, "", "supervise")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "supervisor.exec")
}

func TestSuperviseExitCode(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("requires /bin/sh")
	}
	srv, _ := storeServer(t)
	file := filepath.Join(t.TempDir(), "x.dat")
	cfg := writeConfig(t, `
[supervisor]
exec = "/bin/sh"
args = ["-c", "exit 3", "worker"]
tick = "20ms"
`)
	_, err := execute(t, "", "--config", cfg, "supervise", "--url", srv.URL+"/xpol", "--file", file)
	require.Error(t, err)
	var ee *exitError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, 1, ee.code)
}

func TestServeValidates(t *testing.T) {
	cfg := writeConfig(t, "[server]\npath = \"nopath\"\n")
	_, err := execute(t, "", "--config", cfg, "serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.path")
}

func TestApplySuperviseFlags(t *testing.T) {
	cfg, err := xpol.LoadConfig("")
	require.NoError(t, err)
	applySuperviseFlags(cfg, &SuperviseFlags{Exec: "w", URL: "u", File: "f", Tick: time.Minute, PidFile: "p"})
	assert.Equal(t, "w", cfg.Supervisor.Exec)
	assert.Equal(t, "u", cfg.Supervisor.URL)
	assert.Equal(t, "f", cfg.Supervisor.ExchangeFile)
	assert.Equal(t, time.Minute, cfg.Supervisor.Tick)
	assert.Equal(t, "p", cfg.Supervisor.PIDFile)
}
