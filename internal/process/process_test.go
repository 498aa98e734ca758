//go:build !windows

package process

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/xpol/internal/logger"
)

func shSpec(name, script string) Spec {
	return Spec{Name: name, Command: "/bin/sh", Args: []string{"-c", script}}
}

func waitUntil(timeout, step time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(step)
	}
	return cond()
}

func fileHas(path, want string) func() bool {
	return func() bool {
		b, err := os.ReadFile(path)
		return err == nil && strings.Contains(string(b), want)
	}
}

func waitExit(t *testing.T, p *Process) ExitStatus {
	t.Helper()
	select {
	case <-p.Exited():
	case <-time.After(5 * time.Second):
		t.Fatalf("worker did not exit in time")
	}
	return p.Wait()
}

func TestStartPassesSupervisorPID(t *testing.T) {
	out := filepath.Join(t.TempDir(), "argv")
	// with sh -c the first trailing argument becomes $0
	p, err := Start(shSpec("argv", `echo "$0" > `+out), 4242, nil)
	require.NoError(t, err)
	st := waitExit(t, p)
	assert.True(t, st.Success(), "exit: %+v", st)

	b, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "4242", strings.TrimSpace(string(b)))
}

func TestStartSpawnError(t *testing.T) {
	_, err := Start(Spec{Name: "missing", Command: filepath.Join(t.TempDir(), "no-such-binary")}, 1, nil)
	require.Error(t, err)
	var se *SpawnError
	require.True(t, errors.As(err, &se))
	assert.Contains(t, se.Path, "no-such-binary")

	_, err = Start(Spec{Name: "empty"}, 1, nil)
	assert.True(t, errors.As(err, &se))
}

func TestSignalsReachWorker(t *testing.T) {
	dir := t.TempDir()
	marks := filepath.Join(dir, "marks")
	ready := filepath.Join(dir, "ready")
	script := `trap 'echo a >> ` + marks + `' USR1
trap 'echo b >> ` + marks + `' USR2
trap 'exit 0' TERM
touch ` + ready + `
while :; do sleep 0.05; done`
	p, err := Start(shSpec("signals", script), os.Getpid(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Signal(SignalInterrupt) })
	require.True(t, waitUntil(3*time.Second, 20*time.Millisecond, func() bool {
		_, err := os.Stat(ready)
		return err == nil
	}), "worker never became ready")

	require.NoError(t, p.Signal(SignalResumeA))
	require.True(t, waitUntil(2*time.Second, 20*time.Millisecond, fileHas(marks, "a")))
	require.NoError(t, p.Signal(SignalResumeB))
	require.True(t, waitUntil(2*time.Second, 20*time.Millisecond, fileHas(marks, "b")))

	require.NoError(t, p.Terminate())
	st := waitExit(t, p)
	assert.True(t, st.Success(), "trapped TERM exits 0: %+v", st)
	assert.False(t, p.Snapshot().Running)
}

func TestTerminateUntrapped(t *testing.T) {
	p, err := Start(shSpec("sleeper", "exec sleep 5"), os.Getpid(), nil)
	require.NoError(t, err)
	require.NoError(t, p.Terminate())
	st := waitExit(t, p)
	assert.Equal(t, -1, st.Code)
	assert.True(t, st.TerminatedBy(SignalTerminate))
	assert.False(t, st.Success())
}

func TestSignalAfterExit(t *testing.T) {
	p, err := Start(shSpec("quick", "exit 3"), os.Getpid(), nil)
	require.NoError(t, err)
	st := waitExit(t, p)
	assert.Equal(t, 3, st.Code)
	assert.ErrorIs(t, p.Signal(SignalResumeA), ErrNotRunning)
	// Wait is repeatable
	assert.Equal(t, st, p.Wait())
}

func TestPIDFileLifecycle(t *testing.T) {
	dir := t.TempDir()
	pidfile := filepath.Join(dir, "run", "worker.pid")
	spec := shSpec("pid", "exec sleep 5")
	spec.PIDFile = pidfile
	p, err := Start(spec, os.Getpid(), nil)
	require.NoError(t, err)

	pid, err := ReadPIDFile(pidfile)
	require.NoError(t, err)
	assert.Equal(t, p.PID(), pid)

	require.NoError(t, p.Terminate())
	waitExit(t, p)
	_, err = os.Stat(pidfile)
	assert.True(t, os.IsNotExist(err), "pid file should be removed after exit")
}

func TestEnvAndWorkDir(t *testing.T) {
	dir := t.TempDir()
	spec := shSpec("env", `echo "$POOL $(pwd)" > out`)
	spec.WorkDir = dir
	p, err := Start(spec, 1, []string{"POOL=seven", "PATH=" + os.Getenv("PATH")})
	require.NoError(t, err)
	waitExit(t, p)
	b, err := os.ReadFile(filepath.Join(dir, "out"))
	require.NoError(t, err)
	resolved, _ := filepath.EvalSymlinks(dir)
	assert.Contains(t, []string{"seven " + dir, "seven " + resolved}, strings.TrimSpace(string(b)))
}

func TestLogCapture(t *testing.T) {
	logs := filepath.Join(t.TempDir(), "logs")
	spec := shSpec("brain", "echo out; echo err 1>&2")
	spec.Log = logger.Config{Dir: logs}
	p, err := Start(spec, 1, nil)
	require.NoError(t, err)
	waitExit(t, p)

	ob, err := os.ReadFile(filepath.Join(logs, "brain.stdout.log"))
	require.NoError(t, err)
	eb, err := os.ReadFile(filepath.Join(logs, "brain.stderr.log"))
	require.NoError(t, err)
	assert.Equal(t, "out\n", string(ob))
	assert.Equal(t, "err\n", string(eb))
}

func TestStartFailsOnUnusableLogDir(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))
	spec := shSpec("brain", "echo out")
	spec.Log = logger.Config{Dir: filepath.Join(blocker, "logs")}

	p, err := Start(spec, 1, nil)
	assert.Nil(t, p)
	var se *SpawnError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, spec.Command, se.Path)
}
