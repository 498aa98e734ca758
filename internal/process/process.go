package process

import (
	"io"
	"os"
	"os/exec"
	"sync"
	"time"
)

// Process is the supervisor's handle on one running worker. It owns the
// worker's lifecycle only: start, signal, wait. A single reaper goroutine
// calls cmd.Wait; every other caller observes the result via waitDone.
type Process struct {
	spec      Spec
	cmd       *exec.Cmd
	mu        sync.Mutex
	status    Status
	outCloser io.WriteCloser
	errCloser io.WriteCloser
	waitDone  chan struct{} // closed by the reaper when cmd.Wait returns
}

// Start spawns the worker described by spec, appending supervisorPID to its
// arguments. env, when non-empty, replaces the inherited environment.
// Any failure to create the process is returned as *SpawnError.
func Start(spec Spec, supervisorPID int, env []string) (*Process, error) {
	if err := spec.Validate(); err != nil {
		return nil, &SpawnError{Path: spec.Command, Err: err}
	}
	p := &Process{spec: spec, waitDone: make(chan struct{})}
	cmd, err := p.configureCmd(supervisorPID, env)
	if err != nil {
		return nil, &SpawnError{Path: spec.Command, Err: err}
	}
	if err := cmd.Start(); err != nil {
		p.closeWriters()
		return nil, &SpawnError{Path: spec.Command, Err: err}
	}
	p.mu.Lock()
	p.cmd = cmd
	p.status = Status{Name: spec.Name, Running: true, PID: cmd.Process.Pid, StartedAt: time.Now()}
	p.mu.Unlock()
	p.writePIDFile()
	go p.reap()
	return p, nil
}

// configureCmd applies workdir, environment, stdio and process attributes.
func (p *Process) configureCmd(supervisorPID int, env []string) (*exec.Cmd, error) {
	cmd := p.spec.BuildCommand(supervisorPID)
	if p.spec.WorkDir != "" {
		cmd.Dir = p.spec.WorkDir
	}
	if len(env) > 0 {
		cmd.Env = env
	}
	configureSysProcAttr(cmd)
	// Without file capture the worker shares the supervisor's stdio.
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if p.spec.Log.Enabled() {
		outW, errW, err := p.spec.Log.Writers(p.spec.Name)
		if err != nil {
			return nil, err
		}
		p.outCloser, p.errCloser = outW, errW
		if outW != nil {
			cmd.Stdout = outW
		}
		if errW != nil {
			cmd.Stderr = errW
		}
	}
	return cmd, nil
}

func (p *Process) reap() {
	err := p.cmd.Wait()
	st := exitStatus(p.cmd.ProcessState, err)
	p.mu.Lock()
	p.status.Running = false
	p.status.StoppedAt = time.Now()
	p.status.Exit = st
	p.mu.Unlock()
	p.closeWriters()
	p.removePIDFile()
	close(p.waitDone)
}

// PID returns the worker's process id.
func (p *Process) PID() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status.PID
}

// Signal delivers sig to the worker without waiting for any acknowledgment.
func (p *Process) Signal(sig Signal) error {
	select {
	case <-p.waitDone:
		return ErrNotRunning
	default:
	}
	s, err := osSignal(sig)
	if err != nil {
		return err
	}
	return p.cmd.Process.Signal(s)
}

// Terminate asks the worker to shut down.
func (p *Process) Terminate() error { return p.Signal(SignalTerminate) }

// Wait blocks until the worker has exited and returns how it ended.
// It is safe to call from several goroutines and more than once.
func (p *Process) Wait() ExitStatus {
	<-p.waitDone
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status.Exit
}

// Exited is closed once the worker has been reaped.
func (p *Process) Exited() <-chan struct{} { return p.waitDone }

// Snapshot returns a copy of the current status.
func (p *Process) Snapshot() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *Process) closeWriters() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.outCloser != nil {
		_ = p.outCloser.Close()
		p.outCloser = nil
	}
	if p.errCloser != nil {
		_ = p.errCloser.Close()
		p.errCloser = nil
	}
}
