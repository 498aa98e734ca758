//go:build !windows

package process

import (
	"os"
	"syscall"
)

// osSignal maps a worker Signal onto its Unix signal.
func osSignal(s Signal) (os.Signal, error) {
	switch s {
	case SignalTerminate:
		return syscall.SIGTERM, nil
	case SignalInterrupt:
		return syscall.SIGINT, nil
	case SignalResumeA:
		return syscall.SIGUSR1, nil
	case SignalResumeB:
		return syscall.SIGUSR2, nil
	default:
		return nil, ErrUnsupported
	}
}

// OSName is the name the Go runtime gives the mapped OS signal.
func (s Signal) OSName() string {
	sig, err := osSignal(s)
	if err != nil {
		return ""
	}
	return sig.String()
}

// exitStatus decodes a reaped process state.
func exitStatus(ps *os.ProcessState, waitErr error) ExitStatus {
	if ps == nil {
		return ExitStatus{Code: -1, Err: waitErr}
	}
	if ws, ok := ps.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return ExitStatus{Code: -1, Signal: ws.Signal().String()}
	}
	return ExitStatus{Code: ps.ExitCode()}
}
