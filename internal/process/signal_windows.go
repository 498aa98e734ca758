//go:build windows

package process

import "os"

// osSignal maps a worker Signal; Windows only delivers a hard kill.
func osSignal(s Signal) (os.Signal, error) {
	switch s {
	case SignalTerminate, SignalInterrupt:
		return os.Kill, nil
	default:
		return nil, ErrUnsupported
	}
}

func (s Signal) OSName() string {
	sig, err := osSignal(s)
	if err != nil {
		return ""
	}
	return sig.String()
}

func exitStatus(ps *os.ProcessState, waitErr error) ExitStatus {
	if ps == nil {
		return ExitStatus{Code: -1, Err: waitErr}
	}
	return ExitStatus{Code: ps.ExitCode()}
}
