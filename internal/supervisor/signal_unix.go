//go:build !windows

package supervisor

import (
	"fmt"
	"os"
	"syscall"
)

type action int

const (
	actionNone action = iota
	actionShutdown
	actionDownload
	actionUpload
)

var notifySignals = []os.Signal{syscall.SIGTERM, syscall.SIGINT, syscall.SIGUSR1, syscall.SIGUSR2}

func classify(sig os.Signal) action {
	switch sig {
	case syscall.SIGTERM, syscall.SIGINT:
		return actionShutdown
	case syscall.SIGUSR1:
		return actionDownload
	case syscall.SIGUSR2:
		return actionUpload
	}
	return actionNone
}

// Request asks the supervisor running as pid to perform intent on its next
// tick by sending it the matching signal.
func Request(pid int, intent Intent) error {
	var sig syscall.Signal
	switch intent {
	case IntentDownload:
		sig = syscall.SIGUSR1
	case IntentUpload:
		sig = syscall.SIGUSR2
	default:
		return fmt.Errorf("nothing to request for intent %s", intent)
	}
	if pid <= 0 {
		return fmt.Errorf("invalid supervisor pid %d", pid)
	}
	return syscall.Kill(pid, sig)
}
