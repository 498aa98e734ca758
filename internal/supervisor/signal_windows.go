//go:build windows

package supervisor

import (
	"errors"
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

// Only shutdown signals exist on windows; exchanges cannot be requested.
var notifySignals = []os.Signal{os.Interrupt, syscall.SIGTERM}

func classify(sig os.Signal) action {
	switch sig {
	case os.Interrupt, syscall.SIGTERM:
		return actionShutdown
	}
	return actionNone
}

func Request(int, Intent) error {
	return errors.New("exchange requests are not supported on windows")
}
