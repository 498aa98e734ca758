package process

import "time"

// Status is a point-in-time view of the worker.
type Status struct {
	Name      string     `json:"name"`
	Running   bool       `json:"running"`
	PID       int        `json:"pid"`
	StartedAt time.Time  `json:"started_at"`
	StoppedAt time.Time  `json:"stopped_at"`
	Exit      ExitStatus `json:"exit"`
}

// ExitStatus is how the worker ended.
// Code is -1 when the worker was killed by a signal; Signal names it.
type ExitStatus struct {
	Code   int    `json:"code"`
	Signal string `json:"signal,omitempty"`
	Err    error  `json:"-"`
}

// Success reports a zero exit code.
func (e ExitStatus) Success() bool { return e.Code == 0 && e.Signal == "" && e.Err == nil }

// TerminatedBy reports whether the worker died from sig.
func (e ExitStatus) TerminatedBy(sig Signal) bool {
	return e.Signal != "" && e.Signal == sig.OSName()
}
