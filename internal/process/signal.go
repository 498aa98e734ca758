package process

// Signal is a worker control signal.
type Signal int

const (
	SignalTerminate Signal = iota + 1
	SignalInterrupt
	// SignalResumeA tells the worker new download data is in the exchange file.
	SignalResumeA
	// SignalResumeB tells the worker its upload was accepted.
	SignalResumeB
)

func (s Signal) String() string {
	switch s {
	case SignalTerminate:
		return "terminate"
	case SignalInterrupt:
		return "interrupt"
	case SignalResumeA:
		return "resume_a"
	case SignalResumeB:
		return "resume_b"
	default:
		return "unknown"
	}
}
