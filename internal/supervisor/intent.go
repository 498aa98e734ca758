package supervisor

// Intent is the exchange the next tick should perform.
type Intent int32

const (
	IntentNoOp Intent = iota
	IntentDownload
	IntentUpload
)

func (i Intent) String() string {
	switch i {
	case IntentNoOp:
		return "noop"
	case IntentDownload:
		return "download"
	case IntentUpload:
		return "upload"
	default:
		return "unknown"
	}
}
