package client

import "fmt"

// Form fields and values of the cross-pool exchange protocol.
const (
	FieldTodo = "todo"
	FieldData = "data"

	TodoGet = "get"
	TodoPut = "put"

	// Ack is the literal body a store returns for an accepted submit.
	Ack = "ok"
)

// Exchange operations, used in errors, logs and metrics.
const (
	OpFetch  = "fetch"
	OpSubmit = "submit"
)

// TransportError reports an exchange that failed to deliver a usable response:
// the channel failed (Err set), the store answered with a non-200 Status, or
// a submit was answered with something other than the acknowledgment.
type TransportError struct {
	Op     string
	Status int
	Body   string
	Err    error
}

func (e *TransportError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("%s: transport: %v", e.Op, e.Err)
	case e.Status != 0 && e.Status != 200:
		return fmt.Sprintf("%s: unexpected status %d", e.Op, e.Status)
	default:
		return fmt.Sprintf("%s: unexpected response %q", e.Op, e.Body)
	}
}

func (e *TransportError) Unwrap() error { return e.Err }
