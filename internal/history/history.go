package history

import (
	"context"
	"time"
)

// EventType defines the kind of supervisor event.
type EventType string

const (
	EventWorkerStart    EventType = "worker_start"
	EventWorkerExit     EventType = "worker_exit"
	EventDownload       EventType = "download"
	EventUpload         EventType = "upload"
	EventExchangeFailed EventType = "exchange_failed"
)

// Event represents one supervisor lifecycle or exchange event.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Name       string    `json:"name"`
	PID        int       `json:"pid"`
	Bytes      int       `json:"bytes"`
	Error      string    `json:"error,omitempty"`
}

// Sink is a destination for history events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Send(context.Context, Event) error { return nil }

// Nullable maps an empty error string to SQL NULL.
func Nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
