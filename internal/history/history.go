package history

import (
	"context"
	"time"
)

// EventType defines the kind of pool lifecycle event.
type EventType string

const (
	EventSpawn            EventType = "spawn"
	EventExit             EventType = "exit"
	EventCrash            EventType = "crash"
	EventTerminate        EventType = "terminate"
	EventCrashLoopRefusal EventType = "crash_loop_refusal"
)

// Event is one lifecycle event of a pooled backend process, exported to
// external analytics systems.
type Event struct {
	Type       EventType `json:"type"`
	ServerID   string    `json:"server_id"`
	PID        int       `json:"pid"`
	Detail     string    `json:"detail,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Sink is a destination for history events. Implementations must be safe
// for concurrent use; delivery is best-effort and never blocks the pool's
// correctness.
type Sink interface {
	Send(ctx context.Context, e Event) error
}
