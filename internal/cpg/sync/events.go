package sync

import "time"

// EventKind names a step of a sync operation.
type EventKind string

const (
	EventSessionOpened    EventKind = "session_opened"
	EventSessionCompleted EventKind = "session_completed"
	EventSessionFailed    EventKind = "session_failed"
	EventRowsApplied      EventKind = "rows_applied"
	EventStateReset       EventKind = "state_reset"
)

// Event describes one step of a sync operation.
type Event struct {
	Kind      EventKind `json:"kind"`
	Op        string    `json:"op"`
	SessionID int64     `json:"sessionId,omitempty"`
	From      int64     `json:"from,omitempty"`
	To        int64     `json:"to,omitempty"`
	Rows      int       `json:"rows,omitempty"`
	Error     string    `json:"error,omitempty"`
	Time      time.Time `json:"time"`
}

// Observer receives sync events. SyncEvent is called synchronously from the
// sync operation and must not block.
type Observer interface {
	SyncEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) SyncEvent(e Event) { f(e) }
