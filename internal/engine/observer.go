package engine

import (
	"context"

	"github.com/roach88/tether/internal/thread"
)

// EventKind names a lifecycle event.
type EventKind string

const (
	EventAdded      EventKind = "added"
	EventStarted    EventKind = "started"
	EventSuspended  EventKind = "suspended"
	EventResumed    EventKind = "resumed"
	EventEffect     EventKind = "effect"
	EventRestarted  EventKind = "restarted"
	EventFinished   EventKind = "finished"
	EventDied       EventKind = "died"
	EventDiagnostic EventKind = "diagnostic"
	EventThrottled  EventKind = "throttled"
)

// Event is one entry of the lifecycle trace.
type Event struct {
	Seq       int64     `json:"seq"`
	Tick      uint64    `json:"tick"`
	Kind      EventKind `json:"kind"`
	Binding   string    `json:"binding,omitempty"`
	Execution string    `json:"execution,omitempty"`
	Entity    string    `json:"entity,omitempty"`
	Detail    string    `json:"detail,omitempty"`
}

// Journal records lifecycle events. It is a write-only diagnostic trace;
// the manager never reads it back. A failing journal is logged and ignored.
type Journal interface {
	Record(ctx context.Context, ev Event) error
}

// Observer receives scheduler measurements. Calls happen on the driving
// goroutine and must not block.
type Observer interface {
	ObserveTick(r TickReport)
	ObserveEvent(ev Event)
	ObserveDiagnostic(d thread.Diagnostic)
}

// JournalFunc adapts a function to Journal.
type JournalFunc func(ctx context.Context, ev Event) error

// Record implements Journal.
func (f JournalFunc) Record(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}
