package engine

import (
	"github.com/roach88/tether/internal/thread"
)

// State is the scheduler-side lifecycle of an Execution.
type State int

const (
	StatePending State = iota
	StateExecuting
	StateYielding
	StateFinished
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateExecuting:
		return "executing"
	case StateYielding:
		return "yielding"
	case StateFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// Directive is the next action queued for an Execution.
type Directive int

const (
	DirectiveNone Directive = iota
	DirectiveContinue
	DirectiveRestart
	DirectiveFinish
)

func (d Directive) String() string {
	switch d {
	case DirectiveNone:
		return "none"
	case DirectiveContinue:
		return "continue"
	case DirectiveRestart:
		return "restart"
	case DirectiveFinish:
		return "finish"
	default:
		return "unknown"
	}
}

// Execution binds one behavior to one entity.
//
// All fields are owned by the driving loop.
type Execution struct {
	id      string
	mgr     *Manager
	binding *Binding
	entity  Entity

	state  State
	queued Directive
	handle *thread.Handle

	// generation increments on every start; owners of stale computations
	// carry an older value and are ignored.
	generation uint64
	restarts   int
	scheduled  bool
	err        error
}

// ID returns the execution's identifier.
func (e *Execution) ID() string { return e.id }

// Entity returns the entity the behavior is attached to.
func (e *Execution) Entity() Entity { return e.entity }

// State returns the scheduler-side state.
func (e *Execution) State() State { return e.state }

// Queued returns the directive waiting to be applied.
func (e *Execution) Queued() Directive { return e.queued }

// Restarts returns how many times the behavior was restarted.
func (e *Execution) Restarts() int { return e.restarts }

// Err returns the fault that ended the execution, if it died.
func (e *Execution) Err() error { return e.err }

// request queues d under the coalescing rules and puts the execution in
// the work set. It reports whether the request changed anything.
func (e *Execution) request(d Directive) bool {
	if e.state == StateFinished || e.queued == DirectiveFinish {
		return false
	}
	switch d {
	case DirectiveContinue:
		if e.state == StatePending || e.queued != DirectiveNone {
			return false
		}
	case DirectiveRestart:
		if e.queued == DirectiveRestart {
			return false
		}
	case DirectiveFinish:
	default:
		return false
	}
	e.queued = d
	e.mgr.work.push(e)
	return true
}

// Finish queues the Finish directive. Idempotent.
func (e *Execution) Finish() {
	e.request(DirectiveFinish)
}

// owner is the thread.Owner of one started computation of an Execution.
type owner struct {
	e          *Execution
	generation uint64
}

func (o owner) current() bool {
	return o.e.generation == o.generation && o.e.state != StateFinished
}

// ResourceFound asks the scheduler to resume the computation.
func (o owner) ResourceFound(thread.ID) {
	if o.current() {
		o.e.request(DirectiveContinue)
	}
}

// ResourceRemoved asks the scheduler to restart the behavior.
func (o owner) ResourceRemoved(thread.ID) {
	if o.current() {
		o.e.request(DirectiveRestart)
	}
}

// Snapshot is a read-only view of an Execution.
type Snapshot struct {
	ID       string `json:"id"`
	Binding  string `json:"binding"`
	Entity   string `json:"entity"`
	State    string `json:"state"`
	Queued   string `json:"queued"`
	Restarts int    `json:"restarts"`
	Thread   string `json:"thread,omitempty"`
	Err      string `json:"error,omitempty"`
}

func (e *Execution) snapshot() Snapshot {
	s := Snapshot{
		ID:       e.id,
		Binding:  e.binding.name,
		Entity:   e.entity.ID(),
		State:    e.state.String(),
		Queued:   e.queued.String(),
		Restarts: e.restarts,
	}
	if e.handle != nil {
		s.Thread = e.handle.Thread().State().String()
	}
	if e.err != nil {
		s.Err = e.err.Error()
	}
	return s
}
