package thread

import (
	"context"
	"fmt"
	"runtime/debug"
)

// ID identifies a computation within its Registry.
type ID uint64

// Func is the body of a resumable computation. ctx carries the Thread, so
// in-computation operations (YieldForResource, AddResourceCleanup, ...) find
// their computation through it.
type Func func(ctx context.Context)

// CleanupFn tears down one side effect.
type CleanupFn func()

// State is the lifecycle position of a computation.
type State int

const (
	StateNotStarted State = iota
	StateRunning
	StateAwaitingResource // parked at a sanctioned resource wait
	StateSuspended        // parked at an unsanctioned yield
	StateCompleted        // behavior returned; final values captured
	StateDead             // panicked
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateRunning:
		return "running"
	case StateAwaitingResource:
		return "awaiting_resource"
	case StateSuspended:
		return "suspended"
	case StateCompleted:
		return "completed"
	case StateDead:
		return "dead"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Owner receives resumption requests for a computation. The engine's
// Execution implements it to turn them into Continue and Restart directives.
type Owner interface {
	ResourceFound(id ID)
	ResourceRemoved(id ID)
}

type yieldKind int

const (
	yieldSuspend  yieldKind = iota + 1 // parked; token != 0 when sanctioned
	yieldFinal                         // parked in HandleFinalUserReturns
	yieldReturned                      // body returned, goroutine gone
	yieldDied                          // body panicked, goroutine gone
	yieldExited                        // unwound by kill, goroutine gone
)

type yieldMsg struct {
	kind   yieldKind
	token  uint64
	values []any
	err    error
}

type resumeMsg struct {
	token  uint64
	values []any
	kill   bool
}

// killSignal unwinds a parked computation's stack during close.
type killSignal struct{}

type ctxKey struct{}

// Thread is one resumable computation. All fields are touched only by
// whichever side of the handoff currently holds control.
type Thread struct {
	id        ID
	reg       *Registry
	fn        Func
	ctx       context.Context
	owner     Owner
	traceback string

	state               State
	tracked             bool
	sanctioned          bool
	cleanups            []CleanupFn
	gen                 uint64
	lastSanctionedYield uint64
	pending             *resumeMsg
	finalReturn         []any
	hasFinal            bool
	closed              bool
	closePending        bool
	exited              bool
	fault               error
	outcome             Outcome

	resumeCh chan resumeMsg
	yieldCh  chan yieldMsg
}

// ID returns the registry key of the computation.
func (t *Thread) ID() ID { return t.id }

// State returns the lifecycle position of the computation.
func (t *Thread) State() State { return t.state }

// Closed reports whether the computation has been torn down.
func (t *Thread) Closed() bool { return t.closed }

// Sanctioned reports whether a resource wait is currently permitted.
func (t *Thread) Sanctioned() bool { return t.sanctioned }

// Fault returns the panic that killed the computation, if any.
func (t *Thread) Fault() error { return t.fault }

// FromContext returns the computation ctx belongs to.
func FromContext(ctx context.Context) (*Thread, bool) {
	if ctx == nil {
		return nil, false
	}
	t, ok := ctx.Value(ctxKey{}).(*Thread)
	return t, ok && t != nil
}

// main is the goroutine body. It is started lazily by the first transfer so
// a computation that is closed before its first step never spawns one.
func (t *Thread) main() {
	defer func() {
		r := recover()
		switch r.(type) {
		case nil:
			t.yieldCh <- yieldMsg{kind: yieldReturned}
		case killSignal:
			t.yieldCh <- yieldMsg{kind: yieldExited}
		default:
			t.yieldCh <- yieldMsg{kind: yieldDied, err: &UserFaultError{
				Thread: t.id,
				Value:  r,
				Stack:  string(debug.Stack()),
			}}
		}
	}()
	t.fn(t.ctx)
}

// suspend hands control back to the driver and blocks until resumed.
// Runs on the computation's goroutine.
func (t *Thread) suspend(y yieldMsg) resumeMsg {
	if t.closed {
		panic(killSignal{})
	}
	t.yieldCh <- y
	msg := <-t.resumeCh
	if msg.kill {
		panic(killSignal{})
	}
	return msg
}

// transfer runs the computation until its next suspension point.
// Runs on the driver's goroutine.
func (t *Thread) transfer(msg resumeMsg) yieldMsg {
	prev := t.state
	t.state = StateRunning
	if prev == StateNotStarted {
		go t.main()
	} else {
		t.resumeCh <- msg
	}
	y := <-t.yieldCh
	switch y.kind {
	case yieldReturned, yieldDied, yieldExited:
		t.exited = true
	}
	return y
}

// maxKillAttempts bounds how often close re-sends the kill signal to a
// computation that recovers it and suspends again.
const maxKillAttempts = 8

// kill unwinds a parked goroutine. Returns false when the computation
// refused to exit.
func (t *Thread) kill() bool {
	if t.exited || t.state == StateNotStarted {
		return true
	}
	for attempt := 0; attempt < maxKillAttempts; attempt++ {
		t.resumeCh <- resumeMsg{kill: true}
		y := <-t.yieldCh
		switch y.kind {
		case yieldReturned, yieldExited:
			t.exited = true
			return true
		case yieldDied:
			t.exited = true
			t.reg.report(Diagnostic{
				Kind:      DiagCleanupPanic,
				Thread:    t.id,
				Traceback: t.traceback,
				Message:   "computation panicked while unwinding",
				Err:       y.err,
			})
			return true
		}
	}
	return false
}
