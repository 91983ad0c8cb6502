package thread

import (
	"context"
	"fmt"
	"log/slog"
)

// Registry tracks live computations. It is constructed once and owned by
// the scheduler; collaborators receive it by reference.
//
// Thread-safety: none. Every method must be called from the driving
// goroutine or from a computation it is currently running.
type Registry struct {
	threads      map[ID]*Thread
	nextID       ID
	logger       *slog.Logger
	onDiagnostic func(Diagnostic)
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger used for diagnostics. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithDiagnostics installs a sink that receives every diagnostic after it
// has been logged.
func WithDiagnostics(fn func(Diagnostic)) Option {
	return func(r *Registry) {
		r.onDiagnostic = fn
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		threads: make(map[ID]*Thread),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Len returns the number of tracked computations.
func (r *Registry) Len() int {
	return len(r.threads)
}

// Lookup returns a tracked computation by ID.
func (r *Registry) Lookup(id ID) (*Thread, bool) {
	t, ok := r.threads[id]
	return t, ok
}

// Spawn creates a computation parked before its first instruction. No user
// code runs until Init performs the first step, so the caller always holds a
// handle before any side effect can happen.
func (r *Registry) Spawn(ctx context.Context, fn Func) *Thread {
	if ctx == nil {
		ctx = context.Background()
	}
	r.nextID++
	t := &Thread{
		id:       r.nextID,
		reg:      r,
		fn:       fn,
		state:    StateNotStarted,
		resumeCh: make(chan resumeMsg),
		yieldCh:  make(chan yieldMsg),
	}
	t.ctx = context.WithValue(ctx, ctxKey{}, t)
	return t
}

// Init registers a freshly spawned computation, performs its first step and
// returns its finish handle. traceback identifies where the computation was
// started and is attached to every diagnostic about it. owner may be nil, in
// which case resource notifications resume or close the computation directly.
func (r *Registry) Init(t *Thread, traceback string, owner Owner) *Handle {
	h := &Handle{t: t}
	if t.tracked || t.state != StateNotStarted {
		r.report(Diagnostic{
			Kind:      DiagResumeOutsideResource,
			Thread:    t.id,
			Traceback: traceback,
			Message:   "computation initialised twice",
		})
		return h
	}
	t.tracked = true
	t.owner = owner
	t.traceback = traceback
	t.sanctioned = true
	r.threads[t.id] = t

	r.step(t, resumeMsg{})
	return h
}

// step is the stepResumption algorithm: resume, then classify.
func (r *Registry) step(t *Thread, msg resumeMsg) Outcome {
	y := t.transfer(msg)
	outcome := r.classify(t, y)
	t.outcome = outcome
	if t.closePending && !t.closed {
		t.closePending = false
		r.close(t)
	}
	return t.outcome
}

func (r *Registry) classify(t *Thread, y yieldMsg) Outcome {
	switch y.kind {
	case yieldDied:
		t.state = StateDead
		t.fault = y.err
		r.report(Diagnostic{
			Kind:      DiagUserFault,
			Thread:    t.id,
			Traceback: t.traceback,
			Message:   "behavior computation died",
			Err:       y.err,
		})
		r.close(t)
		return OutcomeDied

	case yieldReturned:
		t.state = StateCompleted
		t.hasFinal = true
		return OutcomeReturned

	case yieldFinal:
		t.state = StateCompleted
		t.hasFinal = true
		t.finalReturn = y.values
		if len(y.values) > 1 {
			r.report(Diagnostic{
				Kind:      DiagMultipleReturns,
				Thread:    t.id,
				Traceback: t.traceback,
				Message:   fmt.Sprintf("behavior returned %d values; only the first is used as cleanup", len(y.values)),
			})
		}
		return OutcomeReturned

	case yieldExited:
		t.state = StateClosed
		return OutcomeClosed

	case yieldSuspend:
		if y.token != 0 && y.token == t.lastSanctionedYield {
			t.state = StateAwaitingResource
			return OutcomeSuspended
		}
		t.state = StateSuspended
		r.report(Diagnostic{
			Kind:      DiagYieldOutsideResource,
			Thread:    t.id,
			Traceback: t.traceback,
			Message:   "computation yielded outside a resource wait",
		})
		return OutcomeMisused
	}

	return outcomeFor(t)
}

// resume delivers a staged resumption. It is what the scheduler's Continue
// directive runs for a Yielding execution.
func (r *Registry) resume(t *Thread) Outcome {
	if t.closed {
		return OutcomeClosed
	}
	switch t.state {
	case StateAwaitingResource:
		if t.pending == nil {
			return OutcomeSuspended
		}
		msg := *t.pending
		t.pending = nil
		t.lastSanctionedYield = 0
		return r.step(t, msg)

	case StateSuspended:
		r.report(Diagnostic{
			Kind:      DiagResumeOutsideResource,
			Thread:    t.id,
			Traceback: t.traceback,
			Message:   "computation resumed outside a resource wait",
		})
		return r.step(t, resumeMsg{})

	case StateRunning:
		r.report(Diagnostic{
			Kind:      DiagResumeOutsideResource,
			Thread:    t.id,
			Traceback: t.traceback,
			Message:   "resume requested for a running computation",
		})
		return OutcomeMisused
	}
	return outcomeFor(t)
}

// CloseResult describes what a close did.
type CloseResult struct {
	// Cleanups is the number of registered cleanups that ran.
	Cleanups int
	// Returns holds the final values captured from the behavior, if any.
	Returns []any
	// AlreadyClosed is set when the computation had been closed before.
	AlreadyClosed bool
	// Deferred is set when close was requested from inside the running
	// computation; teardown happens when its current step ends.
	Deferred bool
}

// close tears a computation down exactly once.
func (r *Registry) close(t *Thread) CloseResult {
	if t.closed {
		return CloseResult{AlreadyClosed: true}
	}
	if t.state == StateRunning {
		t.closePending = true
		return CloseResult{Deferred: true}
	}

	t.closed = true
	t.pending = nil
	if !t.kill() {
		r.report(Diagnostic{
			Kind:      DiagYieldOutsideResource,
			Thread:    t.id,
			Traceback: t.traceback,
			Message:   "computation kept suspending while being closed; abandoned",
		})
	}

	cleanups := t.cleanups
	t.cleanups = nil
	for _, fn := range cleanups {
		r.runIsolated(t.id, t.traceback, fn)
	}

	delete(r.threads, t.id)
	t.state = StateClosed
	t.outcome = OutcomeClosed
	return CloseResult{Cleanups: len(cleanups), Returns: t.finalReturn}
}

// runIsolated runs fn so that a panic in it cannot corrupt the caller.
func (r *Registry) runIsolated(id ID, traceback string, fn func()) {
	if fn == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			r.report(Diagnostic{
				Kind:      DiagCleanupPanic,
				Thread:    id,
				Traceback: traceback,
				Message:   "cleanup panicked",
				Err:       fmt.Errorf("%v", rec),
			})
		}
	}()
	fn()
}

// RunIsolated runs fn with panics recovered and reported as cleanup
// diagnostics. Hosts use it to dispatch top-level behavior cleanups.
func (r *Registry) RunIsolated(traceback string, fn func()) {
	r.runIsolated(0, traceback, fn)
}
