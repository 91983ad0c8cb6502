package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/roach88/tether/internal/thread"
)

// maxShutdownPasses bounds Shutdown when cleanups keep adding entities.
const maxShutdownPasses = 64

// Manager is the tick-driven scheduler of Executions.
//
// CRITICAL: All state is owned by one driving goroutine. Tick, Pace, Bind,
// Binding methods and resource watcher callbacks run there. Other
// goroutines use Submit; SetLimits and Limits are safe from anywhere.
type Manager struct {
	registry *thread.Registry
	logger   *slog.Logger
	ids      IDGenerator
	journal  Journal
	observer Observer
	now      func() time.Time
	clock    *Clock

	limits atomic.Pointer[Limits]

	work     workSet
	inbox    *inbox
	bindings []*Binding
	byThread map[thread.ID]*Execution
	live     int

	ticksSincePacing int
}

// Option configures a Manager.
type Option func(*Manager)

// WithLimits sets the initial throttle limits. Default: DefaultLimits().
func WithLimits(l Limits) Option {
	return func(m *Manager) {
		m.limits.Store(&l)
	}
}

// WithLogger sets the structured logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithIDGenerator sets the Execution ID source. Default: UUIDv7Generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(m *Manager) {
		if g != nil {
			m.ids = g
		}
	}
}

// WithJournal records every lifecycle event.
func WithJournal(j Journal) Option {
	return func(m *Manager) {
		m.journal = j
	}
}

// WithObserver reports ticks, events and diagnostics to o.
func WithObserver(o Observer) Option {
	return func(m *Manager) {
		m.observer = o
	}
}

// WithNow replaces the wall clock used for the time budget.
func WithNow(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithClock sets the sequence clock, e.g. to continue after events already
// in a journal.
func WithClock(c *Clock) Option {
	return func(m *Manager) {
		if c != nil {
			m.clock = c
		}
	}
}

// New creates a Manager with its own thread registry.
func New(opts ...Option) *Manager {
	m := &Manager{
		logger:   slog.Default(),
		ids:      UUIDv7Generator{},
		now:      time.Now,
		clock:    NewClock(),
		inbox:    newInbox(),
		byThread: make(map[thread.ID]*Execution),
	}
	defaults := DefaultLimits()
	m.limits.Store(&defaults)

	for _, opt := range opts {
		opt(m)
	}

	m.registry = thread.NewRegistry(
		thread.WithLogger(m.logger),
		thread.WithDiagnostics(m.onDiagnostic),
	)
	return m
}

// Registry returns the thread registry owned by the manager.
func (m *Manager) Registry() *thread.Registry {
	return m.registry
}

// Clock returns the manager's sequence clock.
func (m *Manager) Clock() *Clock {
	return m.clock
}

// Bind registers behavior under name and returns the event-source triple
// that drives it. The caller's location is attached to diagnostics.
func (m *Manager) Bind(name string, behavior Behavior) *Binding {
	b := &Binding{
		mgr:        m,
		name:       name,
		behavior:   behavior,
		traceback:  thread.Traceback(1),
		executions: make(map[string]*Execution),
	}
	m.bindings = append(m.bindings, b)
	return b
}

// SetLimits replaces the throttle limits. The change applies from the next
// tick. Safe from any goroutine.
func (m *Manager) SetLimits(l Limits) error {
	if err := l.Validate(); err != nil {
		return err
	}
	m.limits.Store(&l)
	m.logger.Info("limits updated",
		"max_time", l.MaxTime,
		"max_resource_blocks", l.MaxResourceBlocks,
		"max_effect_blocks", l.MaxEffectBlocks,
		"max_resource_cleanups", l.MaxResourceCleanups,
		"max_effect_cleanups", l.MaxEffectCleanups,
		"max_ticks_behind_pacing", l.MaxTicksBehindPacing,
	)
	return nil
}

// Limits returns the current throttle limits. Safe from any goroutine.
func (m *Manager) Limits() Limits {
	return *m.limits.Load()
}

// Submit hands fn to the driving goroutine; it runs at the start of the next
// tick or as soon as Run notices it. Safe from any goroutine. Returns false
// after Stop or Shutdown.
func (m *Manager) Submit(fn func()) bool {
	return m.inbox.Enqueue(fn)
}

// Pace delivers the pacing signal.
func (m *Manager) Pace() {
	m.ticksSincePacing = 0
}

// TickReport summarises one tick.
type TickReport struct {
	Tick      uint64        `json:"tick"`
	Processed int           `json:"processed"`
	Requeued  int           `json:"requeued"`
	Pending   int           `json:"pending"`
	Live      int           `json:"live"`
	Counts    Counts        `json:"counts"`
	Elapsed   time.Duration `json:"elapsed"`
	Throttled bool          `json:"throttled"`
	Reason    string        `json:"reason,omitempty"`
	Flushed   bool          `json:"flushed"`
}

// Tick performs one advancement pass over the work set.
func (m *Manager) Tick() TickReport {
	m.drainInbox()

	limits := m.Limits()
	m.ticksSincePacing++
	flush := limits.MaxTicksBehindPacing > 0 && m.ticksSincePacing > limits.MaxTicksBehindPacing
	if flush {
		m.logger.Debug("tick running unthrottled",
			"ticks_since_pacing", m.ticksSincePacing,
			"max_ticks_behind_pacing", limits.MaxTicksBehindPacing,
		)
	}
	return m.pass(limits, flush)
}

func (m *Manager) pass(limits Limits, unthrottled bool) TickReport {
	tick := m.clock.Advance()
	b := newBudget(limits, m.now, unthrottled)
	report := TickReport{Tick: tick, Flushed: unthrottled}

	entries := m.work.drain()
	for i, e := range entries {
		b.add(m.advance(e, b))
		report.Processed++

		reason, hit := b.exhausted()
		if !hit {
			e.scheduled = false
			continue
		}

		rest := entries[i+1:]
		if e.queued != DirectiveNone {
			rest = append([]*Execution{e}, rest...)
		} else {
			e.scheduled = false
		}
		m.work.requeue(rest)
		report.Throttled = true
		report.Reason = reason
		report.Requeued = len(rest)
		break
	}

	report.Counts = b.counts
	report.Elapsed = b.elapsed()
	report.Pending = m.work.len()
	report.Live = m.live

	if report.Throttled {
		m.emit(Event{Kind: EventThrottled, Detail: fmt.Sprintf("%s requeued=%d", report.Reason, report.Requeued)})
		m.logger.Debug("tick throttled",
			"tick", tick,
			"reason", report.Reason,
			"processed", report.Processed,
			"requeued", report.Requeued,
		)
	}
	if m.observer != nil {
		m.observer.ObserveTick(report)
	}
	return report
}

// advance applies e's queued directives until none is left or the time
// budget runs out. Directives chain: Restart queues Continue.
func (m *Manager) advance(e *Execution, b *budget) Counts {
	var c Counts
	for e.queued != DirectiveNone {
		d := e.queued
		e.queued = DirectiveNone
		m.apply(e, d, &c)
		if b.timeExceeded() {
			break
		}
	}
	return c
}

func (m *Manager) apply(e *Execution, d Directive, c *Counts) {
	switch d {
	case DirectiveContinue:
		switch e.state {
		case StatePending:
			m.start(e, c)
		case StateYielding:
			m.resume(e, c)
		}

	case DirectiveRestart:
		switch e.state {
		case StateExecuting, StateYielding:
			m.teardown(e, c)
			e.state = StatePending
			e.restarts++
			m.emitFor(e, EventRestarted, "")
			if e.queued == DirectiveNone {
				e.queued = DirectiveContinue
			}
		case StatePending:
			if e.queued == DirectiveNone {
				e.queued = DirectiveContinue
			}
		}

	case DirectiveFinish:
		if e.state == StateFinished {
			return
		}
		m.teardown(e, c)
		m.retire(e, EventFinished, "")
	}
}

func (m *Manager) start(e *Execution, c *Counts) {
	b := e.binding
	e.generation++
	e.state = StateExecuting
	m.emitFor(e, EventStarted, "")

	e.handle = launch(m.registry, b.behavior, e.entity, b.traceFor(e),
		owner{e: e, generation: e.generation},
		func(id thread.ID) { m.byThread[id] = e })
	m.settle(e, e.handle.Outcome(), c)
}

func (m *Manager) resume(e *Execution, c *Counts) {
	if e.handle == nil || !e.handle.Pending() {
		return
	}
	c.ResourceBlocks++
	e.state = StateExecuting
	m.emitFor(e, EventResumed, "")
	m.settle(e, e.handle.Resume(), c)
}

// settle maps the outcome of a step to the Execution's next state.
func (m *Manager) settle(e *Execution, outcome thread.Outcome, c *Counts) {
	switch outcome {
	case thread.OutcomeSuspended:
		e.state = StateYielding
		m.emitFor(e, EventSuspended, "")

	case thread.OutcomeReturned:
		e.state = StateYielding
		c.EffectBlocks++
		m.emitFor(e, EventEffect, "")

	case thread.OutcomeMisused:
		e.state = StateYielding

	case thread.OutcomeDied:
		h := e.handle
		e.handle = nil
		delete(m.byThread, h.ID())
		e.err = NewUserFaultError(e.id, e.entity.ID(), h.Thread().Fault())
		m.logger.Error("behavior died", append(e.binding.logAttrs(e), "error", e.err)...)
		m.retire(e, EventDied, e.err.Error())

	case thread.OutcomeClosed:
		if h := e.handle; h != nil {
			delete(m.byThread, h.ID())
		}
		e.handle = nil
		m.retire(e, EventFinished, "closed during step")
	}
}

// teardown closes e's computation: registered cleanups first, then the
// behavior's own cleanup, each isolated.
func (m *Manager) teardown(e *Execution, c *Counts) {
	h := e.handle
	if h == nil {
		return
	}
	e.handle = nil

	res := h.Finish()
	c.ResourceCleanups += res.Cleanups
	if fn := effectCleanup(res.Returns); fn != nil {
		c.EffectCleanups++
		m.registry.RunIsolated(e.binding.traceFor(e), fn)
	}
	delete(m.byThread, h.ID())
}

func (m *Manager) retire(e *Execution, kind EventKind, detail string) {
	e.state = StateFinished
	e.queued = DirectiveNone
	m.live--
	m.emitFor(e, kind, detail)
}

// Run drives the manager until ctx is cancelled or Stop is called. Each
// value on ticks runs one Tick; each value on pacing delivers Pace. A nil
// pacing channel disables pacing.
//
// CRITICAL: Run must be the only goroutine touching the manager.
func (m *Manager) Run(ctx context.Context, ticks, pacing <-chan time.Time) error {
	m.logger.Info("scheduler starting", "limits", m.Limits())

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("scheduler stopping", "reason", ctx.Err())
			return ctx.Err()

		case _, ok := <-ticks:
			if !ok {
				m.logger.Info("scheduler stopping", "reason", "tick source closed")
				return nil
			}
			m.Tick()

		case <-pacing:
			m.Pace()

		case _, ok := <-m.inbox.Wait():
			if !ok {
				m.logger.Info("scheduler stopping", "reason", "stopped")
				return nil
			}
			m.drainInbox()
		}
	}
}

// Stop makes Run return and rejects further Submit calls. Safe from any
// goroutine.
func (m *Manager) Stop() {
	m.inbox.Close()
}

// Shutdown finishes every Execution of every binding and runs unthrottled
// passes until their cleanups have run. Call from the driving goroutine
// after Run has returned.
func (m *Manager) Shutdown() {
	m.drainInbox()
	m.inbox.Close()
	for _, b := range m.bindings {
		b.RemoveAll()
	}
	for i := 0; m.work.len() > 0; i++ {
		if i == maxShutdownPasses {
			m.logger.Warn("shutdown abandoned with work left", "pending", m.work.len())
			return
		}
		m.pass(m.Limits(), true)
	}
}

// drainInbox runs submitted functions. A panicking function is logged and
// skipped.
func (m *Manager) drainInbox() {
	for _, fn := range m.inbox.Drain() {
		m.runSubmitted(fn)
	}
}

func (m *Manager) runSubmitted(fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			m.logger.Error("submitted function panicked", "panic", rec)
		}
	}()
	fn()
}

// Executions returns a snapshot of every live Execution, grouped by binding
// in bind order and by entity in add order.
func (m *Manager) Executions() []Snapshot {
	var out []Snapshot
	for _, b := range m.bindings {
		for _, e := range b.order {
			out = append(out, e.snapshot())
		}
	}
	return out
}

// WorkLen returns the number of Executions waiting in the work set.
func (m *Manager) WorkLen() int {
	return m.work.len()
}

// Live returns the number of Executions that have not finished.
func (m *Manager) Live() int {
	return m.live
}

func (m *Manager) onDiagnostic(d thread.Diagnostic) {
	ev := Event{Kind: EventDiagnostic, Detail: fmt.Sprintf("%s: %s", d.Kind, d.Message)}
	if e, ok := m.byThread[d.Thread]; ok {
		ev.Binding = e.binding.name
		ev.Execution = e.id
		ev.Entity = e.entity.ID()
	}
	m.emit(ev)
	if m.observer != nil {
		m.observer.ObserveDiagnostic(d)
	}
}

func (m *Manager) emitFor(e *Execution, kind EventKind, detail string) {
	m.emit(Event{
		Kind:      kind,
		Binding:   e.binding.name,
		Execution: e.id,
		Entity:    e.entity.ID(),
		Detail:    detail,
	})
}

// emit stamps ev and hands it to the journal and observer. Journal failures
// are logged and otherwise ignored; the trace is diagnostic only.
func (m *Manager) emit(ev Event) {
	ev.Seq = m.clock.Stamp()
	ev.Tick = m.clock.Tick()

	m.logger.Debug("lifecycle",
		"seq", ev.Seq,
		"tick", ev.Tick,
		"kind", string(ev.Kind),
		"execution", ev.Execution,
		"entity", ev.Entity,
	)
	if m.journal != nil {
		if err := m.journal.Record(context.Background(), ev); err != nil {
			m.logger.Warn("journal write failed", "seq", ev.Seq, "kind", string(ev.Kind), "error", err)
		}
	}
	if m.observer != nil {
		m.observer.ObserveEvent(ev)
	}
}
