package engine

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/roach88/tether/internal/resource"
	"github.com/roach88/tether/internal/thread"
)

type ent string

func (e ent) ID() string { return string(e) }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestManager(opts ...Option) *Manager {
	base := []Option{
		WithLogger(quietLogger()),
		WithIDGenerator(NewSequenceGenerator("exec")),
		WithLimits(Unlimited()),
	}
	return New(append(base, opts...)...)
}

// presence is a single named child that can appear and disappear.
type presence struct {
	present bool
	found   map[int]func(string)
	lost    map[int]func()
	next    int
}

func newPresence(present bool) *presence {
	return &presence{
		present: present,
		found:   make(map[int]func(string)),
		lost:    make(map[int]func()),
	}
}

func (p *presence) cond() resource.Condition[string] {
	return resource.Funcs[string]{
		Check: func(report func(string)) {
			if p.present {
				report("C")
			}
		},
		UntilFound: func(report func(string)) func() {
			p.next++
			id := p.next
			p.found[id] = report
			return func() { delete(p.found, id) }
		},
		UntilLost: func(_ string, reportLost func()) func() {
			p.next++
			id := p.next
			p.lost[id] = reportLost
			return func() { delete(p.lost, id) }
		},
	}
}

func (p *presence) set(present bool) {
	p.present = present
	if present {
		for _, fn := range snapshotFound(p.found) {
			fn("C")
		}
		return
	}
	for _, fn := range snapshotLost(p.lost) {
		fn()
	}
}

func (p *presence) watchers() int {
	return len(p.found) + len(p.lost)
}

func snapshotFound(m map[int]func(string)) []func(string) {
	out := make([]func(string), 0, len(m))
	for _, fn := range m {
		out = append(out, fn)
	}
	return out
}

func snapshotLost(m map[int]func()) []func() {
	out := make([]func(), 0, len(m))
	for _, fn := range m {
		out = append(out, fn)
	}
	return out
}

// recorder collects an ordered log of behavior activity.
type recorder struct {
	mu    sync.Mutex
	lines []string
}

func (r *recorder) add(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, line)
}

func (r *recorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.lines...)
}

// effectBehavior runs an effect immediately and logs its cleanup.
func effectBehavior(rec *recorder) Behavior {
	return func(ctx context.Context, e Entity) CleanupFn {
		rec.add("effect " + e.ID())
		return func() { rec.add("cleanup " + e.ID()) }
	}
}

// childBehavior waits for the child, then runs its effect.
func childBehavior(rec *recorder, p *presence) Behavior {
	return func(ctx context.Context, e Entity) CleanupFn {
		child, err := resource.WaitFor(ctx, p.cond())
		if err != nil {
			rec.add("error " + err.Error())
			return nil
		}
		rec.add("effect " + e.ID() + "/" + child)
		return func() { rec.add("cleanup " + e.ID() + "/" + child) }
	}
}

type sliceJournal struct {
	events []Event
	err    error
}

func (j *sliceJournal) Record(_ context.Context, ev Event) error {
	j.events = append(j.events, ev)
	return j.err
}

func (j *sliceJournal) kinds() []EventKind {
	out := make([]EventKind, 0, len(j.events))
	for _, ev := range j.events {
		out = append(out, ev.Kind)
	}
	return out
}

type countingObserver struct {
	ticks       []TickReport
	events      int
	diagnostics []thread.DiagnosticKind
}

func (o *countingObserver) ObserveTick(r TickReport) { o.ticks = append(o.ticks, r) }

func (o *countingObserver) ObserveEvent(Event) { o.events++ }

func (o *countingObserver) ObserveDiagnostic(d thread.Diagnostic) {
	o.diagnostics = append(o.diagnostics, d.Kind)
}
