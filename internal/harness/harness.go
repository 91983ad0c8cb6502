package harness

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/roach88/tether/internal/engine"
	"github.com/roach88/tether/internal/resource"
	"github.com/roach88/tether/internal/testutil"
	"github.com/roach88/tether/internal/world"
)

// BindingName is the name the scenario behavior is bound under.
const BindingName = "scenario"

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every assertion held.
	Pass bool `json:"pass"`

	// Trace holds the lifecycle events emitted while the steps ran.
	Trace []engine.Event `json:"trace"`

	// Ticks holds one report per tick step.
	Ticks []engine.TickReport `json:"ticks"`

	// Executions is the state of every execution after the last step.
	Executions []engine.Snapshot `json:"executions"`

	// ActiveEffects counts behavior effects in place after the last step.
	ActiveEffects int `json:"active_effects"`

	// Errors holds one message per failed assertion.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{Pass: true}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Option configures a run.
type Option func(*options)

type options struct {
	journal  engine.Journal
	observer engine.Observer
	logger   *slog.Logger
}

// WithJournal copies every event, teardown included, to j.
func WithJournal(j engine.Journal) Option {
	return func(o *options) { o.journal = j }
}

// WithObserver attaches a tick observer to the manager.
func WithObserver(obs engine.Observer) Option {
	return func(o *options) { o.observer = obs }
}

// WithLogger sets the manager's logger. Defaults to a discarding logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Harness holds the state of one scenario run.
type Harness struct {
	scenario *Scenario
	world    *world.World
	manager  *engine.Manager
	clock    *testutil.ManualTime
	extra    engine.Journal

	recording bool
	result    *Result
	effects   int
}

// Run executes a scenario and returns its result. Each run gets a fresh
// world, manager and clock. Assertion failures are reported in the
// result; the error is for scenarios that cannot be played at all.
//
// Execution flow:
// 1. Build the world and bind the behavior to the watched node
// 2. Play the steps
// 3. Snapshot executions and evaluate assertions
// 4. Shut the manager down so every cleanup runs
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	o := options{logger: testutil.DiscardLogger()}
	for _, opt := range opts {
		opt(&o)
	}

	limits := engine.Unlimited()
	if scenario.Limits != nil {
		limits = *scenario.Limits
	}

	h := &Harness{
		scenario:  scenario,
		world:     world.New(),
		clock:     testutil.NewManualTime(),
		extra:     o.journal,
		recording: true,
		result:    NewResult(),
	}

	mopts := []engine.Option{
		engine.WithLimits(limits),
		engine.WithLogger(o.logger),
		engine.WithIDGenerator(engine.NewSequenceGenerator("exec")),
		engine.WithJournal(engine.JournalFunc(h.record)),
		engine.WithNow(h.clock.Now),
	}
	if o.observer != nil {
		mopts = append(mopts, engine.WithObserver(o.observer))
	}
	h.manager = engine.New(mopts...)

	for _, p := range scenario.World {
		if _, err := h.world.Add(p); err != nil {
			return nil, fmt.Errorf("build world: %w", err)
		}
	}

	binding := h.manager.Bind(BindingName, h.behavior())
	stop, err := h.world.WatchChildren(scenario.Watch, binding)
	if err != nil {
		return nil, fmt.Errorf("watch %s: %w", scenario.Watch, err)
	}
	defer func() {
		h.recording = false
		stop()
		h.manager.Shutdown()
	}()

	for i, step := range scenario.Steps {
		if err := h.play(step); err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i, step, err)
		}
	}

	result := h.result
	result.Executions = h.manager.Executions()
	result.ActiveEffects = h.effects
	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

func (h *Harness) play(step Step) error {
	switch {
	case step.Tick > 0:
		for range step.Tick {
			h.result.Ticks = append(h.result.Ticks, h.manager.Tick())
		}
	case step.Pace:
		h.manager.Pace()
	case step.Add != "":
		if _, err := h.world.Add(step.Add); err != nil {
			return err
		}
	case step.Remove != "":
		return h.world.Remove(step.Remove)
	case step.Advance > 0:
		h.clock.Advance(step.Advance)
	}
	return nil
}

// behavior waits for the configured children, spends the configured cost
// and counts its effect until cleaned up.
func (h *Harness) behavior() engine.Behavior {
	spec := h.scenario.Behavior
	return func(ctx context.Context, e engine.Entity) engine.CleanupFn {
		for _, name := range spec.WaitFor {
			if _, err := resource.WaitFor(ctx, h.world.Child(e, name)); err != nil {
				return nil
			}
		}

		h.clock.Advance(spec.Cost)
		if slices.Contains(spec.PanicOn, e.ID()) {
			panic(fmt.Sprintf("scenario behavior failed for %s", e.ID()))
		}

		h.effects++
		return func() { h.effects-- }
	}
}

func (h *Harness) record(ctx context.Context, ev engine.Event) error {
	if h.recording {
		h.result.Trace = append(h.result.Trace, ev)
	}
	if h.extra != nil {
		return h.extra.Record(ctx, ev)
	}
	return nil
}
