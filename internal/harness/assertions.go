package harness

import (
	"fmt"
	"strings"

	"github.com/roach88/tether/internal/engine"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string         // Assertion type for categorization
	Expected string         // Human-readable expected outcome
	Actual   string         // Human-readable actual outcome
	Trace    []engine.Event // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, ev := range e.Trace {
			fmt.Fprintf(&buf, "  %s\n", FormatEvent(ev))
		}
	}
	return buf.String()
}

func matches(ev engine.Event, kind, entity string) bool {
	return string(ev.Kind) == kind && (entity == "" || ev.Entity == entity)
}

func describe(kind, entity string) string {
	if entity == "" {
		return kind
	}
	return kind + " " + entity
}

// assertTraceContains checks that some event has the kind and entity.
func assertTraceContains(trace []engine.Event, a Assertion) error {
	for _, ev := range trace {
		if matches(ev, a.Kind, a.Entity) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: describe(a.Kind, a.Entity),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks that the events appear in the specified order.
// They don't need to be consecutive; each is matched after the previous
// match.
func assertTraceOrder(trace []engine.Event, a Assertion) error {
	pos := 0
	for _, want := range a.Events {
		kind, entity, _ := strings.Cut(want, " ")
		found := false
		for pos < len(trace) {
			ev := trace[pos]
			pos++
			if matches(ev, kind, entity) {
				found = true
				break
			}
		}
		if !found {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("events in order: %v", a.Events),
				Actual:   fmt.Sprintf("%q missing or out of order", want),
				Trace:    trace,
			}
		}
	}
	return nil
}

// assertTraceCount checks the exact number of matching events.
func assertTraceCount(trace []engine.Event, a Assertion) error {
	count := 0
	for _, ev := range trace {
		if matches(ev, a.Kind, a.Entity) {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", a.Count, describe(a.Kind, a.Entity)),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertFinalState checks the state of the execution for an entity after
// the last step.
func assertFinalState(execs []engine.Snapshot, a Assertion) error {
	for _, s := range execs {
		if s.Entity != a.Entity {
			continue
		}
		if s.State != a.State {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("%s in state %s", a.Entity, a.State),
				Actual:   "state " + s.State,
			}
		}
		if a.Restarts != nil && s.Restarts != *a.Restarts {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("%s restarted %d times", a.Entity, *a.Restarts),
				Actual:   fmt.Sprintf("restarted %d times", s.Restarts),
			}
		}
		return nil
	}
	return &AssertionError{
		Type:     AssertFinalState,
		Expected: fmt.Sprintf("execution for %s", a.Entity),
		Actual:   "no live execution",
	}
}

// assertThrottled checks that a tick stopped early for a reason.
func assertThrottled(ticks []engine.TickReport, a Assertion) error {
	for _, r := range ticks {
		if r.Tick != a.Tick {
			continue
		}
		if !r.Throttled || r.Reason != a.Reason {
			return &AssertionError{
				Type:     AssertThrottled,
				Expected: fmt.Sprintf("tick %d throttled by %s", a.Tick, a.Reason),
				Actual:   fmt.Sprintf("throttled=%t reason=%q", r.Throttled, r.Reason),
			}
		}
		return nil
	}
	return &AssertionError{
		Type:     AssertThrottled,
		Expected: fmt.Sprintf("tick %d", a.Tick),
		Actual:   fmt.Sprintf("only %d ticks ran", len(ticks)),
	}
}

// EvaluateAssertions evaluates all assertions against a result.
// Returns one error message per failed assertion.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, a)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, a)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, a)
		case AssertFinalState:
			err = assertFinalState(result.Executions, a)
		case AssertThrottled:
			err = assertThrottled(result.Ticks, a)
		case AssertActiveEffects:
			if result.ActiveEffects != a.Count {
				err = &AssertionError{
					Type:     AssertActiveEffects,
					Expected: fmt.Sprintf("%d active effects", a.Count),
					Actual:   fmt.Sprintf("%d active effects", result.ActiveEffects),
				}
			}
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			errs = append(errs, fmt.Sprintf("assertion %d: %v", i, err))
		}
	}
	return errs
}
