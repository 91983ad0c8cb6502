package harness

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/tether/internal/engine"
	"github.com/roach88/tether/internal/world"
)

// Scenario is one scripted run of the scheduler.
type Scenario struct {
	// Name identifies the scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what the scenario checks.
	Description string `yaml:"description"`

	// Limits are the throttle limits. Nil runs unthrottled.
	Limits *engine.Limits `yaml:"limits,omitempty"`

	// World lists the nodes created before the binding starts watching,
	// parents first.
	World []string `yaml:"world"`

	// Watch is the node whose children become the binding's entities.
	Watch string `yaml:"watch"`

	// Behavior configures the behavior run for every entity.
	Behavior BehaviorSpec `yaml:"behavior"`

	// Steps are played in order after the binding starts watching.
	Steps []Step `yaml:"steps"`

	// Assertions are checked against the trace and final executions.
	Assertions []Assertion `yaml:"assertions"`
}

// BehaviorSpec describes the scenario behavior: wait for each named child
// of the entity in turn, spend Cost of manual time, then put an effect in
// place whose cleanup removes it again.
type BehaviorSpec struct {
	// WaitFor lists child names awaited before the effect.
	WaitFor []string `yaml:"wait_for,omitempty"`

	// Cost is how far the manual clock moves each time the effect runs.
	Cost time.Duration `yaml:"cost,omitempty"`

	// PanicOn lists entity paths whose behavior panics instead of
	// producing an effect.
	PanicOn []string `yaml:"panic_on,omitempty"`
}

// Step is one scenario action. Exactly one field is set.
type Step struct {
	// Tick runs that many ticks.
	Tick int `yaml:"tick,omitempty"`

	// Pace delivers the pacing signal.
	Pace bool `yaml:"pace,omitempty"`

	// Add creates a node.
	Add string `yaml:"add,omitempty"`

	// Remove deletes a node and its subtree.
	Remove string `yaml:"remove,omitempty"`

	// Advance moves the manual clock.
	Advance time.Duration `yaml:"advance,omitempty"`
}

func (s Step) String() string {
	switch {
	case s.Tick > 0:
		return fmt.Sprintf("tick %d", s.Tick)
	case s.Pace:
		return "pace"
	case s.Add != "":
		return "add " + s.Add
	case s.Remove != "":
		return "remove " + s.Remove
	case s.Advance > 0:
		return "advance " + s.Advance.String()
	}
	return "empty step"
}

func (s Step) fields() int {
	n := 0
	if s.Tick != 0 {
		n++
	}
	if s.Pace {
		n++
	}
	if s.Add != "" {
		n++
	}
	if s.Remove != "" {
		n++
	}
	if s.Advance != 0 {
		n++
	}
	return n
}

// Assertion checks the trace or the final executions.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Kind is the event kind (trace_contains, trace_count).
	Kind string `yaml:"kind,omitempty"`

	// Entity restricts the match to one entity path.
	Entity string `yaml:"entity,omitempty"`

	// Events are "kind entity" pairs expected in order (trace_order).
	Events []string `yaml:"events,omitempty"`

	// Count is the expected number of matches (trace_count, active_effects).
	Count int `yaml:"count,omitempty"`

	// State is the expected execution state (final_state).
	State string `yaml:"state,omitempty"`

	// Restarts is the expected restart count (final_state).
	Restarts *int `yaml:"restarts,omitempty"`

	// Tick is the tick number (throttled).
	Tick uint64 `yaml:"tick,omitempty"`

	// Reason is the budget that stopped the tick (throttled).
	Reason string `yaml:"reason,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
	AssertThrottled     = "throttled"
	AssertActiveEffects = "active_effects"
)

// ErrInvalidScenario wraps every validation failure.
var ErrInvalidScenario = errors.New("invalid scenario")

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	defer f.Close()
	return ParseScenario(f)
}

// ParseScenario decodes and validates a scenario.
func ParseScenario(r io.Reader) (*Scenario, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario: %w", err)
	}

	// Parse YAML with strict field validation (catches typos like "assertion:" vs "assertions:")
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidScenario, err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Watch == "" {
		return fmt.Errorf("watch is required")
	}
	if _, err := world.Clean(s.Watch); err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	if s.Limits != nil {
		if err := s.Limits.Validate(); err != nil {
			return err
		}
	}
	if s.Behavior.Cost < 0 {
		return fmt.Errorf("behavior.cost must not be negative")
	}

	for i, p := range s.World {
		if _, err := world.Clean(p); err != nil {
			return fmt.Errorf("world[%d]: %w", i, err)
		}
	}

	for i, step := range s.Steps {
		if step.fields() != 1 {
			return fmt.Errorf("steps[%d]: exactly one of tick, pace, add, remove, advance is required", i)
		}
		if step.Tick < 0 || step.Advance < 0 {
			return fmt.Errorf("steps[%d]: must not be negative", i)
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Kind == "" {
			return fmt.Errorf("assertions[%d]: kind is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Events) == 0 {
			return fmt.Errorf("assertions[%d]: events list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Kind == "" {
			return fmt.Errorf("assertions[%d]: kind is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalState:
		if a.Entity == "" {
			return fmt.Errorf("assertions[%d]: entity is required for final_state", index)
		}
		if a.State == "" {
			return fmt.Errorf("assertions[%d]: state is required for final_state", index)
		}
	case AssertThrottled:
		if a.Tick == 0 || a.Reason == "" {
			return fmt.Errorf("assertions[%d]: tick and reason are required for throttled", index)
		}
	case AssertActiveEffects:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for active_effects", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
