package harness

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tether/internal/engine"
)

func load(t *testing.T, name string) *Scenario {
	t.Helper()
	s, err := LoadScenario(filepath.Join("testdata", "scenarios", name+".yaml"))
	require.NoError(t, err)
	return s
}

func TestScenarios(t *testing.T) {
	tests := []struct {
		name   string
		golden bool
	}{
		{"child_restart", true},
		{"effect_spillover", true},
		{"pacing_flush", false},
		{"user_fault", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := load(t, tt.name)

			var result *Result
			var err error
			if tt.golden {
				result, err = RunWithGolden(t, s)
			} else {
				result, err = Run(s)
			}
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestResult_JSONUsesSnakeCaseKeys(t *testing.T) {
	result, err := Run(load(t, "child_restart"))
	require.NoError(t, err)

	data, err := json.Marshal(result)
	require.NoError(t, err)

	var doc struct {
		Trace []map[string]any `json:"trace"`
	}
	require.NoError(t, json.Unmarshal(data, &doc))
	require.NotEmpty(t, doc.Trace)

	first := doc.Trace[0]
	assert.Equal(t, float64(1), first["seq"])
	assert.Equal(t, string(engine.EventAdded), first["kind"])
	assert.Equal(t, BindingName, first["binding"])
	assert.Contains(t, first, "tick")
	assert.NotContains(t, first, "Seq")
	assert.NotContains(t, first, "Kind")
}

func TestRun_PacingFlushRunsUnthrottled(t *testing.T) {
	result, err := Run(load(t, "pacing_flush"))
	require.NoError(t, err)

	require.Len(t, result.Ticks, 2)
	assert.Equal(t, 2, result.Ticks[0].Requeued)
	assert.False(t, result.Ticks[0].Flushed)
	assert.True(t, result.Ticks[1].Flushed)
	assert.Equal(t, 2, result.Ticks[1].Processed)
	assert.False(t, result.Ticks[1].Throttled)
}

func TestRun_FailingAssertionsAreReported(t *testing.T) {
	s := load(t, "effect_spillover")
	s.Assertions = []Assertion{
		{Type: AssertTraceCount, Kind: "effect", Count: 1},
		{Type: AssertFinalState, Entity: "/a/missing", State: "yielding"},
		{Type: AssertThrottled, Tick: 2, Reason: engine.ReasonEffectBlocks},
	}

	result, err := Run(s)
	require.NoError(t, err)

	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 3)
	assert.Contains(t, result.Errors[0], "3 occurrences")
	assert.Contains(t, result.Errors[1], "no live execution")
	assert.Contains(t, result.Errors[2], "throttled=false")
}

func TestRun_BadStepIsAnError(t *testing.T) {
	s := load(t, "child_restart")
	s.Steps = []Step{{Add: "/nowhere/child"}}

	_, err := Run(s)
	assert.ErrorContains(t, err, "step 0 (add /nowhere/child)")
}

func TestRun_JournalSeesTeardown(t *testing.T) {
	var kinds []engine.EventKind
	j := engine.JournalFunc(func(_ context.Context, ev engine.Event) error {
		kinds = append(kinds, ev.Kind)
		return nil
	})

	result, err := Run(load(t, "effect_spillover"), WithJournal(j))
	require.NoError(t, err)

	assert.Greater(t, len(kinds), len(result.Trace), "shutdown events reach the journal only")
	assert.Equal(t, engine.EventFinished, kinds[len(kinds)-1])
}

func TestParseScenario_RejectsUnknownFields(t *testing.T) {
	_, err := ParseScenario(strings.NewReader(`
name: x
description: y
watch: /
steps: [{tick: 1}]
assertion: []
`))
	assert.ErrorContains(t, err, "failed to parse YAML")
}

func TestParseScenario_Validation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "missing watch",
			yaml: "name: x\ndescription: y\nsteps: [{tick: 1}]\n",
			want: "watch is required",
		},
		{
			name: "two fields in one step",
			yaml: "name: x\ndescription: y\nwatch: /\nsteps: [{tick: 1, pace: true}]\n",
			want: "exactly one of",
		},
		{
			name: "negative limit",
			yaml: "name: x\ndescription: y\nwatch: /\nlimits: {max_effect_blocks: -1}\nsteps: [{tick: 1}]\n",
			want: "must not be negative",
		},
		{
			name: "unknown assertion",
			yaml: "name: x\ndescription: y\nwatch: /\nsteps: [{tick: 1}]\nassertions: [{type: nope}]\n",
			want: "unknown assertion type",
		},
		{
			name: "bad world path",
			yaml: "name: x\ndescription: y\nwatch: /\nworld: [/a/../b]\nsteps: [{tick: 1}]\n",
			want: "world[0]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario(strings.NewReader(tt.yaml))
			require.ErrorIs(t, err, ErrInvalidScenario)
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestParseScenario_Durations(t *testing.T) {
	s, err := ParseScenario(strings.NewReader(`
name: x
description: y
watch: /
limits: {max_time: 3ms}
behavior: {cost: 250us}
steps: [{advance: 1s}]
`))
	require.NoError(t, err)
	assert.Equal(t, "3ms", s.Limits.MaxTime.String())
	assert.Equal(t, "250µs", s.Behavior.Cost.String())
	assert.Equal(t, "advance 1s", s.Steps[0].String())
}

func TestFormatEvent(t *testing.T) {
	assert.Equal(t, "007 t2 restarted exec-1 /e",
		FormatEvent(engine.Event{Seq: 7, Tick: 2, Kind: engine.EventRestarted, Execution: "exec-1", Entity: "/e"}))
	assert.Equal(t, "012 t3 throttled max_time requeued=0",
		FormatEvent(engine.Event{Seq: 12, Tick: 3, Kind: engine.EventThrottled, Detail: "max_time requeued=0"}))
}
