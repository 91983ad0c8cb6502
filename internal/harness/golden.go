package harness

import (
	"fmt"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/tether/internal/engine"
)

// FormatEvent renders one event as a single trace line, e.g.
// "004 t1 effect exec-1 /rooms/kitchen".
func FormatEvent(ev engine.Event) string {
	fields := []string{fmt.Sprintf("%03d", ev.Seq), fmt.Sprintf("t%d", ev.Tick), string(ev.Kind)}
	for _, f := range []string{ev.Execution, ev.Entity, ev.Detail} {
		if f != "" {
			fields = append(fields, f)
		}
	}
	return strings.Join(fields, " ")
}

// FormatResult renders the trace followed by the final executions. The
// output is stable for a given scenario and is what golden files hold.
func FormatResult(r *Result) []byte {
	var buf strings.Builder
	for _, ev := range r.Trace {
		buf.WriteString(FormatEvent(ev))
		buf.WriteByte('\n')
	}
	buf.WriteString("# final\n")
	for _, s := range r.Executions {
		fmt.Fprintf(&buf, "%s %s %s restarts=%d\n", s.ID, s.Entity, s.State, s.Restarts)
	}
	fmt.Fprintf(&buf, "active_effects=%d\n", r.ActiveEffects)
	return []byte(buf.String())
}

// RunWithGolden executes a scenario and compares its rendered trace with
// testdata/golden/<scenario.Name>.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	AssertGolden(t, scenario.Name, result)
	return result, nil
}

// AssertGolden compares an existing result with its golden file.
func AssertGolden(t *testing.T, name string, result *Result) {
	t.Helper()

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, FormatResult(result))
}
