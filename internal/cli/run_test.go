package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const restartScenario = `name: restart
description: "Losing the sensor restarts the kitchen behavior"
world: [/rooms, /rooms/kitchen, /rooms/kitchen/sensor]
watch: /rooms
behavior:
  wait_for: [sensor]
steps:
  - tick: 1
  - remove: /rooms/kitchen/sensor
  - tick: 1
assertions:
  - type: trace_count
    kind: restarted
    count: 1
`

const failingScenario = `name: failing
description: "Expects an effect that never happens"
world: [/rooms, /rooms/hall]
watch: /rooms
behavior:
  wait_for: [sensor]
steps:
  - tick: 1
assertions:
  - type: trace_contains
    kind: effect
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRunCommand_TextTrace(t *testing.T) {
	path := writeFile(t, t.TempDir(), "restart.yaml", restartScenario)

	out, err := execute(t, "run", path)
	require.NoError(t, err)

	assert.Contains(t, out, "Scenario: restart")
	assert.Contains(t, out, "001 t0 added exec-1 /rooms/kitchen")
	assert.Contains(t, out, "restarted exec-1 /rooms/kitchen")
	assert.Contains(t, out, "exec-1 /rooms/kitchen yielding restarts=1")
	assert.Contains(t, out, "✓ All assertions held")
}

func TestRunCommand_JSON(t *testing.T) {
	path := writeFile(t, t.TempDir(), "restart.yaml", restartScenario)

	out, err := execute(t, "run", path, "--format", "json")
	require.NoError(t, err)

	var resp struct {
		Status string    `json:"status"`
		Data   RunOutput `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Pass)
	assert.Empty(t, resp.Data.RunID, "no database, no run")
	require.Len(t, resp.Data.Executions, 1)
	assert.Equal(t, 1, resp.Data.Executions[0].Restarts)
}

func TestRunCommand_FailedAssertionsExitOne(t *testing.T) {
	path := writeFile(t, t.TempDir(), "failing.yaml", failingScenario)

	out, err := execute(t, "run", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ assertion 0")
}

func TestRunCommand_MissingScenarioExitTwo(t *testing.T) {
	_, err := execute(t, "run", filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
