// Package harness runs scheduler scenarios and checks their lifecycle
// traces.
//
// A scenario builds an entity tree, binds one behavior to the children of a
// watched node and then plays a list of steps against the manager. Every
// step is synchronous and deterministic: ids come from a sequence
// generator and wall time only moves when the scenario says so.
//
// # Scenario Format
//
// Scenarios are YAML files with the following structure:
//
//	name: child_restart
//	description: "Losing a child restarts the behavior"
//	limits:
//	  max_effect_blocks: 2
//	world:
//	  - /rooms
//	  - /rooms/kitchen
//	watch: /rooms
//	behavior:
//	  wait_for: [sensor]
//	  cost: 1ms
//	steps:
//	  - tick: 1
//	  - remove: /rooms/kitchen/sensor
//	  - add: /rooms/kitchen/sensor
//	  - advance: 5ms
//	  - pace: true
//	assertions:
//	  - type: trace_contains
//	    kind: effect
//	    entity: /rooms/kitchen
//	  - type: trace_order
//	    events: ["suspended /rooms/kitchen", "resumed /rooms/kitchen"]
//	  - type: trace_count
//	    kind: restarted
//	    count: 1
//	  - type: final_state
//	    entity: /rooms/kitchen
//	    state: yielding
//
// Omitted limits mean no throttling at all. Limits given in the file leave
// unset fields at zero, which disables that trigger.
//
// # Assertion Types
//
//   - trace_contains: an event of kind (and entity, if given) was emitted
//   - trace_order: the listed "kind entity" events appear in that order
//   - trace_count: events of kind (and entity) appear exactly count times
//   - final_state: the execution for entity ends in state, optionally with
//     the given number of restarts
//   - throttled: tick number tick stopped early for reason
//   - active_effects: exactly count behavior effects are in place at the end
//
// # Golden Traces
//
// RunWithGolden renders the trace one event per line and compares it with
// testdata/golden/<name>.golden. Regenerate with:
//
//	go test ./internal/harness -update
package harness
