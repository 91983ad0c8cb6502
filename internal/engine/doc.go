// Package engine implements the tether execution manager.
//
// The manager binds behaviors to entities. Every (behavior, entity) pair is
// an Execution: a resumable computation plus a queued directive. Entity
// event sources call Binding.Add / Remove / RemoveAll; resource watchers
// call back through the thread.Owner methods of the Execution. Neither runs
// user code directly; both only queue a directive and put the Execution in
// the work set.
//
// ARCHITECTURE:
//
// Single-Writer Tick Loop:
// All state is mutated by one driving goroutine. Tick drains the work set
// into an ordered list and applies each Execution's directive in the order
// the Executions became ready. Other goroutines hand work to the loop with
// Submit, which is drained at the start of every tick.
//
// Directive Coalescing:
// Continue is idempotent while an Execution is Pending or already has a
// Continue queued. Restart is ignored once Finish is queued or in effect.
// Finish overrides everything and is sticky: cleanup always wins over new
// work.
//
// Budget and Spillover:
// Each tick snapshots the Limits once. After every entry the outcome counters
// (resource blocks, effect blocks, resource cleanups, effect cleanups) and
// elapsed wall time are compared against them. When one is reached the tick
// stops: the current entry is re-queued if it still has work, and every
// unprocessed entry is pushed back ahead of anything that became ready during
// the tick. Nothing is skipped and relative order survives across ticks.
//
// Pacing:
// The host also delivers a lower-frequency pacing signal. When more than
// MaxTicksBehindPacing ticks pass without one, the next tick runs
// unthrottled to bound worst-case latency.
//
// Failure Isolation:
// A behavior that panics ends its own Execution only. Its cleanups run, a
// diagnostic is recorded, and the tick carries on with the next entry.
// Budget exhaustion is not an error.
package engine
