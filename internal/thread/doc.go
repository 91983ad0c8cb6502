// Package thread hosts resumable computations ("threads") for behaviors.
//
// A thread is a goroutine that only runs while its driver is blocked waiting
// for it. Control moves between the driver and the computation through an
// unbuffered resume/yield channel pair, so at any moment exactly one side is
// executing. This gives the cooperative, single-threaded model the engine
// relies on without any locking: the channel handoff is the happens-before
// edge for every field of Thread and Registry.
//
// ARCHITECTURE:
//
// Registry:
// Process-scoped table of tracked threads, keyed by ID and owned by the
// scheduler. Threads are removed explicitly when closed; nothing depends on
// garbage collection noticing an abandoned computation.
//
// Suspension contract:
// A computation may only suspend inside YieldForResource (the sanctioned
// point used by resource waits) or, for final returns, inside
// HandleFinalUserReturns. Every suspension carries a generation token.
// After each step the registry classifies what happened:
//  1. the computation panicked   → closed, cleanups run, UserFault reported
//  2. final returns were handed  → kept open; the finish handle closes it
//  3. token matches the sanction → expected, waits for NotifyResourceFound
//  4. anything else              → YieldOutsideResource / ResumeOutsideResource
//
// Sanctioned region:
// A thread starts sanctioned. Any non-resource operation the behavior calls
// (NotifyNonResourceMethodCall) clears the flag; a later resource wait before
// another suspension is a protocol misuse, reported with a traceback.
//
// Close:
// Closing kills the parked goroutine with a private panic sentinel so the
// computation's own defers unwind, then runs registered cleanups exactly once
// in registration order, each isolated from panics.
package thread
