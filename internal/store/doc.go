// Package store provides the SQLite-backed lifecycle journal.
//
// The journal is append-only and write-only from the manager's point of
// view: it is a diagnostic trace of what happened to every execution and is
// never read back to restore scheduler state. The trace command and tests
// read it.
//
// # Critical Patterns
//
// Logical Ordering
//   - Events are ordered by seq, the manager's logical clock, NEVER by
//     timestamps
//   - All queries include ORDER BY seq ASC
//
// Idempotent Writes
//   - PRIMARY KEY (run_id, seq) with ON CONFLICT DO NOTHING
//   - A retried write of the same event is silently ignored
//
// Runs
//   - Every process writing to the journal opens a run; events are keyed by
//     run so several runs can share one file
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
