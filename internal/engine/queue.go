package engine

import "sync"

// inbox is a thread-safe FIFO of functions submitted by other goroutines
// for the driving loop to run.
//
// It is unbounded so that a burst of entity events never blocks the
// producer. A buffered signal channel of size 1 lets the Run loop wait on
// it in a select next to its context and tick channels.
type inbox struct {
	mu     sync.Mutex
	items  []func()
	closed bool
	signal chan struct{}
}

func newInbox() *inbox {
	return &inbox{
		items:  make([]func(), 0, 16),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue appends fn. Returns false once the inbox is closed.
// Thread-safe: may be called from any goroutine.
func (q *inbox) Enqueue(fn func()) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.items = append(q.items, fn)

	// Non-blocking: the buffer of 1 coalesces signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// Drain removes and returns everything queued so far.
func (q *inbox) Drain() []func() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil
	}
	items := q.items
	q.items = make([]func(), 0, cap(items))
	return items
}

// Wait returns a channel that signals when items may be available. It is
// closed by Close.
func (q *inbox) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of queued items.
func (q *inbox) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close rejects further Enqueue calls and wakes waiters.
func (q *inbox) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}

// Closed reports whether Close has been called.
func (q *inbox) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// workSet is the ordered set of executions with queued directives. It is
// touched only by the driving loop.
//
// Membership is tracked by Execution.scheduled so an execution is never
// present twice.
type workSet struct {
	entries []*Execution
}

// push appends e unless it is already present.
func (w *workSet) push(e *Execution) {
	if e.scheduled {
		return
	}
	e.scheduled = true
	w.entries = append(w.entries, e)
}

// drain removes and returns all entries in the order they became ready.
// Entries keep their scheduled mark; the tick clears it as it goes.
func (w *workSet) drain() []*Execution {
	entries := w.entries
	w.entries = nil
	return entries
}

// requeue puts throttled entries back ahead of everything that became
// ready since the drain, preserving their order. Throttled entries kept
// their scheduled mark, so none of them can also be in w.entries.
func (w *workSet) requeue(entries []*Execution) {
	if len(entries) == 0 {
		return
	}
	merged := make([]*Execution, 0, len(entries)+len(w.entries))
	merged = append(merged, entries...)
	w.entries = append(merged, w.entries...)
}

func (w *workSet) len() int {
	return len(w.entries)
}
