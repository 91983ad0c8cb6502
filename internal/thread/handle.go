package thread

// Outcome classifies the result of the most recent step of a computation.
type Outcome int

const (
	// OutcomeSuspended: parked at a sanctioned resource wait.
	OutcomeSuspended Outcome = iota + 1
	// OutcomeReturned: the behavior returned; its effect is active.
	OutcomeReturned
	// OutcomeDied: the behavior panicked; the computation is closed.
	OutcomeDied
	// OutcomeMisused: suspended or resumed outside the protocol.
	OutcomeMisused
	// OutcomeClosed: the computation has been torn down.
	OutcomeClosed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuspended:
		return "suspended"
	case OutcomeReturned:
		return "returned"
	case OutcomeDied:
		return "died"
	case OutcomeMisused:
		return "misused"
	case OutcomeClosed:
		return "closed"
	default:
		return "unknown"
	}
}

func outcomeFor(t *Thread) Outcome {
	switch {
	case t.closed:
		return OutcomeClosed
	case t.state == StateAwaitingResource:
		return OutcomeSuspended
	case t.state == StateCompleted:
		return OutcomeReturned
	case t.state == StateDead:
		return OutcomeDied
	default:
		return OutcomeMisused
	}
}

// Handle is the finish handle returned by Registry.Init.
type Handle struct {
	t *Thread
}

// ID returns the computation's registry key.
func (h *Handle) ID() ID { return h.t.id }

// Thread returns the underlying computation.
func (h *Handle) Thread() *Thread { return h.t }

// Outcome returns the classification of the most recent step.
func (h *Handle) Outcome() Outcome {
	if h.t.outcome == 0 {
		return outcomeFor(h.t)
	}
	return h.t.outcome
}

// Returns returns the final values handed back by the behavior.
func (h *Handle) Returns() ([]any, bool) {
	return h.t.finalReturn, h.t.hasFinal
}

// Pending reports whether a resumption has been staged by
// NotifyResourceFound and not yet delivered.
func (h *Handle) Pending() bool {
	return h.t.pending != nil && !h.t.closed
}

// Resume delivers a staged resumption, if any, and returns the new outcome.
func (h *Handle) Resume() Outcome {
	return h.t.reg.resume(h.t)
}

// Finish forcibly closes the computation, running its cleanups. Idempotent:
// only the first call runs anything.
func (h *Handle) Finish() CloseResult {
	return h.t.reg.close(h.t)
}

// Closed reports whether the computation has been torn down.
func (h *Handle) Closed() bool { return h.t.closed }
