package thread

import (
	"context"
	"log/slog"
)

// live returns the computation ctx belongs to if it is tracked, open and the
// one currently executing.
func live(ctx context.Context) (*Thread, bool) {
	t, ok := FromContext(ctx)
	if !ok || !t.tracked || t.closed || t.state != StateRunning {
		return nil, false
	}
	return t, true
}

// notInThread reports a call from outside any tracked computation. With no
// registry to report to, the default logger receives it.
func notInThread(ctx context.Context, op string) error {
	if t, ok := FromContext(ctx); ok {
		t.reg.report(Diagnostic{
			Kind:      DiagNotInThread,
			Thread:    t.id,
			Traceback: Traceback(2),
			Message:   op + " called outside a live computation",
		})
		return ErrNotInThread
	}
	slog.Warn(op+" called outside a tracked computation",
		"kind", string(DiagNotInThread),
		"traceback", Traceback(2),
	)
	return ErrNotInThread
}

// YieldForResource suspends the calling computation at a sanctioned point
// and returns the values later supplied through NotifyResourceFound.
func YieldForResource(ctx context.Context) ([]any, error) {
	t, ok := live(ctx)
	if !ok {
		return nil, notInThread(ctx, "YieldForResource")
	}

	t.gen++
	token := t.gen
	t.lastSanctionedYield = token

	msg := t.suspend(yieldMsg{kind: yieldSuspend, token: token})

	if msg.token != token {
		t.reg.report(Diagnostic{
			Kind:      DiagResumeOutsideResource,
			Thread:    t.id,
			Traceback: t.traceback,
			Message:   "resource wait resumed with a stale token",
		})
	}
	t.lastSanctionedYield = 0
	t.sanctioned = true
	return msg.values, nil
}

// AssertResourceMethodsAreSanctioned fails when the computation is not in a
// sanctioned region: a resource wait after side effects has no re-entry
// guarantee and is a programming error in the behavior.
func AssertResourceMethodsAreSanctioned(ctx context.Context) error {
	t, ok := live(ctx)
	if !ok {
		return notInThread(ctx, "resource wait")
	}
	if !t.sanctioned {
		t.reg.report(Diagnostic{
			Kind:      DiagUnsanctionedResourceCall,
			Thread:    t.id,
			Traceback: Traceback(1) + " | started at " + t.traceback,
			Message:   "resource wait called after unsanctioned code; move resource waits before side effects",
			Err:       ErrUnsanctioned,
		})
		return ErrUnsanctioned
	}
	return nil
}

// NotifyNonResourceMethodCall marks that unsanctioned user code ran. Every
// public non-resource operation callable from a behavior calls it.
func NotifyNonResourceMethodCall(ctx context.Context) {
	if t, ok := live(ctx); ok {
		t.sanctioned = false
	}
}

// Sanctioned reports whether a resource wait is currently permitted for the
// computation ctx belongs to.
func Sanctioned(ctx context.Context) bool {
	t, ok := live(ctx)
	return ok && t.sanctioned
}

// AddResourceCleanup registers fn to run when the computation closes. Called
// outside a tracked computation, fn runs immediately in isolation.
func AddResourceCleanup(ctx context.Context, fn CleanupFn) {
	if fn == nil {
		return
	}
	t, ok := FromContext(ctx)
	if !ok || !t.tracked || t.closed {
		runDetached(ctx, fn)
		return
	}
	t.cleanups = append(t.cleanups, fn)
}

func runDetached(ctx context.Context, fn CleanupFn) {
	if t, ok := FromContext(ctx); ok {
		t.reg.runIsolated(t.id, t.traceback, fn)
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("detached cleanup panicked", "kind", string(DiagCleanupPanic), "panic", rec)
		}
	}()
	fn()
}

// HandleFinalUserReturns parks the computation one last time with the
// behavior's return values so the driver observes them uniformly. The
// computation is then only ever resumed to be closed.
func HandleFinalUserReturns(ctx context.Context, values ...any) {
	t, ok := live(ctx)
	if !ok {
		_ = notInThread(ctx, "HandleFinalUserReturns")
		return
	}
	t.suspend(yieldMsg{kind: yieldFinal, values: values})
	t.reg.report(Diagnostic{
		Kind:      DiagResumeOutsideResource,
		Thread:    t.id,
		Traceback: t.traceback,
		Message:   "completed computation resumed",
	})
}

// Yield is the raw suspension primitive. It parks the computation without a
// sanctioned token; the registry reports it as a yield outside a resource
// wait and the computation stays parked until resumed or closed.
func Yield(ctx context.Context, values ...any) []any {
	t, ok := live(ctx)
	if !ok {
		_ = notInThread(ctx, "Yield")
		return nil
	}
	msg := t.suspend(yieldMsg{kind: yieldSuspend, values: values})
	return msg.values
}

// NotifyResourceFound stages a resumption carrying values for a computation
// parked at a sanctioned resource wait. With an owner the owner is asked to
// continue it; without one it resumes immediately.
func (t *Thread) NotifyResourceFound(values ...any) {
	if t.closed || !t.tracked {
		return
	}
	if t.state != StateAwaitingResource || t.lastSanctionedYield == 0 || t.pending != nil {
		t.reg.logger.Debug("resource found ignored",
			"thread", uint64(t.id),
			"state", t.state.String(),
		)
		return
	}
	t.pending = &resumeMsg{token: t.lastSanctionedYield, values: values}
	if t.owner != nil {
		t.owner.ResourceFound(t.id)
		return
	}
	t.reg.resume(t)
}

// NotifyResourceRemoved reports that a resource the computation obtained is
// gone. With an owner this becomes a restart request; without one the
// computation is closed.
func (t *Thread) NotifyResourceRemoved() {
	if t.closed || !t.tracked {
		return
	}
	if t.owner != nil {
		t.owner.ResourceRemoved(t.id)
		return
	}
	t.reg.close(t)
}
