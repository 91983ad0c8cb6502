// Package resource turns condition watchers into resource waits.
//
// A Condition is supplied by an external collaborator (for example "a child
// named X exists under entity E"). WaitFor checks it immediately, suspends
// the calling computation until it holds if necessary, and then watches for
// its loss. Loss is reported to the computation's owner, which restarts the
// behavior from the top.
package resource

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/roach88/tether/internal/thread"
)

// ErrResourceUnavailable is returned when a resumption delivered no value
// of the awaited type.
var ErrResourceUnavailable = errors.New("resource: resumed without a value")

// Condition is the three-callback contract of a resource provider. report
// and reportLost may be called any number of times; only the first
// transition in each direction is honoured.
type Condition[T any] interface {
	// CheckNow reports the value synchronously if the condition already holds.
	CheckNow(report func(T))
	// TrackUntilFound watches for the condition to become true.
	TrackUntilFound(report func(T)) (teardown func())
	// TrackUntilLost watches value for the condition to become false.
	TrackUntilLost(value T, reportLost func()) (teardown func())
}

// Funcs adapts plain functions to Condition.
type Funcs[T any] struct {
	Check      func(report func(T))
	UntilFound func(report func(T)) func()
	UntilLost  func(value T, reportLost func()) func()
}

// CheckNow implements Condition.
func (f Funcs[T]) CheckNow(report func(T)) {
	if f.Check != nil {
		f.Check(report)
	}
}

// TrackUntilFound implements Condition.
func (f Funcs[T]) TrackUntilFound(report func(T)) func() {
	if f.UntilFound == nil {
		return func() {}
	}
	return f.UntilFound(report)
}

// TrackUntilLost implements Condition.
func (f Funcs[T]) TrackUntilLost(value T, reportLost func()) func() {
	if f.UntilLost == nil {
		return func() {}
	}
	return f.UntilLost(value, reportLost)
}

// WaitFor returns the value of cond, suspending the calling computation until
// the condition holds. Once obtained, the value is watched for loss; a loss
// makes the computation's owner restart it. Watchers are torn down exactly
// once however the computation ends.
//
// WaitFor must be called before the behavior performs side effects. Called
// after them, it fails with thread.ErrUnsanctioned and does not suspend.
func WaitFor[T any](ctx context.Context, cond Condition[T]) (T, error) {
	var zero T

	if err := thread.AssertResourceMethodsAreSanctioned(ctx); err != nil {
		return zero, err
	}
	t, _ := thread.FromContext(ctx)

	var (
		found bool
		value T
	)
	cond.CheckNow(func(v T) {
		if !found {
			found = true
			value = v
		}
	})

	if !found {
		suspended := false
		teardown := cond.TrackUntilFound(func(v T) {
			if found {
				return
			}
			found = true
			value = v
			if suspended {
				t.NotifyResourceFound(v)
			}
		})
		stopFound := func() {}
		if teardown != nil {
			stopFound = sync.OnceFunc(teardown)
		}
		// The found-watcher must not outlive the computation if it is closed
		// while still waiting.
		thread.AddResourceCleanup(ctx, stopFound)

		if !found {
			suspended = true
			values, err := thread.YieldForResource(ctx)
			if err != nil {
				stopFound()
				return zero, err
			}
			v, ok := firstAs[T](values)
			if !ok {
				stopFound()
				return zero, fmt.Errorf("%w: got %d values", ErrResourceUnavailable, len(values))
			}
			value = v
		}
		stopFound()
	}

	lost := false
	stopLost := cond.TrackUntilLost(value, func() {
		if lost {
			return
		}
		lost = true
		t.NotifyResourceRemoved()
	})
	if stopLost != nil {
		thread.AddResourceCleanup(ctx, sync.OnceFunc(stopLost))
	}

	return value, nil
}

func firstAs[T any](values []any) (T, bool) {
	var zero T
	if len(values) == 0 {
		return zero, false
	}
	v, ok := values[0].(T)
	return v, ok
}
