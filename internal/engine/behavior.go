package engine

import (
	"context"

	"github.com/roach88/tether/internal/thread"
)

// Entity is anything a behavior can be attached to.
type Entity interface {
	ID() string
}

// CleanupFn undoes a behavior's effect.
type CleanupFn = thread.CleanupFn

// Behavior is user code run against one entity. It performs its resource
// waits first, then its side effects, and returns a cleanup for those
// effects (or nil). When a resource it waited on disappears, the behavior
// is unwound and run again from the top.
type Behavior func(ctx context.Context, e Entity) CleanupFn

type entityKey struct{}

func withEntity(ctx context.Context, e Entity) context.Context {
	return context.WithValue(ctx, entityKey{}, e)
}

// EntityFrom returns the entity the running behavior is attached to.
func EntityFrom(ctx context.Context) (Entity, bool) {
	thread.NotifyNonResourceMethodCall(ctx)
	e, ok := ctx.Value(entityKey{}).(Entity)
	return e, ok
}

// OnCleanup registers fn to run when the behavior is torn down, whether by
// restart, removal or a panic. Registering a cleanup ends the region in which
// resource waits are allowed. Outside a behavior fn runs immediately.
func OnCleanup(ctx context.Context, fn CleanupFn) {
	thread.NotifyNonResourceMethodCall(ctx)
	thread.AddResourceCleanup(ctx, fn)
}

// effectCleanup extracts the top-level cleanup from a behavior's final
// return values.
func effectCleanup(returns []any) func() {
	if len(returns) == 0 {
		return nil
	}
	switch fn := returns[0].(type) {
	case CleanupFn:
		if fn != nil {
			return fn
		}
	case func():
		if fn != nil {
			return fn
		}
	}
	return nil
}
