package engine

import (
	"context"
	"fmt"

	"github.com/roach88/tether/internal/thread"
)

// RunBehavior starts behavior against entity as a tracked computation and
// returns its finish handle. The computation is spawned parked before any
// user code, so the handle exists before the first side effect; Init then
// runs it up to its first suspension or its return.
//
// owner receives resource found/lost notifications. With a nil owner the
// computation resumes on its own, and a lost resource finishes it: the
// registered cleanups run, then the behavior's returned cleanup. Closed on
// the handle reports that this happened.
func RunBehavior(reg *thread.Registry, behavior Behavior, entity Entity, owner thread.Owner) *thread.Handle {
	traceback := thread.Traceback(1)
	if owner != nil {
		return launch(reg, behavior, entity, traceback, owner, nil)
	}
	self := &selfOwner{reg: reg, traceback: traceback}
	self.attach(launch(reg, behavior, entity, traceback, self, nil))
	return self.h
}

// launch spawns and initialises one behavior computation. register, if set,
// sees the computation's ID before any user code runs.
func launch(reg *thread.Registry, behavior Behavior, entity Entity, traceback string, owner thread.Owner, register func(thread.ID)) *thread.Handle {
	t := reg.Spawn(withEntity(context.Background(), entity), func(ctx context.Context) {
		cleanup := behavior(ctx, entity)
		thread.HandleFinalUserReturns(ctx, cleanup)
	})
	if register != nil {
		register(t.ID())
	}
	return reg.Init(t, traceback, owner)
}

// selfOwner drives a computation started without a scheduler.
type selfOwner struct {
	reg       *thread.Registry
	traceback string
	h         *thread.Handle

	// Notifications that arrive while Init is still running are replayed
	// by attach.
	found, lost bool
	// deferred is set when a loss closed the computation mid-step; the
	// effect cleanup runs once that step has ended.
	deferred bool
}

func (o *selfOwner) attach(h *thread.Handle) {
	o.h = h
	switch {
	case o.lost:
		o.finish()
	case o.found:
		o.resume()
	}
}

func (o *selfOwner) resume() {
	o.h.Resume()
	if o.deferred && o.h.Closed() {
		o.deferred = false
		returns, _ := o.h.Returns()
		o.runEffectCleanup(returns)
	}
}

func (o *selfOwner) ResourceFound(thread.ID) {
	if o.h == nil {
		o.found = true
		return
	}
	o.resume()
}

func (o *selfOwner) ResourceRemoved(thread.ID) {
	if o.h == nil {
		o.lost = true
		return
	}
	o.finish()
}

func (o *selfOwner) finish() {
	res := o.h.Finish()
	if res.Deferred {
		o.deferred = true
		return
	}
	o.runEffectCleanup(res.Returns)
}

func (o *selfOwner) runEffectCleanup(returns []any) {
	if fn := effectCleanup(returns); fn != nil {
		o.reg.RunIsolated(o.traceback, fn)
	}
}

func behaviorTraceback(bindingAt string, entity Entity) string {
	return fmt.Sprintf("%s [entity %s]", bindingAt, entity.ID())
}
