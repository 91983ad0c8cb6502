package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tether/internal/resource"
	"github.com/roach88/tether/internal/thread"
)

func TestManager_AddRunsBehaviorOnNextTick(t *testing.T) {
	m := newTestManager()
	rec := &recorder{}
	b := m.Bind("fx", effectBehavior(rec))

	require.NoError(t, b.Add(ent("a")))
	assert.Empty(t, rec.all(), "no user code runs inside Add")

	e, ok := b.Execution("a")
	require.True(t, ok)
	assert.Equal(t, StatePending, e.State())
	assert.Equal(t, DirectiveContinue, e.Queued())
	assert.Equal(t, "exec-1", e.ID())

	r := m.Tick()
	assert.Equal(t, 1, r.Processed)
	assert.Equal(t, 1, r.Counts.EffectBlocks)
	assert.False(t, r.Throttled)
	assert.Equal(t, []string{"effect a"}, rec.all())
	assert.Equal(t, StateYielding, e.State())
	assert.Equal(t, 1, m.Live())
	assert.Equal(t, 0, m.WorkLen())
}

func TestManager_RemoveRunsCleanupsOnce(t *testing.T) {
	m := newTestManager()
	rec := &recorder{}
	b := m.Bind("fx", func(ctx context.Context, e Entity) CleanupFn {
		OnCleanup(ctx, func() { rec.add("registered " + e.ID()) })
		rec.add("effect " + e.ID())
		return func() { rec.add("cleanup " + e.ID()) }
	})

	require.NoError(t, b.Add(ent("a")))
	m.Tick()
	e, _ := b.Execution("a")

	require.NoError(t, b.Remove(ent("a")))
	r := m.Tick()

	assert.Equal(t, []string{"effect a", "registered a", "cleanup a"}, rec.all())
	assert.Equal(t, 1, r.Counts.ResourceCleanups)
	assert.Equal(t, 1, r.Counts.EffectCleanups)
	assert.Equal(t, StateFinished, e.State())
	assert.Equal(t, 0, m.Live())
	assert.Equal(t, 0, m.Registry().Len(), "computation unregistered")

	err := b.Remove(ent("a"))
	assert.True(t, IsUnknownEntity(err))
}

func TestManager_FinishTwiceRunsCleanupsOnce(t *testing.T) {
	m := newTestManager()
	rec := &recorder{}
	b := m.Bind("fx", effectBehavior(rec))

	require.NoError(t, b.Add(ent("a")))
	m.Tick()
	e, _ := b.Execution("a")

	e.Finish()
	e.Finish()
	require.NoError(t, b.Remove(ent("a")))
	b.RemoveAll()
	assert.Equal(t, 1, m.WorkLen())

	m.Tick()
	m.Tick()
	assert.Equal(t, []string{"effect a", "cleanup a"}, rec.all())
}

func TestManager_FinishBeforeStartRunsNoUserCode(t *testing.T) {
	m := newTestManager()
	rec := &recorder{}
	b := m.Bind("fx", effectBehavior(rec))

	require.NoError(t, b.Add(ent("a")))
	require.NoError(t, b.Remove(ent("a")))
	m.Tick()

	assert.Empty(t, rec.all())
	assert.Equal(t, 0, m.Live())
}

func TestManager_DuplicateAddIsReportedAndIgnored(t *testing.T) {
	j := &sliceJournal{}
	m := newTestManager(WithJournal(j))
	rec := &recorder{}
	b := m.Bind("fx", effectBehavior(rec))

	require.NoError(t, b.Add(ent("a")))
	err := b.Add(ent("a"))
	require.Error(t, err)
	assert.True(t, IsDuplicateAdd(err))
	assert.Equal(t, 1, m.WorkLen())

	m.Tick()
	assert.Equal(t, []string{"effect a"}, rec.all())
	assert.Contains(t, j.kinds(), EventDiagnostic)
}

func TestManager_EffectBudgetSpillsRemainderInOrder(t *testing.T) {
	limits := Unlimited()
	limits.MaxEffectBlocks = 3
	m := newTestManager(WithLimits(limits))
	rec := &recorder{}
	b := m.Bind("fx", effectBehavior(rec))
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(t, b.Add(ent(id)))
	}

	r1 := m.Tick()
	assert.Equal(t, 3, r1.Processed)
	assert.True(t, r1.Throttled)
	assert.Equal(t, ReasonEffectBlocks, r1.Reason)
	assert.Equal(t, 2, r1.Requeued)
	assert.Equal(t, []string{"effect a", "effect b", "effect c"}, rec.all())

	r2 := m.Tick()
	assert.Equal(t, 2, r2.Processed)
	assert.False(t, r2.Throttled)
	assert.Equal(t, []string{"effect a", "effect b", "effect c", "effect d", "effect e"}, rec.all())
}

func TestManager_EffectCleanupBudgetSpillsRemovals(t *testing.T) {
	limits := Unlimited()
	limits.MaxEffectCleanups = 2
	m := newTestManager(WithLimits(limits))
	rec := &recorder{}
	b := m.Bind("fx", effectBehavior(rec))
	for _, id := range []string{"a", "b", "c", "d"} {
		require.NoError(t, b.Add(ent(id)))
	}
	m.Tick()
	b.RemoveAll()

	r1 := m.Tick()
	assert.True(t, r1.Throttled)
	assert.Equal(t, ReasonEffectCleanups, r1.Reason)
	assert.Equal(t, 2, r1.Counts.EffectCleanups)
	assert.Equal(t, 2, r1.Requeued)
	assert.Equal(t, []string{"cleanup a", "cleanup b"}, rec.all()[4:])

	r2 := m.Tick()
	assert.Equal(t, 2, r2.Counts.EffectCleanups)
	assert.Equal(t, []string{"cleanup a", "cleanup b", "cleanup c", "cleanup d"}, rec.all()[4:])
	assert.Equal(t, 0, m.Live())
}

func TestManager_ResourceBlockBudgetSpillsResumptions(t *testing.T) {
	limits := Unlimited()
	limits.MaxResourceBlocks = 1
	m := newTestManager(WithLimits(limits))
	rec := &recorder{}
	p := newPresence(false)
	b := m.Bind("fx", childBehavior(rec, p))
	require.NoError(t, b.Add(ent("a")))
	require.NoError(t, b.Add(ent("b")))

	r0 := m.Tick()
	require.False(t, r0.Throttled, "suspending is not a resource block")
	require.Empty(t, rec.all())

	p.set(true)

	r1 := m.Tick()
	assert.True(t, r1.Throttled)
	assert.Equal(t, ReasonResourceBlocks, r1.Reason)
	assert.Equal(t, 1, r1.Counts.ResourceBlocks)
	assert.Equal(t, 1, r1.Requeued)
	assert.Len(t, rec.all(), 1)

	r2 := m.Tick()
	assert.Equal(t, 1, r2.Counts.ResourceBlocks)
	assert.ElementsMatch(t, []string{"effect a/C", "effect b/C"}, rec.all())
}

func TestManager_ThrottledEntriesStayAheadOfNewWork(t *testing.T) {
	limits := Unlimited()
	limits.MaxEffectBlocks = 1
	m := newTestManager(WithLimits(limits))
	rec := &recorder{}
	b := m.Bind("fx", effectBehavior(rec))
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, b.Add(ent(id)))
	}

	m.Tick()
	require.NoError(t, b.Add(ent("d")))
	m.Tick()
	m.Tick()
	m.Tick()

	assert.Equal(t, []string{"effect a", "effect b", "effect c", "effect d"}, rec.all())
}

func TestManager_TimeBudget(t *testing.T) {
	clock := newFakeNow()
	limits := Unlimited()
	limits.MaxTime = 5 * time.Millisecond
	m := newTestManager(WithLimits(limits), WithNow(clock.Now))
	rec := &recorder{}
	b := m.Bind("slow", func(ctx context.Context, e Entity) CleanupFn {
		clock.Advance(3 * time.Millisecond)
		rec.add("effect " + e.ID())
		return nil
	})
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, b.Add(ent(id)))
	}

	r := m.Tick()
	assert.True(t, r.Throttled)
	assert.Equal(t, ReasonTime, r.Reason)
	assert.Equal(t, 2, r.Processed)
	assert.Equal(t, 1, r.Requeued)
	assert.Equal(t, 6*time.Millisecond, r.Elapsed)

	r = m.Tick()
	assert.False(t, r.Throttled)
	assert.Equal(t, []string{"effect a", "effect b", "effect c"}, rec.all())
}

func TestManager_TimeBudgetStopsDirectiveChain(t *testing.T) {
	clock := newFakeNow()
	limits := Unlimited()
	limits.MaxTime = 5 * time.Millisecond
	m := newTestManager(WithLimits(limits), WithNow(clock.Now))
	rec := &recorder{}
	p := newPresence(true)
	b := m.Bind("child", func(ctx context.Context, e Entity) CleanupFn {
		child, err := resource.WaitFor(ctx, p.cond())
		if err != nil {
			return nil
		}
		rec.add("effect " + child)
		return func() {
			clock.Advance(10 * time.Millisecond)
			rec.add("cleanup " + child)
		}
	})
	require.NoError(t, b.Add(ent("a")))
	m.Tick()
	e, _ := b.Execution("a")

	p.set(false)
	assert.Equal(t, DirectiveRestart, e.Queued())

	r := m.Tick()
	assert.True(t, r.Throttled)
	assert.Equal(t, 1, r.Requeued)
	assert.Equal(t, StatePending, e.State())
	assert.Equal(t, DirectiveContinue, e.Queued(), "restart re-queued continue")

	m.Tick()
	assert.Equal(t, StateYielding, e.State())
	assert.Equal(t, 1, p.watchers(), "waiting for the child again")
	assert.Equal(t, []string{"effect C", "cleanup C"}, rec.all())
}

func TestManager_PacingFlushRunsUnthrottled(t *testing.T) {
	limits := Unlimited()
	limits.MaxEffectBlocks = 1
	limits.MaxTicksBehindPacing = 2
	m := newTestManager(WithLimits(limits))
	rec := &recorder{}
	b := m.Bind("fx", effectBehavior(rec))
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(t, b.Add(ent(id)))
	}

	assert.Equal(t, 1, m.Tick().Processed)
	assert.Equal(t, 1, m.Tick().Processed)

	r := m.Tick()
	assert.True(t, r.Flushed)
	assert.False(t, r.Throttled)
	assert.Equal(t, 3, r.Processed)
	assert.Equal(t, 0, m.WorkLen())
}

func TestManager_PaceResetsFlushCounter(t *testing.T) {
	limits := Unlimited()
	limits.MaxEffectBlocks = 1
	limits.MaxTicksBehindPacing = 1
	m := newTestManager(WithLimits(limits))
	b := m.Bind("fx", effectBehavior(&recorder{}))
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, b.Add(ent(id)))
	}

	for i := 0; i < 3; i++ {
		r := m.Tick()
		assert.False(t, r.Flushed, "tick %d", i+1)
		assert.Equal(t, 1, r.Processed)
		m.Pace()
	}
}

func TestManager_SetLimits(t *testing.T) {
	m := newTestManager()
	b := m.Bind("fx", effectBehavior(&recorder{}))
	require.NoError(t, b.Add(ent("a")))
	require.NoError(t, b.Add(ent("b")))

	err := m.SetLimits(Limits{MaxEffectBlocks: -1})
	require.Error(t, err)
	assert.Equal(t, Unlimited(), m.Limits(), "invalid limits rejected")

	require.NoError(t, m.SetLimits(Limits{MaxEffectBlocks: 1}))
	assert.Equal(t, 1, m.Limits().MaxEffectBlocks)

	r := m.Tick()
	assert.Equal(t, 1, r.Processed)
	assert.True(t, r.Throttled)
}

func TestManager_ChildRemovalRestartsBehavior(t *testing.T) {
	m := newTestManager()
	rec := &recorder{}
	p := newPresence(true)
	b := m.Bind("child", childBehavior(rec, p))

	require.NoError(t, b.Add(ent("E")))
	m.Tick()
	e, _ := b.Execution("E")
	assert.Equal(t, []string{"effect E/C"}, rec.all(), "present child takes the fast path")
	assert.Empty(t, p.found, "no found-watcher on the fast path")

	p.set(false)
	r := m.Tick()
	assert.Equal(t, []string{"effect E/C", "cleanup E/C"}, rec.all())
	assert.Equal(t, 1, e.Restarts())
	assert.Equal(t, StateYielding, e.State())
	assert.Equal(t, 1, r.Counts.EffectCleanups)
	assert.Len(t, p.found, 1, "restarted behavior waits for the child")
	assert.Empty(t, p.lost)

	p.set(true)
	r = m.Tick()
	assert.Equal(t, []string{"effect E/C", "cleanup E/C", "effect E/C"}, rec.all())
	assert.Equal(t, 1, r.Counts.ResourceBlocks)
	assert.Equal(t, 1, r.Counts.EffectBlocks)
	assert.Empty(t, p.found, "found-watcher torn down after resuming")
	assert.Len(t, p.lost, 1)
}

func TestManager_RemoveWhileWaitingTearsDownWatcher(t *testing.T) {
	m := newTestManager()
	rec := &recorder{}
	p := newPresence(false)
	b := m.Bind("child", childBehavior(rec, p))

	require.NoError(t, b.Add(ent("E")))
	m.Tick()
	require.Len(t, p.found, 1)

	require.NoError(t, b.Remove(ent("E")))
	m.Tick()
	assert.Equal(t, 0, p.watchers())
	assert.Empty(t, rec.all())

	p.set(true)
	m.Tick()
	assert.Empty(t, rec.all(), "finished execution never resumes")
}

func TestManager_FastPathNeverSuspends(t *testing.T) {
	j := &sliceJournal{}
	m := newTestManager(WithJournal(j))
	p := newPresence(true)
	b := m.Bind("child", childBehavior(&recorder{}, p))

	require.NoError(t, b.Add(ent("E")))
	m.Tick()

	assert.Equal(t, []EventKind{EventAdded, EventStarted, EventEffect}, j.kinds())
}

func TestManager_UserFaultEndsOnlyThatExecution(t *testing.T) {
	j := &sliceJournal{}
	obs := &countingObserver{}
	m := newTestManager(WithJournal(j), WithObserver(obs))
	rec := &recorder{}
	b := m.Bind("fx", func(ctx context.Context, e Entity) CleanupFn {
		OnCleanup(ctx, func() { rec.add("registered " + e.ID()) })
		if e.ID() == "bad" {
			panic("boom")
		}
		rec.add("effect " + e.ID())
		return nil
	})
	require.NoError(t, b.Add(ent("bad")))
	require.NoError(t, b.Add(ent("good")))

	r := m.Tick()
	assert.Equal(t, 2, r.Processed)

	bad, _ := b.Execution("bad")
	good, _ := b.Execution("good")
	assert.Equal(t, StateFinished, bad.State())
	assert.True(t, IsUserFault(bad.Err()))
	assert.Equal(t, StateYielding, good.State())
	assert.Equal(t, []string{"registered bad", "effect good"}, rec.all())
	assert.Equal(t, 1, m.Live())
	assert.Contains(t, j.kinds(), EventDied)
	assert.Contains(t, obs.diagnostics, thread.DiagUserFault)

	require.NoError(t, b.Remove(ent("bad")))
	m.Tick()
	assert.Equal(t, []string{"registered bad", "effect good"}, rec.all(), "cleanups ran once")
}

func TestManager_UnsanctionedWaitIsReportedNotSuspended(t *testing.T) {
	j := &sliceJournal{}
	m := newTestManager(WithJournal(j))
	p := newPresence(false)
	var waitErr error
	b := m.Bind("late", func(ctx context.Context, e Entity) CleanupFn {
		OnCleanup(ctx, func() {})
		_, waitErr = resource.WaitFor(ctx, p.cond())
		return nil
	})
	require.NoError(t, b.Add(ent("a")))

	r := m.Tick()
	assert.ErrorIs(t, waitErr, thread.ErrUnsanctioned)
	assert.Equal(t, 1, r.Counts.EffectBlocks)
	assert.Empty(t, p.found)

	var diag *Event
	for i := range j.events {
		if j.events[i].Kind == EventDiagnostic {
			diag = &j.events[i]
		}
	}
	require.NotNil(t, diag)
	assert.Equal(t, "exec-1", diag.Execution)
	assert.Contains(t, diag.Detail, string(thread.DiagUnsanctionedResourceCall))
}

func TestManager_JournalRecordsLifecycleInOrder(t *testing.T) {
	j := &sliceJournal{}
	m := newTestManager(WithJournal(j))
	b := m.Bind("fx", effectBehavior(&recorder{}))

	require.NoError(t, b.Add(ent("a")))
	m.Tick()
	require.NoError(t, b.Remove(ent("a")))
	m.Tick()

	require.Len(t, j.events, 4)
	assert.Equal(t, []EventKind{EventAdded, EventStarted, EventEffect, EventFinished}, j.kinds())
	for i, ev := range j.events {
		assert.Equal(t, int64(i+1), ev.Seq)
		assert.Equal(t, "fx", ev.Binding)
		assert.Equal(t, "exec-1", ev.Execution)
		assert.Equal(t, "a", ev.Entity)
	}
	assert.Equal(t, []uint64{0, 1, 1, 2}, []uint64{j.events[0].Tick, j.events[1].Tick, j.events[2].Tick, j.events[3].Tick})
}

func TestManager_WithClockContinuesSequence(t *testing.T) {
	j := &sliceJournal{}
	m := newTestManager(WithJournal(j), WithClock(NewClockAt(41)))
	b := m.Bind("fx", effectBehavior(&recorder{}))

	require.NoError(t, b.Add(ent("a")))
	m.Tick()

	require.NotEmpty(t, j.events)
	assert.Equal(t, int64(42), j.events[0].Seq)
	assert.Equal(t, m.Clock().Seq(), j.events[len(j.events)-1].Seq)
}

func TestManager_JournalFailureDoesNotStopTick(t *testing.T) {
	j := &sliceJournal{err: errors.New("disk full")}
	m := newTestManager(WithJournal(j))
	rec := &recorder{}
	b := m.Bind("fx", effectBehavior(rec))
	require.NoError(t, b.Add(ent("a")))

	assert.NotPanics(t, func() { m.Tick() })
	assert.Equal(t, []string{"effect a"}, rec.all())
}

func TestManager_ObserverSeesTicks(t *testing.T) {
	obs := &countingObserver{}
	m := newTestManager(WithObserver(obs))
	b := m.Bind("fx", effectBehavior(&recorder{}))
	require.NoError(t, b.Add(ent("a")))

	m.Tick()
	m.Tick()

	require.Len(t, obs.ticks, 2)
	assert.Equal(t, uint64(1), obs.ticks[0].Tick)
	assert.Equal(t, 1, obs.ticks[0].Counts.EffectBlocks)
	assert.Equal(t, 0, obs.ticks[1].Processed)
	assert.Equal(t, 3, obs.events)
}

func TestManager_Executions(t *testing.T) {
	m := newTestManager()
	b := m.Bind("fx", effectBehavior(&recorder{}))
	require.NoError(t, b.Add(ent("a")))
	require.NoError(t, b.Add(ent("b")))

	snaps := m.Executions()
	require.Len(t, snaps, 2)
	assert.Equal(t, "a", snaps[0].Entity)
	assert.Equal(t, "pending", snaps[0].State)
	assert.Equal(t, "continue", snaps[0].Queued)

	m.Tick()
	snaps = m.Executions()
	assert.Equal(t, "yielding", snaps[1].State)
	assert.Equal(t, thread.StateCompleted.String(), snaps[1].Thread)
}

func TestManager_SubmitRunsOnDrivingLoop(t *testing.T) {
	m := newTestManager()
	rec := &recorder{}
	b := m.Bind("fx", effectBehavior(rec))

	m.Submit(func() { panic("host bug") })
	m.Submit(func() { _ = b.Add(ent("a")) })
	assert.NotPanics(t, func() { m.Tick() })
	assert.Equal(t, []string{"effect a"}, rec.all())
}

func TestManager_RunTicksUntilCancelled(t *testing.T) {
	m := newTestManager()
	rec := &recorder{}
	b := m.Bind("fx", effectBehavior(rec))

	ticks := make(chan time.Time)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx, ticks, nil) }()

	require.True(t, m.Submit(func() { _ = b.Add(ent("a")) }))
	ticks <- time.Now()
	ticks <- time.Now()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, []string{"effect a"}, rec.all())
}

func TestManager_StopEndsRun(t *testing.T) {
	m := newTestManager()
	done := make(chan error, 1)
	go func() { done <- m.Run(context.Background(), nil, nil) }()

	m.Stop()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
	assert.False(t, m.Submit(func() {}))
}

func TestManager_ShutdownFinishesEverything(t *testing.T) {
	limits := Unlimited()
	limits.MaxEffectCleanups = 1
	m := newTestManager(WithLimits(limits))
	rec := &recorder{}
	b := m.Bind("fx", effectBehavior(rec))
	for i := 0; i < 3; i++ {
		require.NoError(t, b.Add(ent(fmt.Sprintf("e%d", i))))
	}
	m.Tick()

	m.Shutdown()
	assert.Equal(t, 0, m.Live())
	assert.Equal(t, 0, m.WorkLen())
	assert.Equal(t, []string{
		"effect e0", "effect e1", "effect e2",
		"cleanup e0", "cleanup e1", "cleanup e2",
	}, rec.all())
	assert.False(t, m.Submit(func() {}))
}
