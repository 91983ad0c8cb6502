package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNow struct{ t time.Time }

func newFakeNow() *fakeNow { return &fakeNow{t: time.Unix(1700000000, 0)} }

func (f *fakeNow) Now() time.Time { return f.t }

func (f *fakeNow) Advance(d time.Duration) { f.t = f.t.Add(d) }

func TestLimits_Validate(t *testing.T) {
	tests := []struct {
		name    string
		limits  Limits
		wantErr string
	}{
		{"defaults", DefaultLimits(), ""},
		{"unlimited", Unlimited(), ""},
		{"negative time", Limits{MaxTime: -1}, "max_time"},
		{"negative effect blocks", Limits{MaxEffectBlocks: -3}, "max_effect_blocks"},
		{"negative ratio", Limits{MaxTicksBehindPacing: -1}, "max_ticks_behind_pacing"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.limits.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestBudget_FiresWhenCounterReachesLimit(t *testing.T) {
	clock := newFakeNow()
	b := newBudget(Limits{MaxEffectBlocks: 2}, clock.Now, false)

	b.add(Counts{EffectBlocks: 1})
	_, hit := b.exhausted()
	assert.False(t, hit)

	b.add(Counts{EffectBlocks: 1})
	reason, hit := b.exhausted()
	assert.True(t, hit)
	assert.Equal(t, ReasonEffectBlocks, reason)
}

func TestBudget_EachCounterIsIndependent(t *testing.T) {
	tests := []struct {
		name   string
		limits Limits
		counts Counts
		reason string
	}{
		{"resource blocks", Limits{MaxResourceBlocks: 1}, Counts{ResourceBlocks: 1}, ReasonResourceBlocks},
		{"effect blocks", Limits{MaxEffectBlocks: 1}, Counts{EffectBlocks: 1}, ReasonEffectBlocks},
		{"resource cleanups", Limits{MaxResourceCleanups: 3}, Counts{ResourceCleanups: 4}, ReasonResourceCleanups},
		{"effect cleanups", Limits{MaxEffectCleanups: 1}, Counts{EffectCleanups: 1}, ReasonEffectCleanups},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newBudget(tt.limits, newFakeNow().Now, false)
			b.add(tt.counts)
			reason, hit := b.exhausted()
			assert.True(t, hit)
			assert.Equal(t, tt.reason, reason)
		})
	}
}

func TestBudget_ZeroLimitIsUnlimited(t *testing.T) {
	b := newBudget(Unlimited(), newFakeNow().Now, false)
	b.add(Counts{ResourceBlocks: 1000, EffectBlocks: 1000, ResourceCleanups: 1000, EffectCleanups: 1000})
	_, hit := b.exhausted()
	assert.False(t, hit)
	assert.False(t, b.timeExceeded())
}

func TestBudget_Time(t *testing.T) {
	clock := newFakeNow()
	b := newBudget(Limits{MaxTime: 5 * time.Millisecond}, clock.Now, false)

	clock.Advance(4 * time.Millisecond)
	assert.False(t, b.timeExceeded())

	clock.Advance(time.Millisecond)
	assert.True(t, b.timeExceeded())
	reason, hit := b.exhausted()
	assert.True(t, hit)
	assert.Equal(t, ReasonTime, reason)
}

func TestBudget_UnthrottledNeverFires(t *testing.T) {
	clock := newFakeNow()
	b := newBudget(Limits{MaxTime: time.Millisecond, MaxEffectBlocks: 1}, clock.Now, true)
	b.add(Counts{EffectBlocks: 10})
	clock.Advance(time.Second)
	_, hit := b.exhausted()
	assert.False(t, hit)
}
