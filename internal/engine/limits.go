package engine

import (
	"fmt"
	"time"
)

// Limits are the per-tick throttle triggers. A zero value disables the
// corresponding trigger. The manager reads them once at the start of a tick,
// so a new set takes effect on the next tick.
type Limits struct {
	// MaxTime bounds the wall-clock time spent advancing executions.
	MaxTime time.Duration `json:"max_time" yaml:"max_time"`
	// MaxResourceBlocks bounds computations advanced past a resource wait.
	MaxResourceBlocks int `json:"max_resource_blocks" yaml:"max_resource_blocks"`
	// MaxEffectBlocks bounds computations that reached their effect code.
	MaxEffectBlocks int `json:"max_effect_blocks" yaml:"max_effect_blocks"`
	// MaxResourceCleanups bounds registered cleanups run by closes.
	MaxResourceCleanups int `json:"max_resource_cleanups" yaml:"max_resource_cleanups"`
	// MaxEffectCleanups bounds top-level behavior cleanups run.
	MaxEffectCleanups int `json:"max_effect_cleanups" yaml:"max_effect_cleanups"`
	// MaxTicksBehindPacing is how many ticks may pass without a pacing
	// signal before a tick runs unthrottled.
	MaxTicksBehindPacing int `json:"max_ticks_behind_pacing" yaml:"max_ticks_behind_pacing"`
}

// DefaultLimits keep one tick of a 60Hz host under a few milliseconds.
func DefaultLimits() Limits {
	return Limits{
		MaxTime:              4 * time.Millisecond,
		MaxResourceBlocks:    256,
		MaxEffectBlocks:      128,
		MaxResourceCleanups:  512,
		MaxEffectCleanups:    128,
		MaxTicksBehindPacing: 8,
	}
}

// Unlimited disables every trigger.
func Unlimited() Limits {
	return Limits{}
}

// Validate rejects negative limits.
func (l Limits) Validate() error {
	fields := []struct {
		name  string
		value int64
	}{
		{"max_time", int64(l.MaxTime)},
		{"max_resource_blocks", int64(l.MaxResourceBlocks)},
		{"max_effect_blocks", int64(l.MaxEffectBlocks)},
		{"max_resource_cleanups", int64(l.MaxResourceCleanups)},
		{"max_effect_cleanups", int64(l.MaxEffectCleanups)},
		{"max_ticks_behind_pacing", int64(l.MaxTicksBehindPacing)},
	}
	for _, f := range fields {
		if f.value < 0 {
			return fmt.Errorf("limits: %s must not be negative (got %d)", f.name, f.value)
		}
	}
	return nil
}

// Counts are the outcome counters accumulated during a tick.
type Counts struct {
	ResourceBlocks   int `json:"resource_blocks"`
	EffectBlocks     int `json:"effect_blocks"`
	ResourceCleanups int `json:"resource_cleanups"`
	EffectCleanups   int `json:"effect_cleanups"`
}

// Add accumulates o into c.
func (c *Counts) Add(o Counts) {
	c.ResourceBlocks += o.ResourceBlocks
	c.EffectBlocks += o.EffectBlocks
	c.ResourceCleanups += o.ResourceCleanups
	c.EffectCleanups += o.EffectCleanups
}

// Throttle reasons reported in TickReport.Reason.
const (
	ReasonTime             = "max_time"
	ReasonResourceBlocks   = "max_resource_blocks"
	ReasonEffectBlocks     = "max_effect_blocks"
	ReasonResourceCleanups = "max_resource_cleanups"
	ReasonEffectCleanups   = "max_effect_cleanups"
)

// budget enforces one tick's Limits.
//
// A trigger fires when its counter reaches the limit, so a limit of N lets
// exactly N outcomes of that kind through before the tick stops. An
// unthrottled budget never fires.
type budget struct {
	limits      Limits
	now         func() time.Time
	start       time.Time
	counts      Counts
	unthrottled bool
}

func newBudget(l Limits, now func() time.Time, unthrottled bool) *budget {
	return &budget{
		limits:      l,
		now:         now,
		start:       now(),
		unthrottled: unthrottled,
	}
}

func (b *budget) add(c Counts) {
	b.counts.Add(c)
}

func (b *budget) elapsed() time.Duration {
	return b.now().Sub(b.start)
}

func (b *budget) timeExceeded() bool {
	if b.unthrottled || b.limits.MaxTime <= 0 {
		return false
	}
	return b.elapsed() >= b.limits.MaxTime
}

// exhausted returns the first trigger that fired, if any.
func (b *budget) exhausted() (string, bool) {
	if b.unthrottled {
		return "", false
	}
	reached := func(count, limit int) bool {
		return limit > 0 && count >= limit
	}
	switch {
	case reached(b.counts.ResourceBlocks, b.limits.MaxResourceBlocks):
		return ReasonResourceBlocks, true
	case reached(b.counts.EffectBlocks, b.limits.MaxEffectBlocks):
		return ReasonEffectBlocks, true
	case reached(b.counts.ResourceCleanups, b.limits.MaxResourceCleanups):
		return ReasonResourceCleanups, true
	case reached(b.counts.EffectCleanups, b.limits.MaxEffectCleanups):
		return ReasonEffectCleanups, true
	case b.timeExceeded():
		return ReasonTime, true
	}
	return "", false
}
