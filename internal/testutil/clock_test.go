package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestManualTime_StartsAtEpoch(t *testing.T) {
	clock := NewManualTime()
	assert.Equal(t, Epoch, clock.Now())
	assert.Zero(t, clock.Elapsed())
}

func TestManualTime_Advance(t *testing.T) {
	clock := NewManualTime()

	clock.Advance(3 * time.Millisecond)
	clock.Advance(2 * time.Millisecond)
	assert.Equal(t, 5*time.Millisecond, clock.Elapsed())

	clock.Advance(-time.Second)
	assert.Equal(t, 5*time.Millisecond, clock.Elapsed(), "never runs backwards")
}

func TestManualTime_Reset(t *testing.T) {
	clock := NewManualTime()
	clock.Advance(time.Minute)

	clock.Reset()
	assert.Equal(t, Epoch, clock.Now())
}

func TestManualTime_ThreadSafe(t *testing.T) {
	clock := NewManualTime()
	const numGoroutines = 50
	const callsPerGoroutine = 20

	var wg sync.WaitGroup
	wg.Add(numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < callsPerGoroutine; j++ {
				clock.Advance(time.Microsecond)
				_ = clock.Now()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, numGoroutines*callsPerGoroutine*time.Microsecond, clock.Elapsed())
}

func TestDiscardLogger(t *testing.T) {
	assert.NotPanics(t, func() {
		DiscardLogger().Error("dropped", "key", "value")
	})
}
