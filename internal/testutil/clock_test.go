package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var start = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func TestClock_StartsAtGivenTime(t *testing.T) {
	clock := NewClock(start)
	assert.True(t, clock.Now().Equal(start))
}

func TestClock_Advance(t *testing.T) {
	clock := NewClock(start)

	assert.True(t, clock.Advance(time.Hour).Equal(start.Add(time.Hour)))
	assert.True(t, clock.Now().Equal(start.Add(time.Hour)))

	clock.Advance(-2 * time.Hour)
	assert.True(t, clock.Now().Equal(start.Add(-time.Hour)))
}

func TestClock_Set(t *testing.T) {
	clock := NewClock(start)
	later := start.AddDate(1, 0, 0)

	clock.Set(later)
	assert.True(t, clock.Now().Equal(later))
}

func TestClock_ThreadSafe(t *testing.T) {
	clock := NewClock(start)
	const numGoroutines = 50
	const callsPerGoroutine = 100

	var wg sync.WaitGroup
	wg.Add(numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < callsPerGoroutine; j++ {
				clock.Advance(time.Second)
				_ = clock.Now()
			}
		}()
	}
	wg.Wait()

	want := start.Add(numGoroutines * callsPerGoroutine * time.Second)
	assert.True(t, clock.Now().Equal(want))
}
