package ratelimit

import (
	"sync"
	"testing"
	"time"

	"turnstile/pkg/clock"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

func TestAllow_WithinWindow(t *testing.T) {
	clk := clock.NewFake(epoch)
	sw := NewSlidingWindow(3, time.Minute, clk)

	for i := 0; i < 3; i++ {
		assert.True(t, sw.Allow("ev-1|alice"), "call %d", i)
	}
	assert.False(t, sw.Allow("ev-1|alice"))
	assert.True(t, sw.Allow("ev-1|bob"), "keys are independent")
	assert.Equal(t, 0, sw.Remaining("ev-1|alice"))
}

func TestAllow_WindowSlides(t *testing.T) {
	clk := clock.NewFake(epoch)
	sw := NewSlidingWindow(2, time.Minute, clk)

	require.True(t, sw.Allow("k"))
	clk.Advance(30 * time.Second)
	require.True(t, sw.Allow("k"))
	require.False(t, sw.Allow("k"))

	clk.Advance(30 * time.Second)
	assert.True(t, sw.Allow("k"), "first call left the window")
	assert.False(t, sw.Allow("k"))
}

func TestAllow_RejectedCallsNotCounted(t *testing.T) {
	clk := clock.NewFake(epoch)
	sw := NewSlidingWindow(1, time.Minute, clk)

	require.True(t, sw.Allow("k"))
	for i := 0; i < 5; i++ {
		require.False(t, sw.Allow("k"))
	}

	clk.Advance(time.Minute)
	assert.True(t, sw.Allow("k"))
}

func TestAllow_EmptyKeyAndDisabled(t *testing.T) {
	sw := NewSlidingWindow(1, time.Minute, clock.NewFake(epoch))
	assert.True(t, sw.Allow(""))
	assert.True(t, sw.Allow(""))

	disabled := NewSlidingWindow(0, time.Minute, clock.NewFake(epoch))
	for i := 0; i < 10; i++ {
		assert.True(t, disabled.Allow("k"))
	}
}

func TestAllow_Concurrent(t *testing.T) {
	sw := NewSlidingWindow(10, time.Hour, clock.NewFake(epoch))

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if sw.Allow("hot") {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, allowed)
}

func TestCleanup_EvictsIdleKeys(t *testing.T) {
	clk := clock.NewFake(epoch)
	sw := NewSlidingWindow(5, time.Minute, clk)

	sw.Allow("old")
	clk.Advance(2 * time.Minute)
	sw.Allow("fresh")

	assert.Equal(t, 1, sw.evictIdle())
	assert.Equal(t, 1, sw.size())
}

func TestCleanup_RunsOnTicker(t *testing.T) {
	clk := clock.NewFake(epoch)
	sw := NewSlidingWindow(5, time.Minute, clk)
	defer sw.Stop()

	sw.Allow("idle")
	sw.StartCleanup(time.Hour)

	clk.Advance(time.Hour)
	assert.Eventually(t, func() bool { return sw.size() == 0 }, time.Second, 5*time.Millisecond)

	sw.Stop()
	sw.Stop()
}
