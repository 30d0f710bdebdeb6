// Package ratelimit counts requests per key over a sliding window.
package ratelimit

import (
	"sync"
	"time"

	"turnstile/pkg/clock"
)

type SlidingWindow struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	limit    int
	window   time.Duration
	clock    clock.Clock
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewSlidingWindow allows at most limit calls per key within window.
// A non-positive limit disables limiting.
func NewSlidingWindow(limit int, window time.Duration, clk clock.Clock) *SlidingWindow {
	if clk == nil {
		clk = clock.Real()
	}
	return &SlidingWindow{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
		clock:    clk,
		stopCh:   make(chan struct{}),
	}
}

// Allow records a call for key and reports whether it is within the limit.
// Rejected calls are not recorded. An empty key is always allowed.
func (sw *SlidingWindow) Allow(key string) bool {
	if key == "" || sw.limit <= 0 {
		return true
	}

	now := sw.clock.Now()

	sw.mu.Lock()
	defer sw.mu.Unlock()

	timestamps := sw.requests[key]
	valid := timestamps[:0]
	for _, ts := range timestamps {
		if now.Sub(ts) < sw.window {
			valid = append(valid, ts)
		}
	}

	if len(valid) >= sw.limit {
		sw.requests[key] = valid
		return false
	}

	sw.requests[key] = append(valid, now)
	return true
}

// Remaining reports how many more calls key may make right now.
func (sw *SlidingWindow) Remaining(key string) int {
	if sw.limit <= 0 {
		return -1
	}
	now := sw.clock.Now()

	sw.mu.Lock()
	defer sw.mu.Unlock()

	used := 0
	for _, ts := range sw.requests[key] {
		if now.Sub(ts) < sw.window {
			used++
		}
	}
	if used >= sw.limit {
		return 0
	}
	return sw.limit - used
}

// StartCleanup evicts idle keys every interval until Stop.
func (sw *SlidingWindow) StartCleanup(interval time.Duration) {
	ticker := sw.clock.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C():
				sw.evictIdle()
			case <-sw.stopCh:
				return
			}
		}
	}()
}

func (sw *SlidingWindow) evictIdle() int {
	now := sw.clock.Now()

	sw.mu.Lock()
	defer sw.mu.Unlock()

	evicted := 0
	for key, timestamps := range sw.requests {
		if len(timestamps) == 0 || now.Sub(timestamps[len(timestamps)-1]) >= sw.window {
			delete(sw.requests, key)
			evicted++
		}
	}
	return evicted
}

func (sw *SlidingWindow) size() int {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return len(sw.requests)
}

func (sw *SlidingWindow) Stop() {
	sw.stopOnce.Do(func() { close(sw.stopCh) })
}
