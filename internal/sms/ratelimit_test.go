package sms

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiterPerNumberBurstThenThrottles(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{GlobalPerMinute: 6000, PerNumberPerMinute: 60})
	defer rl.Stop()

	allowed := 0
	for i := 0; i < 20; i++ {
		if rl.Allow("+15551230000") {
			allowed++
		}
	}
	assert.Greater(t, allowed, 0)
	assert.Less(t, allowed, 20)
}

func TestRateLimiterTracksNumbersIndependently(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{GlobalPerMinute: 6000, PerNumberPerMinute: 1})
	defer rl.Stop()

	assert.True(t, rl.Allow("+1"))
	assert.False(t, rl.Allow("+1"))
	assert.True(t, rl.Allow("+2"))
}

func TestRateLimiterGlobalCapOverridesPerNumber(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{GlobalPerMinute: 1, PerNumberPerMinute: 6000})
	defer rl.Stop()

	assert.True(t, rl.Allow("+1"))
	assert.False(t, rl.Allow("+2"))
}

func TestRateLimiterCleanupEvictsIdleEntries(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{GlobalPerMinute: 6000, PerNumberPerMinute: 60, MaxIdle: time.Millisecond})
	defer rl.Stop()
	rl.Allow("+1")
	time.Sleep(5 * time.Millisecond)
	rl.cleanup()
	rl.mu.Lock()
	_, ok := rl.entries["+1"]
	rl.mu.Unlock()
	assert.False(t, ok)
}
