package sms

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiterConfig configures the global and per-number SMS rate
// limits, both expressed as messages/minute. Each limit is a token bucket
// refilled at that rate with a burst of one-sixth of it (the whole rate
// below 10/minute); it is not a 60 s rolling window, so the number
// admitted within one 60 s span can exceed the per-minute figure by up
// to the burst size.
type RateLimiterConfig struct {
	GlobalPerMinute    int
	PerNumberPerMinute int
	CleanupInterval    time.Duration
	MaxIdle            time.Duration
}

// DefaultRateLimiterConfig returns conservative defaults.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		GlobalPerMinute:    600,
		PerNumberPerMinute: 10,
		CleanupInterval:    5 * time.Minute,
		MaxIdle:            10 * time.Minute,
	}
}

type perNumberEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter enforces a global rate limit plus a per-number limit,
// mirroring the per-key token-bucket-with-cleanup shape used for push
// notification throttling elsewhere in this stack, generalized from one
// key dimension (license key) to two (global, per-number).
type RateLimiter struct {
	cfg    RateLimiterConfig
	global *rate.Limiter

	mu      sync.Mutex
	entries map[string]*perNumberEntry
	stopCh  chan struct{}
}

// NewRateLimiter creates a RateLimiter and starts its background
// cleanup loop.
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 5 * time.Minute
	}
	if cfg.MaxIdle <= 0 {
		cfg.MaxIdle = 10 * time.Minute
	}
	rl := &RateLimiter{
		cfg:     cfg,
		global:  rate.NewLimiter(perMinuteToLimit(cfg.GlobalPerMinute), burstFor(cfg.GlobalPerMinute)),
		entries: make(map[string]*perNumberEntry),
		stopCh:  make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

func perMinuteToLimit(perMinute int) rate.Limit {
	if perMinute <= 0 {
		return rate.Inf
	}
	return rate.Limit(float64(perMinute) / 60.0)
}

func burstFor(perMinute int) int {
	if perMinute <= 0 {
		return 1
	}
	if perMinute < 10 {
		return perMinute
	}
	return perMinute / 6 // a 10s burst allowance
}

// Allow reports whether a message from number may be sent now, under
// both the global and per-number token-bucket limits.
func (rl *RateLimiter) Allow(number string) bool {
	if !rl.global.Allow() {
		return false
	}
	rl.mu.Lock()
	entry, ok := rl.entries[number]
	if !ok {
		entry = &perNumberEntry{limiter: rate.NewLimiter(perMinuteToLimit(rl.cfg.PerNumberPerMinute), burstFor(rl.cfg.PerNumberPerMinute))}
		rl.entries[number] = entry
	}
	entry.lastSeen = time.Now()
	rl.mu.Unlock()
	return entry.limiter.Allow()
}

// Stop terminates the cleanup goroutine.
func (rl *RateLimiter) Stop() {
	close(rl.stopCh)
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCh:
			return
		}
	}
}

func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	cutoff := time.Now().Add(-rl.cfg.MaxIdle)
	for number, entry := range rl.entries {
		if entry.lastSeen.Before(cutoff) {
			delete(rl.entries, number)
		}
	}
}
