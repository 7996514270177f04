// Package server implements a per-connection rate limiter that protects the
// hub from event floods.
package server

import (
	"sync"
	"time"
)

// rateLimiter grants up to burst events per interval, refilling the whole
// allowance when the window rolls over.
type rateLimiter struct {
	mu        sync.Mutex
	tokens    int
	burst     int
	interval  time.Duration
	windowEnd time.Time
}

func newRateLimiter(burst int, interval time.Duration) *rateLimiter {
	if burst <= 0 {
		burst = 1
	}
	if interval <= 0 {
		interval = time.Second
	}

	return &rateLimiter{
		tokens:    burst,
		burst:     burst,
		interval:  interval,
		windowEnd: time.Now().Add(interval),
	}
}

func (rl *rateLimiter) allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	if !now.Before(rl.windowEnd) {
		rl.tokens = rl.burst
		rl.windowEnd = now.Add(rl.interval)
	}

	if rl.tokens <= 0 {
		return false
	}
	rl.tokens--
	return true
}
