package http

import (
	"sync"
	"time"
)

// LoginLimiter caps login attempts per user within a sliding window.
type LoginLimiter struct {
	mu       sync.Mutex
	history  map[string][]time.Time
	limit    int
	interval time.Duration
	now      func() time.Time
}

func NewLoginLimiter(limit int, interval time.Duration) *LoginLimiter {
	return &LoginLimiter{
		history:  make(map[string][]time.Time),
		limit:    limit,
		interval: interval,
		now:      time.Now,
	}
}

func (rl *LoginLimiter) Allow(user string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	windowStart := now.Add(-rl.interval)

	attempts := rl.history[user]
	fresh := make([]time.Time, 0, len(attempts)+1)
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}
	if len(fresh) >= rl.limit {
		rl.history[user] = fresh
		return false
	}
	rl.history[user] = append(fresh, now)
	return true
}
