package router

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter keeps one token bucket per user for inbound events.
type RateLimiter struct {
	mu    sync.Mutex
	users map[string]*userLimit
	rate  rate.Limit
	burst int
	now   func() time.Time
}

type userLimit struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter allows eventsPerSecond sustained with the given burst.
// A non-positive rate disables limiting.
func NewRateLimiter(eventsPerSecond float64, burst int) *RateLimiter {
	limit := rate.Limit(eventsPerSecond)
	if eventsPerSecond <= 0 {
		limit = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}

	return &RateLimiter{
		users: make(map[string]*userLimit),
		rate:  limit,
		burst: burst,
		now:   time.Now,
	}
}

// Allow reports whether userID may send one more event now.
func (rl *RateLimiter) Allow(userID string) bool {
	rl.mu.Lock()
	now := rl.now()
	entry, exists := rl.users[userID]
	if !exists {
		entry = &userLimit{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.users[userID] = entry
	}
	entry.lastSeen = now
	limiter := entry.limiter
	rl.mu.Unlock()

	return limiter.AllowN(now, 1)
}

// Cleanup drops users idle for longer than maxIdle. Call periodically.
func (rl *RateLimiter) Cleanup(maxIdle time.Duration) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	threshold := rl.now().Add(-maxIdle)
	removed := 0
	for userID, entry := range rl.users {
		if entry.lastSeen.Before(threshold) {
			delete(rl.users, userID)
			removed++
		}
	}
	return removed
}

// Tracked returns the number of users with limiter state.
func (rl *RateLimiter) Tracked() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.users)
}
