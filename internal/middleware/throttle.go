package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"
)

// RequestLimiter implements per-client sliding window limiting for the
// management API itself.
type RequestLimiter struct {
	mu          sync.Mutex
	counters    map[string]*window
	max         int
	windowLen   time.Duration
	lastCleanup time.Time
}

type window struct {
	count    int
	resetAt  time.Time
	lastSeen time.Time
}

const (
	throttleCleanupEvery = 5 * time.Minute
	throttleStaleTTL     = 24 * time.Hour
)

func NewRequestLimiter(max int, windowLen time.Duration) *RequestLimiter {
	return &RequestLimiter{
		counters:    make(map[string]*window),
		max:         max,
		windowLen:   windowLen,
		lastCleanup: time.Now(),
	}
}

// Allow checks whether the client is within its limit.
// Returns (allowed, remaining, resetAt).
func (rl *RequestLimiter) Allow(key string) (bool, int, time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	defer rl.cleanupLocked(now)

	w, exists := rl.counters[key]
	if !exists || now.After(w.resetAt) {
		rl.counters[key] = &window{count: 1, resetAt: now.Add(rl.windowLen), lastSeen: now}
		return true, rl.max - 1, now.Add(rl.windowLen)
	}

	w.lastSeen = now
	if w.count >= rl.max {
		return false, 0, w.resetAt
	}
	w.count++
	return true, rl.max - w.count, w.resetAt
}

// Throttle returns middleware that enforces the per-client limit and
// sets the conventional X-RateLimit headers.
func Throttle(rl *RequestLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			allowed, remaining, resetAt := rl.Allow(clientIPKey(r, "mgmt"))

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.max))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))

			if !allowed {
				respondError(w, http.StatusTooManyRequests, "rate_limited", "Rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (rl *RequestLimiter) cleanupLocked(now time.Time) {
	if now.Sub(rl.lastCleanup) < throttleCleanupEvery {
		return
	}
	for key, w := range rl.counters {
		if now.Sub(w.lastSeen) > throttleStaleTTL {
			delete(rl.counters, key)
		}
	}
	rl.lastCleanup = now
}
