package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"
)

// AttemptLimiter blocks a client after repeated authentication failures
// within a rolling window.
type AttemptLimiter struct {
	mu            sync.Mutex
	entries       map[string]*attempt
	maxFailures   int
	window        time.Duration
	blockDuration time.Duration
	lastCleanup   time.Time
}

type attempt struct {
	failures     int
	windowStart  time.Time
	blockedUntil time.Time
	lastSeen     time.Time
}

const (
	attemptCleanupEvery = 5 * time.Minute
	attemptStaleTTL     = 24 * time.Hour
)

func NewAttemptLimiter(maxFailures int, window, blockDuration time.Duration) *AttemptLimiter {
	if maxFailures <= 0 {
		maxFailures = 5
	}
	if window <= 0 {
		window = 5 * time.Minute
	}
	if blockDuration <= 0 {
		blockDuration = 15 * time.Minute
	}
	return &AttemptLimiter{
		entries:       make(map[string]*attempt),
		maxFailures:   maxFailures,
		window:        window,
		blockDuration: blockDuration,
		lastCleanup:   time.Now(),
	}
}

func (l *AttemptLimiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	defer l.cleanupLocked(now)

	entry, ok := l.entries[key]
	if !ok {
		return true
	}
	entry.lastSeen = now
	if now.Before(entry.blockedUntil) {
		return false
	}
	if now.Sub(entry.windowStart) > l.window {
		entry.failures = 0
		entry.windowStart = now
	}
	return true
}

func (l *AttemptLimiter) registerFailure(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	defer l.cleanupLocked(now)

	entry, ok := l.entries[key]
	if !ok {
		l.entries[key] = &attempt{failures: 1, windowStart: now, lastSeen: now}
		return
	}

	entry.lastSeen = now
	if now.Sub(entry.windowStart) > l.window {
		entry.windowStart = now
		entry.failures = 0
	}
	entry.failures++
	if entry.failures >= l.maxFailures {
		entry.blockedUntil = now.Add(l.blockDuration)
		entry.failures = 0
		entry.windowStart = now
	}
}

func (l *AttemptLimiter) registerSuccess(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, key)
}

func (l *AttemptLimiter) cleanupLocked(now time.Time) {
	if now.Sub(l.lastCleanup) < attemptCleanupEvery {
		return
	}
	for key, entry := range l.entries {
		if now.Sub(entry.lastSeen) > attemptStaleTTL && now.After(entry.blockedUntil) {
			delete(l.entries, key)
		}
	}
	l.lastCleanup = now
}

func clientIPKey(r *http.Request, prefix string) string {
	host := r.RemoteAddr
	if parsedHost, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		host = parsedHost
	}
	if host == "" {
		host = "unknown"
	}
	return prefix + ":" + host
}
