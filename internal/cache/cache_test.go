package cache

import (
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func TestTTLExpiry(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)}
	c := New[int](2*time.Second, clock.Now)

	c.Set("a", 7)
	if v, ok := c.Get("a"); !ok || v != 7 {
		t.Fatalf("expected hit with 7, got %d ok=%v", v, ok)
	}

	clock.Advance(2 * time.Second)
	if _, ok := c.Get("a"); ok {
		t.Fatal("expected entry to expire at TTL boundary")
	}
}

func TestInvalidate(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)}
	c := New[int](time.Minute, clock.Now)

	c.Set("a", 1)
	c.Invalidate("a")
	if _, ok := c.Get("a"); ok {
		t.Fatal("expected invalidated entry to miss")
	}
}

func TestInvalidatePrefix(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)}
	c := New[int](time.Minute, clock.Now)

	c.Set("usage|svc1|a", 1)
	c.Set("usage|svc1|b", 2)
	c.Set("usage|svc2|a", 3)

	c.InvalidatePrefix("usage|svc1|")

	if _, ok := c.Get("usage|svc1|a"); ok {
		t.Fatal("expected svc1 entries to be dropped")
	}
	if _, ok := c.Get("usage|svc1|b"); ok {
		t.Fatal("expected svc1 entries to be dropped")
	}
	if v, ok := c.Get("usage|svc2|a"); !ok || v != 3 {
		t.Fatal("expected svc2 entry to survive")
	}
}

func TestPurge(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)}
	c := New[int](time.Second, clock.Now)

	c.Set("old", 1)
	clock.Advance(500 * time.Millisecond)
	c.Set("fresh", 2)
	clock.Advance(600 * time.Millisecond)

	c.Purge()

	if _, ok := c.Get("old"); ok {
		t.Fatal("expected expired entry to be purged")
	}
	if v, ok := c.Get("fresh"); !ok || v != 2 {
		t.Fatal("expected unexpired entry to survive purge")
	}
}
