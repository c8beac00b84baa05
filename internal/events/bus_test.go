package events

import (
	"context"
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

func drain(ch <-chan Event) []Event {
	var out []Event
	for {
		select {
		case ev := <-ch:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestUsageWarningCooldown(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)}
	bus := NewBus(30*time.Second, clock.Now)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := bus.Subscribe(ctx)

	if !bus.EmitUsageWarning("finnhub", "Finnhub", "per_minute", 48, 60) {
		t.Fatal("expected first warning to publish")
	}
	if bus.EmitUsageWarning("finnhub", "Finnhub", "per_minute", 49, 60) {
		t.Fatal("expected repeat warning to be suppressed")
	}

	// a different limit type is its own cooldown key
	if !bus.EmitUsageWarning("finnhub", "Finnhub", "daily", 400, 500) {
		t.Fatal("expected warning for different limit type to publish")
	}

	clock.Advance(31 * time.Second)
	if !bus.EmitUsageWarning("finnhub", "Finnhub", "per_minute", 50, 60) {
		t.Fatal("expected warning after cooldown to publish")
	}

	if got := len(drain(ch)); got != 3 {
		t.Fatalf("expected 3 delivered events, got %d", got)
	}
}

func TestRecoveryClearsCooldown(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)}
	bus := NewBus(30*time.Second, clock.Now)

	if !bus.EmitUsageWarning("finnhub", "Finnhub", "per_minute", 48, 60) {
		t.Fatal("expected first warning to publish")
	}

	bus.EmitRateLimitRecovered("finnhub", "Finnhub")

	// recovery resets the cooldown so a fresh warning cycle can start
	if !bus.EmitUsageWarning("finnhub", "Finnhub", "per_minute", 48, 60) {
		t.Fatal("expected warning after recovery to publish")
	}
}

func TestRecoveryOnlyClearsOwnService(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)}
	bus := NewBus(30*time.Second, clock.Now)

	bus.EmitUsageWarning("finnhub", "Finnhub", "per_minute", 48, 60)
	bus.EmitUsageWarning("twelvedata", "Twelve Data", "per_minute", 7, 8)

	bus.EmitRateLimitRecovered("finnhub", "Finnhub")

	if bus.EmitUsageWarning("twelvedata", "Twelve Data", "per_minute", 7, 8) {
		t.Fatal("expected other service's cooldown to be unaffected")
	}
}

func TestSubscribeDeliversAllKinds(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)}
	bus := NewBus(30*time.Second, clock.Now)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := bus.Subscribe(ctx)

	bus.EmitUsageWarning("finnhub", "Finnhub", "per_minute", 48, 60)
	bus.EmitRateLimitHit("finnhub", "Finnhub", "provider", 60)
	bus.EmitRateLimitRecovered("finnhub", "Finnhub")

	got := drain(ch)
	if len(got) != 3 {
		t.Fatalf("expected 3 events, got %d", len(got))
	}
	kinds := []Kind{KindUsageWarning, KindRateLimitHit, KindRateLimitRecovered}
	for i, want := range kinds {
		if got[i].Kind != want {
			t.Fatalf("event %d: expected %s, got %s", i, want, got[i].Kind)
		}
	}
}

func TestSubscriptionEndsWithContext(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)}
	bus := NewBus(30*time.Second, clock.Now)

	ctx, cancel := context.WithCancel(context.Background())
	ch := bus.Subscribe(ctx)
	cancel()

	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("expected channel to close after context cancel")
		}
	}
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)}
	bus := NewBus(0, clock.Now)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := bus.Subscribe(ctx)

	done := make(chan struct{})
	go func() {
		defer close(done)
		// overflow the subscriber buffer without reading
		for i := 0; i < subscriberBuffer*2; i++ {
			bus.EmitRateLimitHit("finnhub", "Finnhub", "provider", 1)
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}

	if got := len(drain(ch)); got != subscriberBuffer {
		t.Fatalf("expected %d buffered events, got %d", subscriberBuffer, got)
	}
}
