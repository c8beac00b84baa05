// Package events implements the engine's notification channel: a typed
// publish/subscribe bus for usage warnings, provider throttle hits, and
// recoveries, with cooldown-based warning de-duplication.
package events

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/marketdata-quota-service/internal/metrics"
)

type Kind string

const (
	KindUsageWarning       Kind = "usage_warning"
	KindRateLimitHit       Kind = "rate_limit_hit"
	KindRateLimitRecovered Kind = "rate_limit_recovered"
)

// LimitTypeProvider labels throttle events reported by the provider
// itself, as opposed to events tied to a locally configured rule.
const LimitTypeProvider = "provider"

// Event is delivered to every subscriber; consumers switch on Kind.
// Payload fields are populated per kind: Current/Max/LimitType for
// warnings, RetryAfterSeconds/LimitType for hits, nothing extra for
// recoveries.
type Event struct {
	Kind              Kind      `json:"kind"`
	Service           string    `json:"service"`
	DisplayName       string    `json:"display_name"`
	Timestamp         time.Time `json:"timestamp"`
	LimitType         string    `json:"limit_type,omitempty"`
	Current           int       `json:"current,omitempty"`
	Max               int       `json:"max,omitempty"`
	RetryAfterSeconds int       `json:"retry_after_seconds,omitempty"`
}

const subscriberBuffer = 16

// Bus fans events out to in-process subscribers. Warnings for the same
// (service, limit type) pair are suppressed inside the cooldown window
// so rapid repeated calls cannot produce a notification storm.
type Bus struct {
	mu          sync.Mutex
	subs        map[int]chan Event
	next        int
	lastWarning map[string]time.Time
	cooldown    time.Duration
	now         func() time.Time
}

func NewBus(cooldown time.Duration, now func() time.Time) *Bus {
	if now == nil {
		now = time.Now
	}
	return &Bus{
		subs:        make(map[int]chan Event),
		lastWarning: make(map[string]time.Time),
		cooldown:    cooldown,
		now:         now,
	}
}

// Subscribe registers a receiver for every event the bus publishes.
// The subscription is removed when ctx is canceled.
func (b *Bus) Subscribe(ctx context.Context) <-chan Event {
	ch := make(chan Event, subscriberBuffer)

	b.mu.Lock()
	b.next++
	id := b.next
	b.subs[id] = ch
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		// close under the lock so publish never sends on a closed channel
		b.mu.Lock()
		delete(b.subs, id)
		close(ch)
		b.mu.Unlock()
	}()

	return ch
}

// EmitUsageWarning publishes a usage_warning unless one for the same
// (service, limit type) fired within the cooldown window. Returns
// whether the event was actually published.
func (b *Bus) EmitUsageWarning(service, displayName, limitType string, current, max int) bool {
	now := b.now()
	key := service + "|" + limitType

	b.mu.Lock()
	if last, ok := b.lastWarning[key]; ok && now.Sub(last) < b.cooldown {
		b.mu.Unlock()
		return false
	}
	b.lastWarning[key] = now
	b.mu.Unlock()

	b.publish(Event{
		Kind:        KindUsageWarning,
		Service:     service,
		DisplayName: displayName,
		Timestamp:   now,
		LimitType:   limitType,
		Current:     current,
		Max:         max,
	})
	return true
}

func (b *Bus) EmitRateLimitHit(service, displayName, limitType string, retryAfterSeconds int) {
	b.publish(Event{
		Kind:              KindRateLimitHit,
		Service:           service,
		DisplayName:       displayName,
		Timestamp:         b.now(),
		LimitType:         limitType,
		RetryAfterSeconds: retryAfterSeconds,
	})
}

// EmitRateLimitRecovered publishes a recovery and clears the warning
// cooldown memory for the service, so a fresh cycle of warnings can
// fire after recovery.
func (b *Bus) EmitRateLimitRecovered(service, displayName string) {
	prefix := service + "|"
	b.mu.Lock()
	for key := range b.lastWarning {
		if strings.HasPrefix(key, prefix) {
			delete(b.lastWarning, key)
		}
	}
	b.mu.Unlock()

	b.publish(Event{
		Kind:        KindRateLimitRecovered,
		Service:     service,
		DisplayName: displayName,
		Timestamp:   b.now(),
	})
}

func (b *Bus) publish(ev Event) {
	metrics.EventsPublished.WithLabelValues(string(ev.Kind)).Inc()

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			// slow subscriber; dropping beats blocking the engine
			log.Warn().Str("kind", string(ev.Kind)).Str("service", ev.Service).
				Msg("dropping event for slow subscriber")
		}
	}
}
