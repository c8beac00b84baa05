package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/marketdata-quota-service/internal/events"
	"github.com/marketdata-quota-service/internal/metrics"
	"github.com/marketdata-quota-service/internal/store"
)

// RateLimiter tracks provider-reported throttling, which is independent
// from locally computed usage: the provider may apply stricter or
// different accounting than the engine can observe.
type RateLimiter struct {
	store store.Store
	bus   *events.Bus
	now   func() time.Time

	mu        sync.Mutex
	throttled map[uuid.UUID]time.Time // mirror of durable flags for fast reads
}

func NewRateLimiter(st store.Store, bus *events.Bus, now func() time.Time) *RateLimiter {
	if now == nil {
		now = time.Now
	}
	return &RateLimiter{
		store:     st,
		bus:       bus,
		now:       now,
		throttled: make(map[uuid.UUID]time.Time),
	}
}

// MarkRateLimited flags a credential after the provider returned a
// throttling response, with an absolute expiry of now + retryAfter.
func (l *RateLimiter) MarkRateLimited(ctx context.Context, serviceName, credentialValue string, retryAfterSeconds int) error {
	svc, err := l.store.GetServiceByName(ctx, serviceName)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return NewServiceNotFound(serviceName)
		}
		return fmt.Errorf("lookup service: %w", err)
	}

	cred, err := l.store.GetCredentialByValue(ctx, svc.ID, credentialValue)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return NewNotFound("unknown_credential", "Credential is not registered for this service")
		}
		return fmt.Errorf("lookup credential: %w", err)
	}

	until := l.now().Add(time.Duration(retryAfterSeconds) * time.Second)
	if err := l.store.SetCredentialThrottled(ctx, cred.ID, until); err != nil {
		return fmt.Errorf("set throttled: %w", err)
	}

	l.remember(cred.ID, until)

	metrics.ThrottleHits.WithLabelValues(svc.Name).Inc()
	log.Warn().Str("service", svc.Name).Str("credential", cred.ValueHint).
		Int("retry_after", retryAfterSeconds).Msg("credential throttled by provider")

	l.bus.EmitRateLimitHit(svc.Name, svc.DisplayName, events.LimitTypeProvider, retryAfterSeconds)
	return nil
}

// IsRateLimited checks the in-memory mirror first, then durable state.
// An expired flag is cleared on read, so the answer is correct even if
// the cleanup sweep has not run yet.
func (l *RateLimiter) IsRateLimited(ctx context.Context, credentialID uuid.UUID) (bool, error) {
	now := l.now()

	l.mu.Lock()
	until, ok := l.throttled[credentialID]
	l.mu.Unlock()
	if ok {
		if now.Before(until) {
			return true, nil
		}
		l.forget(credentialID)
	}

	cred, err := l.store.GetCredentialByID(ctx, credentialID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, NewNotFound("unknown_credential", "Credential does not exist")
		}
		return false, fmt.Errorf("lookup credential: %w", err)
	}
	if !cred.RateLimited {
		return false, nil
	}
	if cred.ThrottledAt(now) {
		l.remember(credentialID, *cred.RateLimitedUntil)
		return true, nil
	}

	// flag outlived its expiry; heal the durable state on read
	if err := l.clear(ctx, credentialID); err != nil {
		log.Error().Err(err).Str("credential", credentialID.String()).
			Msg("failed to self-heal expired throttle flag")
	}
	return false, nil
}

// ClearRateLimit removes the throttle flag and announces recovery for
// the owning service.
func (l *RateLimiter) ClearRateLimit(ctx context.Context, credentialID uuid.UUID) error {
	cred, err := l.store.GetCredentialByID(ctx, credentialID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return NewNotFound("unknown_credential", "Credential does not exist")
		}
		return fmt.Errorf("lookup credential: %w", err)
	}

	if err := l.clear(ctx, credentialID); err != nil {
		return err
	}

	svc, err := l.store.GetServiceByID(ctx, cred.ServiceID)
	if err != nil {
		log.Error().Err(err).Str("credential", credentialID.String()).
			Msg("throttle cleared but owning service lookup failed")
		return nil
	}
	l.bus.EmitRateLimitRecovered(svc.Name, svc.DisplayName)
	return nil
}

// Cleanup sweeps credentials whose throttle expiry has passed, clearing
// the flag durably and in the mirror. Comparisons happen on parsed
// instants, never on raw timestamp strings, so millisecond precision
// and timezone suffix differences cannot skew them.
func (l *RateLimiter) Cleanup(ctx context.Context) error {
	creds, err := l.store.ListThrottledCredentials(ctx)
	if err != nil {
		return fmt.Errorf("list throttled credentials: %w", err)
	}

	now := l.now()
	for _, cred := range creds {
		if cred.ThrottledAt(now) {
			continue
		}
		if err := l.ClearRateLimit(ctx, cred.ID); err != nil {
			log.Error().Err(err).Str("credential", cred.ID.String()).
				Msg("throttle cleanup failed for credential")
		}
	}
	return nil
}

func (l *RateLimiter) clear(ctx context.Context, credentialID uuid.UUID) error {
	if err := l.store.ClearCredentialThrottle(ctx, credentialID); err != nil {
		return fmt.Errorf("clear throttle: %w", err)
	}
	l.forget(credentialID)
	return nil
}

// remember and forget keep the throttled-credentials gauge in lockstep
// with the mirror, so re-marking an already throttled credential or
// re-reading a durable flag cannot skew it.
func (l *RateLimiter) remember(credentialID uuid.UUID, until time.Time) {
	l.mu.Lock()
	_, present := l.throttled[credentialID]
	l.throttled[credentialID] = until
	l.mu.Unlock()
	if !present {
		metrics.ThrottledCredentials.Inc()
	}
}

func (l *RateLimiter) forget(credentialID uuid.UUID) {
	l.mu.Lock()
	_, present := l.throttled[credentialID]
	delete(l.throttled, credentialID)
	l.mu.Unlock()
	if present {
		metrics.ThrottledCredentials.Dec()
	}
}
