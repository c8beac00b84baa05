package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/marketdata-quota-service/internal/cache"
	"github.com/marketdata-quota-service/internal/metrics"
	"github.com/marketdata-quota-service/internal/model"
	"github.com/marketdata-quota-service/internal/store"
)

const headroomCacheTTL = 5 * time.Second

// KeyRotator selects the best credential for the next outbound call to
// a service: maximize remaining capacity first, then prefer the least
// recently used key, then fall back to configured priority.
type KeyRotator struct {
	store    store.Store
	headroom *cache.TTL[int]
	now      func() time.Time
}

func NewKeyRotator(st store.Store, now func() time.Time) *KeyRotator {
	if now == nil {
		now = time.Now
	}
	return &KeyRotator{
		store:    st,
		headroom: cache.New[int](headroomCacheTTL, now),
		now:      now,
	}
}

type candidate struct {
	cred     *model.Credential
	headroom int
}

// NextKey returns the credential to use for the next call against the
// service, updating its last-used timestamp as a side effect. Fails
// with NoActiveKeys when no usable credential exists and with
// ExhaustedError when every usable credential is out of headroom.
func (r *KeyRotator) NextKey(ctx context.Context, serviceName, endpoint string) (*model.Credential, error) {
	svc, err := r.lookupService(ctx, serviceName)
	if err != nil {
		return nil, err
	}

	now := r.now()
	creds, err := r.store.ListUsableCredentials(ctx, svc.ID, now)
	if err != nil {
		return nil, fmt.Errorf("list usable credentials: %w", err)
	}
	if len(creds) == 0 {
		metrics.SelectionFailures.WithLabelValues(svc.Name, "no_active_keys").Inc()
		return nil, NewNoActiveKeys(svc.Name)
	}

	rules, err := r.store.ListRulesByService(ctx, svc.ID)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	rules = applicableRules(rules, endpoint)

	candidates := make([]candidate, 0, len(creds))
	best := math.MinInt
	for _, cred := range creds {
		hr, err := r.credentialHeadroom(ctx, cred, rules, now)
		if err != nil {
			return nil, err
		}
		if hr > best {
			best = hr
		}
		if hr > 0 {
			candidates = append(candidates, candidate{cred: cred, headroom: hr})
		}
	}
	if len(candidates) == 0 {
		metrics.SelectionFailures.WithLabelValues(svc.Name, "exhausted").Inc()
		return nil, &ExhaustedError{Service: svc.Name, BestHeadroom: best}
	}

	// Headroom descending, then least recently used (never-used first),
	// then priority descending.
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.headroom != b.headroom {
			return a.headroom > b.headroom
		}
		switch {
		case a.cred.LastUsedAt == nil && b.cred.LastUsedAt != nil:
			return true
		case a.cred.LastUsedAt != nil && b.cred.LastUsedAt == nil:
			return false
		case a.cred.LastUsedAt != nil && b.cred.LastUsedAt != nil &&
			!a.cred.LastUsedAt.Equal(*b.cred.LastUsedAt):
			return a.cred.LastUsedAt.Before(*b.cred.LastUsedAt)
		}
		return a.cred.Priority > b.cred.Priority
	})

	selected := candidates[0].cred
	if err := r.store.TouchCredentialUsed(ctx, selected.ID, now); err != nil {
		// selection already made; a failed touch only skews fairness
		log.Error().Err(err).Str("service", svc.Name).Str("credential", selected.ID.String()).
			Msg("failed to update last-used timestamp")
	} else {
		t := now
		selected.LastUsedAt = &t
	}

	metrics.KeySelections.WithLabelValues(svc.Name).Inc()
	return selected, nil
}

// credentialHeadroom computes min over rules of (max - usage). A
// service with no rules places no limit on its credentials.
func (r *KeyRotator) credentialHeadroom(ctx context.Context, cred *model.Credential, rules []*model.RateLimitRule, now time.Time) (int, error) {
	if len(rules) == 0 {
		return math.MaxInt, nil
	}

	headroom := math.MaxInt
	for _, rule := range rules {
		key := "headroom|" + cred.ID.String() + "|" + rule.ID.String()
		count, ok := r.headroom.Get(key)
		if !ok {
			var err error
			count, err = r.store.CountActiveCalls(ctx, cred.ID, rule.ID, now)
			if err != nil {
				return 0, fmt.Errorf("count active calls: %w", err)
			}
			r.headroom.Set(key, count)
		}
		if hr := rule.MaxCalls - count; hr < headroom {
			headroom = hr
		}
	}
	return headroom, nil
}

// InvalidateHeadroom drops cached headroom entries for a credential,
// called by the tracker path after a call lands.
func (r *KeyRotator) InvalidateHeadroom(cred *model.Credential) {
	r.headroom.InvalidatePrefix("headroom|" + cred.ID.String() + "|")
}

func (r *KeyRotator) lookupService(ctx context.Context, name string) (*model.Service, error) {
	svc, err := r.store.GetServiceByName(ctx, name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, NewServiceNotFound(name)
		}
		return nil, fmt.Errorf("lookup service: %w", err)
	}
	if !svc.Active {
		return nil, NewServiceInactive(name)
	}
	return svc, nil
}
