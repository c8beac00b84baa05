package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/marketdata-quota-service/internal/cache"
	"github.com/marketdata-quota-service/internal/events"
	"github.com/marketdata-quota-service/internal/metrics"
	"github.com/marketdata-quota-service/internal/model"
	"github.com/marketdata-quota-service/internal/store"
)

const (
	usageCacheTTL = 2 * time.Second

	// warnThresholdPct fires a usage_warning event; the status colors
	// below feed the aggregated service view.
	warnThresholdPct  = 80.0
	statusWarningPct  = 70.0
	statusCriticalPct = 90.0
)

// UsageTracker maintains the call ledger: it records outbound calls,
// computes sliding-window usage, accounts burst saturations, and emits
// threshold warnings.
type UsageTracker struct {
	store    store.Store
	bus      *events.Bus
	usage    *cache.TTL[int]
	now      func() time.Time
	onRecord func(*model.Credential)
}

// OnRecord registers a hook invoked after each recorded call, used to
// invalidate sibling caches (the rotator's headroom cache).
func (t *UsageTracker) OnRecord(fn func(*model.Credential)) {
	t.onRecord = fn
}

func NewUsageTracker(st store.Store, bus *events.Bus, now func() time.Time) *UsageTracker {
	if now == nil {
		now = time.Now
	}
	return &UsageTracker{
		store: st,
		bus:   bus,
		usage: cache.New[int](usageCacheTTL, now),
		now:   now,
	}
}

// RecordCall appends one CallRecord per applicable rule for the given
// credential, atomically with the credential's counter increment, then
// runs burst accounting and threshold checks. Burst and warning
// failures are logged, never propagated: only the recording itself can
// fail the call.
func (t *UsageTracker) RecordCall(ctx context.Context, serviceName, credentialValue, endpoint string) error {
	svc, err := t.lookupService(ctx, serviceName)
	if err != nil {
		return err
	}

	cred, err := t.store.GetCredentialByValue(ctx, svc.ID, credentialValue)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return NewNotFound("unknown_credential", "Credential is not registered for this service")
		}
		return fmt.Errorf("lookup credential: %w", err)
	}

	rules, err := t.store.ListRulesByService(ctx, svc.ID)
	if err != nil {
		return fmt.Errorf("list rules: %w", err)
	}
	rules = applicableRules(rules, endpoint)

	now := t.now()
	records := make([]*model.CallRecord, 0, len(rules))
	for _, rule := range rules {
		records = append(records, &model.CallRecord{
			RuleID:    rule.ID,
			Endpoint:  endpoint,
			CalledAt:  now,
			ExpiresAt: rule.ExpiryFrom(now),
		})
	}

	if err := t.store.RecordCalls(ctx, cred.ID, records); err != nil {
		return fmt.Errorf("record calls: %w", err)
	}
	metrics.CallsRecorded.WithLabelValues(svc.Name).Inc()

	// A call just landed; cached usage for this service is stale.
	t.usage.InvalidatePrefix(usagePrefix(svc.ID))
	if t.onRecord != nil {
		t.onRecord(cred)
	}

	t.accountBursts(ctx, svc, rules, now)
	t.checkThresholds(ctx, svc, rules, now)
	return nil
}

// CurrentUsage returns the sliding-window count for one
// (credential, rule) pair: non-expired call records only.
func (t *UsageTracker) CurrentUsage(ctx context.Context, cred *model.Credential, rule *model.RateLimitRule) (int, error) {
	key := usageKey(rule.ServiceID, cred.ID.String(), rule.ID.String())
	if count, ok := t.usage.Get(key); ok {
		return count, nil
	}

	count, err := t.store.CountActiveCalls(ctx, cred.ID, rule.ID, t.now())
	if err != nil {
		return 0, fmt.Errorf("count usage: %w", err)
	}
	t.usage.Set(key, count)
	return count, nil
}

// RuleUsage is the aggregated view of one rule across all active
// credentials of its service.
type RuleUsage struct {
	RuleID            string  `json:"rule_id"`
	LimitType         string  `json:"limit_type"`
	EndpointScope     string  `json:"endpoint_scope,omitempty"`
	Current           int     `json:"current"`
	Max               int     `json:"max"`
	PercentUsed       float64 `json:"percent_used"`
	IsBurst           bool    `json:"is_burst"`
	NextExpirySeconds int     `json:"next_expiry_seconds"`
}

// CallDetail describes one live ledger entry for countdown UIs.
type CallDetail struct {
	CredentialID     string    `json:"credential_id"`
	RuleID           string    `json:"rule_id"`
	Endpoint         string    `json:"endpoint,omitempty"`
	CalledAt         time.Time `json:"called_at"`
	ExpiresAt        time.Time `json:"expires_at"`
	RemainingSeconds int       `json:"remaining_seconds"`
}

// ServiceUsage aggregates everything the monitoring surface shows for
// one service.
type ServiceUsage struct {
	Service     string       `json:"service"`
	DisplayName string       `json:"display_name"`
	Status      string       `json:"status"`
	Rules       []RuleUsage  `json:"rules"`
	Calls       []CallDetail `json:"calls"`
}

// UsageForService aggregates per-rule usage across all active
// credentials, derives the overall status (worst rule wins), and lists
// every live call sorted by ascending expiry.
func (t *UsageTracker) UsageForService(ctx context.Context, serviceName string) (*ServiceUsage, error) {
	svc, err := t.lookupService(ctx, serviceName)
	if err != nil {
		return nil, err
	}

	rules, err := t.store.ListRulesByService(ctx, svc.ID)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}

	now := t.now()
	out := &ServiceUsage{
		Service:     svc.Name,
		DisplayName: svc.DisplayName,
		Status:      "healthy",
		Rules:       make([]RuleUsage, 0, len(rules)),
	}

	calls, err := t.store.ListActiveCallsForService(ctx, svc.ID, now)
	if err != nil {
		return nil, fmt.Errorf("list active calls: %w", err)
	}

	soonestByRule := make(map[string]time.Time)
	for _, call := range calls {
		ruleKey := call.RuleID.String()
		if _, ok := soonestByRule[ruleKey]; !ok {
			// calls arrive sorted by ascending expiry
			soonestByRule[ruleKey] = call.ExpiresAt
		}
		out.Calls = append(out.Calls, CallDetail{
			CredentialID:     call.CredentialID.String(),
			RuleID:           ruleKey,
			Endpoint:         call.Endpoint,
			CalledAt:         call.CalledAt,
			ExpiresAt:        call.ExpiresAt,
			RemainingSeconds: secondsUntil(call.ExpiresAt, now),
		})
	}

	worst := 0.0
	for _, rule := range rules {
		current, err := t.serviceRuleUsage(ctx, svc.ID, rule, now)
		if err != nil {
			return nil, err
		}
		pct := percentUsed(current, rule.MaxCalls)
		if pct > worst {
			worst = pct
		}

		next := 0
		if soonest, ok := soonestByRule[rule.ID.String()]; ok {
			next = secondsUntil(soonest, now)
		}
		out.Rules = append(out.Rules, RuleUsage{
			RuleID:            rule.ID.String(),
			LimitType:         rule.LimitType,
			EndpointScope:     rule.EndpointScope,
			Current:           current,
			Max:               rule.MaxCalls,
			PercentUsed:       pct,
			IsBurst:           rule.IsBurst(),
			NextExpirySeconds: next,
		})
	}

	switch {
	case worst > statusCriticalPct:
		out.Status = "critical"
	case worst > statusWarningPct:
		out.Status = "warning"
	}
	return out, nil
}

// IsUsageExceeded reports whether any rule for the service is at or
// above its maximum: the pre-flight check that avoids requests that are
// guaranteed to be throttled.
func (t *UsageTracker) IsUsageExceeded(ctx context.Context, serviceName string) (bool, error) {
	svc, err := t.lookupService(ctx, serviceName)
	if err != nil {
		return false, err
	}

	rules, err := t.store.ListRulesByService(ctx, svc.ID)
	if err != nil {
		return false, fmt.Errorf("list rules: %w", err)
	}

	now := t.now()
	for _, rule := range rules {
		current, err := t.serviceRuleUsage(ctx, svc.ID, rule, now)
		if err != nil {
			return false, err
		}
		if current >= rule.MaxCalls {
			return true, nil
		}
	}
	return false, nil
}

// BurstsForToday returns the burst saturation counters recorded today,
// along with the day they are keyed under on the engine clock.
func (t *UsageTracker) BurstsForToday(ctx context.Context, serviceName string) ([]*model.BurstEvent, time.Time, error) {
	svc, err := t.lookupService(ctx, serviceName)
	if err != nil {
		return nil, time.Time{}, err
	}
	day := model.DayOf(t.now())
	bursts, err := t.store.ListBurstEvents(ctx, svc.ID, day)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("list burst events: %w", err)
	}
	return bursts, day, nil
}

// CleanupExpiredCalls purges expired ledger entries. Correctness never
// depends on it (reads filter by expiry); it only bounds storage.
// Failures are logged and retried on the next tick.
func (t *UsageTracker) CleanupExpiredCalls(ctx context.Context) error {
	deleted, err := t.store.DeleteExpiredCalls(ctx, t.now())
	if err != nil {
		return fmt.Errorf("cleanup expired calls: %w", err)
	}
	if deleted > 0 {
		metrics.ExpiredCallsDeleted.Add(float64(deleted))
		log.Debug().Int64("deleted", deleted).Msg("purged expired call records")
	}
	return nil
}

func (t *UsageTracker) lookupService(ctx context.Context, name string) (*model.Service, error) {
	svc, err := t.store.GetServiceByName(ctx, name)
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

// serviceRuleUsage counts non-expired calls against a rule across all
// active credentials, behind the short-TTL cache.
func (t *UsageTracker) serviceRuleUsage(ctx context.Context, serviceID uuid.UUID, rule *model.RateLimitRule, now time.Time) (int, error) {
	key := usageKey(serviceID, "*", rule.ID.String())
	if count, ok := t.usage.Get(key); ok {
		return count, nil
	}
	count, err := t.store.CountActiveCallsForRule(ctx, rule.ID, now)
	if err != nil {
		return 0, fmt.Errorf("count rule usage: %w", err)
	}
	t.usage.Set(key, count)
	return count, nil
}

// accountBursts upserts a BurstEvent for every burst rule whose usage
// just reached its maximum. Purely observational: failures are logged
// only.
func (t *UsageTracker) accountBursts(ctx context.Context, svc *model.Service, rules []*model.RateLimitRule, now time.Time) {
	for _, rule := range rules {
		if !rule.IsBurst() {
			continue
		}
		current, err := t.store.CountActiveCallsForRule(ctx, rule.ID, now)
		if err != nil {
			log.Error().Err(err).Str("service", svc.Name).Str("rule", rule.LimitType).
				Msg("burst accounting: usage recompute failed")
			continue
		}
		if current < rule.MaxCalls {
			continue
		}
		if err := t.store.UpsertBurstEvent(ctx, svc.ID, rule.ID, model.DayOf(now), now); err != nil {
			log.Error().Err(err).Str("service", svc.Name).Str("rule", rule.LimitType).
				Msg("burst accounting: upsert failed")
		}
	}
}

// checkThresholds emits a usage_warning for every rule that crossed the
// warning threshold. The bus de-duplicates per (service, limit type).
func (t *UsageTracker) checkThresholds(ctx context.Context, svc *model.Service, rules []*model.RateLimitRule, now time.Time) {
	for _, rule := range rules {
		current, err := t.serviceRuleUsage(ctx, svc.ID, rule, now)
		if err != nil {
			log.Error().Err(err).Str("service", svc.Name).Str("rule", rule.LimitType).
				Msg("threshold check: usage lookup failed")
			continue
		}
		if percentUsed(current, rule.MaxCalls) >= warnThresholdPct {
			t.bus.EmitUsageWarning(svc.Name, svc.DisplayName, rule.LimitType, current, rule.MaxCalls)
		}
	}
}

// applicableRules keeps rules whose endpoint scope matches the call:
// unscoped rules always apply.
func applicableRules(rules []*model.RateLimitRule, endpoint string) []*model.RateLimitRule {
	out := rules[:0:0]
	for _, rule := range rules {
		if rule.EndpointScope == "" || rule.EndpointScope == endpoint {
			out = append(out, rule)
		}
	}
	return out
}

func percentUsed(current, max int) float64 {
	if max <= 0 {
		return 0
	}
	return math.Min(100, 100*float64(current)/float64(max))
}

func secondsUntil(expiry, now time.Time) int {
	secs := int(math.Ceil(expiry.Sub(now).Seconds()))
	if secs < 0 {
		return 0
	}
	return secs
}

func usageKey(serviceID uuid.UUID, credKey, ruleKey string) string {
	return usagePrefix(serviceID) + credKey + "|" + ruleKey
}

func usagePrefix(serviceID uuid.UUID) string {
	return "usage|" + serviceID.String() + "|"
}
