// Package inmemory provides an in-memory Store used by engine tests.
package inmemory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/marketdata-quota-service/internal/model"
	"github.com/marketdata-quota-service/internal/store"
)

// Store keeps all engine state in memory behind one mutex. The clock is
// injectable so tests can advance time without sleeping.
type Store struct {
	mu          sync.Mutex
	services    map[uuid.UUID]*model.Service
	credentials map[uuid.UUID]*model.Credential
	rules       map[uuid.UUID]*model.RateLimitRule
	calls       map[uuid.UUID]*model.CallRecord
	bursts      map[uuid.UUID]*model.BurstEvent
	now         func() time.Time
}

func New(now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{
		services:    make(map[uuid.UUID]*model.Service),
		credentials: make(map[uuid.UUID]*model.Credential),
		rules:       make(map[uuid.UUID]*model.RateLimitRule),
		calls:       make(map[uuid.UUID]*model.CallRecord),
		bursts:      make(map[uuid.UUID]*model.BurstEvent),
		now:         now,
	}
}

func (s *Store) CreateService(_ context.Context, svc *model.Service) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.services {
		if existing.Name == svc.Name {
			svc.ID = existing.ID
			svc.CreatedAt = existing.CreatedAt
			existing.DisplayName = svc.DisplayName
			return nil
		}
	}
	svc.ID = uuid.New()
	svc.CreatedAt = s.now()
	svc.UpdatedAt = svc.CreatedAt
	cp := *svc
	s.services[svc.ID] = &cp
	return nil
}

func (s *Store) GetServiceByName(_ context.Context, name string) (*model.Service, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, svc := range s.services {
		if svc.Name == name {
			cp := *svc
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) GetServiceByID(_ context.Context, id uuid.UUID) (*model.Service, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	svc, ok := s.services[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *svc
	return &cp, nil
}

func (s *Store) ListServices(_ context.Context) ([]*model.Service, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.Service, 0, len(s.services))
	for _, svc := range s.services {
		cp := *svc
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (s *Store) CreateCredential(_ context.Context, cred *model.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cred.ID = uuid.New()
	cred.CreatedAt = s.now()
	cred.UpdatedAt = cred.CreatedAt
	cp := *cred
	s.credentials[cred.ID] = &cp
	return nil
}

func (s *Store) GetCredentialByID(_ context.Context, id uuid.UUID) (*model.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cred, ok := s.credentials[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *cred
	return &cp, nil
}

func (s *Store) GetCredentialByValue(_ context.Context, serviceID uuid.UUID, value string) (*model.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cred := range s.credentials {
		if cred.ServiceID == serviceID && cred.Value == value {
			cp := *cred
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) ListCredentials(_ context.Context, serviceID uuid.UUID) ([]*model.Credential, error) {
	return s.listCredentials(func(c *model.Credential) bool {
		return c.ServiceID == serviceID
	}), nil
}

func (s *Store) ListUsableCredentials(_ context.Context, serviceID uuid.UUID, now time.Time) ([]*model.Credential, error) {
	return s.listCredentials(func(c *model.Credential) bool {
		if c.ServiceID != serviceID || !c.Active {
			return false
		}
		if !c.RateLimited {
			return true
		}
		return c.RateLimitedUntil != nil && !now.Before(*c.RateLimitedUntil)
	}), nil
}

func (s *Store) CountActiveCredentials(_ context.Context, serviceID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, cred := range s.credentials {
		if cred.ServiceID == serviceID && cred.Active {
			count++
		}
	}
	return count, nil
}

func (s *Store) UpdateCredential(_ context.Context, id uuid.UUID, updates store.CredentialUpdates) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cred, ok := s.credentials[id]
	if !ok {
		return store.ErrNotFound
	}
	if updates.Label != nil {
		cred.Label = *updates.Label
	}
	if updates.Value != nil {
		cred.Value = *updates.Value
		cred.ValueHint = model.Hint(*updates.Value)
	}
	if updates.Active != nil {
		cred.Active = *updates.Active
	}
	if updates.Priority != nil {
		cred.Priority = *updates.Priority
	}
	cred.UpdatedAt = s.now()
	return nil
}

func (s *Store) DeleteCredential(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.credentials[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.credentials, id)
	for callID, rec := range s.calls {
		if rec.CredentialID == id {
			delete(s.calls, callID)
		}
	}
	return nil
}

func (s *Store) TouchCredentialUsed(_ context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cred, ok := s.credentials[id]
	if !ok {
		return store.ErrNotFound
	}
	t := at
	cred.LastUsedAt = &t
	cred.UpdatedAt = s.now()
	return nil
}

func (s *Store) SetCredentialThrottled(_ context.Context, id uuid.UUID, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cred, ok := s.credentials[id]
	if !ok {
		return store.ErrNotFound
	}
	t := until
	cred.RateLimited = true
	cred.RateLimitedUntil = &t
	cred.UpdatedAt = s.now()
	return nil
}

func (s *Store) ClearCredentialThrottle(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cred, ok := s.credentials[id]
	if !ok {
		return store.ErrNotFound
	}
	cred.RateLimited = false
	cred.RateLimitedUntil = nil
	cred.UpdatedAt = s.now()
	return nil
}

func (s *Store) ListThrottledCredentials(_ context.Context) ([]*model.Credential, error) {
	return s.listCredentials(func(c *model.Credential) bool {
		return c.RateLimited
	}), nil
}

func (s *Store) CreateRule(_ context.Context, rule *model.RateLimitRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rule.ID = uuid.New()
	rule.CreatedAt = s.now()
	cp := *rule
	s.rules[rule.ID] = &cp
	return nil
}

func (s *Store) ListRulesByService(_ context.Context, serviceID uuid.UUID) ([]*model.RateLimitRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.RateLimitRule
	for _, rule := range s.rules {
		if rule.ServiceID == serviceID {
			cp := *rule
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].WindowSeconds < out[j].WindowSeconds
	})
	return out, nil
}

func (s *Store) ReconcileRules(_ context.Context) (int, []store.RuleConflict, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []*model.RateLimitRule
	for _, rule := range s.rules {
		if canonical, ok := store.LegacyLimitTypes[rule.LimitType]; ok {
			rule.LimitType = canonical
		}
		all = append(all, rule)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.Before(all[j].CreatedAt)
		}
		return all[i].ID.String() < all[j].ID.String()
	})
	toDelete, conflicts := store.PlanRuleReconciliation(all)
	for _, id := range toDelete {
		delete(s.rules, id)
	}
	return len(toDelete), conflicts, nil
}

func (s *Store) RecordCalls(_ context.Context, credentialID uuid.UUID, records []*model.CallRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cred, ok := s.credentials[credentialID]
	if !ok {
		return store.ErrNotFound
	}
	for _, rec := range records {
		rec.ID = uuid.New()
		rec.CredentialID = credentialID
		cp := *rec
		s.calls[rec.ID] = &cp
	}
	cred.TotalCalls++
	cred.UpdatedAt = s.now()
	return nil
}

func (s *Store) CountActiveCalls(_ context.Context, credentialID, ruleID uuid.UUID, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, rec := range s.calls {
		if rec.CredentialID == credentialID && rec.RuleID == ruleID && rec.ExpiresAt.After(now) {
			count++
		}
	}
	return count, nil
}

func (s *Store) CountActiveCallsForRule(_ context.Context, ruleID uuid.UUID, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, rec := range s.calls {
		if rec.RuleID != ruleID || !rec.ExpiresAt.After(now) {
			continue
		}
		if cred, ok := s.credentials[rec.CredentialID]; ok && cred.Active {
			count++
		}
	}
	return count, nil
}

func (s *Store) ListActiveCallsForService(_ context.Context, serviceID uuid.UUID, now time.Time) ([]*model.CallRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.CallRecord
	for _, rec := range s.calls {
		rule, ok := s.rules[rec.RuleID]
		if !ok || rule.ServiceID != serviceID || !rec.ExpiresAt.After(now) {
			continue
		}
		cp := *rec
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ExpiresAt.Before(out[j].ExpiresAt)
	})
	return out, nil
}

func (s *Store) DeleteExpiredCalls(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var deleted int64
	for id, rec := range s.calls {
		if !rec.ExpiresAt.After(now) {
			delete(s.calls, id)
			deleted++
		}
	}
	return deleted, nil
}

func (s *Store) UpsertBurstEvent(_ context.Context, serviceID, ruleID uuid.UUID, day, hitAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range s.bursts {
		if ev.RuleID == ruleID && ev.Day.Equal(day) {
			ev.HitCount++
			ev.LastHitAt = hitAt
			return nil
		}
	}
	ev := &model.BurstEvent{
		ID:        uuid.New(),
		ServiceID: serviceID,
		RuleID:    ruleID,
		Day:       day,
		HitCount:  1,
		LastHitAt: hitAt,
	}
	s.bursts[ev.ID] = ev
	return nil
}

func (s *Store) ListBurstEvents(_ context.Context, serviceID uuid.UUID, day time.Time) ([]*model.BurstEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.BurstEvent
	for _, ev := range s.bursts {
		if ev.ServiceID == serviceID && ev.Day.Equal(day) {
			cp := *ev
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastHitAt.After(out[j].LastHitAt)
	})
	return out, nil
}

func (s *Store) listCredentials(match func(*model.Credential) bool) []*model.Credential {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Credential
	for _, cred := range s.credentials {
		if match(cred) {
			cp := *cred
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
