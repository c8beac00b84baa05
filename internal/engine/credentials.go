package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/marketdata-quota-service/internal/model"
	"github.com/marketdata-quota-service/internal/store"
)

// CredentialService handles credential management business logic for
// the admin surface.
type CredentialService struct {
	store store.Store
	now   func() time.Time
}

func NewCredentialService(st store.Store, now func() time.Time) *CredentialService {
	if now == nil {
		now = time.Now
	}
	return &CredentialService{store: st, now: now}
}

// AddCredentialInput contains the parameters for registering a new key.
type AddCredentialInput struct {
	Service  string
	Value    string
	Label    string
	Priority int
}

// Add validates input and registers a new credential for a service.
func (s *CredentialService) Add(ctx context.Context, input AddCredentialInput) (*model.Credential, error) {
	if strings.TrimSpace(input.Value) == "" {
		return nil, NewBadRequest("invalid_request", "value is required")
	}

	svc, err := s.store.GetServiceByName(ctx, input.Service)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, NewServiceNotFound(input.Service)
		}
		return nil, fmt.Errorf("lookup service: %w", err)
	}

	if _, err := s.store.GetCredentialByValue(ctx, svc.ID, input.Value); err == nil {
		return nil, NewBadRequest("duplicate_credential", "Credential already registered for this service")
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("check duplicate: %w", err)
	}

	cred := &model.Credential{
		ServiceID: svc.ID,
		Value:     input.Value,
		ValueHint: model.Hint(input.Value),
		Label:     input.Label,
		Active:    true,
		Priority:  input.Priority,
		Source:    model.SourceManual,
	}
	if err := s.store.CreateCredential(ctx, cred); err != nil {
		log.Error().Err(err).Str("service", svc.Name).Msg("failed to create credential")
		return nil, NewInternal("internal_error", "Failed to create credential")
	}
	return cred, nil
}

// Update applies partial updates to an existing credential.
func (s *CredentialService) Update(ctx context.Context, id uuid.UUID, updates store.CredentialUpdates) (*model.Credential, error) {
	if updates.Value != nil && strings.TrimSpace(*updates.Value) == "" {
		return nil, NewBadRequest("invalid_request", "value cannot be empty")
	}
	if updates.Label != nil && len(*updates.Label) > 200 {
		return nil, NewBadRequest("invalid_request", "label too long")
	}

	if err := s.store.UpdateCredential(ctx, id, updates); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, NewNotFound("not_found", "Credential not found")
		}
		log.Error().Err(err).Str("id", id.String()).Msg("failed to update credential")
		return nil, NewInternal("internal_error", "Failed to update credential")
	}

	cred, err := s.store.GetCredentialByID(ctx, id)
	if err != nil {
		return nil, NewNotFound("not_found", "Credential not found")
	}
	return cred, nil
}

// Delete hard-deletes a credential and its ledger entries.
func (s *CredentialService) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.store.DeleteCredential(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return NewNotFound("not_found", "Credential not found")
		}
		log.Error().Err(err).Str("id", id.String()).Msg("failed to delete credential")
		return NewInternal("internal_error", "Failed to delete credential")
	}
	return nil
}

// TestResult reports whether a credential could serve a call right now
// and why not if it cannot.
type TestResult struct {
	Usable   bool     `json:"usable"`
	Headroom int      `json:"headroom"`
	Reasons  []string `json:"reasons,omitempty"`
}

// Test performs the pre-flight checks the rotator would apply to this
// credential, without touching its last-used timestamp.
func (s *CredentialService) Test(ctx context.Context, rotator *KeyRotator, id uuid.UUID) (*TestResult, error) {
	cred, err := s.store.GetCredentialByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, NewNotFound("not_found", "Credential not found")
		}
		return nil, fmt.Errorf("lookup credential: %w", err)
	}

	result := &TestResult{Usable: true}
	now := s.now()
	if !cred.Active {
		result.Usable = false
		result.Reasons = append(result.Reasons, "credential is disabled")
	}
	if cred.ThrottledAt(now) {
		result.Usable = false
		result.Reasons = append(result.Reasons,
			fmt.Sprintf("provider throttled until %s", cred.RateLimitedUntil.UTC().Format(time.RFC3339)))
	}

	rules, err := s.store.ListRulesByService(ctx, cred.ServiceID)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	headroom, err := rotator.credentialHeadroom(ctx, cred, rules, now)
	if err != nil {
		return nil, err
	}
	result.Headroom = headroom
	if headroom <= 0 {
		result.Usable = false
		result.Reasons = append(result.Reasons, "no remaining quota headroom")
	}
	return result, nil
}
