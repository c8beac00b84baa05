package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/marketdata-quota-service/internal/model"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// ServiceStore defines operations for the provider catalog.
type ServiceStore interface {
	CreateService(ctx context.Context, svc *model.Service) error
	GetServiceByName(ctx context.Context, name string) (*model.Service, error)
	GetServiceByID(ctx context.Context, id uuid.UUID) (*model.Service, error)
	ListServices(ctx context.Context) ([]*model.Service, error)
}

// CredentialStore defines operations for API key management.
type CredentialStore interface {
	CreateCredential(ctx context.Context, cred *model.Credential) error
	GetCredentialByID(ctx context.Context, id uuid.UUID) (*model.Credential, error)
	GetCredentialByValue(ctx context.Context, serviceID uuid.UUID, value string) (*model.Credential, error)
	ListCredentials(ctx context.Context, serviceID uuid.UUID) ([]*model.Credential, error)
	// ListUsableCredentials returns active credentials whose throttle
	// flag is unset or already expired at the given instant.
	ListUsableCredentials(ctx context.Context, serviceID uuid.UUID, now time.Time) ([]*model.Credential, error)
	CountActiveCredentials(ctx context.Context, serviceID uuid.UUID) (int, error)
	UpdateCredential(ctx context.Context, id uuid.UUID, updates CredentialUpdates) error
	DeleteCredential(ctx context.Context, id uuid.UUID) error
	TouchCredentialUsed(ctx context.Context, id uuid.UUID, at time.Time) error
	SetCredentialThrottled(ctx context.Context, id uuid.UUID, until time.Time) error
	ClearCredentialThrottle(ctx context.Context, id uuid.UUID) error
	ListThrottledCredentials(ctx context.Context) ([]*model.Credential, error)
}

// RuleStore defines operations for rate-limit rules.
type RuleStore interface {
	CreateRule(ctx context.Context, rule *model.RateLimitRule) error
	ListRulesByService(ctx context.Context, serviceID uuid.UUID) ([]*model.RateLimitRule, error)
	// ReconcileRules rewrites legacy limit-type labels, removes exact
	// duplicate rules, and reports groups that collide on
	// (service, limit type, endpoint scope) but disagree on quota.
	ReconcileRules(ctx context.Context) (removed int, conflicts []RuleConflict, err error)
}

// CallStore defines operations for the call ledger.
type CallStore interface {
	// RecordCalls appends all per-rule records for one logical call and
	// increments the credential's cumulative counter exactly once, in a
	// single atomic batch.
	RecordCalls(ctx context.Context, credentialID uuid.UUID, records []*model.CallRecord) error
	CountActiveCalls(ctx context.Context, credentialID, ruleID uuid.UUID, now time.Time) (int, error)
	// CountActiveCallsForRule counts non-expired calls against a rule
	// across all active credentials of its service.
	CountActiveCallsForRule(ctx context.Context, ruleID uuid.UUID, now time.Time) (int, error)
	// ListActiveCallsForService returns all non-expired calls for a
	// service sorted by ascending expiry.
	ListActiveCallsForService(ctx context.Context, serviceID uuid.UUID, now time.Time) ([]*model.CallRecord, error)
	DeleteExpiredCalls(ctx context.Context, now time.Time) (int64, error)
}

// BurstStore defines operations for per-day burst saturation counters.
type BurstStore interface {
	UpsertBurstEvent(ctx context.Context, serviceID, ruleID uuid.UUID, day, hitAt time.Time) error
	ListBurstEvents(ctx context.Context, serviceID uuid.UUID, day time.Time) ([]*model.BurstEvent, error)
}

// Store combines all entity stores.
type Store interface {
	ServiceStore
	CredentialStore
	RuleStore
	CallStore
	BurstStore
}

type CredentialUpdates struct {
	Label    *string `json:"label,omitempty"`
	Value    *string `json:"value,omitempty"`
	Active   *bool   `json:"active,omitempty"`
	Priority *int    `json:"priority,omitempty"`
}

// RuleConflict reports rules that share a uniqueness key but disagree on
// max_calls or window, which reconciliation refuses to resolve silently.
type RuleConflict struct {
	ServiceID     uuid.UUID   `json:"service_id"`
	LimitType     string      `json:"limit_type"`
	EndpointScope string      `json:"endpoint_scope"`
	RuleIDs       []uuid.UUID `json:"rule_ids"`
}
