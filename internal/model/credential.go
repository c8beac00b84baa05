package model

import (
	"time"

	"github.com/google/uuid"
)

type CredentialSource string

const (
	SourceManual      CredentialSource = "manual"
	SourceEnvironment CredentialSource = "environment"
)

// Credential is one API key belonging to exactly one Service.
type Credential struct {
	ID               uuid.UUID        `json:"id"`
	ServiceID        uuid.UUID        `json:"service_id"`
	Value            string           `json:"-"`
	ValueHint        string           `json:"value_hint"`
	Label            string           `json:"label,omitempty"`
	Active           bool             `json:"active"`
	RateLimited      bool             `json:"rate_limited"`
	RateLimitedUntil *time.Time       `json:"rate_limited_until,omitempty"`
	LastUsedAt       *time.Time       `json:"last_used_at,omitempty"`
	TotalCalls       int64            `json:"total_calls"`
	Priority         int              `json:"priority"`
	Source           CredentialSource `json:"source"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// ThrottledAt reports whether the provider-side throttle flag is in
// effect at the given instant. The flag self-heals: once the recorded
// expiry passes it no longer counts, even if no cleanup ran yet.
func (c *Credential) ThrottledAt(now time.Time) bool {
	if !c.RateLimited {
		return false
	}
	if c.RateLimitedUntil == nil {
		return false
	}
	return now.Before(*c.RateLimitedUntil)
}

// Hint returns the masked display form of a raw credential value.
func Hint(value string) string {
	if len(value) <= 6 {
		return value
	}
	return value[:6] + "..."
}
