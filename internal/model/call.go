package model

import (
	"time"

	"github.com/google/uuid"
)

// CallRecord is an immutable fact: a credential made a call counted
// against a rule at CalledAt, not counted after ExpiresAt. Records are
// appended on every successful outbound call and purged once expired;
// they are never updated.
type CallRecord struct {
	ID           uuid.UUID `json:"id"`
	CredentialID uuid.UUID `json:"credential_id"`
	RuleID       uuid.UUID `json:"rule_id"`
	Endpoint     string    `json:"endpoint,omitempty"`
	CalledAt     time.Time `json:"called_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// BurstEvent aggregates, per calendar day, how many times a burst rule
// was saturated for a service. Upserted whenever a burst rule's usage
// reaches its maximum immediately after a call is recorded.
type BurstEvent struct {
	ID        uuid.UUID `json:"id"`
	ServiceID uuid.UUID `json:"service_id"`
	RuleID    uuid.UUID `json:"rule_id"`
	Day       time.Time `json:"day"`
	HitCount  int       `json:"hit_count"`
	LastHitAt time.Time `json:"last_hit_at"`
}

// DayOf truncates an instant to its UTC calendar date, the key under
// which burst events aggregate.
func DayOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
