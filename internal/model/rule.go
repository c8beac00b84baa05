package model

import (
	"time"

	"github.com/google/uuid"
)

type WindowKind string

const (
	WindowSliding    WindowKind = "sliding"
	WindowDailyFixed WindowKind = "daily_fixed"
)

// Canonical limit type labels. Legacy labels from older deployments are
// rewritten to these during bootstrap reconciliation.
const (
	LimitPerSecond = "per_second"
	LimitPerMinute = "per_minute"
	LimitDaily     = "daily"
)

// burstWindowSeconds is the threshold under which a rule is tracked by
// daily hit count instead of live countdown.
const burstWindowSeconds = 5

// RateLimitRule is one quota definition for a Service. Exactly one rule
// may exist per (service, limit type, endpoint scope).
type RateLimitRule struct {
	ID            uuid.UUID  `json:"id"`
	ServiceID     uuid.UUID  `json:"service_id"`
	LimitType     string     `json:"limit_type"`
	EndpointScope string     `json:"endpoint_scope,omitempty"`
	MaxCalls      int        `json:"max_calls"`
	WindowSeconds int        `json:"window_seconds"`
	WindowKind    WindowKind `json:"window_kind"`
	CreatedAt     time.Time  `json:"created_at"`
}

// IsBurst reports whether the rule's window is too short for a live
// countdown and is tracked by daily hit count instead.
func (r *RateLimitRule) IsBurst() bool {
	return r.WindowSeconds < burstWindowSeconds
}

// ExpiryFrom computes when a call made at the given instant stops
// counting toward this rule. Sliding windows expire each call
// independently; daily-fixed windows reset at the next UTC midnight.
func (r *RateLimitRule) ExpiryFrom(calledAt time.Time) time.Time {
	if r.WindowKind == WindowDailyFixed {
		y, m, d := calledAt.UTC().Date()
		return time.Date(y, m, d+1, 0, 0, 0, 0, time.UTC)
	}
	return calledAt.Add(time.Duration(r.WindowSeconds) * time.Second)
}
