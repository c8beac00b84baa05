package model

import (
	"time"

	"github.com/google/uuid"
)

// Service is a named external market-data provider. Services are seeded
// at bootstrap and rarely change afterwards.
type Service struct {
	ID          uuid.UUID     `json:"id"`
	Name        string        `json:"name"`
	DisplayName string        `json:"display_name"`
	Priority    int           `json:"priority"`
	Active      bool          `json:"active"`
	Config      ServiceConfig `json:"config"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// ServiceConfig carries provider-specific hints for the outbound HTTP
// collaborator: how the provider signals throttling and what to assume
// when it omits a Retry-After.
type ServiceConfig struct {
	ThrottleStatusCodes      []int  `json:"throttle_status_codes,omitempty"`
	ThrottleBodyField        string `json:"throttle_body_field,omitempty"`
	DefaultRetryAfterSeconds int    `json:"default_retry_after_seconds,omitempty"`
}
