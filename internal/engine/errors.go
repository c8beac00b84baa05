package engine

import "fmt"

// Error is a domain error returned by engine methods. Handlers map
// these to appropriate HTTP responses.
type Error struct {
	Kind    ErrorKind
	Code    string // machine-readable error code (e.g., "service_not_found")
	Message string // human-readable message
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ErrorKind classifies domain errors for HTTP status mapping.
type ErrorKind int

const (
	ErrBadRequest      ErrorKind = iota // 400
	ErrNotFound                         // 404
	ErrForbidden                        // 403
	ErrTooManyRequests                  // 429
	ErrInternal                         // 500
	ErrUnavailable                      // 503
)

func NewBadRequest(code, message string) *Error {
	return &Error{Kind: ErrBadRequest, Code: code, Message: message}
}

func NewNotFound(code, message string) *Error {
	return &Error{Kind: ErrNotFound, Code: code, Message: message}
}

func NewInternal(code, message string) *Error {
	return &Error{Kind: ErrInternal, Code: code, Message: message}
}

// NewServiceNotFound reports an unknown provider name.
func NewServiceNotFound(service string) *Error {
	return &Error{Kind: ErrNotFound, Code: "service_not_found",
		Message: fmt.Sprintf("Service %q is not configured", service)}
}

// NewServiceInactive reports a known but disabled provider.
func NewServiceInactive(service string) *Error {
	return &Error{Kind: ErrForbidden, Code: "service_inactive",
		Message: fmt.Sprintf("Service %q is disabled", service)}
}

// NewNoActiveKeys reports a service with zero usable credentials, an
// operator-facing signal to add keys. Distinguishable from temporary
// exhaustion so a UI can render them differently.
func NewNoActiveKeys(service string) *Error {
	return &Error{Kind: ErrUnavailable, Code: "no_active_keys",
		Message: fmt.Sprintf("Service %q has no usable credentials", service)}
}

// ExhaustedError reports that every candidate credential has
// non-positive headroom. BestHeadroom carries the least-negative value
// found, for diagnostics; callers should back off and retry later.
type ExhaustedError struct {
	Service      string
	BestHeadroom int
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("all_keys_exhausted: every credential for %q is at quota (best headroom %d)",
		e.Service, e.BestHeadroom)
}
