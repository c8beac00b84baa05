package engine

import (
	"errors"
	"net/http"

	"github.com/marketdata-quota-service/internal/httputil"
)

// HTTPStatus maps an ErrorKind to its corresponding HTTP status code.
func (k ErrorKind) HTTPStatus() int {
	switch k {
	case ErrBadRequest:
		return http.StatusBadRequest
	case ErrNotFound:
		return http.StatusNotFound
	case ErrForbidden:
		return http.StatusForbidden
	case ErrTooManyRequests:
		return http.StatusTooManyRequests
	case ErrInternal:
		return http.StatusInternalServerError
	case ErrUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// RespondError writes an appropriate HTTP error response for an engine
// error. Exhaustion maps to 429 with its diagnostic headroom; other
// engine errors use their kind; anything else is a generic 500.
func RespondError(w http.ResponseWriter, err error) {
	var exhausted *ExhaustedError
	if errors.As(err, &exhausted) {
		httputil.RespondError(w, http.StatusTooManyRequests, "all_keys_exhausted", exhausted.Error())
		return
	}
	var engErr *Error
	if errors.As(err, &engErr) {
		httputil.RespondError(w, engErr.Kind.HTTPStatus(), engErr.Code, engErr.Message)
		return
	}
	httputil.RespondError(w, http.StatusInternalServerError, "internal_error", "An unexpected error occurred")
}
