package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// AdminAuth returns middleware that authenticates management requests
// via a static bearer token, with repeated-failure lockout per client.
func AdminAuth(token string, limiter *AttemptLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			attemptKey := clientIPKey(r, "admin")
			if limiter != nil && !limiter.allow(attemptKey) {
				respondError(w, http.StatusTooManyRequests, "rate_limited", "Too many authentication failures")
				return
			}

			presented := extractBearerToken(r)
			if presented == "" {
				if limiter != nil {
					limiter.registerFailure(attemptKey)
				}
				respondError(w, http.StatusUnauthorized, "unauthorized", "Missing admin token")
				return
			}

			if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				if limiter != nil {
					limiter.registerFailure(attemptKey)
				}
				respondError(w, http.StatusUnauthorized, "unauthorized", "Invalid admin token")
				return
			}

			if limiter != nil {
				limiter.registerSuccess(attemptKey)
			}
			next.ServeHTTP(w, r)
		})
	}
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(auth, "Bearer ")
}
