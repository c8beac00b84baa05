package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRequireJSON(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	h := RequireJSON(next)

	t.Run("rejects non-JSON POST body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/v1/admin/services/finnhub/keys", strings.NewReader("value=x"))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != http.StatusUnsupportedMediaType {
			t.Fatalf("expected 415, got %d", rr.Code)
		}
	})

	t.Run("accepts JSON PATCH", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPatch, "/v1/admin/keys/abc", strings.NewReader(`{}`))
		req.Header.Set("Content-Type", "application/json")
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
	})

	t.Run("ignores bodyless methods", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodDelete, "/v1/admin/keys/abc", nil)
		req.Header.Set("Content-Type", "text/plain")
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
	})
}
