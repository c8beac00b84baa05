package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/marketdata-quota-service/internal/engine"
	"github.com/marketdata-quota-service/internal/model"
	"github.com/marketdata-quota-service/internal/store/inmemory"
)

func newAdminRouter(t *testing.T) (chi.Router, *inmemory.Store, *model.Service) {
	t.Helper()
	clock := func() time.Time { return time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC) }
	st := inmemory.New(clock)

	svc := &model.Service{Name: "finnhub", DisplayName: "Finnhub", Active: true}
	if err := st.CreateService(context.Background(), svc); err != nil {
		t.Fatalf("create service: %v", err)
	}
	rule := &model.RateLimitRule{
		ServiceID: svc.ID, LimitType: model.LimitPerMinute,
		MaxCalls: 60, WindowSeconds: 60, WindowKind: model.WindowSliding,
	}
	if err := st.CreateRule(context.Background(), rule); err != nil {
		t.Fatalf("create rule: %v", err)
	}

	credentials := engine.NewCredentialService(st, clock)
	rotator := engine.NewKeyRotator(st, clock)

	r := chi.NewRouter()
	r.Post("/v1/admin/services/{name}/keys", NewAddCredentialHandler(credentials).ServeHTTP)
	r.Patch("/v1/admin/keys/{id}", NewUpdateCredentialHandler(credentials).ServeHTTP)
	r.Delete("/v1/admin/keys/{id}", NewDeleteCredentialHandler(credentials).ServeHTTP)
	r.Post("/v1/admin/keys/{id}/test", NewTestCredentialHandler(credentials, rotator).ServeHTTP)
	return r, st, svc
}

func TestAddCredentialHandler(t *testing.T) {
	t.Run("creates credential", func(t *testing.T) {
		r, _, _ := newAdminRouter(t)
		body := strings.NewReader(`{"value":"sk-abcdef123456","label":"primary","priority":2}`)
		req := httptest.NewRequest(http.MethodPost, "/v1/admin/services/finnhub/keys", body)
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)

		if rr.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
		}
		var resp struct {
			ValueHint string `json:"value_hint"`
			Source    string `json:"source"`
			Priority  int    `json:"priority"`
		}
		if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if resp.ValueHint != "sk-abc..." || resp.Source != "manual" || resp.Priority != 2 {
			t.Fatalf("unexpected response: %+v", resp)
		}
	})

	t.Run("rejects invalid body", func(t *testing.T) {
		r, _, _ := newAdminRouter(t)
		req := httptest.NewRequest(http.MethodPost, "/v1/admin/services/finnhub/keys", strings.NewReader("{"))
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rr.Code)
		}
	})

	t.Run("unknown service is 404", func(t *testing.T) {
		r, _, _ := newAdminRouter(t)
		body := strings.NewReader(`{"value":"sk-abcdef123456"}`)
		req := httptest.NewRequest(http.MethodPost, "/v1/admin/services/nosuch/keys", body)
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)

		if rr.Code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", rr.Code)
		}
	})
}

func TestUpdateCredentialHandler(t *testing.T) {
	r, st, svc := newAdminRouter(t)
	cred := &model.Credential{ServiceID: svc.ID, Value: "key-one", Active: true}
	if err := st.CreateCredential(context.Background(), cred); err != nil {
		t.Fatalf("create credential: %v", err)
	}

	t.Run("applies updates", func(t *testing.T) {
		body := strings.NewReader(`{"label":"rotated","active":false}`)
		req := httptest.NewRequest(http.MethodPatch, "/v1/admin/keys/"+cred.ID.String(), body)
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
		}
		var resp struct {
			Label  string `json:"label"`
			Active bool   `json:"active"`
		}
		if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if resp.Label != "rotated" || resp.Active {
			t.Fatalf("unexpected response: %+v", resp)
		}
	})

	t.Run("invalid id is 400", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPatch, "/v1/admin/keys/not-a-uuid", strings.NewReader(`{}`))
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rr.Code)
		}
	})

	t.Run("unknown id is 404", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPatch, "/v1/admin/keys/"+uuid.NewString(), strings.NewReader(`{"label":"x"}`))
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)
		if rr.Code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", rr.Code)
		}
	})
}

func TestDeleteCredentialHandler(t *testing.T) {
	r, st, svc := newAdminRouter(t)
	cred := &model.Credential{ServiceID: svc.ID, Value: "key-one", Active: true}
	if err := st.CreateCredential(context.Background(), cred); err != nil {
		t.Fatalf("create credential: %v", err)
	}

	req := httptest.NewRequest(http.MethodDelete, "/v1/admin/keys/"+cred.ID.String(), nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	// second delete finds nothing
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/v1/admin/keys/"+cred.ID.String(), nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on second delete, got %d", rr.Code)
	}
}

func TestTestCredentialHandler(t *testing.T) {
	r, st, svc := newAdminRouter(t)
	cred := &model.Credential{ServiceID: svc.ID, Value: "key-one", Active: true}
	if err := st.CreateCredential(context.Background(), cred); err != nil {
		t.Fatalf("create credential: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/admin/keys/"+cred.ID.String()+"/test", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp engine.TestResult
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Usable || resp.Headroom != 60 {
		t.Fatalf("unexpected test result: %+v", resp)
	}
}
