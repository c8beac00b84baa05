// Package admin contains the bearer-token protected credential
// management handlers.
package admin

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/marketdata-quota-service/internal/engine"
	"github.com/marketdata-quota-service/internal/handler"
	"github.com/marketdata-quota-service/internal/store"
)

// --- Add credential ---

type AddCredentialHandler struct {
	svc *engine.CredentialService
}

func NewAddCredentialHandler(svc *engine.CredentialService) *AddCredentialHandler {
	return &AddCredentialHandler{svc: svc}
}

type addCredentialRequest struct {
	Value    string `json:"value"`
	Label    string `json:"label,omitempty"`
	Priority int    `json:"priority,omitempty"`
}

type credentialResponse struct {
	ID         string `json:"id"`
	ServiceID  string `json:"service_id"`
	ValueHint  string `json:"value_hint"`
	Label      string `json:"label,omitempty"`
	Active     bool   `json:"active"`
	Priority   int    `json:"priority"`
	Source     string `json:"source"`
	TotalCalls int64  `json:"total_calls"`
	CreatedAt  string `json:"created_at"`
}

func (h *AddCredentialHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req addCredentialRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		handler.RespondError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	cred, err := h.svc.Add(r.Context(), engine.AddCredentialInput{
		Service:  chi.URLParam(r, "name"),
		Value:    req.Value,
		Label:    req.Label,
		Priority: req.Priority,
	})
	if err != nil {
		engine.RespondError(w, err)
		return
	}

	handler.RespondJSON(w, http.StatusCreated, credentialResponse{
		ID:         cred.ID.String(),
		ServiceID:  cred.ServiceID.String(),
		ValueHint:  cred.ValueHint,
		Label:      cred.Label,
		Active:     cred.Active,
		Priority:   cred.Priority,
		Source:     string(cred.Source),
		TotalCalls: cred.TotalCalls,
		CreatedAt:  cred.CreatedAt.Format(time.RFC3339),
	})
}

// --- Update credential ---

type UpdateCredentialHandler struct {
	svc *engine.CredentialService
}

func NewUpdateCredentialHandler(svc *engine.CredentialService) *UpdateCredentialHandler {
	return &UpdateCredentialHandler{svc: svc}
}

func (h *UpdateCredentialHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		handler.RespondError(w, http.StatusBadRequest, "invalid_request", "Invalid credential ID")
		return
	}

	var updates store.CredentialUpdates
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&updates); err != nil {
		handler.RespondError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	cred, err := h.svc.Update(r.Context(), id, updates)
	if err != nil {
		engine.RespondError(w, err)
		return
	}

	handler.RespondJSON(w, http.StatusOK, credentialResponse{
		ID:         cred.ID.String(),
		ServiceID:  cred.ServiceID.String(),
		ValueHint:  cred.ValueHint,
		Label:      cred.Label,
		Active:     cred.Active,
		Priority:   cred.Priority,
		Source:     string(cred.Source),
		TotalCalls: cred.TotalCalls,
		CreatedAt:  cred.CreatedAt.Format(time.RFC3339),
	})
}

// --- Delete credential ---

type DeleteCredentialHandler struct {
	svc *engine.CredentialService
}

func NewDeleteCredentialHandler(svc *engine.CredentialService) *DeleteCredentialHandler {
	return &DeleteCredentialHandler{svc: svc}
}

func (h *DeleteCredentialHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		handler.RespondError(w, http.StatusBadRequest, "invalid_request", "Invalid credential ID")
		return
	}

	if err := h.svc.Delete(r.Context(), id); err != nil {
		engine.RespondError(w, err)
		return
	}

	handler.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"id":     id,
		"status": "deleted",
	})
}

// --- Test credential ---

type TestCredentialHandler struct {
	svc     *engine.CredentialService
	rotator *engine.KeyRotator
}

func NewTestCredentialHandler(svc *engine.CredentialService, rotator *engine.KeyRotator) *TestCredentialHandler {
	return &TestCredentialHandler{svc: svc, rotator: rotator}
}

func (h *TestCredentialHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		handler.RespondError(w, http.StatusBadRequest, "invalid_request", "Invalid credential ID")
		return
	}

	result, err := h.svc.Test(r.Context(), h.rotator, id)
	if err != nil {
		engine.RespondError(w, err)
		return
	}

	handler.RespondJSON(w, http.StatusOK, result)
}
