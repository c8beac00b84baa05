package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/marketdata-quota-service/internal/engine"
	"github.com/marketdata-quota-service/internal/model"
	"github.com/marketdata-quota-service/internal/store"
)

// --- List services ---

type ListServicesHandler struct {
	store   store.Store
	tracker *engine.UsageTracker
}

func NewListServicesHandler(s store.Store, tracker *engine.UsageTracker) *ListServicesHandler {
	return &ListServicesHandler{store: s, tracker: tracker}
}

type listServicesResponse struct {
	Services []serviceListItem `json:"services"`
	Total    int               `json:"total"`
}

type serviceListItem struct {
	Name        string             `json:"name"`
	DisplayName string             `json:"display_name"`
	Priority    int                `json:"priority"`
	Active      bool               `json:"active"`
	Status      string             `json:"status"`
	ActiveKeys  int                `json:"active_keys"`
	Rules       []engine.RuleUsage `json:"rules"`
}

func (h *ListServicesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	services, err := h.store.ListServices(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to list services")
		RespondError(w, http.StatusInternalServerError, "internal_error", "Failed to list services")
		return
	}

	items := make([]serviceListItem, 0, len(services))
	for _, svc := range services {
		item := serviceListItem{
			Name:        svc.Name,
			DisplayName: svc.DisplayName,
			Priority:    svc.Priority,
			Active:      svc.Active,
			Status:      "inactive",
			Rules:       []engine.RuleUsage{},
		}

		keys, err := h.store.CountActiveCredentials(r.Context(), svc.ID)
		if err != nil {
			log.Error().Err(err).Str("service", svc.Name).Msg("failed to count credentials")
		}
		item.ActiveKeys = keys

		if svc.Active {
			usage, err := h.tracker.UsageForService(r.Context(), svc.Name)
			if err != nil {
				log.Error().Err(err).Str("service", svc.Name).Msg("failed to compute usage")
				RespondError(w, http.StatusInternalServerError, "internal_error", "Failed to compute usage")
				return
			}
			item.Status = usage.Status
			item.Rules = usage.Rules
		}
		items = append(items, item)
	}

	RespondJSON(w, http.StatusOK, listServicesResponse{Services: items, Total: len(items)})
}

// --- Get service ---

type GetServiceHandler struct {
	store   store.Store
	tracker *engine.UsageTracker
}

func NewGetServiceHandler(s store.Store, tracker *engine.UsageTracker) *GetServiceHandler {
	return &GetServiceHandler{store: s, tracker: tracker}
}

type serviceDetailResponse struct {
	Name        string               `json:"name"`
	DisplayName string               `json:"display_name"`
	Priority    int                  `json:"priority"`
	Active      bool                 `json:"active"`
	Config      model.ServiceConfig  `json:"config"`
	Status      string               `json:"status"`
	Usage       *engine.ServiceUsage `json:"usage,omitempty"`
	Credentials []credentialItem     `json:"credentials"`
	CreatedAt   string               `json:"created_at"`
}

type credentialItem struct {
	ID               string  `json:"id"`
	ValueHint        string  `json:"value_hint"`
	Label            string  `json:"label,omitempty"`
	Active           bool    `json:"active"`
	RateLimited      bool    `json:"rate_limited"`
	RateLimitedUntil *string `json:"rate_limited_until,omitempty"`
	LastUsedAt       *string `json:"last_used_at,omitempty"`
	TotalCalls       int64   `json:"total_calls"`
	Priority         int     `json:"priority"`
	Source           string  `json:"source"`
}

func (h *GetServiceHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	svc, err := h.store.GetServiceByName(r.Context(), name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			RespondError(w, http.StatusNotFound, "service_not_found", "Service not found")
			return
		}
		log.Error().Err(err).Str("service", name).Msg("failed to load service")
		RespondError(w, http.StatusInternalServerError, "internal_error", "Failed to load service")
		return
	}

	resp := serviceDetailResponse{
		Name:        svc.Name,
		DisplayName: svc.DisplayName,
		Priority:    svc.Priority,
		Active:      svc.Active,
		Config:      svc.Config,
		Status:      "inactive",
		CreatedAt:   svc.CreatedAt.Format(time.RFC3339),
	}

	if svc.Active {
		usage, err := h.tracker.UsageForService(r.Context(), svc.Name)
		if err != nil {
			engine.RespondError(w, err)
			return
		}
		resp.Status = usage.Status
		resp.Usage = usage
	}

	creds, err := h.store.ListCredentials(r.Context(), svc.ID)
	if err != nil {
		log.Error().Err(err).Str("service", name).Msg("failed to list credentials")
		RespondError(w, http.StatusInternalServerError, "internal_error", "Failed to list credentials")
		return
	}
	resp.Credentials = make([]credentialItem, 0, len(creds))
	now := time.Now()
	for _, cred := range creds {
		resp.Credentials = append(resp.Credentials, toCredentialItem(cred, now))
	}

	RespondJSON(w, http.StatusOK, resp)
}

func toCredentialItem(cred *model.Credential, now time.Time) credentialItem {
	item := credentialItem{
		ID:          cred.ID.String(),
		ValueHint:   cred.ValueHint,
		Label:       cred.Label,
		Active:      cred.Active,
		RateLimited: cred.ThrottledAt(now),
		TotalCalls:  cred.TotalCalls,
		Priority:    cred.Priority,
		Source:      string(cred.Source),
	}
	if item.RateLimited && cred.RateLimitedUntil != nil {
		s := cred.RateLimitedUntil.UTC().Format(time.RFC3339)
		item.RateLimitedUntil = &s
	}
	if cred.LastUsedAt != nil {
		s := cred.LastUsedAt.UTC().Format(time.RFC3339)
		item.LastUsedAt = &s
	}
	return item
}
