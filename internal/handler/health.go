package handler

import (
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/marketdata-quota-service/internal/store"
)

type HealthHandler struct {
	store     store.Store
	startTime time.Time
}

func NewHealthHandler(s store.Store) *HealthHandler {
	return &HealthHandler{store: s, startTime: time.Now()}
}

type HealthResponse struct {
	Status            string `json:"status"`
	Version           string `json:"version"`
	Services          int    `json:"services"`
	ActiveCredentials int    `json:"active_credentials"`
	UptimeSeconds     int64  `json:"uptime_seconds"`
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	services, err := h.store.ListServices(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to list services")
		RespondError(w, http.StatusServiceUnavailable, "unavailable", "Store unavailable")
		return
	}

	activeCreds := 0
	for _, svc := range services {
		count, err := h.store.CountActiveCredentials(r.Context(), svc.ID)
		if err != nil {
			log.Error().Err(err).Str("service", svc.Name).Msg("failed to count credentials")
			continue
		}
		activeCreds += count
	}

	RespondJSON(w, http.StatusOK, HealthResponse{
		Status:            "healthy",
		Version:           "1.0.0",
		Services:          len(services),
		ActiveCredentials: activeCreds,
		UptimeSeconds:     int64(time.Since(h.startTime).Seconds()),
	})
}
