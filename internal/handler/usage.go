package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/marketdata-quota-service/internal/engine"
	"github.com/marketdata-quota-service/internal/httputil"
)

// UsageHandler serves the live ledger view for one service: per-rule
// counters plus the active calls with their remaining TTLs. The call
// list is paginated; a daily window can hold hundreds of live entries.
type UsageHandler struct {
	tracker *engine.UsageTracker
}

func NewUsageHandler(tracker *engine.UsageTracker) *UsageHandler {
	return &UsageHandler{tracker: tracker}
}

type usageResponse struct {
	Service     string              `json:"service"`
	DisplayName string              `json:"display_name"`
	Status      string              `json:"status"`
	Rules       []engine.RuleUsage  `json:"rules"`
	Calls       []engine.CallDetail `json:"calls"`
	TotalCalls  int                 `json:"total_calls"`
	Page        int                 `json:"page"`
	PerPage     int                 `json:"per_page"`
}

func (h *UsageHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	page, perPage, err := httputil.ParsePagination(r.URL.Query().Get("page"), r.URL.Query().Get("per_page"))
	if err != nil {
		RespondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	usage, err := h.tracker.UsageForService(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		engine.RespondError(w, err)
		return
	}

	total := len(usage.Calls)
	start := (page - 1) * perPage
	if start > total {
		start = total
	}
	end := start + perPage
	if end > total {
		end = total
	}

	RespondJSON(w, http.StatusOK, usageResponse{
		Service:     usage.Service,
		DisplayName: usage.DisplayName,
		Status:      usage.Status,
		Rules:       usage.Rules,
		Calls:       usage.Calls[start:end],
		TotalCalls:  total,
		Page:        page,
		PerPage:     perPage,
	})
}
