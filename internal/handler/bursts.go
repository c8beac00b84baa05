package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/marketdata-quota-service/internal/engine"
)

// BurstsHandler serves today's burst saturation counters for a service.
type BurstsHandler struct {
	tracker *engine.UsageTracker
}

func NewBurstsHandler(tracker *engine.UsageTracker) *BurstsHandler {
	return &BurstsHandler{tracker: tracker}
}

type burstsResponse struct {
	Service string      `json:"service"`
	Day     string      `json:"day"`
	Bursts  []burstItem `json:"bursts"`
}

type burstItem struct {
	RuleID   string `json:"rule_id"`
	HitCount int    `json:"hit_count"`
	LastHit  string `json:"last_hit"`
}

func (h *BurstsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	bursts, day, err := h.tracker.BurstsForToday(r.Context(), name)
	if err != nil {
		engine.RespondError(w, err)
		return
	}

	items := make([]burstItem, 0, len(bursts))
	for _, b := range bursts {
		items = append(items, burstItem{
			RuleID:   b.RuleID.String(),
			HitCount: b.HitCount,
			LastHit:  b.LastHitAt.UTC().Format(time.RFC3339),
		})
	}

	RespondJSON(w, http.StatusOK, burstsResponse{
		Service: name,
		Day:     day.Format("2006-01-02"),
		Bursts:  items,
	})
}
