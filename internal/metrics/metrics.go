// Package metrics exposes the engine's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CallsRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quota_calls_recorded_total",
		Help: "Outbound calls recorded against the call ledger.",
	}, []string{"service"})

	KeySelections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quota_key_selections_total",
		Help: "Credentials handed out by the key rotator.",
	}, []string{"service"})

	SelectionFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quota_key_selection_failures_total",
		Help: "Key selections that failed, by reason.",
	}, []string{"service", "reason"})

	ThrottleHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quota_provider_throttle_hits_total",
		Help: "Provider-reported throttle responses.",
	}, []string{"service"})

	ThrottledCredentials = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "quota_throttled_credentials",
		Help: "Credentials currently flagged as provider-throttled.",
	})

	ExpiredCallsDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quota_expired_calls_deleted_total",
		Help: "Call records removed by the periodic purge.",
	})

	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quota_events_published_total",
		Help: "Events published on the rate-limit event bus.",
	}, []string{"kind"})
)
