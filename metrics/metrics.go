// Package metrics holds the Prometheus collectors shared by the directory services.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	RateLimitDecisionsTotal      *prometheus.CounterVec
	RateLimitSweepRunsTotal      *prometheus.CounterVec
	RateLimitSweepRemovedTotal   prometheus.Counter
	RateLimitSweepDurationSecond prometheus.Histogram
	LocationDetectionsTotal      *prometheus.CounterVec
	ListingsSubmittedTotal       *prometheus.CounterVec
}

// New registers every collector on reg. Pass prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RateLimitDecisionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dalil_ratelimit_decisions_total",
			Help: "Total number of rate limit decisions by policy and state",
		}, []string{"policy", "state"}),
		RateLimitSweepRunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dalil_ratelimit_sweep_runs_total",
			Help: "Total number of rate limit sweep runs",
		}, []string{"status"}),
		RateLimitSweepRemovedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "dalil_ratelimit_sweep_removed_total",
			Help: "Total number of expired rate limit entries removed by the sweeper",
		}),
		RateLimitSweepDurationSecond: factory.NewHistogram(prometheus.HistogramOpts{
			Name: "dalil_ratelimit_sweep_duration_seconds",
			Help: "Duration of rate limit sweep runs in seconds",
		}),
		LocationDetectionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dalil_location_detections_total",
			Help: "Total number of city classifications by context and confidence",
		}, []string{"context", "confidence"}),
		ListingsSubmittedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dalil_listings_submitted_total",
			Help: "Total number of listing submissions by outcome",
		}, []string{"status"}),
	}
}

func (m *Metrics) ObserveRateLimitDecision(policy, state string) {
	if m == nil {
		return
	}
	m.RateLimitDecisionsTotal.WithLabelValues(policy, state).Inc()
}

func (m *Metrics) ObserveSweep(status string, removed int, durationSeconds float64) {
	if m == nil {
		return
	}
	m.RateLimitSweepRunsTotal.WithLabelValues(status).Inc()
	m.RateLimitSweepRemovedTotal.Add(float64(removed))
	m.RateLimitSweepDurationSecond.Observe(durationSeconds)
}

func (m *Metrics) ObserveLocationDetection(context, confidence string) {
	if m == nil {
		return
	}
	m.LocationDetectionsTotal.WithLabelValues(context, confidence).Inc()
}

func (m *Metrics) IncrementListingsSubmitted(status string) {
	if m == nil {
		return
	}
	m.ListingsSubmittedTotal.WithLabelValues(status).Inc()
}
