// internal/monitoring/metrics.go
package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "vinparts"

// Metrics holds the Prometheus collectors of the monitor and the search
// engine. A nil *Metrics is valid and records nothing.
type Metrics struct {
	attempts        *prometheus.CounterVec
	responseSeconds *prometheus.HistogramVec
	blocked         *prometheus.GaugeVec
	successRate     *prometheus.GaugeVec
	usageLogErrors  prometheus.Counter

	searches       *prometheus.CounterVec
	searchDuration prometheus.Histogram
	cacheLookups   *prometheus.CounterVec
}

// NewMetrics registers the collectors on reg. A nil reg leaves them
// unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		attempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "monitor",
				Name:      "attempts_total",
				Help:      "Strategy attempts by method and outcome",
			},
			[]string{"method", "outcome"},
		),
		responseSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "monitor",
				Name:      "response_seconds",
				Help:      "Strategy attempt duration in seconds",
				Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
			},
			[]string{"method"},
		),
		blocked: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "monitor",
				Name:      "method_blocked",
				Help:      "1 while a method is in its block cooldown",
			},
			[]string{"method"},
		),
		successRate: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "monitor",
				Name:      "success_rate",
				Help:      "In-memory success rate per method",
			},
			[]string{"method"},
		),
		usageLogErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "monitor",
				Name:      "usage_log_errors_total",
				Help:      "Usage-log writes that failed",
			},
		),
		searches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "searches_total",
				Help:      "VIN searches by outcome",
			},
			[]string{"outcome"},
		),
		searchDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "search_duration_seconds",
				Help:      "End-to-end VIN search duration in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
			},
		),
		cacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "cache_lookups_total",
				Help:      "Result cache lookups by outcome",
			},
			[]string{"outcome"},
		),
	}
}

func (m *Metrics) observeAttempt(method string, success bool, d time.Duration, rate float64) {
	if m == nil {
		return
	}
	outcome := "failure"
	if success {
		outcome = "success"
	}
	m.attempts.WithLabelValues(method, outcome).Inc()
	m.responseSeconds.WithLabelValues(method).Observe(d.Seconds())
	m.successRate.WithLabelValues(method).Set(rate)
}

func (m *Metrics) setBlocked(method string, blocked bool) {
	if m == nil {
		return
	}
	v := 0.0
	if blocked {
		v = 1
	}
	m.blocked.WithLabelValues(method).Set(v)
}

func (m *Metrics) reset(method string) {
	if m == nil {
		return
	}
	m.blocked.WithLabelValues(method).Set(0)
	m.successRate.DeleteLabelValues(method)
}

func (m *Metrics) usageLogError() {
	if m == nil {
		return
	}
	m.usageLogErrors.Inc()
}

// RecordSearch counts a finished VIN search. outcome is success, failure,
// invalid or cached.
func (m *Metrics) RecordSearch(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.searches.WithLabelValues(outcome).Inc()
	m.searchDuration.Observe(d.Seconds())
}

// RecordCacheLookup counts a result cache lookup: hit, miss or error.
func (m *Metrics) RecordCacheLookup(outcome string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(outcome).Inc()
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
