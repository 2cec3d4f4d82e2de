// Package metrics holds the Prometheus instrumentation of the suggestion engine.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds Prometheus metrics for the suggestion engine.
// All methods are safe to call on a nil *Metrics.
type Metrics struct {
	WebhooksTotal             *prometheus.CounterVec
	ClassificationsTotal      *prometheus.CounterVec
	ClassificationDuration    *prometheus.HistogramVec
	PatternHitsTotal          prometheus.Counter
	SuggestionsGeneratedTotal *prometheus.CounterVec
	SuggestionsResolvedTotal  *prometheus.CounterVec
	SuggestionsExpiredTotal   prometheus.Counter
	FeedbackLearnedTotal      *prometheus.CounterVec
}

// New creates and registers the metrics once per process.
//
// Metrics:
//   - triage_webhooks_total{result} - accepted, duplicate, stale, invalid, failed
//   - triage_classifications_total{source} - model or fallback
//   - triage_classification_duration_seconds{source}
//   - triage_pattern_hits_total
//   - triage_suggestions_generated_total{origin} - pattern or classifier
//   - triage_suggestions_resolved_total{status} - approved or declined
//   - triage_suggestions_expired_total
//   - triage_feedback_learned_total{outcome} - learned, retry, failed
func New() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			WebhooksTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "triage_webhooks_total",
					Help: "Total number of webhook deliveries by result",
				},
				[]string{"result"},
			),
			ClassificationsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "triage_classifications_total",
					Help: "Total number of event classifications by source",
				},
				[]string{"source"},
			),
			ClassificationDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "triage_classification_duration_seconds",
					Help:    "Duration of event classification in seconds",
					Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 15, 30},
				},
				[]string{"source"},
			),
			PatternHitsTotal: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "triage_pattern_hits_total",
					Help: "Total number of pattern hits across all events",
				},
			),
			SuggestionsGeneratedTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "triage_suggestions_generated_total",
					Help: "Total number of suggestions persisted by origin",
				},
				[]string{"origin"},
			),
			SuggestionsResolvedTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "triage_suggestions_resolved_total",
					Help: "Total number of suggestions resolved by a reviewer",
				},
				[]string{"status"},
			),
			SuggestionsExpiredTotal: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "triage_suggestions_expired_total",
					Help: "Total number of suggestions expired by the sweeper",
				},
			),
			FeedbackLearnedTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "triage_feedback_learned_total",
					Help: "Total number of learning attempts by outcome",
				},
				[]string{"outcome"},
			),
		}
	})
	return globalMetrics
}

// Webhook counts one webhook delivery.
func (m *Metrics) Webhook(result string) {
	if m == nil {
		return
	}
	m.WebhooksTotal.WithLabelValues(result).Inc()
}

// Classification records one classification and its latency.
func (m *Metrics) Classification(source string, d time.Duration) {
	if m == nil {
		return
	}
	m.ClassificationsTotal.WithLabelValues(source).Inc()
	m.ClassificationDuration.WithLabelValues(source).Observe(d.Seconds())
}

// PatternHits counts pattern hits for one event.
func (m *Metrics) PatternHits(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.PatternHitsTotal.Add(float64(n))
}

// SuggestionsGenerated counts persisted suggestions of one origin.
func (m *Metrics) SuggestionsGenerated(origin string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.SuggestionsGeneratedTotal.WithLabelValues(origin).Add(float64(n))
}

// SuggestionResolved counts one approve or decline.
func (m *Metrics) SuggestionResolved(status string) {
	if m == nil {
		return
	}
	m.SuggestionsResolvedTotal.WithLabelValues(status).Inc()
}

// SuggestionsExpired counts suggestions expired by one sweep.
func (m *Metrics) SuggestionsExpired(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.SuggestionsExpiredTotal.Add(float64(n))
}

// FeedbackLearned counts one learning attempt outcome.
func (m *Metrics) FeedbackLearned(outcome string) {
	if m == nil {
		return
	}
	m.FeedbackLearnedTotal.WithLabelValues(outcome).Inc()
}
