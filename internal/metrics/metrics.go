// Package metrics exposes Prometheus metrics for classroom traffic.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the tutor. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	TurnsTotal    *prometheus.CounterVec
	TurnDuration  *prometheus.HistogramVec
	SpeechTotal   *prometheus.CounterVec
	RateLimitHits *prometheus.CounterVec
}

// New creates a Metrics with its own registry. classrooms, when non-nil, reports live classrooms.
func New(namespace string, classrooms func() int) *Metrics {
	if namespace == "" {
		namespace = "lsa_tutor"
	}

	registry := prometheus.NewRegistry()

	turnsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Classroom events by kind and outcome",
		},
		[]string{"event", "status"},
	)

	turnDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "Time to process one classroom event, model and speech included",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"event"},
	)

	speechTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "speech_total",
			Help:      "Spoken replies by outcome",
		},
		[]string{"status"},
	)

	rateLimitHits := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_hits_total",
			Help:      "Requests rejected by the per-learner rate limit",
		},
		[]string{"channel"},
	)

	registry.MustRegister(turnsTotal, turnDuration, speechTotal, rateLimitHits)
	if classrooms != nil {
		registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "classrooms_active",
				Help:      "Classrooms currently held in memory",
			},
			func() float64 { return float64(classrooms()) },
		))
	}

	return &Metrics{
		registry:      registry,
		TurnsTotal:    turnsTotal,
		TurnDuration:  turnDuration,
		SpeechTotal:   speechTotal,
		RateLimitHits: rateLimitHits,
	}
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordTurn records one dispatched event.
func (m *Metrics) RecordTurn(event, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.TurnsTotal.WithLabelValues(event, status).Inc()
	m.TurnDuration.WithLabelValues(event).Observe(duration.Seconds())
}

// RecordSpeech records the outcome of one synthesis: "ok", "error" or "skipped".
func (m *Metrics) RecordSpeech(status string) {
	if m == nil {
		return
	}
	m.SpeechTotal.WithLabelValues(status).Inc()
}

// RecordRateLimit records a rejected request.
func (m *Metrics) RecordRateLimit(channel string) {
	if m == nil {
		return
	}
	m.RateLimitHits.WithLabelValues(channel).Inc()
}
