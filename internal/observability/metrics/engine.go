package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/laitim2001/freight-mapping-engine/internal/core/domain"
)

const namespace = "fme"

// EngineMetrics implements ports.EngineMetrics on top of a Prometheus registry.
type EngineMetrics struct {
	service string

	documentsTotal      *prometheus.CounterVec
	documentDuration    *prometheus.HistogramVec
	resolutionsTotal    *prometheus.CounterVec
	invalidPatterns     *prometheus.CounterVec
	classifierTimeouts  *prometheus.CounterVec
	suggestionsCreated  *prometheus.CounterVec
	suggestionDecisions *prometheus.CounterVec
	rollbacksTotal      *prometheus.CounterVec
}

func NewEngineMetrics(service string, registerer prometheus.Registerer) *EngineMetrics {
	documentsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mapping",
			Name:      "documents_total",
			Help:      "Mapped documents by routing path.",
		},
		[]string{"service", "path"},
	)
	documentDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "mapping",
			Name:      "document_duration_seconds",
			Help:      "Document mapping duration in seconds.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"service"},
	)
	resolutionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mapping",
			Name:      "field_resolutions_total",
			Help:      "Field resolutions by winning tier.",
		},
		[]string{"service", "tier"},
	)
	invalidPatterns := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rules",
			Name:      "invalid_patterns_total",
			Help:      "Stored rules skipped because their regex does not compile.",
		},
		[]string{"service"},
	)
	classifierTimeouts := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "classifier",
			Name:      "timeouts_total",
			Help:      "Classifier calls abandoned at the deadline.",
		},
		[]string{"service"},
	)
	suggestionsCreated := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "learning",
			Name:      "suggestions_created_total",
			Help:      "Rule suggestions generated from corrections.",
		},
		[]string{"service"},
	)
	suggestionDecisions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "learning",
			Name:      "suggestion_decisions_total",
			Help:      "Reviewer decisions on rule suggestions.",
		},
		[]string{"service", "status"},
	)
	rollbacksTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rules",
			Name:      "rollbacks_total",
			Help:      "Rule rollbacks by trigger.",
		},
		[]string{"service", "trigger"},
	)

	registerer.MustRegister(
		documentsTotal,
		documentDuration,
		resolutionsTotal,
		invalidPatterns,
		classifierTimeouts,
		suggestionsCreated,
		suggestionDecisions,
		rollbacksTotal,
	)

	return &EngineMetrics{
		service:             service,
		documentsTotal:      documentsTotal,
		documentDuration:    documentDuration,
		resolutionsTotal:    resolutionsTotal,
		invalidPatterns:     invalidPatterns,
		classifierTimeouts:  classifierTimeouts,
		suggestionsCreated:  suggestionsCreated,
		suggestionDecisions: suggestionDecisions,
		rollbacksTotal:      rollbacksTotal,
	}
}

func (m *EngineMetrics) ObserveDocument(path domain.RoutingPath, duration time.Duration) {
	m.documentsTotal.WithLabelValues(m.service, string(path)).Inc()
	m.documentDuration.WithLabelValues(m.service).Observe(duration.Seconds())
}

func (m *EngineMetrics) ObserveResolution(tier domain.Tier) {
	m.resolutionsTotal.WithLabelValues(m.service, string(tier)).Inc()
}

func (m *EngineMetrics) IncInvalidPattern() {
	m.invalidPatterns.WithLabelValues(m.service).Inc()
}

func (m *EngineMetrics) IncClassifierTimeout() {
	m.classifierTimeouts.WithLabelValues(m.service).Inc()
}

func (m *EngineMetrics) IncSuggestionCreated() {
	m.suggestionsCreated.WithLabelValues(m.service).Inc()
}

func (m *EngineMetrics) IncSuggestionDecision(status domain.SuggestionStatus) {
	m.suggestionDecisions.WithLabelValues(m.service, string(status)).Inc()
}

func (m *EngineMetrics) IncRollback(trigger domain.RollbackTrigger) {
	m.rollbacksTotal.WithLabelValues(m.service, string(trigger)).Inc()
}
