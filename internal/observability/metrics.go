// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const defaultNamespace = "strategy_optimizer"

// Metrics holds all Prometheus metrics for the application. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	registry  *prometheus.Registry
	namespace string

	// Optimization metrics
	OptimizationRuns    *prometheus.CounterVec
	OptimizationLatency prometheus.Histogram
	CandidatesEvaluated prometheus.Counter
	CandidatesAccepted  prometheus.Counter
	ScoresPersisted     prometheus.Counter
	ScoresFailed        prometheus.Counter

	// Evaluation metrics
	SetEvaluations *prometheus.CounterVec
	SetsDisabled   prometheus.Counter
	PassDuration   prometheus.Histogram
	TicksSkipped   prometheus.Counter
}

// NewMetrics creates a Metrics instance on its own registry.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = defaultNamespace
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	factory := promauto.With(reg)

	return &Metrics{
		registry:  reg,
		namespace: namespace,

		OptimizationRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "optimizer",
			Name:      "runs_total",
			Help:      "Total number of optimization runs by final status",
		}, []string{"status"}),
		OptimizationLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "optimizer",
			Name:      "sweep_duration_seconds",
			Help:      "Duration of a full grid sweep",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
		}),
		CandidatesEvaluated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "optimizer",
			Name:      "candidates_evaluated_total",
			Help:      "Total number of parameter candidates simulated",
		}),
		CandidatesAccepted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "optimizer",
			Name:      "candidates_accepted_total",
			Help:      "Total number of candidates passing acceptance thresholds",
		}),
		ScoresPersisted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "optimizer",
			Name:      "scores_persisted_total",
			Help:      "Total number of candidate score rows written",
		}),
		ScoresFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "optimizer",
			Name:      "scores_failed_total",
			Help:      "Total number of candidate score rows that failed to persist",
		}),

		SetEvaluations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "evaluator",
			Name:      "set_evaluations_total",
			Help:      "Total number of Set evaluations by outcome",
		}, []string{"outcome"}),
		SetsDisabled: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "evaluator",
			Name:      "sets_disabled_total",
			Help:      "Total number of Sets automatically disabled",
		}),
		PassDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "evaluator",
			Name:      "pass_duration_seconds",
			Help:      "Duration of a full evaluation pass",
			Buckets:   prometheus.DefBuckets,
		}),
		TicksSkipped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "evaluator",
			Name:      "ticks_skipped_total",
			Help:      "Scheduled ticks skipped because a pass was still running",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RegisterGauge exposes a value sampled at scrape time, such as a queue depth.
func (m *Metrics) RegisterGauge(subsystem, name, help string, fn func() float64) {
	if m == nil {
		return
	}
	promauto.With(m.registry).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, fn)
}

// RecordOptimization records one finished optimization run.
func (m *Metrics) RecordOptimization(status string, elapsed time.Duration, evaluated, accepted int) {
	if m == nil {
		return
	}
	m.OptimizationRuns.WithLabelValues(status).Inc()
	m.OptimizationLatency.Observe(elapsed.Seconds())
	m.CandidatesEvaluated.Add(float64(evaluated))
	m.CandidatesAccepted.Add(float64(accepted))
}

// RecordPersist records the outcome of a score save.
func (m *Metrics) RecordPersist(saved, failed int) {
	if m == nil {
		return
	}
	m.ScoresPersisted.Add(float64(saved))
	m.ScoresFailed.Add(float64(failed))
}

// RecordSetEvaluation records one Set verdict: ok, disabled, inactive or error.
func (m *Metrics) RecordSetEvaluation(outcome string) {
	if m == nil {
		return
	}
	m.SetEvaluations.WithLabelValues(outcome).Inc()
	if outcome == "disabled" {
		m.SetsDisabled.Inc()
	}
}

// RecordPass records the duration of an evaluation pass.
func (m *Metrics) RecordPass(elapsed time.Duration) {
	if m == nil {
		return
	}
	m.PassDuration.Observe(elapsed.Seconds())
}

// RecordSkippedTick counts a scheduled tick that found a pass in flight.
func (m *Metrics) RecordSkippedTick() {
	if m == nil {
		return
	}
	m.TicksSkipped.Inc()
}
