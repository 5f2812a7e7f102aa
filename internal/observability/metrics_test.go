package observability_test

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/atlas-desktop/strategy-optimizer/internal/observability"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordOptimization(t *testing.T) {
	m := observability.NewMetrics("")

	m.RecordOptimization("completed", time.Second, 36, 12)
	m.RecordPersist(12, 1)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.OptimizationRuns.WithLabelValues("completed")))
	assert.Equal(t, 36.0, testutil.ToFloat64(m.CandidatesEvaluated))
	assert.Equal(t, 12.0, testutil.ToFloat64(m.CandidatesAccepted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ScoresFailed))
}

func TestRecordSetEvaluation(t *testing.T) {
	m := observability.NewMetrics("")

	m.RecordSetEvaluation("ok")
	m.RecordSetEvaluation("disabled")
	m.RecordSkippedTick()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.SetsDisabled))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SetEvaluations.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TicksSkipped))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *observability.Metrics
	assert.NotPanics(t, func() {
		m.RecordOptimization("failed", time.Second, 1, 0)
		m.RecordSetEvaluation("error")
		m.RecordPass(time.Second)
		m.RegisterGauge("workers", "queue_length", "queued tasks", func() float64 { return 0 })
	})
}

func TestHandlerExposesRegistry(t *testing.T) {
	m := observability.NewMetrics("")
	m.RegisterGauge("workers", "queue_length", "Queued sweep tasks", func() float64 { return 3 })
	m.RecordSkippedTick()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	assert.Contains(t, body, "strategy_optimizer_evaluator_ticks_skipped_total 1")
	assert.Contains(t, body, "strategy_optimizer_workers_queue_length 3")
}
