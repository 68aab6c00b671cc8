package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestMetricsInitialization(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	cfg := &MetricsConfig{
		ReportInterval: time.Second,
		LogMetrics:     true,
	}

	Initialize(cfg, logger)
	assert.NotNil(t, registry)
}

func TestSharedSetsBuildOnce(t *testing.T) {
	assert.Same(t, Quote(), Quote())
	assert.Same(t, Detector(), Detector())
	assert.Same(t, Execution(), Execution())
	assert.Same(t, Router(), Router())
}

func TestQuoteMetrics(t *testing.T) {
	metrics := NewQuoteMetrics("test_quote")
	assert.NotNil(t, metrics)

	metrics.Requests.Inc()
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.Requests))

	metrics.Failures.Inc()
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.Failures))

	metrics.RateCapacity.Set(25)
	assert.Equal(t, float64(25), testutil.ToFloat64(metrics.RateCapacity))

	metrics.Latency.Observe(0.05)
	assert.NotNil(t, metrics.Latency)
}

func TestDetectorMetrics(t *testing.T) {
	metrics := NewDetectorMetrics("test_detector")
	assert.NotNil(t, metrics)

	metrics.Evaluations.Inc()
	metrics.Opportunities.Inc()
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.Opportunities))

	metrics.ProfitBps.Observe(18)
	assert.NotNil(t, metrics.ProfitBps)

	metrics.FeeMultiple.Observe(6.0)
	assert.NotNil(t, metrics.FeeMultiple)
}

func TestExecutionMetrics(t *testing.T) {
	metrics := NewExecutionMetrics("test_execution")
	assert.NotNil(t, metrics)

	metrics.Submissions.Inc()
	metrics.Protected.Inc()
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.Protected))

	metrics.RiskAborts.Inc()
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.RiskAborts))

	metrics.TipPaid.Observe(100_000)
	assert.NotNil(t, metrics.TipPaid)

	metrics.Score.Observe(9)
	assert.NotNil(t, metrics.Score)
}

func TestRouterMetrics(t *testing.T) {
	metrics := NewRouterMetrics("test_router")
	assert.NotNil(t, metrics)

	metrics.Cycles.Inc()
	metrics.NoDecision.Inc()
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.NoDecision))

	metrics.RoutesKnown.Set(3)
	assert.Equal(t, float64(3), testutil.ToFloat64(metrics.RoutesKnown))

	metrics.RiskLevels.WithLabelValues("high").Inc()
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.RiskLevels.WithLabelValues("high")))

	metrics.CycleTime.Observe(0.2)
	assert.NotNil(t, metrics.CycleTime)
}
