package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	registry = prometheus.NewRegistry()
	logger   *zap.Logger
)

type MetricsConfig struct {
	ReportInterval time.Duration
	LogMetrics     bool
}

var reportOnce sync.Once

func Initialize(cfg *MetricsConfig, log *zap.Logger) {
	logger = log
	prometheus.DefaultRegisterer = registry
	if cfg != nil && cfg.LogMetrics && cfg.ReportInterval > 0 {
		reportOnce.Do(func() { go reportLoop(cfg.ReportInterval) })
	}
}

// reportLoop periodically logs a snapshot of the registry so metric trends
// survive in the logs even when nothing scrapes the endpoint.
func reportLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		families, err := registry.Gather()
		if err != nil {
			logger.Warn("metrics gather failed", zap.Error(err))
			continue
		}
		for _, fam := range families {
			for _, m := range fam.Metric {
				if c := m.GetCounter(); c != nil {
					logger.Debug("metric", zap.String("name", fam.GetName()),
						zap.Float64("value", c.GetValue()))
				}
			}
		}
	}
}

// Handler exposes the engine's registry for scraping.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// Shared per-process metric sets. promauto registers at construction, so
// each set must be built exactly once no matter how many components ask.
var (
	quoteOnce sync.Once
	quoteSet  *QuoteMetrics
	detOnce   sync.Once
	detSet    *DetectorMetrics
	execOnce  sync.Once
	execSet   *ExecutionMetrics
	routeOnce sync.Once
	routeSet  *RouterMetrics
)

func Quote() *QuoteMetrics {
	quoteOnce.Do(func() { quoteSet = NewQuoteMetrics("sniperforge_quote") })
	return quoteSet
}

func Detector() *DetectorMetrics {
	detOnce.Do(func() { detSet = NewDetectorMetrics("sniperforge_detector") })
	return detSet
}

func Execution() *ExecutionMetrics {
	execOnce.Do(func() { execSet = NewExecutionMetrics("sniperforge_execution") })
	return execSet
}

func Router() *RouterMetrics {
	routeOnce.Do(func() { routeSet = NewRouterMetrics("sniperforge_router") })
	return routeSet
}

type QuoteMetrics struct {
	Requests     prometheus.Counter
	Failures     prometheus.Counter
	SoftRetries  prometheus.Counter
	Latency      prometheus.Histogram
	RateDeferred prometheus.Counter
	RateCapacity prometheus.Gauge
}

func NewQuoteMetrics(namespace string) *QuoteMetrics {
	return &QuoteMetrics{
		Requests: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of quote requests",
		}),
		Failures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failures_total",
			Help:      "Total number of failed quote requests",
		}),
		SoftRetries: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "soft_retries_total",
			Help:      "Total number of retries at escalated slippage",
		}),
		Latency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "latency_seconds",
			Help:      "Quote request latency in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		}),
		RateDeferred: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_deferred_total",
			Help:      "Total number of requests deferred by the rate limiter",
		}),
		RateCapacity: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rate_capacity",
			Help:      "Current adaptive rate limiter capacity",
		}),
	}
}

type DetectorMetrics struct {
	Evaluations   prometheus.Counter
	Opportunities prometheus.Counter
	Unprofitable  prometheus.Counter
	ProfitBps     prometheus.Histogram
	FeeMultiple   prometheus.Histogram
}

func NewDetectorMetrics(namespace string) *DetectorMetrics {
	return &DetectorMetrics{
		Evaluations: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluations_total",
			Help:      "Total number of pair evaluations",
		}),
		Opportunities: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "opportunities_total",
			Help:      "Total number of detected opportunities",
		}),
		Unprofitable: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unprofitable_total",
			Help:      "Total number of cycles discarded as unprofitable",
		}),
		ProfitBps: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "profit_bps",
			Help:      "Detected profit in basis points",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
		FeeMultiple: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fee_multiple",
			Help:      "Profit-to-fee multiple distribution",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 8),
		}),
	}
}

type ExecutionMetrics struct {
	Submissions   prometheus.Counter
	Protected     prometheus.Counter
	Direct        prometheus.Counter
	RiskAborts    prometheus.Counter
	Expired       prometheus.Counter
	BundleRetries prometheus.Counter
	Failures      prometheus.Counter
	Confirmed     prometheus.Counter
	Unconfirmed   prometheus.Counter
	TipPaid       prometheus.Histogram
	ConfirmTime   prometheus.Histogram
	Score         prometheus.Histogram
}

func NewExecutionMetrics(namespace string) *ExecutionMetrics {
	return &ExecutionMetrics{
		Submissions: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Total number of submissions",
		}),
		Protected: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "protected_total",
			Help:      "Total number of submissions through the protected relay",
		}),
		Direct: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "direct_total",
			Help:      "Total number of direct broadcasts",
		}),
		RiskAborts: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "risk_aborts_total",
			Help:      "Total number of executions aborted by risk assessment",
		}),
		Expired: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "expired_total",
			Help:      "Total number of opportunities that expired before submission",
		}),
		BundleRetries: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bundle_retries_total",
			Help:      "Total number of bundle re-submissions with escalated tip",
		}),
		Failures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failures_total",
			Help:      "Total number of failed executions",
		}),
		Confirmed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "confirmed_total",
			Help:      "Total number of confirmed executions",
		}),
		Unconfirmed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unconfirmed_total",
			Help:      "Total number of executions unconfirmed after polling",
		}),
		TipPaid: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tip_paid",
			Help:      "Bundle tip distribution in minimal units",
			Buckets:   prometheus.ExponentialBuckets(1e3, 4, 10),
		}),
		ConfirmTime: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "confirm_time_seconds",
			Help:      "Submission-to-confirmation time in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.4, 2, 8),
		}),
		Score: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "performance_score",
			Help:      "Per-execution performance score (0-10)",
			Buckets:   prometheus.LinearBuckets(0, 1, 11),
		}),
	}
}

type RouterMetrics struct {
	Cycles       prometheus.Counter
	Decisions    prometheus.Counter
	NoDecision   prometheus.Counter
	Score        prometheus.Histogram
	RoutesKnown  prometheus.Gauge
	CycleTime    prometheus.Histogram
	RiskLevels   *prometheus.CounterVec
}

func NewRouterMetrics(namespace string) *RouterMetrics {
	return &RouterMetrics{
		Cycles: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Total number of evaluation cycles",
		}),
		Decisions: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Total number of routing decisions produced",
		}),
		NoDecision: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "no_decision_total",
			Help:      "Total number of cycles that produced no decision",
		}),
		Score: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "decision_score",
			Help:      "Routing decision score distribution",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		RoutesKnown: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "routes_known",
			Help:      "Number of routes with accumulated statistics",
		}),
		CycleTime: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_time_seconds",
			Help:      "Full evaluation cycle duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		RiskLevels: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "risk_levels_total",
			Help:      "Risk assessments by level",
		}, []string{"level"}),
	}
}
