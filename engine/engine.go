// Package engine runs the evaluation loop: quote every configured pair,
// assess the survivors, let the router pick at most one, execute it, and
// feed every terminal outcome back into the route statistics.
package engine

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/juant72/sniperforge-sub012/config"
	"github.com/juant72/sniperforge-sub012/monitor"
	"github.com/juant72/sniperforge-sub012/router"
	"github.com/juant72/sniperforge-sub012/types"
	"github.com/juant72/sniperforge-sub012/utils/metrics"
)

// Detector evaluates one asset pair for a profitable cycle.
type Detector interface {
	Evaluate(ctx context.Context, assetA, assetB common.Address, amount *big.Int) (*types.Opportunity, error)
}

// Analyzer grades an opportunity's adversarial exposure.
type Analyzer interface {
	Assess(ctx context.Context, opp *types.Opportunity) (*types.RiskAssessment, error)
}

// Selector turns the cycle's live signals into at most one decision.
type Selector interface {
	SelectRoute(ctx context.Context, availableCapital *big.Int, riskTolerance, executionUrgency float64, live []router.LiveSignal) (*types.RoutingDecision, error)
}

// Executor submits a decided opportunity.
type Executor interface {
	Execute(ctx context.Context, opp *types.Opportunity, risk *types.RiskAssessment) (*types.ExecutionResult, error)
}

// Watcher follows a submission to its terminal outcome.
type Watcher interface {
	Watch(ctx context.Context, result *types.ExecutionResult) (*monitor.Report, error)
}

// CapitalSource reports how much of the input asset is free to deploy.
type CapitalSource interface {
	Balance(ctx context.Context) (*big.Int, error)
}

// Engine owns the cycle loop. One cycle never blocks the next: executions
// run on their own goroutines behind a bounded slot pool.
type Engine struct {
	cfg      *config.Config
	detector Detector
	analyzer Analyzer
	selector Selector
	executor Executor
	watcher  Watcher
	capital  CapitalSource
	logger   *zap.Logger

	routerMetrics *metrics.RouterMetrics
	execSlots     chan struct{}
	wg            sync.WaitGroup

	mu      sync.Mutex
	tracker Tracker
}

// Tracker aggregates per-cycle outcomes for observability.
type Tracker struct {
	Cycles        uint64
	Opportunities uint64
	Decisions     uint64
	Executions    uint64
	Confirmed     uint64
	SkippedBusy   uint64
}

func NewEngine(cfg *config.Config, detector Detector, analyzer Analyzer, selector Selector, executor Executor, watcher Watcher, capital CapitalSource, logger *zap.Logger) *Engine {
	slots := cfg.MaxConcurrentExecutions
	if slots <= 0 {
		slots = 1
	}
	return &Engine{
		cfg:           cfg,
		detector:      detector,
		analyzer:      analyzer,
		selector:      selector,
		executor:      executor,
		watcher:       watcher,
		capital:       capital,
		logger:        logger,
		routerMetrics: metrics.Router(),
		execSlots:     make(chan struct{}, slots),
	}
}

// Run loops until the context is cancelled, then waits for in-flight
// executions to settle.
func (e *Engine) Run(ctx context.Context) error {
	interval := e.cfg.CycleInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.logger.Info("engine started",
		zap.Duration("cycle_interval", interval),
		zap.Int("pairs", len(e.cfg.TradePairs)))

	for {
		select {
		case <-ctx.Done():
			e.wg.Wait()
			e.logger.Info("engine stopped")
			return ctx.Err()
		case <-ticker.C:
			e.RunCycle(ctx)
		}
	}
}

// RunCycle evaluates every configured pair once and executes the router's
// pick, if any. Exported so a single pass can be driven from the CLI.
func (e *Engine) RunCycle(ctx context.Context) {
	started := time.Now()
	e.routerMetrics.Cycles.Inc()
	e.mu.Lock()
	e.tracker.Cycles++
	e.mu.Unlock()

	// The evaluation deadline must not leak into the execution goroutine:
	// a submission keeps its own budget once dispatched.
	evalCtx := ctx
	if e.cfg.NetworkTimeout > 0 {
		var cancel context.CancelFunc
		evalCtx, cancel = context.WithTimeout(ctx, e.cfg.NetworkTimeout)
		defer cancel()
	}

	signals := e.gatherSignals(evalCtx)
	e.routerMetrics.CycleTime.Observe(time.Since(started).Seconds())
	if len(signals) == 0 {
		e.routerMetrics.NoDecision.Inc()
		return
	}

	available, err := e.capital.Balance(evalCtx)
	if err != nil {
		e.logger.Warn("capital read failed, skipping cycle", zap.Error(err))
		return
	}

	decision, err := e.selector.SelectRoute(evalCtx, available, e.riskTolerance(), cycleUrgency(signals), signals)
	if err != nil {
		e.logger.Error("route selection failed", zap.Error(err))
		return
	}
	if decision == nil {
		e.routerMetrics.NoDecision.Inc()
		e.logger.Debug("no route cleared the floor this cycle")
		return
	}

	e.routerMetrics.Decisions.Inc()
	e.routerMetrics.Score.Observe(decision.Score)
	e.mu.Lock()
	e.tracker.Decisions++
	e.mu.Unlock()

	e.dispatch(ctx, decision)
}

// Stats returns a snapshot of the engine's rolling counters.
func (e *Engine) Stats() Tracker {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tracker
}

// gatherSignals evaluates all pairs concurrently, bounded by the configured
// opportunity limit. Quote and profit misses are routine and only logged.
func (e *Engine) gatherSignals(ctx context.Context) []router.LiveSignal {
	var mu sync.Mutex
	var signals []router.LiveSignal

	g, gctx := errgroup.WithContext(ctx)
	limit := e.cfg.MaxConcurrentOpportunities
	if limit <= 0 {
		limit = 4
	}
	g.SetLimit(limit)

	for _, pair := range e.cfg.TradePairs {
		pair := pair
		g.Go(func() error {
			opp, err := e.detector.Evaluate(gctx, pair.AssetA, pair.AssetB, pair.Amount)
			if err != nil {
				if !errors.Is(err, types.ErrInsufficientProfit) && !errors.Is(err, types.ErrQuoteUnavailable) {
					e.logger.Warn("pair evaluation failed",
						zap.String("asset_a", pair.AssetA.Hex()),
						zap.String("asset_b", pair.AssetB.Hex()),
						zap.Error(err))
				}
				return nil
			}
			if !opp.PriorityTier.Executable() {
				e.logger.Debug("monitor-only opportunity recorded",
					zap.String("opportunity", opp.ID),
					zap.Float64("fee_multiple", opp.ProfitToFeeMultiple))
				return nil
			}

			risk, err := e.analyzer.Assess(gctx, opp)
			if err != nil {
				e.logger.Warn("risk assessment failed",
					zap.String("opportunity", opp.ID),
					zap.Error(err))
				return nil
			}
			e.routerMetrics.RiskLevels.WithLabelValues(risk.RiskLevel.String()).Inc()

			mu.Lock()
			signals = append(signals, router.LiveSignal{Opportunity: opp, Risk: risk})
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	e.mu.Lock()
	e.tracker.Opportunities += uint64(len(signals))
	e.mu.Unlock()
	return signals
}

// dispatch hands the decision to an execution slot. A saturated slot pool
// drops the decision: quotes go stale faster than slots free up, so queueing
// would only execute dead opportunities.
func (e *Engine) dispatch(ctx context.Context, decision *types.RoutingDecision) {
	select {
	case e.execSlots <- struct{}{}:
	default:
		e.mu.Lock()
		e.tracker.SkippedBusy++
		e.mu.Unlock()
		e.logger.Warn("execution slots saturated, dropping decision",
			zap.String("opportunity", decision.Opportunity.ID))
		return
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer func() { <-e.execSlots }()
		e.execute(ctx, decision)
	}()
}

func (e *Engine) execute(ctx context.Context, decision *types.RoutingDecision) {
	e.mu.Lock()
	e.tracker.Executions++
	e.mu.Unlock()

	result, err := e.executor.Execute(ctx, decision.Opportunity, decision.RiskAssessment)
	if err != nil {
		if errors.Is(err, types.ErrQuoteStale) || errors.Is(err, types.ErrExecutionInFlight) {
			e.logger.Debug("execution skipped",
				zap.String("opportunity", decision.Opportunity.ID),
				zap.Error(err))
			return
		}
		e.logger.Error("execution failed",
			zap.String("opportunity", decision.Opportunity.ID),
			zap.Error(err))
		if result == nil {
			return
		}
		// A failed submission still settles through the monitor so the
		// route statistics record it.
	}
	if errors.Is(result.Err, types.ErrRiskAborted) {
		// Nothing reached the wire; there is nothing for the route to learn.
		return
	}

	report, err := e.watcher.Watch(ctx, result)
	if err != nil {
		e.logger.Warn("confirmation watch aborted",
			zap.String("opportunity", decision.Opportunity.ID),
			zap.Error(err))
		return
	}
	if report.Outcome == types.OutcomeConfirmed {
		e.mu.Lock()
		e.tracker.Confirmed++
		e.mu.Unlock()
	}
}

// riskTolerance maps the configured protection threshold into the router's
// [0, 1] tolerance: a bot configured to protect early tolerates less.
func (e *Engine) riskTolerance() float64 {
	t := e.cfg.SandwichProtectThreshold
	if t <= 0 || t > 1 {
		return 0.5
	}
	return t
}

// cycleUrgency is driven by the best tier seen this cycle.
func cycleUrgency(signals []router.LiveSignal) float64 {
	best := types.TierMonitorOnly
	for _, s := range signals {
		if s.Opportunity.PriorityTier > best {
			best = s.Opportunity.PriorityTier
		}
	}
	switch best {
	case types.TierHigh:
		return 0.9
	case types.TierMedium:
		return 0.6
	case types.TierLow:
		return 0.3
	default:
		return 0.1
	}
}
