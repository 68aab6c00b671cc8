// Package monitor watches submitted executions until they confirm, fail, or
// fall off the polling window, and turns the outcome into route statistics.
package monitor

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/juant72/sniperforge-sub012/types"
	"github.com/juant72/sniperforge-sub012/utils/metrics"
)

// Ledger reads receipts and the executing wallet's balance.
type Ledger interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error)
	Balance(ctx context.Context) (*big.Int, error)
}

// VisibilityObserver receives measured submission-to-confirmation windows.
type VisibilityObserver interface {
	ObserveVisibility(window time.Duration)
}

// RouteRecorder persists the outcome of one execution against its route.
// The monitor is the only component that calls it.
type RouteRecorder interface {
	RecordOutcome(path []string, profitBps float64, success bool, conditionTag string)
}

// Config bounds the confirmation poll loop. Polling stops at whichever of
// retries or timeout is exhausted first.
type Config struct {
	ConfirmationTimeout time.Duration
	ConfirmationRetries int
	ConfirmationDelay   time.Duration
}

// Report is the monitor's verdict on one watched execution.
type Report struct {
	Result       *types.ExecutionResult
	Outcome      types.MonitoringOutcome
	ActualProfit *big.Int
	Score        int
	ConfirmedAt  time.Time
}

// Summary aggregates every watch since startup.
type Summary struct {
	Watched     uint64
	Confirmed   uint64
	Failed      uint64
	Unconfirmed uint64
	AvgScore    float64
}

// Monitor polls the ledger for confirmations and scores each execution on a
// 0-10 scale: 4 points for landing, 3 for positive realized profit, 2 for a
// fast confirmation, 1 for staying inside the slippage tolerance.
type Monitor struct {
	cfg        Config
	ledger     Ledger
	visibility VisibilityObserver
	recorder   RouteRecorder
	logger     *zap.Logger
	metrics    *metrics.ExecutionMetrics

	mu         sync.Mutex
	summary    Summary
	scoreTotal int
}

func NewMonitor(cfg Config, ledger Ledger, visibility VisibilityObserver, recorder RouteRecorder, logger *zap.Logger) *Monitor {
	if cfg.ConfirmationRetries <= 0 {
		cfg.ConfirmationRetries = 10
	}
	if cfg.ConfirmationDelay <= 0 {
		cfg.ConfirmationDelay = 2 * time.Second
	}
	if cfg.ConfirmationTimeout <= 0 {
		cfg.ConfirmationTimeout = time.Duration(cfg.ConfirmationRetries) * cfg.ConfirmationDelay
	}
	return &Monitor{
		cfg:        cfg,
		ledger:     ledger,
		visibility: visibility,
		recorder:   recorder,
		logger:     logger,
		metrics:    metrics.Execution(),
	}
}

// Watch polls until the execution confirms, reverts, or the poll budget runs
// out. Unconfirmed is a terminal outcome, not an error; only a broken context
// returns one. A result that never landed a submission skips polling and
// settles as a failure immediately, so the route still records it.
func (m *Monitor) Watch(ctx context.Context, result *types.ExecutionResult) (*Report, error) {
	if !result.Success {
		return m.failed(result), nil
	}

	ctx, cancel := context.WithTimeout(ctx, m.cfg.ConfirmationTimeout)
	defer cancel()

	for attempt := 0; attempt < m.cfg.ConfirmationRetries; attempt++ {
		receipt, err := m.ledger.TransactionReceipt(ctx, result.Signature)
		switch {
		case err == nil && receipt != nil:
			return m.settle(ctx, result, receipt)
		case err != nil && !errors.Is(err, ethereum.NotFound):
			m.logger.Warn("receipt poll failed",
				zap.String("tx", result.Signature.Hex()),
				zap.Int("attempt", attempt+1),
				zap.Error(err))
		}

		timer := time.NewTimer(m.cfg.ConfirmationDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return m.unconfirmed(result), nil
			}
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	return m.unconfirmed(result), nil
}

// Stats returns a snapshot of the rolling monitoring summary.
func (m *Monitor) Stats() Summary {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.summary
	if s.Watched > 0 {
		s.AvgScore = float64(m.scoreTotal) / float64(s.Watched)
	}
	return s
}

func (m *Monitor) settle(ctx context.Context, result *types.ExecutionResult, receipt *ethtypes.Receipt) (*Report, error) {
	confirmedAt := time.Now()
	landed := receipt.Status == ethtypes.ReceiptStatusSuccessful

	report := &Report{
		Result:      result,
		ConfirmedAt: confirmedAt,
	}
	if landed {
		report.Outcome = types.OutcomeConfirmed
	} else {
		report.Outcome = types.OutcomeFailed
	}

	if landed && result.BalanceBefore != nil {
		balanceAfter, err := m.ledger.Balance(ctx)
		if err != nil {
			m.logger.Warn("balance read after confirmation failed", zap.Error(err))
		} else {
			report.ActualProfit = new(big.Int).Sub(balanceAfter, result.BalanceBefore)
			result.ActualProfit = report.ActualProfit
			result.SlippageExperienced = slippageFraction(result.Plan.Opportunity.NetProfit, report.ActualProfit)
		}
	}

	window := confirmedAt.Sub(result.SubmittedAt)
	if landed {
		m.visibility.ObserveVisibility(window)
		m.metrics.Confirmed.Inc()
		m.metrics.ConfirmTime.Observe(window.Seconds())
	} else {
		m.metrics.Failures.Inc()
	}

	report.Score = m.score(result, report, window)
	m.metrics.Score.Observe(float64(report.Score))
	m.record(result, report)

	m.logger.Info("execution settled",
		zap.String("opportunity", result.Plan.Opportunity.ID),
		zap.String("outcome", report.Outcome.String()),
		zap.Int("score", report.Score),
		zap.Duration("window", window))
	return report, nil
}

func (m *Monitor) unconfirmed(result *types.ExecutionResult) *Report {
	result.Err = types.ErrConfirmationTimeout
	report := &Report{
		Result:  result,
		Outcome: types.OutcomeUnconfirmed,
	}
	m.metrics.Unconfirmed.Inc()
	m.record(result, report)
	m.logger.Warn("execution unconfirmed after poll budget",
		zap.String("opportunity", result.Plan.Opportunity.ID),
		zap.String("tx", result.Signature.Hex()))
	return report
}

// failed settles a submission that never made it onto the wire. There is no
// receipt to poll; the executor already counted the failure.
func (m *Monitor) failed(result *types.ExecutionResult) *Report {
	report := &Report{
		Result:  result,
		Outcome: types.OutcomeFailed,
	}
	m.record(result, report)
	m.logger.Warn("failed submission settled",
		zap.String("opportunity", result.Plan.Opportunity.ID),
		zap.String("status", result.Status.String()),
		zap.Error(result.Err))
	return report
}

// score grades the execution out of 10. Unconfirmed executions score zero.
func (m *Monitor) score(result *types.ExecutionResult, report *Report, window time.Duration) int {
	if report.Outcome != types.OutcomeConfirmed {
		return 0
	}
	score := 4
	if report.ActualProfit != nil && report.ActualProfit.Sign() > 0 {
		score += 3
	}
	if window <= m.cfg.ConfirmationTimeout/2 {
		score += 2
	}
	tolerance := float64(result.Plan.SlippageToleranceBps) / 10_000
	if result.SlippageExperienced <= tolerance {
		score++
	}
	return score
}

func (m *Monitor) record(result *types.ExecutionResult, report *Report) {
	m.mu.Lock()
	m.summary.Watched++
	switch report.Outcome {
	case types.OutcomeConfirmed:
		m.summary.Confirmed++
	case types.OutcomeFailed:
		m.summary.Failed++
	default:
		m.summary.Unconfirmed++
	}
	m.scoreTotal += report.Score
	m.mu.Unlock()

	opp := result.Plan.Opportunity
	success := report.Outcome == types.OutcomeConfirmed
	profitBps := 0.0
	if success && report.ActualProfit != nil && opp.Leg1.InputAmount.Sign() > 0 {
		bps := new(big.Float).Quo(
			new(big.Float).SetInt(report.ActualProfit),
			new(big.Float).SetInt(opp.Leg1.InputAmount),
		)
		bps.Mul(bps, big.NewFloat(10_000))
		profitBps, _ = bps.Float64()
	}
	m.recorder.RecordOutcome(opp.RoutePath(), profitBps, success, conditionTag(result))
}

// slippageFraction is how far realized profit fell short of the quoted
// profit, as a fraction of the quote. Never negative.
func slippageFraction(expected, actual *big.Int) float64 {
	if expected == nil || expected.Sign() <= 0 {
		return 0
	}
	shortfall := new(big.Int).Sub(expected, actual)
	if shortfall.Sign() <= 0 {
		return 0
	}
	frac, _ := new(big.Float).Quo(
		new(big.Float).SetInt(shortfall),
		new(big.Float).SetInt(expected),
	).Float64()
	return frac
}

func conditionTag(result *types.ExecutionResult) string {
	if result.Plan.Protected {
		return "protected"
	}
	return "direct"
}
