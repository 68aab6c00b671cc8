// Package execution turns an assessed opportunity into a submitted
// transaction, protected or direct, with tip escalation on relay pushback.
package execution

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/juant72/sniperforge-sub012/fees"
	"github.com/juant72/sniperforge-sub012/flashbots"
	"github.com/juant72/sniperforge-sub012/types"
	"github.com/juant72/sniperforge-sub012/utils/metrics"
)

// Relay submits bundles to a private builder endpoint.
type Relay interface {
	SendBundle(ctx context.Context, bundle *flashbots.Bundle) (*flashbots.SubmissionResult, error)
}

// Sender broadcasts a raw transaction on the public path.
type Sender interface {
	SendRawTransaction(ctx context.Context, raw []byte) (common.Hash, error)
}

// Ledger reads chain state the executor needs before and during submission.
type Ledger interface {
	BlockNumber(ctx context.Context) (uint64, error)
	Balance(ctx context.Context) (*big.Int, error)
}

// TxBuilder assembles the signed cycle transaction for a plan.
type TxBuilder interface {
	BuildCycleTx(ctx context.Context, plan *types.ExecutionPlan) ([]byte, error)
}

// FeeSource computes the priority fee and tip for current conditions.
type FeeSource interface {
	ComputeFee(congestion, urgency float64) fees.Fee
}

// Config carries the executor's submission policy.
type Config struct {
	MaxBundleRetries         int
	TipEscalationStep        *big.Int
	SandwichProtectThreshold float64
	BaseSlippageBps          uint16
	EscalatedSlippageBps     uint16
	CongestionDelay          time.Duration
}

// Stats counts submission outcomes since startup.
type Stats struct {
	Planned   uint64
	Aborted   uint64
	Submitted uint64
	Accepted  uint64
	Rejected  uint64
	Failed    uint64
}

// Executor drives a plan through submission exactly once. A second call for
// the same opportunity while the first is still running is refused.
type Executor struct {
	cfg     Config
	feeSrc  FeeSource
	relay   Relay
	sender  Sender
	ledger  Ledger
	builder TxBuilder
	logger  *zap.Logger

	metrics *metrics.ExecutionMetrics

	mu       sync.Mutex
	inFlight map[string]struct{}
	stats    Stats
}

func NewExecutor(cfg Config, feeSrc FeeSource, relay Relay, sender Sender, ledger Ledger, builder TxBuilder, logger *zap.Logger) *Executor {
	if cfg.MaxBundleRetries <= 0 {
		cfg.MaxBundleRetries = 3
	}
	if cfg.TipEscalationStep == nil {
		cfg.TipEscalationStep = big.NewInt(0)
	}
	if cfg.CongestionDelay <= 0 {
		cfg.CongestionDelay = 2 * time.Second
	}
	return &Executor{
		cfg:      cfg,
		feeSrc:   feeSrc,
		relay:    relay,
		sender:   sender,
		ledger:   ledger,
		builder:  builder,
		logger:   logger,
		metrics:  metrics.Execution(),
		inFlight: make(map[string]struct{}),
	}
}

// Plan binds an opportunity and its risk assessment to concrete fees and a
// submission path. The plan inherits the opportunity's expiry as deadline.
func (e *Executor) Plan(opp *types.Opportunity, risk *types.RiskAssessment) *types.ExecutionPlan {
	fee := e.feeSrc.ComputeFee(risk.CongestionScore, tierUrgency(opp.PriorityTier))

	slippage := e.cfg.BaseSlippageBps
	if risk.RecommendedAction == types.ActionIncreaseSlippage {
		slippage = e.cfg.EscalatedSlippageBps
	}

	protected := risk.RiskLevel >= types.RiskMedium ||
		risk.SandwichProbability >= e.cfg.SandwichProtectThreshold

	return &types.ExecutionPlan{
		Opportunity:          opp,
		PriorityFee:          fee.PriorityFee,
		BundleTip:            fee.BundleTip,
		SlippageToleranceBps: slippage,
		Deadline:             opp.ExpiresAt,
		Protected:            protected,
	}
}

// Execute runs the full state machine for one opportunity. An abort verdict
// is a terminal local decision: the result records it and no error is
// returned. Expiry before submission surfaces as types.ErrQuoteStale.
func (e *Executor) Execute(ctx context.Context, opp *types.Opportunity, risk *types.RiskAssessment) (*types.ExecutionResult, error) {
	if err := e.acquire(opp.ID); err != nil {
		return nil, err
	}
	defer e.release(opp.ID)

	e.mu.Lock()
	e.stats.Planned++
	e.mu.Unlock()

	if risk.RecommendedAction == types.ActionAbort {
		e.mu.Lock()
		e.stats.Aborted++
		e.mu.Unlock()
		e.metrics.RiskAborts.Inc()
		e.logger.Warn("execution aborted by risk assessment",
			zap.String("opportunity", opp.ID),
			zap.String("risk", risk.RiskLevel.String()))
		return &types.ExecutionResult{
			Plan:        e.Plan(opp, risk),
			Success:     false,
			Status:      types.BundlePending,
			Err:         types.ErrRiskAborted,
			SubmittedAt: time.Time{},
		}, nil
	}

	if risk.RecommendedAction == types.ActionDelayExecution {
		if err := e.wait(ctx, e.cfg.CongestionDelay); err != nil {
			return nil, err
		}
	}

	if opp.Expired(time.Now()) {
		e.metrics.Expired.Inc()
		return nil, fmt.Errorf("%w: opportunity %s", types.ErrQuoteStale, opp.ID)
	}

	plan := e.Plan(opp, risk)

	balanceBefore, err := e.ledger.Balance(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: balance read: %v", types.ErrLedgerRPC, err)
	}

	raw, err := e.builder.BuildCycleTx(ctx, plan)
	if err != nil {
		return nil, fmt.Errorf("failed to build cycle tx: %w", err)
	}

	start := time.Now()
	var result *types.ExecutionResult
	if plan.Protected {
		result, err = e.submitProtected(ctx, plan, raw)
	} else {
		result, err = e.submitDirect(ctx, plan, raw)
	}
	if result != nil {
		result.BalanceBefore = balanceBefore
		result.ExecutionTime = time.Since(start)
	}
	return result, err
}

// Stats returns a snapshot of submission counters.
func (e *Executor) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// submitProtected sends the bundle through the relay, re-submitting with an
// escalated tip on rejection or timeout until retries run out.
func (e *Executor) submitProtected(ctx context.Context, plan *types.ExecutionPlan, raw []byte) (*types.ExecutionResult, error) {
	block, err := e.ledger.BlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: block number: %v", types.ErrLedgerRPC, err)
	}
	target := new(big.Int).SetUint64(block + 1)

	tip := new(big.Int).Set(plan.BundleTip)
	var lastErr error
	for attempt := 0; attempt < e.cfg.MaxBundleRetries; attempt++ {
		if plan.Opportunity.Expired(time.Now()) {
			e.metrics.Expired.Inc()
			return nil, fmt.Errorf("%w: expired during retries", types.ErrQuoteStale)
		}

		submission, err := e.relay.SendBundle(ctx, &flashbots.Bundle{
			Txs:         [][]byte{raw},
			BlockNumber: target,
			Tip:         new(big.Int).Set(tip),
		})
		if err == nil {
			e.mu.Lock()
			e.stats.Submitted++
			if submission.Status == types.BundleAccepted {
				e.stats.Accepted++
			}
			e.mu.Unlock()
			e.metrics.Submissions.Inc()
			e.metrics.Protected.Inc()
			tipPaid, _ := new(big.Float).SetInt(tip).Float64()
			e.metrics.TipPaid.Observe(tipPaid)
			e.logger.Info("bundle submitted",
				zap.String("opportunity", plan.Opportunity.ID),
				zap.String("bundle", submission.BundleID),
				zap.String("tip", tip.String()),
				zap.Int("attempt", attempt+1))
			return &types.ExecutionResult{
				Plan:        plan,
				Success:     true,
				Status:      submission.Status,
				Signature:   crypto.Keccak256Hash(raw),
				SubmittedAt: submission.SubmittedAt,
			}, nil
		}

		lastErr = err
		e.mu.Lock()
		e.stats.Rejected++
		e.mu.Unlock()
		e.metrics.BundleRetries.Inc()
		e.logger.Warn("bundle submission failed, escalating tip",
			zap.String("opportunity", plan.Opportunity.ID),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
		tip.Add(tip, e.cfg.TipEscalationStep)
	}

	e.mu.Lock()
	e.stats.Failed++
	e.mu.Unlock()
	e.metrics.Failures.Inc()
	failure := fmt.Errorf("bundle retries exhausted: %w", lastErr)
	return &types.ExecutionResult{
		Plan:        plan,
		Success:     false,
		Status:      types.BundleFailed,
		Err:         failure,
		SubmittedAt: time.Now(),
	}, failure
}

// submitDirect broadcasts on the public path. Used only when the assessment
// saw no meaningful adversarial exposure.
func (e *Executor) submitDirect(ctx context.Context, plan *types.ExecutionPlan, raw []byte) (*types.ExecutionResult, error) {
	hash, err := e.sender.SendRawTransaction(ctx, raw)
	if err != nil {
		e.mu.Lock()
		e.stats.Failed++
		e.mu.Unlock()
		e.metrics.Failures.Inc()
		failure := fmt.Errorf("%w: direct send: %v", types.ErrSubmissionTimeout, err)
		return &types.ExecutionResult{
			Plan:        plan,
			Success:     false,
			Status:      types.BundleFailed,
			Err:         failure,
			SubmittedAt: time.Now(),
		}, failure
	}

	e.mu.Lock()
	e.stats.Submitted++
	e.mu.Unlock()
	e.metrics.Submissions.Inc()
	e.metrics.Direct.Inc()
	e.logger.Info("transaction broadcast",
		zap.String("opportunity", plan.Opportunity.ID),
		zap.String("hash", hash.Hex()))
	return &types.ExecutionResult{
		Plan:        plan,
		Success:     true,
		Status:      types.BundleSubmitted,
		Signature:   hash,
		SubmittedAt: time.Now(),
	}, nil
}

func (e *Executor) acquire(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, busy := e.inFlight[id]; busy {
		return fmt.Errorf("%w: %s", types.ErrExecutionInFlight, id)
	}
	e.inFlight[id] = struct{}{}
	return nil
}

func (e *Executor) release(id string) {
	e.mu.Lock()
	delete(e.inFlight, id)
	e.mu.Unlock()
}

func (e *Executor) wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func tierUrgency(tier types.PriorityTier) float64 {
	switch tier {
	case types.TierHigh:
		return 1.0
	case types.TierMedium:
		return 0.6
	case types.TierLow:
		return 0.3
	default:
		return 0.0
	}
}
