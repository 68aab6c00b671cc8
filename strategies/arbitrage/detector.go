// Package arbitrage detects short-lived two-leg cycle opportunities from
// live quotes.
package arbitrage

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/juant72/sniperforge-sub012/types"
	"github.com/juant72/sniperforge-sub012/utils/metrics"
)

// Tier thresholds on the profit-to-fee multiple.
const (
	highTierMultiple   = 5.0
	mediumTierMultiple = 3.0
	lowTierMultiple    = 1.5
)

// QuoteProvider is the gateway the detector fetches legs through.
type QuoteProvider interface {
	GetQuote(ctx context.Context, inputAsset, outputAsset common.Address,
		amount *big.Int, slippageBps uint16) (*types.QuoteResult, error)
}

// Config carries the detector's thresholds, injected from configuration.
type Config struct {
	FeeAsset     common.Address
	FixedFeeCost *big.Int
	SlippageBps  uint16
	TTL          time.Duration
}

// Detector evaluates asset cycles and turns positive-profit ones into
// Opportunities. Net profit is always leg2 output minus leg1 input; it is
// measured, never estimated.
type Detector struct {
	quotes  QuoteProvider
	cfg     Config
	logger  *zap.Logger
	metrics *metrics.DetectorMetrics
	seq     atomic.Uint64 // owned opportunity counter, no global state
}

// NewDetector creates a new cycle detector.
func NewDetector(quotes QuoteProvider, cfg Config, logger *zap.Logger) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{
		quotes:  quotes,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics.Detector(),
	}
}

// Evaluate runs the cycle assetA -> assetB -> assetA at the given size.
// Unprofitable or unquotable cycles return types.ErrInsufficientProfit or
// types.ErrQuoteUnavailable, both of which the caller discards silently.
func (d *Detector) Evaluate(ctx context.Context, assetA, assetB common.Address,
	amount *big.Int) (*types.Opportunity, error) {

	d.metrics.Evaluations.Inc()

	leg1, err := d.quotes.GetQuote(ctx, assetA, assetB, amount, d.cfg.SlippageBps)
	if err != nil {
		return nil, err
	}
	if leg1.OutputAmount.Sign() == 0 {
		return nil, fmt.Errorf("%w: zero output on first leg", types.ErrQuoteUnavailable)
	}

	leg2, err := d.quotes.GetQuote(ctx, assetB, assetA, leg1.OutputAmount, d.cfg.SlippageBps)
	if err != nil {
		return nil, err
	}

	// Exact integer arithmetic; the invariant the whole pipeline leans on.
	netProfit := new(big.Int).Sub(leg2.OutputAmount, leg1.InputAmount)
	if netProfit.Sign() <= 0 {
		d.metrics.Unprofitable.Inc()
		d.logger.Debug("cycle not profitable",
			zap.String("pair", pairLabel(assetA, assetB)),
			zap.String("net_profit", netProfit.String()))
		return nil, types.ErrInsufficientProfit
	}

	feeProfit, err := d.profitInFeeAsset(ctx, assetA, netProfit)
	if err != nil {
		return nil, err
	}

	multiple := feeMultiple(feeProfit, d.cfg.FixedFeeCost)
	tier := classify(multiple)

	now := time.Now()
	opp := &types.Opportunity{
		ID:                  d.nextID(assetA, assetB),
		Leg1:                leg1,
		Leg2:                leg2,
		NetProfit:           netProfit,
		ProfitToFeeMultiple: multiple,
		PriorityTier:        tier,
		DetectedAt:          now,
		ExpiresAt:           now.Add(d.cfg.TTL),
	}

	d.metrics.Opportunities.Inc()
	d.metrics.FeeMultiple.Observe(multiple)
	if amount.Sign() > 0 {
		bps, _ := new(big.Float).Quo(
			new(big.Float).SetInt(netProfit),
			new(big.Float).SetInt(amount),
		).Float64()
		d.metrics.ProfitBps.Observe(bps * 10_000)
	}

	d.logger.Info("opportunity detected",
		zap.String("id", opp.ID),
		zap.String("pair", pairLabel(assetA, assetB)),
		zap.String("net_profit", netProfit.String()),
		zap.Float64("fee_multiple", multiple),
		zap.String("tier", tier.String()))

	return opp, nil
}

// profitInFeeAsset converts profit to the fee-denominating asset through a
// live conversion quote. No hardcoded exchange rates: a failed conversion
// is a failed opportunity.
func (d *Detector) profitInFeeAsset(ctx context.Context, asset common.Address,
	profit *big.Int) (*big.Int, error) {

	if asset == d.cfg.FeeAsset {
		return profit, nil
	}
	conv, err := d.quotes.GetQuote(ctx, asset, d.cfg.FeeAsset, profit, d.cfg.SlippageBps)
	if err != nil {
		if errors.Is(err, types.ErrQuoteUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: profit conversion failed: %v", types.ErrQuoteUnavailable, err)
	}
	return conv.OutputAmount, nil
}

func (d *Detector) nextID(assetA, assetB common.Address) string {
	return fmt.Sprintf("%s-%d", pairLabel(assetA, assetB), d.seq.Add(1))
}

// feeMultiple divides two integer amounts into a float ratio.
func feeMultiple(profit, feeCost *big.Int) float64 {
	if feeCost.Sign() <= 0 {
		return 0
	}
	ratio, _ := new(big.Float).Quo(
		new(big.Float).SetInt(profit),
		new(big.Float).SetInt(feeCost),
	).Float64()
	return ratio
}

func classify(multiple float64) types.PriorityTier {
	switch {
	case multiple >= highTierMultiple:
		return types.TierHigh
	case multiple >= mediumTierMultiple:
		return types.TierMedium
	case multiple >= lowTierMultiple:
		return types.TierLow
	default:
		return types.TierMonitorOnly
	}
}

func pairLabel(a, b common.Address) string {
	return a.Hex()[:10] + "/" + b.Hex()[:10]
}
