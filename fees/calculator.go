// Package fees derives a bounded priority fee and bundle tip from network
// congestion and execution urgency.
package fees

import (
	"math/big"

	"go.uber.org/zap"
)

// Config carries the calculator's bounds, injected from configuration.
type Config struct {
	// BaseFee is the fee paid at zero congestion and zero urgency.
	BaseFee *big.Int
	// MaxPriorityFee caps the computed fee.
	MaxPriorityFee *big.Int
	// MinBundleTip floors the tip whenever protected execution is chosen.
	MinBundleTip *big.Int
	// CongestionMultiplier scales the congestion-linear term.
	CongestionMultiplier float64
	// TipRatio sets the tip as a fraction of the priority fee.
	TipRatio float64
}

// Fee is one computed fee/tip pair.
type Fee struct {
	PriorityFee *big.Int
	BundleTip   *big.Int
}

// Calculator computes fees monotone in congestion: a higher congestion
// score never yields a lower fee.
type Calculator struct {
	cfg    Config
	logger *zap.Logger
}

// NewCalculator creates a fee calculator.
func NewCalculator(cfg Config, logger *zap.Logger) *Calculator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.CongestionMultiplier <= 0 {
		cfg.CongestionMultiplier = 2.0
	}
	if cfg.TipRatio <= 0 {
		cfg.TipRatio = 0.5
	}
	return &Calculator{cfg: cfg, logger: logger}
}

// ComputeFee derives the fee pair for the given congestion score in [0, 1]
// and urgency in [0, 1]. The priority fee is clamped to
// [0, MaxPriorityFee]; the tip never falls below MinBundleTip.
func (c *Calculator) ComputeFee(congestionScore, urgency float64) Fee {
	congestionScore = clamp01(congestionScore)
	urgency = clamp01(urgency)

	// base * (1 + congestion*multiplier) * (1 + urgency), then clamp.
	scale := (1 + congestionScore*c.cfg.CongestionMultiplier) * (1 + urgency)

	fee := new(big.Float).SetInt(c.cfg.BaseFee)
	fee.Mul(fee, big.NewFloat(scale))
	priorityFee, _ := fee.Int(nil)

	if priorityFee.Sign() < 0 {
		priorityFee = big.NewInt(0)
	}
	if priorityFee.Cmp(c.cfg.MaxPriorityFee) > 0 {
		priorityFee = new(big.Int).Set(c.cfg.MaxPriorityFee)
	}

	tipF := new(big.Float).SetInt(priorityFee)
	tipF.Mul(tipF, big.NewFloat(c.cfg.TipRatio))
	tip, _ := tipF.Int(nil)
	if tip.Cmp(c.cfg.MinBundleTip) < 0 {
		tip = new(big.Int).Set(c.cfg.MinBundleTip)
	}

	c.logger.Debug("fee computed",
		zap.Float64("congestion", congestionScore),
		zap.Float64("urgency", urgency),
		zap.String("priority_fee", priorityFee.String()),
		zap.String("bundle_tip", tip.String()))

	return Fee{PriorityFee: priorityFee, BundleTip: tip}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
