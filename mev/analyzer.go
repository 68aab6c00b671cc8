// Package mev scores network congestion and adversarial exposure for a
// detected opportunity and recommends an action. The assessment is
// advisory input to the router, not a hard gate by itself.
package mev

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"

	"github.com/juant72/sniperforge-sub012/types"
)

const (
	pairHistorySize    = 512
	congestionCacheTTL = 10 * time.Second
	throughputSamples  = 5
)

// ThroughputSample is one observation of recent network load.
type ThroughputSample struct {
	TxCount  uint64
	Interval time.Duration
}

// ThroughputSampler supplies recent network throughput observations.
type ThroughputSampler interface {
	RecentSamples(ctx context.Context, n int) ([]ThroughputSample, error)
}

// Config carries the analyzer's thresholds, injected from configuration.
type Config struct {
	// CongestionHighWater is the critical congestion score above which
	// execution should be delayed.
	CongestionHighWater float64
	// SandwichAbortThreshold is the sandwich probability above which the
	// recommendation is Abort.
	SandwichAbortThreshold float64
	// TargetThroughput normalizes observed tx/s into [0, 1].
	TargetThroughput float64
	// TargetInterval is the healthy block interval; longer means congestion.
	TargetInterval time.Duration
	// PriceImpactCaution marks an opportunity as large relative to pool
	// depth when either leg's price impact exceeds it (percent).
	PriceImpactCaution float64
}

// Analyzer produces a fresh RiskAssessment per opportunity. Congestion
// samples are cached briefly; assessments themselves never are.
type Analyzer struct {
	sampler ThroughputSampler
	cfg     Config
	logger  *zap.Logger

	mu               sync.Mutex
	cachedCongestion float64
	congestionAt     time.Time
	visibilityAvg    time.Duration
	visibilityCount  uint64

	pairHistory *lru.Cache // pair key -> int (prior elevated-risk sightings)
}

// NewAnalyzer creates a risk analyzer over the given throughput source.
func NewAnalyzer(sampler ThroughputSampler, cfg Config, logger *zap.Logger) (*Analyzer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TargetThroughput <= 0 {
		cfg.TargetThroughput = 3000
	}
	if cfg.TargetInterval <= 0 {
		cfg.TargetInterval = 400 * time.Millisecond
	}
	if cfg.PriceImpactCaution <= 0 {
		cfg.PriceImpactCaution = 1.0
	}
	history, err := lru.New(pairHistorySize)
	if err != nil {
		return nil, fmt.Errorf("failed to create pair history: %w", err)
	}
	return &Analyzer{
		sampler:     sampler,
		cfg:         cfg,
		logger:      logger,
		pairHistory: history,
	}, nil
}

// ObserveVisibility feeds one measured submission-to-confirmation window
// into the rolling average used for sandwich exposure.
func (a *Analyzer) ObserveVisibility(window time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.visibilityCount++
	if a.visibilityCount == 1 {
		a.visibilityAvg = window
		return
	}
	prev := a.visibilityAvg
	a.visibilityAvg = prev + (window-prev)/time.Duration(a.visibilityCount)
}

// Assess scores one opportunity. The result is never cached across cycles.
func (a *Analyzer) Assess(ctx context.Context, opp *types.Opportunity) (*types.RiskAssessment, error) {
	congestion, err := a.congestionScore(ctx)
	if err != nil {
		return nil, err
	}

	sandwich := a.sandwichProbability(opp)
	level, action := a.decide(congestion, sandwich, opp)

	if level >= types.RiskMedium {
		a.recordSighting(opp)
	}

	assessment := &types.RiskAssessment{
		RiskLevel:           level,
		RecommendedAction:   action,
		CongestionScore:     congestion,
		SandwichProbability: sandwich,
		AssessedAt:          time.Now(),
	}

	a.logger.Debug("risk assessed",
		zap.String("opportunity", opp.ID),
		zap.String("risk", level.String()),
		zap.String("action", action.String()),
		zap.Float64("congestion", congestion),
		zap.Float64("sandwich_probability", sandwich))

	return assessment, nil
}

// decide applies the decision table.
func (a *Analyzer) decide(congestion, sandwich float64, opp *types.Opportunity) (types.RiskLevel, types.RecommendedAction) {
	switch {
	case sandwich >= a.cfg.SandwichAbortThreshold:
		return types.RiskCritical, types.ActionAbort
	case congestion >= a.cfg.CongestionHighWater:
		return types.RiskHigh, types.ActionDelayExecution
	case a.largeAgainstPool(opp):
		return types.RiskMedium, types.ActionIncreaseSlippage
	case congestion >= a.cfg.CongestionHighWater/2:
		return types.RiskMedium, types.ActionIncreaseSlippage
	default:
		return types.RiskLow, types.ActionProceed
	}
}

// largeAgainstPool reports whether either leg moves enough of the pool to
// leave a visible footprint.
func (a *Analyzer) largeAgainstPool(opp *types.Opportunity) bool {
	return opp.Leg1.PriceImpactPct > a.cfg.PriceImpactCaution ||
		opp.Leg2.PriceImpactPct > a.cfg.PriceImpactCaution
}

// congestionScore blends normalized throughput and block interval into
// [0, 1]. Samples are cached for a short window to spare the RPC.
func (a *Analyzer) congestionScore(ctx context.Context) (float64, error) {
	a.mu.Lock()
	if time.Since(a.congestionAt) < congestionCacheTTL && a.congestionAt.Unix() > 0 {
		score := a.cachedCongestion
		a.mu.Unlock()
		return score, nil
	}
	a.mu.Unlock()

	samples, err := a.sampler.RecentSamples(ctx, throughputSamples)
	if err != nil {
		return 0, fmt.Errorf("%w: throughput samples: %v", types.ErrLedgerRPC, err)
	}
	if len(samples) == 0 {
		return 0, fmt.Errorf("%w: no throughput samples", types.ErrLedgerRPC)
	}

	var tps float64
	var interval time.Duration
	for _, s := range samples {
		if s.Interval > 0 {
			tps += float64(s.TxCount) / s.Interval.Seconds()
		}
		interval += s.Interval
	}
	tps /= float64(len(samples))
	interval /= time.Duration(len(samples))

	normTPS := clamp01(tps / a.cfg.TargetThroughput)
	normInterval := clamp01(float64(interval-a.cfg.TargetInterval) / float64(a.cfg.TargetInterval))

	score := clamp01(normTPS*0.6 + normInterval*0.4)

	a.mu.Lock()
	a.cachedCongestion = score
	a.congestionAt = time.Now()
	a.mu.Unlock()

	return score, nil
}

// sandwichProbability derives exposure from the expected visibility window,
// the opportunity's pool footprint, and prior pattern matches on the pair.
func (a *Analyzer) sandwichProbability(opp *types.Opportunity) float64 {
	a.mu.Lock()
	visibility := a.visibilityAvg
	a.mu.Unlock()

	// A transaction visible for longer than two target intervals is easy
	// prey; normalize against a 10x window.
	visNorm := clamp01(float64(visibility-2*a.cfg.TargetInterval) / float64(10*a.cfg.TargetInterval))

	impact := opp.Leg1.PriceImpactPct
	if opp.Leg2.PriceImpactPct > impact {
		impact = opp.Leg2.PriceImpactPct
	}
	impactNorm := clamp01(impact / (2 * a.cfg.PriceImpactCaution))

	historyNorm := clamp01(float64(a.sightings(opp)) / 5)

	return clamp01(0.3*visNorm + 0.5*impactNorm + 0.2*historyNorm)
}

func (a *Analyzer) sightings(opp *types.Opportunity) int {
	in, out := opp.Pair()
	if v, ok := a.pairHistory.Get(pairKey(in, out)); ok {
		if n, ok := v.(int); ok {
			return n
		}
	}
	return 0
}

func (a *Analyzer) recordSighting(opp *types.Opportunity) {
	in, out := opp.Pair()
	key := pairKey(in, out)
	n := 0
	if v, ok := a.pairHistory.Get(key); ok {
		if prev, ok := v.(int); ok {
			n = prev
		}
	}
	a.pairHistory.Add(key, n+1)
}

func pairKey(a, b common.Address) string {
	return a.Hex() + "/" + b.Hex()
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
