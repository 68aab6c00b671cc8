// Package router makes the final go/no-go call for a cycle, blending each
// route's historical performance with the live opportunity and its risk
// assessment. Returning no decision is the common case, not a failure.
package router

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/juant72/sniperforge-sub012/config"
	"github.com/juant72/sniperforge-sub012/types"
)

// SentimentProvider supplies a market regime signal in [-1, 1]. The default
// implementation is deterministic and neutral; a real model can be swapped
// in without touching the scoring path.
type SentimentProvider interface {
	MarketSentiment(ctx context.Context) (float64, error)
}

// NeutralSentiment always reports a flat market.
type NeutralSentiment struct{}

func (NeutralSentiment) MarketSentiment(context.Context) (float64, error) { return 0, nil }

// LiveSignal pairs a detected opportunity with its fresh risk assessment.
type LiveSignal struct {
	Opportunity *types.Opportunity
	Risk        *types.RiskAssessment
}

// Router scores candidate routes and returns at most one decision per call.
type Router struct {
	cfg       config.RouterConfig
	store     *Store
	sentiment SentimentProvider
	logger    *zap.Logger

	mu   sync.Mutex
	last *types.RoutingDecision
}

func NewRouter(cfg config.RouterConfig, store *Store, sentiment SentimentProvider, logger *zap.Logger) *Router {
	if sentiment == nil {
		sentiment = NeutralSentiment{}
	}
	return &Router{
		cfg:       cfg,
		store:     store,
		sentiment: sentiment,
		logger:    logger,
	}
}

// SelectRoute picks the highest-scoring admissible live signal, or nil when
// nothing clears the profit floor. A signal whose assessment recommends
// delay or abort, or whose risk is critical, is never admissible: profit
// alone does not override the analyzer.
func (r *Router) SelectRoute(ctx context.Context, availableCapital *big.Int, riskTolerance, executionUrgency float64, live []LiveSignal) (*types.RoutingDecision, error) {
	sentiment, err := r.sentiment.MarketSentiment(ctx)
	if err != nil {
		r.logger.Warn("sentiment provider failed, using neutral", zap.Error(err))
		sentiment = 0
	}

	urgency := clamp01(executionUrgency)
	tolerance := clamp01(riskTolerance)
	now := time.Now()

	var best *types.RoutingDecision
	for _, signal := range live {
		if !admissible(signal, availableCapital, r.cfg.EvaluationWindow, now) {
			continue
		}

		path := signal.Opportunity.RoutePath()
		id := RouteID(path)
		prior, hasPrior := r.store.Get(id)

		liveProfitBps := profitBps(signal.Opportunity)
		score := r.score(prior, hasPrior, liveProfitBps, signal.Risk, sentiment, urgency, tolerance)

		if liveProfitBps < r.cfg.MinProfitFloor {
			continue
		}
		if best != nil && score <= best.Score {
			continue
		}

		selected := prior
		if !hasPrior {
			selected = types.RouteStats{RouteID: id, Path: path}
		}
		window := uint32(0)
		if remaining := signal.Opportunity.ExpiresAt.Sub(now); remaining > 0 {
			window = uint32(remaining / time.Second)
		}
		best = &types.RoutingDecision{
			SelectedRoute:          &selected,
			Opportunity:            signal.Opportunity,
			Reason:                 decisionReason(hasPrior, signal.Risk),
			RiskAssessment:         signal.Risk,
			ProfitEstimate:         new(big.Int).Set(signal.Opportunity.NetProfit),
			ExecutionWindowSeconds: window,
			Score:                  score,
			DecidedAt:              now,
		}
	}

	if best == nil {
		return nil, nil
	}

	r.mu.Lock()
	r.last = best
	r.mu.Unlock()

	r.logger.Info("route selected",
		zap.String("route", best.SelectedRoute.RouteID),
		zap.String("opportunity", best.Opportunity.ID),
		zap.Float64("score", best.Score),
		zap.String("reason", best.Reason))
	return best, nil
}

// LastDecision returns the most recent non-nil decision, if any.
func (r *Router) LastDecision() *types.RoutingDecision {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

// score blends the strategic prior with the live estimate. Urgency moves
// weight from the prior to the live signal; tolerance shrinks the risk
// penalty without ever zeroing it.
func (r *Router) score(prior types.RouteStats, hasPrior bool, liveProfitBps float64, risk *types.RiskAssessment, sentiment, urgency, tolerance float64) float64 {
	w1 := r.cfg.StrategicWeight * (1 - 0.5*urgency)
	w2 := r.cfg.LiveWeight * (0.5 + 0.5*urgency)
	w3 := r.cfg.RiskWeight * (1 - 0.8*tolerance)

	strategic := 0.0
	if hasPrior && prior.SampleCount > 0 {
		strategic = prior.AvgProfitBps * prior.SuccessRate
	}

	execProb := (1 - risk.SandwichProbability) * (1 - 0.5*risk.CongestionScore)
	liveComponent := liveProfitBps * execProb * (1 + 0.2*sentiment)

	return w1*strategic + w2*liveComponent - w3*riskPenalty(risk.RiskLevel)
}

func admissible(signal LiveSignal, capital *big.Int, window time.Duration, now time.Time) bool {
	opp, risk := signal.Opportunity, signal.Risk
	if opp == nil || risk == nil {
		return false
	}
	if opp.Expired(now) {
		return false
	}
	if !opp.PriorityTier.Executable() {
		return false
	}
	if risk.RecommendedAction == types.ActionDelayExecution ||
		risk.RecommendedAction == types.ActionAbort ||
		risk.RiskLevel == types.RiskCritical {
		return false
	}
	if now.Sub(risk.AssessedAt) > window {
		return false
	}
	if capital != nil && opp.Leg1.InputAmount.Cmp(capital) > 0 {
		return false
	}
	return true
}

func riskPenalty(level types.RiskLevel) float64 {
	switch level {
	case types.RiskLow:
		return 0
	case types.RiskMedium:
		return 1
	default:
		return 3
	}
}

func decisionReason(hasPrior bool, risk *types.RiskAssessment) string {
	basis := "live signal only, no route prior"
	if hasPrior {
		basis = "strategic prior blended with live signal"
	}
	return fmt.Sprintf("%s; risk %s, action %s", basis, risk.RiskLevel, risk.RecommendedAction)
}

func profitBps(opp *types.Opportunity) float64 {
	if opp.Leg1.InputAmount.Sign() <= 0 {
		return 0
	}
	bps := new(big.Float).Quo(
		new(big.Float).SetInt(opp.NetProfit),
		new(big.Float).SetInt(opp.Leg1.InputAmount),
	)
	bps.Mul(bps, big.NewFloat(10_000))
	out, _ := bps.Float64()
	return out
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
