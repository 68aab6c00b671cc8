package mev

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/juant72/sniperforge-sub012/types"
)

type stubSampler struct {
	samples []ThroughputSample
	err     error
}

func (s *stubSampler) RecentSamples(context.Context, int) ([]ThroughputSample, error) {
	return s.samples, s.err
}

func quietSamples() []ThroughputSample {
	return []ThroughputSample{
		{TxCount: 100, Interval: 400 * time.Millisecond},
		{TxCount: 120, Interval: 400 * time.Millisecond},
	}
}

func busySamples() []ThroughputSample {
	return []ThroughputSample{
		{TxCount: 4000, Interval: time.Second},
		{TxCount: 4200, Interval: 1200 * time.Millisecond},
	}
}

func testOpportunity(impact1, impact2 float64) *types.Opportunity {
	return &types.Opportunity{
		ID: "test-1",
		Leg1: &types.QuoteResult{
			InputAsset:     common.HexToAddress("0x01"),
			OutputAsset:    common.HexToAddress("0x02"),
			InputAmount:    big.NewInt(5_000_000),
			OutputAmount:   big.NewInt(498_000_000),
			PriceImpactPct: impact1,
		},
		Leg2: &types.QuoteResult{
			InputAsset:     common.HexToAddress("0x02"),
			OutputAsset:    common.HexToAddress("0x01"),
			InputAmount:    big.NewInt(498_000_000),
			OutputAmount:   big.NewInt(5_009_000),
			PriceImpactPct: impact2,
		},
		NetProfit:    big.NewInt(9_000),
		PriorityTier: types.TierHigh,
	}
}

func newAnalyzer(t *testing.T, sampler ThroughputSampler) *Analyzer {
	t.Helper()
	analyzer, err := NewAnalyzer(sampler, Config{
		CongestionHighWater:    0.7,
		SandwichAbortThreshold: 0.8,
		TargetThroughput:       3000,
		TargetInterval:         400 * time.Millisecond,
		PriceImpactCaution:     1.0,
	}, nil)
	require.NoError(t, err)
	return analyzer
}

func TestAssessLowRiskProceeds(t *testing.T) {
	analyzer := newAnalyzer(t, &stubSampler{samples: quietSamples()})

	assessment, err := analyzer.Assess(context.Background(), testOpportunity(0.1, 0.1))
	require.NoError(t, err)

	assert.Equal(t, types.RiskLow, assessment.RiskLevel)
	assert.Equal(t, types.ActionProceed, assessment.RecommendedAction)
	assert.Less(t, assessment.CongestionScore, 0.35)
}

func TestAssessCriticalCongestionDelays(t *testing.T) {
	analyzer := newAnalyzer(t, &stubSampler{samples: busySamples()})

	assessment, err := analyzer.Assess(context.Background(), testOpportunity(0.1, 0.1))
	require.NoError(t, err)

	assert.GreaterOrEqual(t, assessment.CongestionScore, 0.7)
	assert.Equal(t, types.RiskHigh, assessment.RiskLevel)
	assert.Equal(t, types.ActionDelayExecution, assessment.RecommendedAction)
}

func TestAssessLargeFootprintIncreasesSlippage(t *testing.T) {
	analyzer := newAnalyzer(t, &stubSampler{samples: quietSamples()})

	assessment, err := analyzer.Assess(context.Background(), testOpportunity(2.5, 0.1))
	require.NoError(t, err)

	assert.Equal(t, types.RiskMedium, assessment.RiskLevel)
	assert.Equal(t, types.ActionIncreaseSlippage, assessment.RecommendedAction)
}

func TestAssessSandwichAbort(t *testing.T) {
	analyzer := newAnalyzer(t, &stubSampler{samples: quietSamples()})

	// Long visibility window plus heavy footprint plus repeated sightings
	// pushes the probability over the abort threshold.
	analyzer.ObserveVisibility(10 * time.Second)
	opp := testOpportunity(5.0, 4.0)
	for i := 0; i < 6; i++ {
		analyzer.recordSighting(opp)
	}

	assessment, err := analyzer.Assess(context.Background(), opp)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, assessment.SandwichProbability, 0.8)
	assert.Equal(t, types.RiskCritical, assessment.RiskLevel)
	assert.Equal(t, types.ActionAbort, assessment.RecommendedAction)
}

func TestAssessSamplerFailureIsLedgerError(t *testing.T) {
	analyzer := newAnalyzer(t, &stubSampler{err: assert.AnError})

	_, err := analyzer.Assess(context.Background(), testOpportunity(0.1, 0.1))
	assert.ErrorIs(t, err, types.ErrLedgerRPC)
}

func TestAssessmentsAreFreshPerOpportunity(t *testing.T) {
	analyzer := newAnalyzer(t, &stubSampler{samples: quietSamples()})

	first, err := analyzer.Assess(context.Background(), testOpportunity(0.1, 0.1))
	require.NoError(t, err)
	second, err := analyzer.Assess(context.Background(), testOpportunity(0.1, 0.1))
	require.NoError(t, err)

	assert.NotSame(t, first, second)
	assert.False(t, second.AssessedAt.Before(first.AssessedAt))
}
