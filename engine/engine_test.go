package engine

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/juant72/sniperforge-sub012/config"
	"github.com/juant72/sniperforge-sub012/monitor"
	"github.com/juant72/sniperforge-sub012/router"
	"github.com/juant72/sniperforge-sub012/types"
)

type stubDetector struct {
	mu         sync.Mutex
	calls      int
	inFlight   int32
	maxSeen    int32
	tier       types.PriorityTier
	err        error
	delay      time.Duration
}

func (s *stubDetector) Evaluate(ctx context.Context, a, b common.Address, amount *big.Int) (*types.Opportunity, error) {
	cur := atomic.AddInt32(&s.inFlight, 1)
	for {
		max := atomic.LoadInt32(&s.maxSeen)
		if cur <= max || atomic.CompareAndSwapInt32(&s.maxSeen, max, cur) {
			break
		}
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	atomic.AddInt32(&s.inFlight, -1)

	s.mu.Lock()
	s.calls++
	s.mu.Unlock()

	if s.err != nil {
		return nil, s.err
	}
	now := time.Now()
	return &types.Opportunity{
		ID: "opp-" + a.Hex(),
		Leg1: &types.QuoteResult{
			InputAsset:   a,
			OutputAsset:  b,
			InputAmount:  new(big.Int).Set(amount),
			OutputAmount: big.NewInt(498_000_000),
			RouteHops:    []types.RouteHop{{Venue: "orca"}},
		},
		Leg2: &types.QuoteResult{
			InputAsset:   b,
			OutputAsset:  a,
			InputAmount:  big.NewInt(498_000_000),
			OutputAmount: new(big.Int).Add(amount, big.NewInt(9_000)),
			RouteHops:    []types.RouteHop{{Venue: "raydium"}},
		},
		NetProfit:           big.NewInt(9_000),
		ProfitToFeeMultiple: 6.0,
		PriorityTier:        s.tier,
		DetectedAt:          now,
		ExpiresAt:           now.Add(time.Minute),
	}, nil
}

type stubAnalyzer struct {
	mu    sync.Mutex
	calls int
}

func (s *stubAnalyzer) Assess(ctx context.Context, opp *types.Opportunity) (*types.RiskAssessment, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return &types.RiskAssessment{
		RiskLevel:         types.RiskLow,
		RecommendedAction: types.ActionProceed,
		AssessedAt:        time.Now(),
	}, nil
}

type stubExecutor struct {
	mu    sync.Mutex
	calls int
	err   error
	fail  bool
	abort bool
	hold  chan struct{}
}

func (s *stubExecutor) Execute(ctx context.Context, opp *types.Opportunity, risk *types.RiskAssessment) (*types.ExecutionResult, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.hold != nil {
		<-s.hold
	}
	if s.err != nil {
		return nil, s.err
	}
	if s.abort {
		return &types.ExecutionResult{
			Plan:    &types.ExecutionPlan{Opportunity: opp},
			Success: false,
			Status:  types.BundlePending,
			Err:     types.ErrRiskAborted,
		}, nil
	}
	if s.fail {
		failure := fmt.Errorf("bundle retries exhausted: %w", types.ErrSubmissionRejected)
		return &types.ExecutionResult{
			Plan:        &types.ExecutionPlan{Opportunity: opp},
			Success:     false,
			Status:      types.BundleFailed,
			Err:         failure,
			SubmittedAt: time.Now(),
		}, failure
	}
	return &types.ExecutionResult{
		Plan:        &types.ExecutionPlan{Opportunity: opp},
		Success:     true,
		Status:      types.BundleAccepted,
		SubmittedAt: time.Now(),
	}, nil
}

type stubWatcher struct {
	mu    sync.Mutex
	calls int
	last  *types.ExecutionResult
}

func (s *stubWatcher) Watch(ctx context.Context, result *types.ExecutionResult) (*monitor.Report, error) {
	s.mu.Lock()
	s.calls++
	s.last = result
	s.mu.Unlock()
	if !result.Success {
		return &monitor.Report{Result: result, Outcome: types.OutcomeFailed}, nil
	}
	return &monitor.Report{Result: result, Outcome: types.OutcomeConfirmed, Score: 10}, nil
}

type stubCapital struct{}

func (stubCapital) Balance(ctx context.Context) (*big.Int, error) {
	return big.NewInt(100_000_000), nil
}

func engineConfig(pairs int) *config.Config {
	cfg := &config.Config{
		MaxConcurrentOpportunities: 2,
		MaxConcurrentExecutions:    1,
		SandwichProtectThreshold:   0.6,
		CycleInterval:              10 * time.Millisecond,
		Router: config.RouterConfig{
			StrategicWeight:  1.0,
			LiveWeight:       1.0,
			RiskWeight:       1.0,
			MinProfitFloor:   1.0,
			EvaluationWindow: 5 * time.Second,
		},
	}
	for i := 0; i < pairs; i++ {
		cfg.TradePairs = append(cfg.TradePairs, config.TradePair{
			AssetA: common.BigToAddress(big.NewInt(int64(i + 1))),
			AssetB: common.BigToAddress(big.NewInt(int64(100 + i))),
			Amount: big.NewInt(5_000_000),
		})
	}
	return cfg
}

func newTestEngine(cfg *config.Config, det *stubDetector, exec *stubExecutor, watch *stubWatcher) (*Engine, *stubAnalyzer) {
	analyzer := &stubAnalyzer{}
	sel := router.NewRouter(cfg.Router, router.NewStore(zap.NewNop()), nil, zap.NewNop())
	eng := NewEngine(cfg, det, analyzer, sel, exec, watch, stubCapital{}, zap.NewNop())
	return eng, analyzer
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, time.Second, 5*time.Millisecond)
}

func TestCycleExecutesRoutedDecision(t *testing.T) {
	det := &stubDetector{tier: types.TierHigh}
	exec := &stubExecutor{}
	watch := &stubWatcher{}
	eng, analyzer := newTestEngine(engineConfig(3), det, exec, watch)

	eng.RunCycle(context.Background())
	eng.wg.Wait()

	assert.Equal(t, 3, det.calls)
	assert.Equal(t, 3, analyzer.calls)
	assert.Equal(t, 1, exec.calls)
	assert.Equal(t, 1, watch.calls)

	stats := eng.Stats()
	assert.Equal(t, uint64(1), stats.Cycles)
	assert.Equal(t, uint64(3), stats.Opportunities)
	assert.Equal(t, uint64(1), stats.Decisions)
	assert.Equal(t, uint64(1), stats.Confirmed)
}

func TestMonitorOnlyOpportunitiesNeverAssessed(t *testing.T) {
	det := &stubDetector{tier: types.TierMonitorOnly}
	exec := &stubExecutor{}
	eng, analyzer := newTestEngine(engineConfig(3), det, exec, &stubWatcher{})

	eng.RunCycle(context.Background())
	eng.wg.Wait()

	assert.Equal(t, 3, det.calls)
	assert.Zero(t, analyzer.calls)
	assert.Zero(t, exec.calls)
	assert.Equal(t, uint64(0), eng.Stats().Decisions)
}

func TestQuoteMissesAreRoutine(t *testing.T) {
	det := &stubDetector{err: types.ErrQuoteUnavailable}
	exec := &stubExecutor{}
	eng, _ := newTestEngine(engineConfig(4), det, exec, &stubWatcher{})

	eng.RunCycle(context.Background())
	eng.wg.Wait()

	assert.Equal(t, 4, det.calls)
	assert.Zero(t, exec.calls)
}

func TestEvaluationConcurrencyBounded(t *testing.T) {
	det := &stubDetector{tier: types.TierLow, delay: 20 * time.Millisecond}
	eng, _ := newTestEngine(engineConfig(8), det, &stubExecutor{}, &stubWatcher{})

	eng.RunCycle(context.Background())
	eng.wg.Wait()

	assert.Equal(t, 8, det.calls)
	assert.LessOrEqual(t, atomic.LoadInt32(&det.maxSeen), int32(2))
}

func TestSaturatedSlotsDropDecision(t *testing.T) {
	det := &stubDetector{tier: types.TierHigh}
	exec := &stubExecutor{hold: make(chan struct{})}
	eng, _ := newTestEngine(engineConfig(1), det, exec, &stubWatcher{})

	eng.RunCycle(context.Background())
	waitFor(t, func() bool {
		exec.mu.Lock()
		defer exec.mu.Unlock()
		return exec.calls == 1
	})

	// Second cycle finds the only slot occupied.
	eng.RunCycle(context.Background())
	assert.Equal(t, uint64(1), eng.Stats().SkippedBusy)

	close(exec.hold)
	eng.wg.Wait()
	assert.Equal(t, 1, exec.calls)
}

func TestStaleExecutionIsQuietSkip(t *testing.T) {
	det := &stubDetector{tier: types.TierHigh}
	exec := &stubExecutor{err: types.ErrQuoteStale}
	watch := &stubWatcher{}
	eng, _ := newTestEngine(engineConfig(1), det, exec, watch)

	eng.RunCycle(context.Background())
	eng.wg.Wait()

	assert.Equal(t, 1, exec.calls)
	assert.Zero(t, watch.calls)
	assert.Equal(t, uint64(0), eng.Stats().Confirmed)
}

func TestFailedExecutionSettlesThroughMonitor(t *testing.T) {
	det := &stubDetector{tier: types.TierHigh}
	exec := &stubExecutor{fail: true}
	watch := &stubWatcher{}
	eng, _ := newTestEngine(engineConfig(1), det, exec, watch)

	eng.RunCycle(context.Background())
	eng.wg.Wait()

	assert.Equal(t, 1, exec.calls)
	require.Equal(t, 1, watch.calls, "failed submission must reach the monitor")
	require.NotNil(t, watch.last)
	assert.False(t, watch.last.Success)
	assert.Equal(t, types.BundleFailed, watch.last.Status)
	assert.Equal(t, uint64(0), eng.Stats().Confirmed)
}

func TestRiskAbortNeverReachesMonitor(t *testing.T) {
	det := &stubDetector{tier: types.TierHigh}
	exec := &stubExecutor{abort: true}
	watch := &stubWatcher{}
	eng, _ := newTestEngine(engineConfig(1), det, exec, watch)

	eng.RunCycle(context.Background())
	eng.wg.Wait()

	assert.Equal(t, 1, exec.calls)
	assert.Zero(t, watch.calls, "an abort never reached the wire")
}

func TestRunStopsOnCancel(t *testing.T) {
	det := &stubDetector{tier: types.TierMonitorOnly}
	eng, _ := newTestEngine(engineConfig(1), det, &stubExecutor{}, &stubWatcher{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- eng.Run(ctx) }()

	waitFor(t, func() bool {
		det.mu.Lock()
		defer det.mu.Unlock()
		return det.calls >= 2
	})
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("engine did not stop")
	}
}
