package monitor

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/juant72/sniperforge-sub012/types"
)

type stubLedger struct {
	mu           sync.Mutex
	polls        int
	receiptAfter int // polls before the receipt appears; -1 for never
	status       uint64
	balanceAfter *big.Int
}

func (s *stubLedger) TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.polls++
	if s.receiptAfter < 0 || s.polls <= s.receiptAfter {
		return nil, ethereum.NotFound
	}
	return &ethtypes.Receipt{Status: s.status, TxHash: txHash}, nil
}

func (s *stubLedger) Balance(ctx context.Context) (*big.Int, error) {
	return s.balanceAfter, nil
}

type stubVisibility struct {
	mu      sync.Mutex
	windows []time.Duration
}

func (s *stubVisibility) ObserveVisibility(window time.Duration) {
	s.mu.Lock()
	s.windows = append(s.windows, window)
	s.mu.Unlock()
}

type stubRecorder struct {
	mu        sync.Mutex
	paths     [][]string
	profitBps []float64
	successes []bool
	tags      []string
}

func (s *stubRecorder) RecordOutcome(path []string, profitBps float64, success bool, tag string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paths = append(s.paths, path)
	s.profitBps = append(s.profitBps, profitBps)
	s.successes = append(s.successes, success)
	s.tags = append(s.tags, tag)
}

func watchedResult(protected bool) *types.ExecutionResult {
	now := time.Now()
	opp := &types.Opportunity{
		ID: "opp-1",
		Leg1: &types.QuoteResult{
			InputAsset:   common.HexToAddress("0x01"),
			OutputAsset:  common.HexToAddress("0x02"),
			InputAmount:  big.NewInt(5_000_000),
			OutputAmount: big.NewInt(498_000_000),
			RouteHops:    []types.RouteHop{{Venue: "orca"}},
		},
		Leg2: &types.QuoteResult{
			InputAsset:   common.HexToAddress("0x02"),
			OutputAsset:  common.HexToAddress("0x01"),
			InputAmount:  big.NewInt(498_000_000),
			OutputAmount: big.NewInt(5_009_000),
			RouteHops:    []types.RouteHop{{Venue: "raydium"}},
		},
		NetProfit:    big.NewInt(9_000),
		PriorityTier: types.TierHigh,
		DetectedAt:   now,
		ExpiresAt:    now.Add(time.Minute),
	}
	return &types.ExecutionResult{
		Plan: &types.ExecutionPlan{
			Opportunity:          opp,
			SlippageToleranceBps: 50,
			Protected:            protected,
		},
		Success:       true,
		Status:        types.BundleAccepted,
		Signature:     common.HexToHash("0xabc"),
		BalanceBefore: big.NewInt(9_000_000),
		SubmittedAt:   now,
	}
}

func newTestMonitor(ledger *stubLedger, vis *stubVisibility, rec *stubRecorder) *Monitor {
	return NewMonitor(Config{
		ConfirmationTimeout: time.Second,
		ConfirmationRetries: 5,
		ConfirmationDelay:   10 * time.Millisecond,
	}, ledger, vis, rec, zap.NewNop())
}

func TestConfirmedProfitableScoresFull(t *testing.T) {
	ledger := &stubLedger{receiptAfter: 1, status: ethtypes.ReceiptStatusSuccessful,
		balanceAfter: big.NewInt(9_009_000)}
	vis := &stubVisibility{}
	rec := &stubRecorder{}
	m := newTestMonitor(ledger, vis, rec)

	report, err := m.Watch(context.Background(), watchedResult(true))
	require.NoError(t, err)

	assert.Equal(t, types.OutcomeConfirmed, report.Outcome)
	assert.Equal(t, big.NewInt(9_000), report.ActualProfit)
	assert.Equal(t, 10, report.Score)
	assert.Len(t, vis.windows, 1)

	require.Len(t, rec.successes, 1)
	assert.True(t, rec.successes[0])
	assert.Equal(t, []string{"orca", "raydium"}, rec.paths[0])
	assert.InDelta(t, 18.0, rec.profitBps[0], 0.01)
	assert.Equal(t, "protected", rec.tags[0])
}

func TestRevertedExecutionScoresZero(t *testing.T) {
	ledger := &stubLedger{receiptAfter: 0, status: ethtypes.ReceiptStatusFailed}
	vis := &stubVisibility{}
	rec := &stubRecorder{}
	m := newTestMonitor(ledger, vis, rec)

	report, err := m.Watch(context.Background(), watchedResult(false))
	require.NoError(t, err)

	assert.Equal(t, types.OutcomeFailed, report.Outcome)
	assert.Zero(t, report.Score)
	assert.Empty(t, vis.windows)
	require.Len(t, rec.successes, 1)
	assert.False(t, rec.successes[0])
	assert.Equal(t, "direct", rec.tags[0])
}

func TestPollBudgetExhaustedIsUnconfirmed(t *testing.T) {
	ledger := &stubLedger{receiptAfter: -1}
	rec := &stubRecorder{}
	m := newTestMonitor(ledger, &stubVisibility{}, rec)

	report, err := m.Watch(context.Background(), watchedResult(true))
	require.NoError(t, err)

	assert.Equal(t, types.OutcomeUnconfirmed, report.Outcome)
	assert.Zero(t, report.Score)
	assert.Equal(t, 5, ledger.polls)
	assert.ErrorIs(t, report.Result.Err, types.ErrConfirmationTimeout)
	require.Len(t, rec.successes, 1)
	assert.False(t, rec.successes[0])
}

func TestFailedSubmissionSettlesWithoutPolling(t *testing.T) {
	ledger := &stubLedger{receiptAfter: -1}
	rec := &stubRecorder{}
	m := newTestMonitor(ledger, &stubVisibility{}, rec)

	result := watchedResult(true)
	result.Success = false
	result.Status = types.BundleFailed
	result.Err = types.ErrSubmissionRejected

	report, err := m.Watch(context.Background(), result)
	require.NoError(t, err)

	assert.Equal(t, types.OutcomeFailed, report.Outcome)
	assert.Zero(t, report.Score)
	assert.Zero(t, ledger.polls, "nothing landed, nothing to poll")
	require.Len(t, rec.successes, 1)
	assert.False(t, rec.successes[0])
	assert.Equal(t, []string{"orca", "raydium"}, rec.paths[0])
	assert.Zero(t, rec.profitBps[0])
	assert.Equal(t, uint64(1), m.Stats().Failed)
}

func TestTimeoutBeatsRetries(t *testing.T) {
	ledger := &stubLedger{receiptAfter: -1}
	m := NewMonitor(Config{
		ConfirmationTimeout: 25 * time.Millisecond,
		ConfirmationRetries: 100,
		ConfirmationDelay:   10 * time.Millisecond,
	}, ledger, &stubVisibility{}, &stubRecorder{}, zap.NewNop())

	report, err := m.Watch(context.Background(), watchedResult(true))
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeUnconfirmed, report.Outcome)
	assert.Less(t, ledger.polls, 100)
}

func TestSlippageBeyondToleranceDropsPoint(t *testing.T) {
	// Quoted 9,000 but realized only 4,000: 55% shortfall, way past 50 bps.
	ledger := &stubLedger{receiptAfter: 0, status: ethtypes.ReceiptStatusSuccessful,
		balanceAfter: big.NewInt(9_004_000)}
	m := newTestMonitor(ledger, &stubVisibility{}, &stubRecorder{})

	report, err := m.Watch(context.Background(), watchedResult(true))
	require.NoError(t, err)

	assert.Equal(t, types.OutcomeConfirmed, report.Outcome)
	assert.Equal(t, 9, report.Score)
	assert.InDelta(t, 0.555, report.Result.SlippageExperienced, 0.01)
}

func TestSummaryAggregates(t *testing.T) {
	rec := &stubRecorder{}
	vis := &stubVisibility{}

	okLedger := &stubLedger{receiptAfter: 0, status: ethtypes.ReceiptStatusSuccessful,
		balanceAfter: big.NewInt(9_009_000)}
	m := newTestMonitor(okLedger, vis, rec)
	_, err := m.Watch(context.Background(), watchedResult(true))
	require.NoError(t, err)

	m.ledger = &stubLedger{receiptAfter: -1}
	_, err = m.Watch(context.Background(), watchedResult(true))
	require.NoError(t, err)

	s := m.Stats()
	assert.Equal(t, uint64(2), s.Watched)
	assert.Equal(t, uint64(1), s.Confirmed)
	assert.Equal(t, uint64(1), s.Unconfirmed)
	assert.InDelta(t, 5.0, s.AvgScore, 0.01)
}
