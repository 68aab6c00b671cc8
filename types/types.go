package types

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// PriorityTier classifies an opportunity by its profit-to-fee multiple.
type PriorityTier int

const (
	TierMonitorOnly PriorityTier = iota
	TierLow
	TierMedium
	TierHigh
)

func (t PriorityTier) String() string {
	switch t {
	case TierHigh:
		return "high"
	case TierMedium:
		return "medium"
	case TierLow:
		return "low"
	default:
		return "monitor"
	}
}

// Executable reports whether the tier qualifies for execution at all.
// Monitor-only opportunities are recorded but never promoted.
func (t PriorityTier) Executable() bool {
	return t != TierMonitorOnly
}

// RiskLevel grades adversarial exposure for a single opportunity.
type RiskLevel int

const (
	RiskLow RiskLevel = iota
	RiskMedium
	RiskHigh
	RiskCritical
)

func (r RiskLevel) String() string {
	switch r {
	case RiskLow:
		return "low"
	case RiskMedium:
		return "medium"
	case RiskHigh:
		return "high"
	default:
		return "critical"
	}
}

// RecommendedAction is the analyzer's advisory verdict.
type RecommendedAction int

const (
	ActionProceed RecommendedAction = iota
	ActionIncreaseSlippage
	ActionDelayExecution
	ActionAbort
)

func (a RecommendedAction) String() string {
	switch a {
	case ActionProceed:
		return "proceed"
	case ActionIncreaseSlippage:
		return "increase_slippage"
	case ActionDelayExecution:
		return "delay_execution"
	default:
		return "abort"
	}
}

// BundleStatus tracks a submission through the relay state machine.
type BundleStatus int

const (
	BundlePending BundleStatus = iota
	BundleSubmitted
	BundleAccepted
	BundleConfirmed
	BundleRejected
	BundleFailed
)

func (s BundleStatus) String() string {
	switch s {
	case BundlePending:
		return "pending"
	case BundleSubmitted:
		return "submitted"
	case BundleAccepted:
		return "accepted"
	case BundleConfirmed:
		return "confirmed"
	case BundleRejected:
		return "rejected"
	default:
		return "failed"
	}
}

// RouteHop is one venue hop inside a quoted route.
type RouteHop struct {
	Venue     string
	Pool      common.Address
	FeeBps    uint16
	InputMint common.Address
	OutputMin common.Address
}

// QuoteResult is one leg of a cycle as returned by the quote service.
// Immutable once returned by the gateway.
type QuoteResult struct {
	InputAsset     common.Address
	OutputAsset    common.Address
	InputAmount    *big.Int
	OutputAmount   *big.Int
	RouteHops      []RouteHop
	PriceImpactPct float64
	SlippageBps    uint16
	FetchedAt      time.Time
}

// Opportunity is a detected, time-bounded, positive-profit quote cycle.
// NetProfit is always Leg2.OutputAmount - Leg1.InputAmount, never estimated.
type Opportunity struct {
	ID                  string
	Leg1                *QuoteResult
	Leg2                *QuoteResult
	NetProfit           *big.Int
	ProfitToFeeMultiple float64
	PriorityTier        PriorityTier
	DetectedAt          time.Time
	ExpiresAt           time.Time
}

// Expired reports whether the opportunity's quotes have gone stale.
func (o *Opportunity) Expired(now time.Time) bool {
	return now.After(o.ExpiresAt)
}

// Pair returns the asset pair the opportunity trades.
func (o *Opportunity) Pair() (common.Address, common.Address) {
	return o.Leg1.InputAsset, o.Leg1.OutputAsset
}

// RoutePath flattens both legs into the venue sequence routes are keyed by.
// Falls back to the asset pair when the quote carried no hop metadata.
func (o *Opportunity) RoutePath() []string {
	var path []string
	for _, hop := range o.Leg1.RouteHops {
		path = append(path, hop.Venue)
	}
	for _, hop := range o.Leg2.RouteHops {
		path = append(path, hop.Venue)
	}
	if len(path) == 0 {
		path = []string{o.Leg1.InputAsset.Hex(), o.Leg1.OutputAsset.Hex()}
	}
	return path
}

// RiskAssessment is produced fresh per opportunity and never cached
// across cycles.
type RiskAssessment struct {
	RiskLevel           RiskLevel
	RecommendedAction   RecommendedAction
	CongestionScore     float64
	SandwichProbability float64
	AssessedAt          time.Time
}

// ExecutionPlan binds an opportunity to the fees it will be submitted with.
type ExecutionPlan struct {
	Opportunity          *Opportunity
	PriorityFee          *big.Int
	BundleTip            *big.Int
	SlippageToleranceBps uint16
	Deadline             time.Time
	Protected            bool
}

// ExecutionResult is written exactly once per plan. Err classifies a
// terminal failure (risk abort, exhausted retries, confirmation timeout)
// and stays nil while the submission is live or once it confirms.
type ExecutionResult struct {
	Plan                *ExecutionPlan
	Success             bool
	Status              BundleStatus
	Err                 error
	Signature           common.Hash
	ActualProfit        *big.Int
	ExecutionTime       time.Duration
	SlippageExperienced float64
	BalanceBefore       *big.Int
	SubmittedAt         time.Time
}

// RouteStats is the only state that persists and compounds across cycles.
// Mutated only by the execution monitor.
type RouteStats struct {
	RouteID            string
	Path               []string
	AvgProfitBps       float64
	SuccessRate        float64
	SampleCount        uint64
	SuccessCount       uint64
	MarketConditionTag string
	LastUpdated        time.Time
}

// RoutingDecision is the router's single go output for a cycle.
type RoutingDecision struct {
	SelectedRoute          *RouteStats
	Opportunity            *Opportunity
	Reason                 string
	RiskAssessment         *RiskAssessment
	ProfitEstimate         *big.Int
	ExecutionWindowSeconds uint32
	Score                  float64
	DecidedAt              time.Time
}

// RateBudget is a point-in-time snapshot of the throttle's token bucket.
// AvailableTokens is never negative.
type RateBudget struct {
	AvailableTokens int
	WindowStart     time.Time
	MaxPerWindow    int
}

// MonitoringOutcome classifies a watched execution.
type MonitoringOutcome int

const (
	OutcomeConfirmed MonitoringOutcome = iota
	OutcomeFailed
	OutcomeUnconfirmed
)

func (o MonitoringOutcome) String() string {
	switch o {
	case OutcomeConfirmed:
		return "confirmed"
	case OutcomeFailed:
		return "failed"
	default:
		return "unconfirmed"
	}
}
