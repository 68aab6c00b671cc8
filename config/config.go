package config

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

type Config struct {
	// Chain and network settings
	ChainID      uint64        `json:"chain_id"`
	RPCEndpoint  string        `json:"rpc_endpoint"`
	QuoteAPIURL  string        `json:"quote_api_url"`
	RelayURL     string        `json:"relay_url"`
	RelayTimeout time.Duration `json:"relay_timeout"`

	// ExecutorContract runs both legs of a cycle atomically on chain.
	ExecutorContract common.Address `json:"executor_contract"`

	// Opportunity detection
	FeeAsset             common.Address `json:"fee_asset"`
	FixedFeeCost         *big.Int       `json:"fixed_fee_cost"`
	OpportunityTTL       time.Duration  `json:"opportunity_ttl"`
	BaseSlippageBps      uint16         `json:"base_slippage_bps"`
	EscalatedSlippageBps uint16         `json:"escalated_slippage_bps"`
	TradePairs           []TradePair    `json:"trade_pairs"`

	// Fees and protection
	BasePriorityFee          *big.Int `json:"base_priority_fee"`
	MaxPriorityFee           *big.Int `json:"max_priority_fee"`
	MinBundleTip             *big.Int `json:"min_bundle_tip"`
	TipEscalationStep        *big.Int `json:"tip_escalation_step"`
	TipRatio                 float64  `json:"tip_ratio"`
	CongestionMultiplier     float64  `json:"congestion_multiplier"`
	MaxBundleRetries         int      `json:"max_bundle_retries"`
	SandwichAbortThreshold   float64  `json:"sandwich_abort_threshold"`
	SandwichProtectThreshold float64  `json:"sandwich_protect_threshold"`
	CongestionHighWater      float64  `json:"congestion_high_water"`

	// Risk model normalization targets
	TargetThroughput   float64       `json:"target_throughput"`
	TargetInterval     time.Duration `json:"target_interval"`
	PriceImpactCaution float64       `json:"price_impact_caution"`

	// Confirmation monitoring
	ConfirmationTimeout time.Duration `json:"confirmation_timeout"`
	ConfirmationRetries int           `json:"confirmation_retries"`
	ConfirmationDelay   time.Duration `json:"confirmation_delay"`

	// Concurrency bounds
	MaxConcurrentOpportunities int `json:"max_concurrent_opportunities"`
	MaxConcurrentExecutions    int `json:"max_concurrent_executions"`

	// Rate limiting
	QuoteRateLimit RateLimitConfig `json:"quote_rate_limit"`
	RelayRateLimit RateLimitConfig `json:"relay_rate_limit"`

	// Router
	Router RouterConfig `json:"router"`

	// Engine loop
	CycleInterval  time.Duration `json:"cycle_interval"`
	NetworkTimeout time.Duration `json:"network_timeout"`

	// Feature flags
	PrometheusEnabled  bool   `json:"prometheus_enabled"`
	PrometheusEndpoint string `json:"prometheus_endpoint"`

	// Internal components
	Logger *zap.Logger `json:"-"`
}

// TradePair is one asset pair the detector cycles through.
type TradePair struct {
	AssetA common.Address `json:"asset_a"`
	AssetB common.Address `json:"asset_b"`
	Amount *big.Int       `json:"amount"`
}

// RateLimitConfig bounds outbound call rate against one collaborator.
type RateLimitConfig struct {
	MaxPerWindow   int           `json:"max_per_window"`
	Window         time.Duration `json:"window"`
	MinRate        int           `json:"min_rate"`
	MaxRate        int           `json:"max_rate"`
	TargetLatency  time.Duration `json:"target_latency"`
	AdjustFraction float64       `json:"adjust_fraction"`
	AdjustInterval time.Duration `json:"adjust_interval"`
}

// RouterConfig carries the unified router's scoring knobs.
type RouterConfig struct {
	StrategicWeight  float64       `json:"strategic_weight"`
	LiveWeight       float64       `json:"live_weight"`
	RiskWeight       float64       `json:"risk_weight"`
	MinProfitFloor   float64       `json:"min_profit_floor"`
	EvaluationWindow time.Duration `json:"evaluation_window"`
	SeedRoutesFile   string        `json:"seed_routes_file"`
}

func (c *Config) ValidateConfig() error {
	var errors []string

	if c.ChainID == 0 {
		errors = append(errors, "chain_id must be specified")
	}
	if c.RPCEndpoint == "" {
		errors = append(errors, "rpc_endpoint must be specified")
	}
	if c.QuoteAPIURL == "" {
		errors = append(errors, "quote_api_url must be specified")
	}
	if c.RelayURL == "" {
		errors = append(errors, "relay_url must be specified")
	}
	if c.ExecutorContract == (common.Address{}) {
		errors = append(errors, "executor_contract must be specified")
	}

	if c.FixedFeeCost == nil || c.FixedFeeCost.Sign() <= 0 {
		errors = append(errors, "fixed_fee_cost must be positive")
	}
	if c.MaxPriorityFee == nil || c.MaxPriorityFee.Sign() <= 0 {
		errors = append(errors, "max_priority_fee must be positive")
	}
	if c.BasePriorityFee != nil && c.MaxPriorityFee != nil && c.BasePriorityFee.Cmp(c.MaxPriorityFee) > 0 {
		errors = append(errors, "base_priority_fee must not exceed max_priority_fee")
	}
	if c.MinBundleTip == nil || c.MinBundleTip.Sign() <= 0 {
		errors = append(errors, "min_bundle_tip must be positive")
	}
	if c.TipEscalationStep == nil || c.TipEscalationStep.Sign() <= 0 {
		errors = append(errors, "tip_escalation_step must be positive")
	}
	if c.TipRatio <= 0 {
		errors = append(errors, "tip_ratio must be positive")
	}
	if c.MaxBundleRetries <= 0 {
		errors = append(errors, "max_bundle_retries must be positive")
	}
	if c.OpportunityTTL <= 0 {
		errors = append(errors, "opportunity_ttl must be positive")
	}
	if c.EscalatedSlippageBps <= c.BaseSlippageBps {
		errors = append(errors, "escalated_slippage_bps must exceed base_slippage_bps")
	}
	if c.MaxConcurrentOpportunities <= 0 {
		errors = append(errors, "max_concurrent_opportunities must be positive")
	}
	if c.MaxConcurrentExecutions <= 0 {
		errors = append(errors, "max_concurrent_executions must be positive")
	}
	if c.ConfirmationRetries <= 0 {
		errors = append(errors, "confirmation_retries must be positive")
	}

	if err := c.QuoteRateLimit.Validate(); err != nil {
		errors = append(errors, fmt.Sprintf("quote rate limit error: %v", err))
	}
	if err := c.RelayRateLimit.Validate(); err != nil {
		errors = append(errors, fmt.Sprintf("relay rate limit error: %v", err))
	}
	if err := c.Router.Validate(); err != nil {
		errors = append(errors, fmt.Sprintf("router config error: %v", err))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errors, "; "))
	}

	return nil
}

func (r *RateLimitConfig) Validate() error {
	if r.MaxPerWindow <= 0 {
		return fmt.Errorf("max per window must be positive")
	}
	if r.Window <= 0 {
		return fmt.Errorf("window must be positive")
	}
	if r.MinRate > 0 && r.MaxRate > 0 && r.MinRate > r.MaxRate {
		return fmt.Errorf("min rate must not exceed max rate")
	}
	return nil
}

func (r *RouterConfig) Validate() error {
	if r.StrategicWeight < 0 || r.LiveWeight < 0 || r.RiskWeight < 0 {
		return fmt.Errorf("router weights must not be negative")
	}
	if r.StrategicWeight+r.LiveWeight == 0 {
		return fmt.Errorf("at least one of strategic or live weight must be positive")
	}
	if r.EvaluationWindow <= 0 {
		return fmt.Errorf("evaluation window must be positive")
	}
	return nil
}

func LoadConfig(cfgFile string) (*Config, error) {
	if cfgFile == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		cfgFile = filepath.Join(home, ".sniperforge.json")
	}

	file, err := os.Open(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	var config Config
	if err := json.NewDecoder(file).Decode(&config); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	config.Logger = logger

	config.applyDefaults()

	if err := config.ValidateConfig(); err != nil {
		return nil, err
	}

	return &config, nil
}

// applyDefaults fills thresholds a config file may legitimately omit.
func (c *Config) applyDefaults() {
	if c.BasePriorityFee == nil && c.MaxPriorityFee != nil {
		c.BasePriorityFee = new(big.Int).Div(c.MaxPriorityFee, big.NewInt(10))
	}
	if c.CongestionMultiplier == 0 {
		c.CongestionMultiplier = 2.0
	}
	if c.SandwichAbortThreshold == 0 {
		c.SandwichAbortThreshold = 0.8
	}
	if c.SandwichProtectThreshold == 0 {
		c.SandwichProtectThreshold = 0.3
	}
	if c.CongestionHighWater == 0 {
		c.CongestionHighWater = 0.7
	}
	if c.TargetThroughput == 0 {
		c.TargetThroughput = 3000
	}
	if c.TargetInterval == 0 {
		c.TargetInterval = 400 * time.Millisecond
	}
	if c.PriceImpactCaution == 0 {
		c.PriceImpactCaution = 1.0
	}
	if c.RelayTimeout == 0 {
		c.RelayTimeout = 3 * time.Second
	}
	if c.ConfirmationDelay == 0 {
		c.ConfirmationDelay = 2 * time.Second
	}
	if c.ConfirmationTimeout == 0 {
		c.ConfirmationTimeout = 60 * time.Second
	}
	if c.NetworkTimeout == 0 {
		c.NetworkTimeout = 20 * time.Second
	}
	if c.Router.EvaluationWindow == 0 {
		c.Router.EvaluationWindow = 5 * time.Second
	}
}

func SaveConfig(cfg *Config, cfgFile string) error {
	if cfgFile == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return err
		}
		cfgFile = filepath.Join(home, ".sniperforge.json")
	}

	file, err := os.Create(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	return nil
}
