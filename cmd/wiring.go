package cmd

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/juant72/sniperforge-sub012/config"
	"github.com/juant72/sniperforge-sub012/engine"
	"github.com/juant72/sniperforge-sub012/execution"
	"github.com/juant72/sniperforge-sub012/fees"
	"github.com/juant72/sniperforge-sub012/flashbots"
	"github.com/juant72/sniperforge-sub012/ledger"
	"github.com/juant72/sniperforge-sub012/mev"
	"github.com/juant72/sniperforge-sub012/monitor"
	"github.com/juant72/sniperforge-sub012/quote"
	"github.com/juant72/sniperforge-sub012/ratelimit"
	"github.com/juant72/sniperforge-sub012/router"
	"github.com/juant72/sniperforge-sub012/strategies/arbitrage"
)

// buildEngine wires the full pipeline from configuration. The returned
// cleanup closes the RPC connection.
func buildEngine(ctx context.Context, cfg *config.Config, log *zap.Logger) (*engine.Engine, func(), error) {
	secure, err := config.LoadSecureConfig()
	if err != nil {
		return nil, nil, err
	}
	walletKey, err := parseKey(secure.PrivateKey)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid wallet key: %w", err)
	}
	relayKey, err := parseKey(secure.RelaySignerKey)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid relay signer key: %w", err)
	}
	chainID := new(big.Int).SetUint64(cfg.ChainID)

	ledgerClient, err := ledger.Dial(ctx, cfg.RPCEndpoint, walletKey, chainID, log)
	if err != nil {
		return nil, nil, err
	}

	throttle := ratelimit.NewAdaptiveLimiter(
		cfg.QuoteRateLimit.MaxPerWindow,
		cfg.QuoteRateLimit.Window,
		cfg.QuoteRateLimit.TargetLatency,
		cfg.QuoteRateLimit.AdjustFraction,
		cfg.QuoteRateLimit.AdjustInterval,
		cfg.QuoteRateLimit.MinRate,
		cfg.QuoteRateLimit.MaxRate,
		log,
	)

	quoteClient, err := quote.NewClient(cfg.QuoteAPIURL, throttle, cfg.NetworkTimeout, cfg.EscalatedSlippageBps, log)
	if err != nil {
		ledgerClient.Close()
		return nil, nil, err
	}
	if err := quoteClient.Health(ctx); err != nil {
		ledgerClient.Close()
		return nil, nil, fmt.Errorf("quote provider health check: %w", err)
	}

	detector := arbitrage.NewDetector(quoteClient, arbitrage.Config{
		FeeAsset:     cfg.FeeAsset,
		FixedFeeCost: cfg.FixedFeeCost,
		SlippageBps:  cfg.BaseSlippageBps,
		TTL:          cfg.OpportunityTTL,
	}, log)

	analyzer, err := mev.NewAnalyzer(ledgerClient, mev.Config{
		CongestionHighWater:    cfg.CongestionHighWater,
		SandwichAbortThreshold: cfg.SandwichAbortThreshold,
		TargetThroughput:       cfg.TargetThroughput,
		TargetInterval:         cfg.TargetInterval,
		PriceImpactCaution:     cfg.PriceImpactCaution,
	}, log)
	if err != nil {
		ledgerClient.Close()
		return nil, nil, err
	}

	calculator := fees.NewCalculator(fees.Config{
		BaseFee:              cfg.BasePriorityFee,
		MaxPriorityFee:       cfg.MaxPriorityFee,
		MinBundleTip:         cfg.MinBundleTip,
		CongestionMultiplier: cfg.CongestionMultiplier,
		TipRatio:             cfg.TipRatio,
	}, log)

	relay := flashbots.NewClient(cfg.RelayURL, relayKey, chainID,
		relayRate(cfg.RelayRateLimit), cfg.RelayRateLimit.MaxPerWindow, cfg.RelayTimeout)

	builder, err := ledger.NewCycleTxBuilder(ledgerClient, cfg.ExecutorContract, walletKey, chainID, log)
	if err != nil {
		ledgerClient.Close()
		return nil, nil, err
	}

	executor := execution.NewExecutor(execution.Config{
		MaxBundleRetries:         cfg.MaxBundleRetries,
		TipEscalationStep:        cfg.TipEscalationStep,
		SandwichProtectThreshold: cfg.SandwichProtectThreshold,
		BaseSlippageBps:          cfg.BaseSlippageBps,
		EscalatedSlippageBps:     cfg.EscalatedSlippageBps,
	}, calculator, relay, ledgerClient, ledgerClient, builder, log)

	store := router.NewStore(log)
	if cfg.Router.SeedRoutesFile != "" {
		if err := store.LoadSeeds(cfg.Router.SeedRoutesFile); err != nil {
			log.Warn("seed routes unavailable, starting cold", zap.Error(err))
		}
	}
	selector := router.NewRouter(cfg.Router, store, router.NeutralSentiment{}, log)

	watcher := monitor.NewMonitor(monitor.Config{
		ConfirmationTimeout: cfg.ConfirmationTimeout,
		ConfirmationRetries: cfg.ConfirmationRetries,
		ConfirmationDelay:   cfg.ConfirmationDelay,
	}, ledgerClient, analyzer, store, log)

	eng := engine.NewEngine(cfg, detector, analyzer, selector, executor, watcher, ledgerClient, log)
	return eng, ledgerClient.Close, nil
}

func parseKey(hexKey string) (*ecdsa.PrivateKey, error) {
	return crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
}

// relayRate converts the fixed-window config into requests per second for
// the relay's continuous limiter.
func relayRate(cfg config.RateLimitConfig) float64 {
	if cfg.Window <= 0 || cfg.MaxPerWindow <= 0 {
		return 5
	}
	return float64(cfg.MaxPerWindow) / cfg.Window.Seconds()
}

func loadRuntimeConfig(log *zap.Logger) (*config.Config, error) {
	if err := config.LoadEnv(); err != nil {
		log.Debug("no .env file found", zap.Error(err))
	}
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnvOverrides()
	cfg.Logger = log
	if cfg.NetworkTimeout <= 0 {
		cfg.NetworkTimeout = 20 * time.Second
	}
	return cfg, nil
}
