// Package quote wraps the external price-quote service behind rate
// limiting, timeouts and escalating slippage tolerance.
package quote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"

	"github.com/juant72/sniperforge-sub012/types"
	"github.com/juant72/sniperforge-sub012/utils/metrics"
)

const routeCacheSize = 256

// Throttle is the suspension point every quote call goes through.
type Throttle interface {
	Acquire(ctx context.Context) error
	Record(latency time.Duration)
}

// Client is the quote provider gateway. A failed, timed-out or malformed
// quote is reported as types.ErrQuoteUnavailable, never as a zero amount.
type Client struct {
	httpClient           *http.Client
	baseURL              string
	throttle             Throttle
	escalatedSlippageBps uint16
	logger               *zap.Logger
	metrics              *metrics.QuoteMetrics
	routeCache           *lru.Cache // pair key -> []types.RouteHop
}

// NewClient creates a quote gateway against baseURL.
func NewClient(baseURL string, throttle Throttle, timeout time.Duration,
	escalatedSlippageBps uint16, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cache, err := lru.New(routeCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create route cache: %w", err)
	}
	return &Client{
		httpClient:           &http.Client{Timeout: timeout},
		baseURL:              baseURL,
		throttle:             throttle,
		escalatedSlippageBps: escalatedSlippageBps,
		logger:               logger,
		metrics:              metrics.Quote(),
		routeCache:           cache,
	}, nil
}

// quoteResponse is the provider's wire format. Amounts arrive as decimal
// strings and are parsed strictly.
type quoteResponse struct {
	OutAmount      string          `json:"outAmount"`
	PriceImpactPct string          `json:"priceImpactPct"`
	RoutePlan      []routePlanStep `json:"routePlan"`
	Error          string          `json:"error"`
	ErrorCode      string          `json:"errorCode"`
}

type routePlanStep struct {
	SwapInfo struct {
		Label     string `json:"label"`
		AmmKey    string `json:"ammKey"`
		FeeBps    uint16 `json:"feeBps"`
		InputMint string `json:"inputMint"`
		OutputMint string `json:"outputMint"`
	} `json:"swapInfo"`
}

// softError reports whether the provider said "no route at this slippage"
// rather than failing outright. Those are retried once at a larger
// tolerance before giving up.
func (r *quoteResponse) softError() bool {
	switch r.ErrorCode {
	case "COULD_NOT_FIND_ANY_ROUTE", "SLIPPAGE_TOLERANCE_EXCEEDED", "NO_ROUTE":
		return true
	}
	return false
}

// Health checks the provider before first use.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create health request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("quote provider unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("quote provider unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// GetQuote fetches one leg. On a provider-reported soft error it retries
// once at the escalated slippage tolerance. Timeouts, transport failures
// and malformed payloads all collapse to types.ErrQuoteUnavailable; the
// caller treats that as "no opportunity this cycle".
func (c *Client) GetQuote(ctx context.Context, inputAsset, outputAsset common.Address,
	amount *big.Int, slippageBps uint16) (*types.QuoteResult, error) {

	c.metrics.Requests.Inc()
	result, err := c.fetch(ctx, inputAsset, outputAsset, amount, slippageBps)
	if err == nil {
		return result, nil
	}

	var soft *softRouteError
	if errors.As(err, &soft) && slippageBps < c.escalatedSlippageBps {
		c.metrics.SoftRetries.Inc()
		c.logger.Debug("retrying quote at escalated slippage",
			zap.String("input", inputAsset.Hex()),
			zap.String("output", outputAsset.Hex()),
			zap.Uint16("slippage_bps", c.escalatedSlippageBps))
		result, err = c.fetch(ctx, inputAsset, outputAsset, amount, c.escalatedSlippageBps)
		if err == nil {
			return result, nil
		}
	}

	c.metrics.Failures.Inc()
	c.logger.Debug("quote unavailable",
		zap.String("input", inputAsset.Hex()),
		zap.String("output", outputAsset.Hex()),
		zap.Error(err))
	return nil, fmt.Errorf("%w: %v", types.ErrQuoteUnavailable, err)
}

func (c *Client) fetch(ctx context.Context, inputAsset, outputAsset common.Address,
	amount *big.Int, slippageBps uint16) (*types.QuoteResult, error) {

	acquireStart := time.Now()
	if err := c.throttle.Acquire(ctx); err != nil {
		return nil, fmt.Errorf("throttle interrupted: %w", err)
	}
	if time.Since(acquireStart) > time.Millisecond {
		c.metrics.RateDeferred.Inc()
	}

	q := url.Values{}
	q.Set("inputMint", inputAsset.Hex())
	q.Set("outputMint", outputAsset.Hex())
	q.Set("amount", amount.String())
	q.Set("slippageBps", strconv.Itoa(int(slippageBps)))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/quote?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create quote request: %w", err)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.throttle.Record(time.Since(start))
	c.metrics.Latency.Observe(time.Since(start).Seconds())
	if adaptive, ok := c.throttle.(interface{ Capacity() int }); ok {
		c.metrics.RateCapacity.Set(float64(adaptive.Capacity()))
	}
	if err != nil {
		return nil, fmt.Errorf("quote request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read quote response: %w", err)
	}

	var payload quoteResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("malformed quote payload: %w", err)
	}

	if payload.softError() {
		return nil, &softRouteError{code: payload.ErrorCode, msg: payload.Error}
	}
	if resp.StatusCode != http.StatusOK || payload.Error != "" {
		return nil, fmt.Errorf("provider error (status %d): %s", resp.StatusCode, payload.Error)
	}
	if len(payload.RoutePlan) == 0 {
		return nil, &softRouteError{code: "NO_ROUTE", msg: "empty route plan"}
	}

	// Strict numeric parse; a bad amount is a failed quote, not a zero one.
	outAmount, ok := new(big.Int).SetString(payload.OutAmount, 10)
	if !ok {
		return nil, fmt.Errorf("invalid outAmount %q", payload.OutAmount)
	}
	if outAmount.Sign() < 0 {
		return nil, fmt.Errorf("negative outAmount %q", payload.OutAmount)
	}

	var priceImpact float64
	if payload.PriceImpactPct != "" {
		priceImpact, err = strconv.ParseFloat(payload.PriceImpactPct, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid priceImpactPct %q", payload.PriceImpactPct)
		}
	}

	hops := make([]types.RouteHop, 0, len(payload.RoutePlan))
	for _, step := range payload.RoutePlan {
		hops = append(hops, types.RouteHop{
			Venue:     step.SwapInfo.Label,
			Pool:      common.HexToAddress(step.SwapInfo.AmmKey),
			FeeBps:    step.SwapInfo.FeeBps,
			InputMint: common.HexToAddress(step.SwapInfo.InputMint),
			OutputMin: common.HexToAddress(step.SwapInfo.OutputMint),
		})
	}
	c.routeCache.Add(pairKey(inputAsset, outputAsset), hops)

	return &types.QuoteResult{
		InputAsset:     inputAsset,
		OutputAsset:    outputAsset,
		InputAmount:    new(big.Int).Set(amount),
		OutputAmount:   outAmount,
		RouteHops:      hops,
		PriceImpactPct: priceImpact,
		SlippageBps:    slippageBps,
		FetchedAt:      time.Now(),
	}, nil
}

// LastRoute returns the most recent route seen for a pair, if any.
func (c *Client) LastRoute(inputAsset, outputAsset common.Address) ([]types.RouteHop, bool) {
	v, ok := c.routeCache.Get(pairKey(inputAsset, outputAsset))
	if !ok {
		return nil, false
	}
	hops, ok := v.([]types.RouteHop)
	return hops, ok
}

func pairKey(a, b common.Address) string {
	return a.Hex() + "/" + b.Hex()
}

// softRouteError marks a provider-reported "no route" condition.
type softRouteError struct {
	code string
	msg  string
}

func (e *softRouteError) Error() string {
	return fmt.Sprintf("no route (%s): %s", e.code, e.msg)
}
