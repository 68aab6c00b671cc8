// Package flashbots submits transaction bundles to a protected relay so
// they never touch the public mempool.
package flashbots

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/time/rate"

	"github.com/juant72/sniperforge-sub012/types"
)

const (
	contentTypeJSON  = "application/json"
	signatureHeader  = "X-Flashbots-Signature"
	methodSendBundle = "eth_sendBundle"
)

// Client is a signed JSON-RPC client against a protected relay endpoint.
type Client struct {
	httpClient *http.Client
	relayURL   string
	authSigner *ecdsa.PrivateKey
	chainID    *big.Int
	limiter    *rate.Limiter
}

// NewClient creates a relay client. Every request body is signed with the
// auth key and carried in the signature header.
func NewClient(relayURL string, authKey *ecdsa.PrivateKey, chainID *big.Int, rps float64, burst int, timeout time.Duration) *Client {
	if rps <= 0 {
		rps = 5
	}
	if burst <= 0 {
		burst = 1
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		relayURL:   relayURL,
		authSigner: authKey,
		chainID:    chainID,
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// Bundle is a set of transactions submitted atomically.
type Bundle struct {
	Txs               [][]byte // RLP-encoded transactions
	BlockNumber       *big.Int // Target block number
	Tip               *big.Int // Payment to the builder for inclusion
	RevertingTxHashes []common.Hash
}

// SubmissionResult is the relay's verdict on one submission attempt.
type SubmissionResult struct {
	BundleID    string
	Status      types.BundleStatus
	SubmittedAt time.Time
	TipPaid     *big.Int
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type bundleParams struct {
	Txs               []string `json:"txs"`
	BlockNumber       string   `json:"blockNumber"`
	Tip               string   `json:"tip,omitempty"`
	RevertingTxHashes []string `json:"revertingTxHashes,omitempty"`
}

type rpcResponse struct {
	Result struct {
		BundleID string `json:"bundleId"`
		Status   string `json:"status"`
	} `json:"result"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// SendBundle submits a bundle with its tip. Relay rejections come back as
// types.ErrSubmissionRejected; transport timeouts as
// types.ErrSubmissionTimeout. Both are retryable by the caller.
func (c *Client) SendBundle(ctx context.Context, bundle *Bundle) (*SubmissionResult, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("relay throttle interrupted: %w", err)
	}

	txs := make([]string, len(bundle.Txs))
	for i, tx := range bundle.Txs {
		txs[i] = hexutil.Encode(tx)
	}
	reverting := make([]string, len(bundle.RevertingTxHashes))
	for i, h := range bundle.RevertingTxHashes {
		reverting[i] = h.Hex()
	}

	params := bundleParams{
		Txs:               txs,
		BlockNumber:       fmt.Sprintf("0x%x", bundle.BlockNumber),
		RevertingTxHashes: reverting,
	}
	if bundle.Tip != nil {
		params.Tip = fmt.Sprintf("0x%x", bundle.Tip)
	}

	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  methodSendBundle,
		Params:  []interface{}{params},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal bundle: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.relayURL, bytes.NewBuffer(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	header, err := c.signPayload(payload)
	if err != nil {
		return nil, err
	}
	req.Header.Add("Content-Type", contentTypeJSON)
	req.Header.Add("Accept", contentTypeJSON)
	req.Header.Add(signatureHeader, header)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrSubmissionTimeout, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read relay response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d: %s", types.ErrSubmissionRejected, resp.StatusCode, string(body))
	}

	var parsed rpcResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("malformed relay response: %w", err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("%w: %d %s", types.ErrSubmissionRejected, parsed.Error.Code, parsed.Error.Message)
	}

	status := parseStatus(parsed.Result.Status)
	result := &SubmissionResult{
		BundleID:    parsed.Result.BundleID,
		Status:      status,
		SubmittedAt: time.Now(),
		TipPaid:     bundle.Tip,
	}
	if status == types.BundleRejected {
		return result, fmt.Errorf("%w: bundle %s", types.ErrSubmissionRejected, parsed.Result.BundleID)
	}
	return result, nil
}

// signPayload produces the relay auth header over the request body.
func (c *Client) signPayload(payload []byte) (string, error) {
	signature, err := crypto.Sign(
		accounts.TextHash([]byte(hexutil.Encode(crypto.Keccak256(payload)))),
		c.authSigner,
	)
	if err != nil {
		return "", fmt.Errorf("failed to sign request: %w", err)
	}
	return fmt.Sprintf("%s:%s",
		crypto.PubkeyToAddress(c.authSigner.PublicKey).Hex(),
		hexutil.Encode(signature),
	), nil
}

func parseStatus(s string) types.BundleStatus {
	switch s {
	case "Pending", "pending":
		return types.BundlePending
	case "Accepted", "accepted":
		return types.BundleAccepted
	case "Rejected", "rejected":
		return types.BundleRejected
	case "Failed", "failed":
		return types.BundleFailed
	default:
		return types.BundleSubmitted
	}
}
