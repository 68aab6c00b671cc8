// Package ledger wraps the chain RPC client behind the narrow read and
// broadcast surfaces the rest of the engine consumes.
package ledger

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"github.com/juant72/sniperforge-sub012/mev"
	"github.com/juant72/sniperforge-sub012/types"
)

// Client is the single RPC connection shared by the analyzer, executor,
// monitor and engine.
type Client struct {
	eth     *ethclient.Client
	account common.Address
	chainID *big.Int
	logger  *zap.Logger
}

// Dial connects to the RPC endpoint. The key only determines which
// account's balance is read; signing happens elsewhere.
func Dial(ctx context.Context, rpcURL string, key *ecdsa.PrivateKey, chainID *big.Int, logger *zap.Logger) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", types.ErrLedgerRPC, rpcURL, err)
	}
	return &Client{
		eth:     eth,
		account: crypto.PubkeyToAddress(key.PublicKey),
		chainID: chainID,
		logger:  logger,
	}, nil
}

func (c *Client) Close() {
	c.eth.Close()
}

// BlockNumber returns the current head number.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	n, err := c.eth.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: block number: %v", types.ErrLedgerRPC, err)
	}
	return n, nil
}

// Balance reads the executing account's balance at the latest block.
func (c *Client) Balance(ctx context.Context) (*big.Int, error) {
	balance, err := c.eth.BalanceAt(ctx, c.account, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: balance of %s: %v", types.ErrLedgerRPC, c.account.Hex(), err)
	}
	return balance, nil
}

// TransactionReceipt passes through to the RPC client. A missing receipt
// keeps ethereum.NotFound so callers can poll on it.
func (c *Client) TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error) {
	return c.eth.TransactionReceipt(ctx, txHash)
}

// SendRawTransaction decodes and broadcasts a signed transaction.
func (c *Client) SendRawTransaction(ctx context.Context, raw []byte) (common.Hash, error) {
	tx := new(ethtypes.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return common.Hash{}, fmt.Errorf("malformed raw transaction: %w", err)
	}
	if err := c.eth.SendTransaction(ctx, tx); err != nil {
		return common.Hash{}, fmt.Errorf("%w: broadcast: %v", types.ErrLedgerRPC, err)
	}
	c.logger.Debug("transaction broadcast", zap.String("hash", tx.Hash().Hex()))
	return tx.Hash(), nil
}

// RecentSamples walks back n+1 block headers and reports tx count and
// inter-block interval for each of the last n blocks.
func (c *Client) RecentSamples(ctx context.Context, n int) ([]mev.ThroughputSample, error) {
	if n <= 0 {
		return nil, nil
	}
	head, err := c.eth.BlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: head: %v", types.ErrLedgerRPC, err)
	}
	if head == 0 {
		return nil, nil
	}

	samples := make([]mev.ThroughputSample, 0, n)
	prevTime := uint64(0)
	start := uint64(0)
	if uint64(n) < head {
		start = head - uint64(n)
	}
	for num := start; num <= head; num++ {
		block, err := c.eth.BlockByNumber(ctx, new(big.Int).SetUint64(num))
		if err != nil {
			return nil, fmt.Errorf("%w: block %d: %v", types.ErrLedgerRPC, num, err)
		}
		if prevTime > 0 {
			samples = append(samples, mev.ThroughputSample{
				TxCount:  uint64(len(block.Transactions())),
				Interval: time.Duration(block.Time()-prevTime) * time.Second,
			})
		}
		prevTime = block.Time()
	}
	return samples, nil
}
