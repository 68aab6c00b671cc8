package ledger

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/juant72/sniperforge-sub012/types"
)

// Executor contract ABI: one entry point running both legs atomically and
// reverting unless minReturn is met.
const cycleABIJson = `[{
	"inputs": [
		{"name": "assetA", "type": "address"},
		{"name": "assetB", "type": "address"},
		{"name": "amountIn", "type": "uint256"},
		{"name": "minReturn", "type": "uint256"},
		{"name": "deadline", "type": "uint256"}
	],
	"name": "executeCycle",
	"outputs": [{"name": "amountOut", "type": "uint256"}],
	"stateMutability": "nonpayable",
	"type": "function"
}]`

const cycleGasLimit = 600_000

// CycleTxBuilder assembles and signs the on-chain cycle transaction.
type CycleTxBuilder struct {
	client   *Client
	contract common.Address
	key      *ecdsa.PrivateKey
	account  common.Address
	chainID  *big.Int
	cycleABI abi.ABI
	logger   *zap.Logger
}

func NewCycleTxBuilder(client *Client, contract common.Address, key *ecdsa.PrivateKey, chainID *big.Int, logger *zap.Logger) (*CycleTxBuilder, error) {
	parsedABI, err := abi.JSON(strings.NewReader(cycleABIJson))
	if err != nil {
		return nil, fmt.Errorf("failed to parse cycle ABI: %w", err)
	}
	return &CycleTxBuilder{
		client:   client,
		contract: contract,
		key:      key,
		account:  crypto.PubkeyToAddress(key.PublicKey),
		chainID:  chainID,
		cycleABI: parsedABI,
		logger:   logger,
	}, nil
}

// BuildCycleTx packs both legs into one executeCycle call, signed and
// encoded for either the relay or the public path. The contract reverts
// unless the realized return clears the slippage-adjusted minimum.
func (b *CycleTxBuilder) BuildCycleTx(ctx context.Context, plan *types.ExecutionPlan) ([]byte, error) {
	opp := plan.Opportunity
	assetA, assetB := opp.Pair()

	minReturn := slippageFloor(opp.Leg2.OutputAmount, plan.SlippageToleranceBps)
	deadline := big.NewInt(plan.Deadline.Unix())

	calldata, err := b.cycleABI.Pack("executeCycle",
		assetA, assetB, opp.Leg1.InputAmount, minReturn, deadline)
	if err != nil {
		return nil, fmt.Errorf("failed to pack cycle call: %w", err)
	}

	nonce, err := b.client.eth.PendingNonceAt(ctx, b.account)
	if err != nil {
		return nil, fmt.Errorf("%w: pending nonce: %v", types.ErrLedgerRPC, err)
	}

	head, err := b.client.eth.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: head header: %v", types.ErrLedgerRPC, err)
	}
	feeCap := new(big.Int).Add(
		new(big.Int).Mul(head.BaseFee, big.NewInt(2)),
		plan.PriorityFee,
	)

	tx := ethtypes.NewTx(&ethtypes.DynamicFeeTx{
		ChainID:   b.chainID,
		Nonce:     nonce,
		GasTipCap: plan.PriorityFee,
		GasFeeCap: feeCap,
		Gas:       cycleGasLimit,
		To:        &b.contract,
		Data:      calldata,
	})

	signed, err := ethtypes.SignTx(tx, ethtypes.LatestSignerForChainID(b.chainID), b.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign cycle tx: %w", err)
	}

	raw, err := signed.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to encode cycle tx: %w", err)
	}

	b.logger.Debug("cycle tx built",
		zap.String("opportunity", opp.ID),
		zap.Uint64("nonce", nonce),
		zap.String("min_return", minReturn.String()))
	return raw, nil
}

// slippageFloor lowers the quoted output by the tolerance in basis points.
func slippageFloor(quoted *big.Int, toleranceBps uint16) *big.Int {
	floor := new(big.Int).Mul(quoted, big.NewInt(int64(10_000-toleranceBps)))
	return floor.Div(floor, big.NewInt(10_000))
}
