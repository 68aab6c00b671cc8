package ledger

import (
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlippageFloor(t *testing.T) {
	// 50 bps off 498,000,000 leaves 495,510,000.
	floor := slippageFloor(big.NewInt(498_000_000), 50)
	assert.Equal(t, big.NewInt(495_510_000), floor)

	// Zero tolerance keeps the quote intact.
	assert.Equal(t, big.NewInt(498_000_000), slippageFloor(big.NewInt(498_000_000), 0))
}

func TestCycleABIPacks(t *testing.T) {
	parsed, err := abi.JSON(strings.NewReader(cycleABIJson))
	require.NoError(t, err)

	calldata, err := parsed.Pack("executeCycle",
		common.HexToAddress("0x01"),
		common.HexToAddress("0x02"),
		big.NewInt(5_000_000),
		big.NewInt(495_510_000),
		big.NewInt(1_700_000_000),
	)
	require.NoError(t, err)

	// 4-byte selector plus five 32-byte words.
	assert.Len(t, calldata, 4+5*32)
}
