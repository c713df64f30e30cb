package liquidation

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// The searcher's flash-loan receiver borrows debtToCover of debtAsset from
// lender, liquidates user on pool and repays the loan plus premium out of the
// seized collateral. A debtToCover of MaxUint256 lets it size the loan from
// the pool's close factor.
const receiverABIJson = `[
	{
		"inputs": [
			{"internalType": "address", "name": "lender", "type": "address"},
			{"internalType": "address", "name": "pool", "type": "address"},
			{"internalType": "address", "name": "collateralAsset", "type": "address"},
			{"internalType": "address", "name": "debtAsset", "type": "address"},
			{"internalType": "address", "name": "user", "type": "address"},
			{"internalType": "uint256", "name": "debtToCover", "type": "uint256"}
		],
		"name": "flashLiquidate",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	}
]`

var receiverABI = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(receiverABIJson))
	if err != nil {
		panic(fmt.Sprintf("liquidation: bad ABI: %v", err))
	}
	return parsed
}()

// EncodeFlashLiquidation packs the receiver's flashLiquidate call.
func EncodeFlashLiquidation(lender, pool, collateral, debt, user common.Address, debtToCover *big.Int) ([]byte, error) {
	return receiverABI.Pack("flashLiquidate", lender, pool, collateral, debt, user, debtToCover)
}
