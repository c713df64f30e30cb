package uniswap

import (
	"bytes"
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/michaelpento.lv/mevsearcher/chain"
)

const pairABIJson = `[{
	"constant": true,
	"inputs": [],
	"name": "getReserves",
	"outputs": [
		{"name": "reserve0", "type": "uint112"},
		{"name": "reserve1", "type": "uint112"},
		{"name": "blockTimestampLast", "type": "uint32"}
	],
	"stateMutability": "view",
	"type": "function"
}]`

var pairABI = mustParseABI(pairABIJson)

// SortTokens orders a pair the way the factory does.
func SortTokens(a, b common.Address) (token0, token1 common.Address) {
	if bytes.Compare(a.Bytes(), b.Bytes()) > 0 {
		return b, a
	}
	return a, b
}

// PairFor derives the CREATE2 pair address without a node round trip.
func PairFor(factory common.Address, initCodeHash common.Hash, a, b common.Address) common.Address {
	token0, token1 := SortTokens(a, b)
	salt := crypto.Keccak256(token0.Bytes(), token1.Bytes())
	return common.BytesToAddress(crypto.Keccak256(
		[]byte{0xff},
		factory.Bytes(),
		salt,
		initCodeHash.Bytes(),
	))
}

// readReserves calls getReserves on pair at block and returns
// (reserve0, reserve1).
func readReserves(ctx context.Context, view chain.View, pair common.Address, block *big.Int) (*big.Int, *big.Int, error) {
	data, err := pairABI.Pack("getReserves")
	if err != nil {
		return nil, nil, err
	}
	raw, err := view.ReadState(ctx, pair, data, block)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read reserves of %s: %w", pair.Hex(), err)
	}
	if len(raw) == 0 {
		// No code at the derived address.
		return big.NewInt(0), big.NewInt(0), nil
	}
	out, err := pairABI.Unpack("getReserves", raw)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decode reserves of %s: %w", pair.Hex(), err)
	}
	reserve0, ok := out[0].(*big.Int)
	if !ok {
		return nil, nil, fmt.Errorf("failed to parse reserve0")
	}
	reserve1, ok := out[1].(*big.Int)
	if !ok {
		return nil, nil, fmt.Errorf("failed to parse reserve1")
	}
	return reserve0, reserve1, nil
}
