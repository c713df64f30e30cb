// Package uniswap is the constant-product (Uniswap V2 style) adapter. It
// serves every fork that keeps the V2 router ABI and pair layout, such as
// SushiSwap.
package uniswap

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/michaelpento.lv/mevsearcher/chain"
	"github.com/michaelpento.lv/mevsearcher/dex"
)

const Protocol = "uniswap_v2"

// Mainnet deployments.
var (
	WETHAddress = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")

	UniswapV2Router   = common.HexToAddress("0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D")
	UniswapV2Factory  = common.HexToAddress("0x5C69bEe701ef814a2B6a3EDD4B1652CB9cc5aA6f")
	UniswapV2InitCode = common.HexToHash("0x96e8ac4277198ff8b6f785478aa9a39f403cb768dd02cbee326c3e7da348845f")

	SushiSwapRouter   = common.HexToAddress("0xd9e1cE17f2641f24aE83637ab66a2cca9C378B9F")
	SushiSwapFactory  = common.HexToAddress("0xC0AEe478e3658e2610c5F7A4A2E1777cE9e4f2Ac")
	SushiSwapInitCode = common.HexToHash("0xe18a34eb0e04b04f7a0ac29a6e80748dca96319b42c520ea50e5fa1b0c4a2b8c")

	// UniswapV3Router is recognised as a venue but has no adapter.
	UniswapV3Router = common.HexToAddress("0xE592427A0AEce92De3Edee1F18E0157C05861564")
)

// DefaultVenues are used when configuration lists none.
func DefaultVenues() []dex.Venue {
	return []dex.Venue{
		{
			Name:         "uniswap_v2",
			Protocol:     Protocol,
			Router:       UniswapV2Router,
			Factory:      UniswapV2Factory,
			InitCodeHash: UniswapV2InitCode,
			FeeBps:       30,
		},
		{
			Name:         "sushiswap",
			Protocol:     Protocol,
			Router:       SushiSwapRouter,
			Factory:      SushiSwapFactory,
			InitCodeHash: SushiSwapInitCode,
			FeeBps:       30,
		},
		{
			Name:     "uniswap_v3",
			Protocol: "uniswap_v3",
			Router:   UniswapV3Router,
		},
	}
}

// V2 implements dex.Adapter.
type V2 struct{}

var _ dex.Adapter = V2{}

func NewV2() V2 { return V2{} }

func (V2) Protocol() string { return Protocol }

func (V2) DecodeSwap(data []byte, value *big.Int) (*dex.Swap, error) {
	return decodeRouterCall(data, value)
}

func (V2) EncodeSwap(req dex.SwapRequest) ([]byte, error) {
	return encodeSwapExactTokensForTokens(req)
}

func (V2) Reserves(ctx context.Context, view chain.View, venue dex.Venue, tokenIn, tokenOut common.Address, block *big.Int) (*dex.Reserves, error) {
	if tokenIn == tokenOut {
		return nil, fmt.Errorf("identical tokens %s", tokenIn.Hex())
	}
	pair := PairFor(venue.Factory, venue.InitCodeHash, tokenIn, tokenOut)
	reserve0, reserve1, err := readReserves(ctx, view, pair, block)
	if err != nil {
		return nil, err
	}
	if reserve0.Sign() == 0 || reserve1.Sign() == 0 {
		return nil, fmt.Errorf("%w: %s on %s", dex.ErrNoLiquidity, pair.Hex(), venue.Name)
	}

	r := &dex.Reserves{In: reserve0, Out: reserve1}
	if token0, _ := SortTokens(tokenIn, tokenOut); token0 != tokenIn {
		r.In, r.Out = reserve1, reserve0
	}
	if block != nil {
		r.Block = block.Uint64()
	}
	return r, nil
}

func (V2) AmountOut(venue dex.Venue, amountIn *big.Int, r *dex.Reserves) *big.Int {
	if r == nil {
		return big.NewInt(0)
	}
	return GetAmountOut(amountIn, r.In, r.Out, venue.FeeBps)
}
