package uniswap

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/michaelpento.lv/mevsearcher/dex"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	usdc = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	dai  = common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")
)

func ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}

func TestGetAmountOut(t *testing.T) {
	amountIn := ether(1)
	reserveIn := ether(10)
	reserveOut := big.NewInt(5000000000) // 5000 USDC

	// 997/1000 is the 30 bps case.
	withFee := new(big.Int).Mul(amountIn, big.NewInt(997))
	want := new(big.Int).Div(
		new(big.Int).Mul(withFee, reserveOut),
		new(big.Int).Add(new(big.Int).Mul(reserveIn, big.NewInt(1000)), withFee),
	)
	assert.Equal(t, want, GetAmountOut(amountIn, reserveIn, reserveOut, 30))

	assert.Zero(t, GetAmountOut(big.NewInt(0), reserveIn, reserveOut, 30).Sign())
	assert.Zero(t, GetAmountOut(amountIn, big.NewInt(0), reserveOut, 30).Sign())
	assert.True(t, GetAmountOut(amountIn, reserveIn, reserveOut, 0).Cmp(want) > 0, "no fee pays more")
}

func TestGetAmountInCoversRequestedOutput(t *testing.T) {
	reserveIn, reserveOut := ether(120), ether(80)
	for _, out := range []*big.Int{big.NewInt(1), ether(1), ether(40), ether(79)} {
		in := GetAmountIn(out, reserveIn, reserveOut, 30)
		require.NotNil(t, in)
		assert.True(t, GetAmountOut(in, reserveIn, reserveOut, 30).Cmp(out) >= 0, "out=%s", out)
	}
	assert.Nil(t, GetAmountIn(ether(80), reserveIn, reserveOut, 30), "cannot drain the pool")
}

func roundTrip(x, aIn, aOut, bIn, bOut *big.Int) *big.Int {
	mid := GetAmountOut(x, aIn, aOut, 30)
	back := GetAmountOut(mid, bIn, bOut, 30)
	return back.Sub(back, x)
}

func TestOptimalArbitrageInput(t *testing.T) {
	// Pool A sells the token at 2 per ETH, pool B buys it back at 0.6 ETH.
	aIn, aOut := ether(1000), ether(2000)
	bIn, bOut := ether(2000), ether(1200)

	x := OptimalArbitrageInput(aIn, aOut, bIn, bOut, 30)
	require.True(t, x.Sign() > 0)

	best := roundTrip(x, aIn, aOut, bIn, bOut)
	assert.True(t, best.Sign() > 0)

	for _, pct := range []int64{50, 90, 99, 101, 110, 150} {
		y := new(big.Int).Div(new(big.Int).Mul(x, big.NewInt(pct)), big.NewInt(100))
		assert.True(t, best.Cmp(roundTrip(y, aIn, aOut, bIn, bOut)) >= 0, "%d%% of optimum did better", pct)
	}
}

func TestOptimalArbitrageInputWithoutSpread(t *testing.T) {
	assert.Zero(t, OptimalArbitrageInput(ether(100), ether(200), ether(200), ether(100), 30).Sign())
	assert.Zero(t, OptimalArbitrageInput(nil, ether(200), ether(200), ether(100), 30).Sign())
}

func TestPairFor(t *testing.T) {
	want := common.HexToAddress("0xB4e16d0168e52d35CaCD2c6185b44281Ec28C9Dc")
	assert.Equal(t, want, PairFor(UniswapV2Factory, UniswapV2InitCode, WETHAddress, usdc))
	assert.Equal(t, want, PairFor(UniswapV2Factory, UniswapV2InitCode, usdc, WETHAddress))

	t0, t1 := SortTokens(WETHAddress, usdc)
	assert.Equal(t, usdc, t0)
	assert.Equal(t, WETHAddress, t1)
}

func TestDecodeSwapExactTokensForTokens(t *testing.T) {
	path := []common.Address{WETHAddress, dai}
	to := common.HexToAddress("0x00000000000000000000000000000000000000b0")
	data, err := routerABI.Pack(MethodSwapExactTokensForTokens, ether(3), ether(5000), path, to, big.NewInt(1700000000))
	require.NoError(t, err)

	swap, err := NewV2().DecodeSwap(data, nil)
	require.NoError(t, err)
	assert.Equal(t, MethodSwapExactTokensForTokens, swap.Method)
	assert.Equal(t, ether(3), swap.AmountIn)
	assert.Equal(t, ether(5000), swap.AmountOutMin)
	assert.Equal(t, WETHAddress, swap.TokenIn())
	assert.Equal(t, dai, swap.TokenOut())
	assert.Equal(t, to, swap.To)

	encoded, err := NewV2().EncodeSwap(dex.SwapRequest{
		AmountIn:     ether(3),
		AmountOutMin: ether(5000),
		Path:         path,
		To:           to,
		Deadline:     big.NewInt(1700000000),
	})
	require.NoError(t, err)
	assert.Equal(t, data, encoded)
}

func TestDecodeSwapExactETHForTokensUsesValue(t *testing.T) {
	data, err := routerABI.Pack(MethodSwapExactETHForTokens, ether(1), []common.Address{WETHAddress, usdc}, common.Address{}, big.NewInt(1))
	require.NoError(t, err)

	swap, err := NewV2().DecodeSwap(data, ether(2))
	require.NoError(t, err)
	assert.Equal(t, ether(2), swap.AmountIn)

	_, err = NewV2().DecodeSwap(data, nil)
	assert.ErrorIs(t, err, dex.ErrUnrecognizedCalldata)
}

func TestDecodeSwapRejectsUnknownCalldata(t *testing.T) {
	for name, data := range map[string][]byte{
		"empty":     nil,
		"short":     {0x38, 0xed},
		"transfer":  common.FromHex("0xa9059cbb0000000000000000000000000000000000000000000000000000000000000001"),
		"truncated": routerABI.Methods[MethodSwapExactTokensForTokens].ID,
	} {
		_, err := NewV2().DecodeSwap(data, nil)
		assert.ErrorIs(t, err, dex.ErrUnrecognizedCalldata, name)
	}
}

type reservesView struct {
	reserve0, reserve1 *big.Int
	calls              []common.Address
	block              *big.Int
}

func (v *reservesView) ReadState(ctx context.Context, to common.Address, data []byte, block *big.Int) ([]byte, error) {
	v.calls = append(v.calls, to)
	v.block = block
	return pairABI.Methods["getReserves"].Outputs.Pack(v.reserve0, v.reserve1, uint32(0))
}

func (v *reservesView) HeadNumber(ctx context.Context) (uint64, error) { return 0, nil }

func (v *reservesView) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	return 0, nil
}

func TestReservesAreOrientedAlongTheTrade(t *testing.T) {
	// token0 is USDC, token1 is WETH.
	view := &reservesView{reserve0: big.NewInt(5000000000), reserve1: ether(2)}
	venue := DefaultVenues()[0]

	r, err := NewV2().Reserves(context.Background(), view, venue, WETHAddress, usdc, big.NewInt(100))
	require.NoError(t, err)
	assert.Equal(t, ether(2), r.In)
	assert.Equal(t, big.NewInt(5000000000), r.Out)
	assert.Equal(t, uint64(100), r.Block)
	assert.Equal(t, big.NewInt(100), view.block)
	assert.Equal(t, PairFor(venue.Factory, venue.InitCodeHash, WETHAddress, usdc), view.calls[0])

	r, err = NewV2().Reserves(context.Background(), view, venue, usdc, WETHAddress, nil)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(5000000000), r.In)

	view.reserve0 = big.NewInt(0)
	_, err = NewV2().Reserves(context.Background(), view, venue, usdc, WETHAddress, nil)
	assert.ErrorIs(t, err, dex.ErrNoLiquidity)
}
