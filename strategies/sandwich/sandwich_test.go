package sandwich

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/michaelpento.lv/mevsearcher/chain"
	"github.com/michaelpento.lv/mevsearcher/dex"
	"github.com/michaelpento.lv/mevsearcher/dex/uniswap"
	"github.com/michaelpento.lv/mevsearcher/gas"
	"github.com/michaelpento.lv/mevsearcher/opportunity"
	"github.com/michaelpento.lv/mevsearcher/profit"
	"github.com/michaelpento.lv/mevsearcher/strategies"
	"github.com/michaelpento.lv/mevsearcher/utils/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var (
	dai     = common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")
	account = common.HexToAddress("0x00000000000000000000000000000000000000aa")
)

func newFixture(t *testing.T) (*testutils.MockChain, *Detector) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	mock := testutils.NewMockChain()
	mock.SetHead(100)

	venue := uniswap.DefaultVenues()[0]
	pair := uniswap.PairFor(venue.Factory, venue.InitCodeHash, uniswap.WETHAddress, dai)
	// DAI sorts before WETH, so reserve0 is DAI.
	mock.SetReserves(pair, testutils.Ether(2000000), testutils.Ether(1000))

	registry, err := dex.NewRegistry(uniswap.DefaultVenues(), uniswap.NewV2())
	require.NoError(t, err)

	oracle := gas.NewEstimator(mock, nil, nil, logger)
	require.NoError(t, oracle.Observe(context.Background(), testutils.Header(100, 10e9)))

	heads := chain.NewHeadTracker()
	heads.Observe(testutils.Header(100, 10e9))

	estimator := profit.NewEstimator(oracle, nil, nil, profit.Config{MaxFrontrun: testutils.Ether(100)}, logger)
	d := NewDetector(registry, mock, heads, estimator, Config{
		BaseToken: uniswap.WETHAddress,
		Account:   account,
	}, logger)
	d.now = func() time.Time { return time.Unix(1700000000, 0) }
	return mock, d
}

func victimTx(t *testing.T, router common.Address, path []common.Address, slippagePct int64) *types.Transaction {
	amountIn := testutils.Ether(10)
	clean := uniswap.GetAmountOut(amountIn, testutils.Ether(1000), testutils.Ether(2000000), 30)
	minOut := new(big.Int).Div(new(big.Int).Mul(clean, big.NewInt(100-slippagePct)), big.NewInt(100))

	data, err := uniswap.NewV2().EncodeSwap(dex.SwapRequest{
		AmountIn:     amountIn,
		AmountOutMin: minOut,
		Path:         path,
		To:           common.HexToAddress("0x00000000000000000000000000000000000000b0"),
		Deadline:     big.NewInt(1800000000),
	})
	require.NoError(t, err)
	return testutils.SignedTx(t, testutils.NewKey(t), 0, router, nil, data)
}

func TestDetectProfitableSandwich(t *testing.T) {
	_, d := newFixture(t)
	tx := victimTx(t, uniswap.UniswapV2Router, []common.Address{uniswap.WETHAddress, dai}, 5)

	opps, err := d.Detect(context.Background(), strategies.PendingTx{Tx: tx})
	require.NoError(t, err)
	require.Len(t, opps, 1)

	opp := opps[0]
	kind, ok := opp.Kind().(opportunity.Sandwich)
	require.True(t, ok)
	assert.Equal(t, tx.Hash(), kind.TargetTx)
	assert.Equal(t, dai, kind.Token)
	assert.Equal(t, "sandwich:"+tx.Hash().Hex(), opp.DedupKey())
	assert.Equal(t, uint64(100), opp.TriggerBlock())
	assert.True(t, opp.NetProfit(nil).Sign() > 0)

	bundle := opp.Bundle()
	require.Len(t, bundle, 2)
	for _, leg := range bundle {
		assert.Equal(t, uniswap.UniswapV2Router, leg.To)
	}

	front, err := uniswap.NewV2().DecodeSwap(bundle[0].Data, nil)
	require.NoError(t, err)
	back, err := uniswap.NewV2().DecodeSwap(bundle[1].Data, nil)
	require.NoError(t, err)
	assert.Equal(t, []common.Address{uniswap.WETHAddress, dai}, front.Path)
	assert.Equal(t, []common.Address{dai, uniswap.WETHAddress}, back.Path)
	assert.Equal(t, kind.Amount(), front.AmountIn)
	assert.Equal(t, front.AmountOutMin, back.AmountIn)
	assert.Equal(t, account, front.To)
}

func TestDetectIgnoresUninterestingTransactions(t *testing.T) {
	mock, d := newFixture(t)
	key := testutils.NewKey(t)

	cases := map[string]*types.Transaction{
		"unknown router":   victimTx(t, common.HexToAddress("0x1234"), []common.Address{uniswap.WETHAddress, dai}, 5),
		"no adapter":       victimTx(t, uniswap.UniswapV3Router, []common.Address{uniswap.WETHAddress, dai}, 5),
		"token input":      victimTx(t, uniswap.UniswapV2Router, []common.Address{dai, uniswap.WETHAddress}, 5),
		"no slippage room": victimTx(t, uniswap.UniswapV2Router, []common.Address{uniswap.WETHAddress, dai}, 0),
		"transfer":         testutils.SignedTx(t, key, 0, uniswap.UniswapV2Router, nil, common.FromHex("0xa9059cbb")),
		"plain send":       testutils.SignedTx(t, key, 1, uniswap.UniswapV2Router, testutils.Ether(1), nil),
	}
	for name, tx := range cases {
		opps, err := d.Detect(context.Background(), strategies.PendingTx{Tx: tx})
		assert.NoError(t, err, name)
		assert.Empty(t, opps, name)
	}

	opps, err := d.Detect(context.Background(), strategies.NewBlock{Header: testutils.Header(101, 1)})
	assert.NoError(t, err)
	assert.Empty(t, opps)
	assert.Empty(t, mock.Submitted())
}

func TestDetectSkipsEmptyPool(t *testing.T) {
	mock, d := newFixture(t)
	venue := uniswap.DefaultVenues()[0]
	mock.SetReserves(uniswap.PairFor(venue.Factory, venue.InitCodeHash, uniswap.WETHAddress, dai), big.NewInt(0), big.NewInt(0))

	tx := victimTx(t, uniswap.UniswapV2Router, []common.Address{uniswap.WETHAddress, dai}, 5)
	opps, err := d.Detect(context.Background(), strategies.PendingTx{Tx: tx})
	assert.NoError(t, err)
	assert.Empty(t, opps)
}
