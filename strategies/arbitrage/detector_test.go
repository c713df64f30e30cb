package arbitrage

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/michaelpento.lv/mevsearcher/dex"
	"github.com/michaelpento.lv/mevsearcher/dex/uniswap"
	"github.com/michaelpento.lv/mevsearcher/gas"
	"github.com/michaelpento.lv/mevsearcher/opportunity"
	"github.com/michaelpento.lv/mevsearcher/profit"
	"github.com/michaelpento.lv/mevsearcher/strategies"
	"github.com/michaelpento.lv/mevsearcher/utils/testutils"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var dai = common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")

type countingEstimator struct {
	inner strategies.Estimator
	mu    sync.Mutex
	calls int
}

func (c *countingEstimator) Estimate(ctx context.Context, cand profit.Candidate) (profit.Result, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return c.inner.Estimate(ctx, cand)
}

type blockRecorder struct {
	mu     sync.Mutex
	blocks []*big.Int
}

func (r *blockRecorder) reservesAt(daiReserve, wethReserve *big.Int) testutils.CallHandler {
	uint112, _ := abi.NewType("uint112", "", nil)
	uint32T, _ := abi.NewType("uint32", "", nil)
	outputs := abi.Arguments{{Type: uint112}, {Type: uint112}, {Type: uint32T}}
	return func(data []byte, block *big.Int) ([]byte, error) {
		r.mu.Lock()
		r.blocks = append(r.blocks, block)
		r.mu.Unlock()
		return outputs.Pack(daiReserve, wethReserve, uint32(0))
	}
}

// newFixture prices DAI at 2000 per ETH on uniswap and sushiDAI per 1000 ETH
// on sushiswap.
func newFixture(t *testing.T, sushiDAI int64) (*Detector, *countingEstimator, *blockRecorder) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	mock := testutils.NewMockChain()
	rec := &blockRecorder{}
	getReserves := crypto.Keccak256([]byte("getReserves()"))[:4]

	venues := uniswap.DefaultVenues()
	uni, sushi := venues[0], venues[1]
	mock.HandleCall(uniswap.PairFor(uni.Factory, uni.InitCodeHash, uniswap.WETHAddress, dai), getReserves,
		rec.reservesAt(testutils.Ether(2000000), testutils.Ether(1000)))
	mock.HandleCall(uniswap.PairFor(sushi.Factory, sushi.InitCodeHash, uniswap.WETHAddress, dai), getReserves,
		rec.reservesAt(testutils.Ether(sushiDAI), testutils.Ether(1000)))

	registry, err := dex.NewRegistry(venues, uniswap.NewV2())
	require.NoError(t, err)

	oracle := gas.NewEstimator(mock, nil, nil, logger)
	require.NoError(t, oracle.Observe(context.Background(), testutils.Header(500, 20e9)))
	est := &countingEstimator{inner: profit.NewEstimator(oracle, nil, nil, profit.Config{MaxTradeSize: testutils.Ether(50)}, logger)}

	d := NewDetector(registry, mock, est, Config{
		BaseToken:    uniswap.WETHAddress,
		Tokens:       []common.Address{dai, uniswap.WETHAddress},
		SafetyMargin: decimal.RequireFromString("0.001"),
		Account:      common.HexToAddress("0xaa"),
	}, logger)
	d.now = func() time.Time { return time.Unix(1700000000, 0) }
	return d, est, rec
}

func TestDetectArbitrage(t *testing.T) {
	d, _, rec := newFixture(t, 2100000)

	opps, err := d.Detect(context.Background(), strategies.Tick{Head: 500, At: time.Now()})
	require.NoError(t, err)
	require.Len(t, opps, 1)

	opp := opps[0]
	kind, ok := opp.Kind().(opportunity.Arbitrage)
	require.True(t, ok)
	assert.Equal(t, []string{"sushiswap", "uniswap_v2"}, kind.Path())
	assert.Equal(t, uniswap.WETHAddress, kind.TokenIn)
	assert.Equal(t, dai, kind.TokenOut)
	assert.Equal(t, uint64(500), opp.TriggerBlock())
	assert.True(t, opp.NetProfit(nil).Sign() > 0)

	bundle := opp.Bundle()
	require.Len(t, bundle, 2)
	assert.Equal(t, uniswap.SushiSwapRouter, bundle[0].To)
	assert.Equal(t, uniswap.UniswapV2Router, bundle[1].To)

	// Every reserve read is pinned to the tick's block.
	require.NotEmpty(t, rec.blocks)
	for _, b := range rec.blocks {
		assert.Equal(t, big.NewInt(500), b)
	}
}

func TestDetectSpreadBelowSafetyMarginIsNeverEmitted(t *testing.T) {
	// 0.2% spread against 0.6% of router fees.
	d, est, _ := newFixture(t, 2004000)

	opps, err := d.Detect(context.Background(), strategies.NewBlock{Header: testutils.Header(500, 20e9)})
	require.NoError(t, err)
	assert.Empty(t, opps)
	assert.Zero(t, est.calls, "prefilter rejects before sizing")
}

func TestDetectIgnoresPendingTransactions(t *testing.T) {
	d, est, rec := newFixture(t, 2100000)
	opps, err := d.Detect(context.Background(), strategies.PendingTx{})
	assert.NoError(t, err)
	assert.Empty(t, opps)
	assert.Zero(t, est.calls)
	assert.Empty(t, rec.blocks)
}

func TestSpreadAndFeeCost(t *testing.T) {
	buy := &dex.Reserves{In: big.NewInt(1000), Out: big.NewInt(2100)}
	sell := &dex.Reserves{In: big.NewInt(1000), Out: big.NewInt(2000)}
	assert.True(t, Spread(buy, sell).Equal(decimal.RequireFromString("0.05")))
	assert.True(t, Spread(sell, buy).IsNegative())

	v := dex.Venue{FeeBps: 30}
	assert.True(t, FeeCost(v, v).Equal(decimal.RequireFromString("0.005991")))
}
