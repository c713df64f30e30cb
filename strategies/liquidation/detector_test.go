package liquidation

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/michaelpento.lv/mevsearcher/flashloan"
	"github.com/michaelpento.lv/mevsearcher/flashloan/aave"
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
	weth = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	usdc = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")

	receiver   = common.HexToAddress("0x00000000000000000000000000000000000000fe")
	underwater = common.HexToAddress("0x1111111111111111111111111111111111111111")
	healthy    = common.HexToAddress("0x2222222222222222222222222222222222222222")
	edge       = common.HexToAddress("0x3333333333333333333333333333333333333333")
)

func newFixture(t *testing.T, positions PositionSource) (*testutils.MockChain, *Detector) {
	return newFixtureWith(t, positions, Config{BaseToken: weth})
}

func newFixtureWith(t *testing.T, positions PositionSource, cfg Config) (*testutils.MockChain, *Detector) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	mock := testutils.NewMockChain()
	mock.SetHead(200)

	pool, err := aave.NewAaveProvider(mock, flashloan.ProviderConfig{FallbackPremiumBps: 9}, logger)
	require.NoError(t, err)

	threshold := big.NewInt(8000)
	mock.SetAccountData(pool.Pool(), underwater, testutils.Ether(1000), testutils.Ether(900), threshold)
	mock.SetAccountData(pool.Pool(), healthy, testutils.Ether(1000), testutils.Ether(700), threshold)
	mock.SetAccountData(pool.Pool(), edge, testutils.Ether(1000), testutils.Ether(800), threshold)

	oracle := gas.NewEstimator(mock, nil, nil, logger)
	require.NoError(t, oracle.Observe(context.Background(), testutils.Header(200, 20e9)))
	// The pool has no premium getter on the mock, so it quotes the 9 bps
	// fallback.
	lenders, err := flashloan.NewManager(logger, pool)
	require.NoError(t, err)
	estimator := profit.NewEstimator(oracle, lenders, nil, profit.Config{
		CloseFactorBps:      5000,
		LiquidationBonusBps: 10500,
	}, logger)

	return mock, NewDetector(positions, pool, estimator, cfg, logger)
}

func TestLiquidatable(t *testing.T) {
	data := func(collateral, debt int64) *aave.AccountData {
		return &aave.AccountData{
			TotalCollateral:      testutils.Ether(collateral),
			TotalDebt:            testutils.Ether(debt),
			LiquidationThreshold: big.NewInt(8000),
		}
	}
	assert.True(t, Liquidatable(data(1000, 900)))
	assert.False(t, Liquidatable(data(1000, 700)))
	assert.False(t, Liquidatable(data(1000, 800)), "exactly at the threshold is healthy")
	assert.False(t, Liquidatable(data(0, 0)))
	assert.False(t, Liquidatable(nil))
}

func TestDetectUnderwaterPosition(t *testing.T) {
	_, d := newFixture(t, StaticPositions{
		{Borrower: underwater, Collateral: usdc, Debt: weth},
		{Borrower: healthy, Collateral: usdc, Debt: weth},
		{Borrower: edge, Collateral: usdc, Debt: weth},
	})

	opps, err := d.Detect(context.Background(), strategies.NewBlock{Header: testutils.Header(200, 20e9)})
	require.NoError(t, err)
	require.Len(t, opps, 1)

	opp := opps[0]
	kind, ok := opp.Kind().(opportunity.Liquidation)
	require.True(t, ok)
	assert.Equal(t, underwater, kind.Borrower)
	assert.Equal(t, "aave-v2", kind.Protocol)
	assert.Equal(t, uint64(200), opp.TriggerBlock())

	// 450 ETH covered, 472.5 ETH seized, no loan to pay for.
	expected, _ := new(big.Int).SetString("22500000000000000000", 10)
	assert.Equal(t, expected, opp.ExpectedProfit())

	bundle := opp.Bundle()
	require.Len(t, bundle, 1)
	assert.Equal(t, aave.MainnetPool, bundle[0].To)
	want, err := aave.EncodeLiquidationCall(usdc, weth, underwater, testutils.Ether(450))
	require.NoError(t, err)
	assert.Equal(t, want, bundle[0].Data)
	assert.Equal(t, gas.WithHeadroom(gas.LiquidationCallGas), bundle[0].Gas)
}

func TestDetectThroughFlashLoanReceiver(t *testing.T) {
	_, d := newFixtureWith(t, StaticPositions{{Borrower: underwater, Collateral: usdc, Debt: weth}},
		Config{BaseToken: weth, Receiver: receiver})

	opps, err := d.Detect(context.Background(), strategies.NewBlock{Header: testutils.Header(200, 20e9)})
	require.NoError(t, err)
	require.Len(t, opps, 1)

	// 22.5 ETH bonus minus a 9 bps premium on the 450 ETH borrowed.
	expected, _ := new(big.Int).SetString("22095000000000000000", 10)
	assert.Equal(t, expected, opps[0].ExpectedProfit())
	assert.Equal(t, uint64(gas.LiquidationCallGas+gas.FlashLoanGas), opps[0].ExpectedGas())

	bundle := opps[0].Bundle()
	require.Len(t, bundle, 1)
	assert.Equal(t, receiver, bundle[0].To)
	want, err := EncodeFlashLiquidation(aave.MainnetPool, aave.MainnetPool, usdc, weth, underwater, testutils.Ether(450))
	require.NoError(t, err)
	assert.Equal(t, want, bundle[0].Data)
	assert.Equal(t, gas.WithHeadroom(gas.LiquidationCallGas+gas.FlashLoanGas), bundle[0].Gas)
}

func TestDetectNonBaseDebtLetsPoolChooseAmount(t *testing.T) {
	_, d := newFixture(t, StaticPositions{{Borrower: underwater, Collateral: weth, Debt: usdc}})

	opps, err := d.Detect(context.Background(), strategies.NewBlock{Header: testutils.Header(200, 20e9)})
	require.NoError(t, err)
	require.Len(t, opps, 1)

	want, err := aave.EncodeLiquidationCall(weth, usdc, underwater, abi.MaxUint256)
	require.NoError(t, err)
	assert.Equal(t, want, opps[0].Bundle()[0].Data)
}

type failingPositions struct{}

func (failingPositions) Positions(context.Context) ([]Position, error) {
	return nil, errors.New("indexer unavailable")
}

func TestDetectOnlyOnNewBlocks(t *testing.T) {
	_, d := newFixture(t, StaticPositions{{Borrower: underwater, Collateral: usdc, Debt: weth}})

	opps, err := d.Detect(context.Background(), strategies.PendingTx{})
	assert.NoError(t, err)
	assert.Empty(t, opps)

	opps, err = d.Detect(context.Background(), strategies.Tick{Head: 200, At: time.Now()})
	assert.NoError(t, err)
	assert.Empty(t, opps)

	_, d = newFixture(t, failingPositions{})
	_, err = d.Detect(context.Background(), strategies.NewBlock{Header: testutils.Header(200, 20e9)})
	assert.ErrorContains(t, err, "indexer unavailable")
}
