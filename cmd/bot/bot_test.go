package bot

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/michaelpento.lv/mevsearcher/chain"
	"github.com/michaelpento.lv/mevsearcher/config"
	"github.com/michaelpento.lv/mevsearcher/dex"
	"github.com/michaelpento.lv/mevsearcher/dex/uniswap"
	"github.com/michaelpento.lv/mevsearcher/flashloan/aave"
	"github.com/michaelpento.lv/mevsearcher/opportunity"
	"github.com/michaelpento.lv/mevsearcher/signer"
	"github.com/michaelpento.lv/mevsearcher/strategies"
	"github.com/michaelpento.lv/mevsearcher/strategies/liquidation"
	"github.com/michaelpento.lv/mevsearcher/utils/testutils"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var (
	weth     = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	dai      = common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")
	borrower = common.HexToAddress("0x1111111111111111111111111111111111111111")
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.WSEndpoint = "ws://localhost:8546"
	cfg.MinProfitThreshold = config.NewWei(big.NewInt(1e16))
	cfg.Sandwich.Enabled = false
	cfg.Arbitrage.Enabled = false
	cfg.Liquidation.Enabled = true
	cfg.ReconnectBackoff.Duration = time.Millisecond
	cfg.MaxReconnectWait.Duration = 5 * time.Millisecond
	cfg.InFlightTimeout.Duration = time.Minute
	cfg.Execution = config.ExecutionConfig{
		WaitTimeout:      config.Duration{Duration: 2 * time.Second},
		PollInterval:     config.Duration{Duration: 5 * time.Millisecond},
		LegAcceptTimeout: config.Duration{Duration: 50 * time.Millisecond},
	}
	return cfg
}

type harness struct {
	mock   *testutils.MockChain
	bot    *Bot
	reg    *prometheus.Registry
	signer signer.Signer
}

func newHarness(t *testing.T, cfg *config.Config) *harness {
	t.Helper()
	mock := testutils.NewMockChain()
	mock.SetHead(100)
	s := signer.FromKey(testutils.NewKey(t))
	mock.SetNonce(s.Address(), 3)
	mock.SetAccountData(aave.MainnetPool, borrower, testutils.Ether(1000), testutils.Ether(900), big.NewInt(8000))

	reg := prometheus.NewRegistry()
	b, err := New(context.Background(), cfg, Options{
		Source:     mock,
		Signer:     s,
		Registerer: reg,
		Positions: liquidation.StaticPositions{
			{Borrower: borrower, Collateral: weth, Debt: weth},
		},
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	return &harness{mock: mock, bot: b, reg: reg, signer: s}
}

func (h *harness) start(t *testing.T) (context.CancelFunc, <-chan error) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.bot.Run(ctx) }()
	require.Eventually(t, func() bool {
		_, heads := h.mock.Subscribers()
		return heads > 0
	}, time.Second, time.Millisecond)
	return cancel, done
}

func wait(t *testing.T, done <-chan error) error {
	select {
	case err := <-done:
		return err
	case <-time.After(3 * time.Second):
		t.Fatal("searcher did not stop")
		return nil
	}
}

func TestLiquidationFromNewHeadToConfirmation(t *testing.T) {
	h := newHarness(t, testConfig())
	cancel, done := h.start(t)
	defer cancel()

	h.mock.PushHead(context.Background(), testutils.Header(101, 10e9))

	var sent *types.Transaction
	require.Eventually(t, func() bool {
		txs := h.mock.Submitted()
		if len(txs) == 0 {
			return false
		}
		sent = txs[0]
		return true
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, aave.MainnetPool, *sent.To())
	assert.Equal(t, uint64(3), sent.Nonce())

	// A second head with the position still open must not resubmit while
	// the first attempt is in flight.
	h.mock.PushHead(context.Background(), testutils.Header(102, 10e9))
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(h.bot.metrics.Decisions.WithLabelValues("liquidation", "duplicate")) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Len(t, h.mock.Submitted(), 1)

	h.mock.Mine(sent.Hash(), types.ReceiptStatusSuccessful, 250000)
	require.Eventually(t, func() bool {
		n, err := testutil.GatherAndCount(h.reg, "mevsearcher_outcomes_total")
		return err == nil && n == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, h.bot.ledger.InFlight.Len())

	cancel()
	assert.NoError(t, wait(t, done))
}

func TestBelowThresholdIsNotSubmitted(t *testing.T) {
	cfg := testConfig()
	cfg.MinProfitThreshold = config.NewWei(testutils.Ether(100))
	h := newHarness(t, cfg)
	cancel, done := h.start(t)

	h.mock.PushHead(context.Background(), testutils.Header(101, 10e9))
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(h.bot.metrics.Decisions.WithLabelValues("liquidation", "below_threshold")) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, h.mock.Submitted())

	cancel()
	assert.NoError(t, wait(t, done))
}

func TestStreamFailureStopsSearcher(t *testing.T) {
	cfg := testConfig()
	cfg.MaxReconnects = 2
	h := newHarness(t, cfg)
	cancel, done := h.start(t)
	defer cancel()

	h.mock.FailSubscriptions(errors.New("dial tcp: connection refused"))
	h.mock.DropSubscriptions(errors.New("websocket: close 1006"))

	err := wait(t, done)
	require.Error(t, err)
	assert.ErrorIs(t, err, chain.ErrRetriesExhausted)
}

func TestNewRejectsChainMismatch(t *testing.T) {
	cfg := testConfig()
	cfg.ChainID = 5
	_, err := New(context.Background(), cfg, Options{
		Source: testutils.NewMockChain(),
		Signer: signer.FromKey(testutils.NewKey(t)),
	}, zaptest.NewLogger(t))
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestConfiguredVenuesReplaceDefaults(t *testing.T) {
	cfg := testConfig()
	assert.Len(t, venues(cfg), 3)

	cfg.Venues = []config.VenueConfig{{Name: "local", Protocol: "uniswap_v2", FeeBps: 25}}
	v := venues(cfg)
	require.Len(t, v, 1)
	assert.Equal(t, "local", v[0].Name)
	assert.Equal(t, uint32(25), v[0].FeeBps)
}

// victimSwap sells 10 WETH for DAI on the default Uniswap V2 pool with
// slippagePct of room.
func victimSwap(t *testing.T, slippagePct int64) *types.Transaction {
	amountIn := testutils.Ether(10)
	clean := uniswap.GetAmountOut(amountIn, testutils.Ether(1000), testutils.Ether(2000000), 30)
	minOut := new(big.Int).Div(new(big.Int).Mul(clean, big.NewInt(100-slippagePct)), big.NewInt(100))

	data, err := uniswap.NewV2().EncodeSwap(dex.SwapRequest{
		AmountIn:     amountIn,
		AmountOutMin: minOut,
		Path:         []common.Address{uniswap.WETHAddress, dai},
		To:           common.HexToAddress("0x00000000000000000000000000000000000000b0"),
		Deadline:     big.NewInt(4000000000),
	})
	require.NoError(t, err)
	return testutils.SignedTx(t, testutils.NewKey(t), 0, uniswap.UniswapV2Router, nil, data)
}

func TestSandwichFromPendingTxToSubmission(t *testing.T) {
	cfg := testConfig()
	cfg.Liquidation.Enabled = false
	cfg.Sandwich.Enabled = true
	cfg.Sandwich.MaxFrontrun = config.NewWei(testutils.Ether(100))
	h := newHarness(t, cfg)

	venue := uniswap.DefaultVenues()[0]
	// DAI sorts before WETH, so reserve0 is DAI.
	h.mock.SetReserves(uniswap.PairFor(venue.Factory, venue.InitCodeHash, uniswap.WETHAddress, dai),
		testutils.Ether(2000000), testutils.Ether(1000))

	cancel, done := h.start(t)
	defer cancel()
	require.Eventually(t, func() bool {
		pending, _ := h.mock.Subscribers()
		return pending > 0
	}, time.Second, time.Millisecond)

	// The gas oracle needs a head before anything can be priced.
	h.mock.PushHead(context.Background(), testutils.Header(101, 10e9))
	require.Eventually(t, func() bool { return h.bot.heads.Number() == 101 }, time.Second, time.Millisecond)

	victim := victimSwap(t, 5)
	h.mock.AddPending(victim)
	h.mock.PushPending(context.Background(), victim.Hash())

	require.Eventually(t, func() bool {
		return len(h.mock.Submitted()) == 2
	}, 2*time.Second, 5*time.Millisecond)
	sent := h.mock.Submitted()
	assert.Equal(t, uint64(3), sent[0].Nonce())
	assert.Equal(t, uint64(4), sent[1].Nonce())

	front, err := uniswap.NewV2().DecodeSwap(sent[0].Data(), nil)
	require.NoError(t, err)
	back, err := uniswap.NewV2().DecodeSwap(sent[1].Data(), nil)
	require.NoError(t, err)
	assert.Equal(t, []common.Address{uniswap.WETHAddress, dai}, front.Path)
	assert.Equal(t, []common.Address{dai, uniswap.WETHAddress}, back.Path)
	for _, tx := range sent {
		assert.Equal(t, uniswap.UniswapV2Router, *tx.To())
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(h.bot.metrics.Decisions.WithLabelValues("sandwich", "admit")))
	assert.True(t, h.bot.ledger.InFlight.Contains("sandwich:"+victim.Hash().Hex()))

	cancel()
	assert.NoError(t, wait(t, done))
}

// recordingDetector notes the block of every event it sees.
type recordingDetector struct {
	mu     sync.Mutex
	blocks []uint64
}

func (r *recordingDetector) Name() string { return opportunity.KindArbitrage }

func (r *recordingDetector) Detect(ctx context.Context, ev strategies.Event) ([]*opportunity.Opportunity, error) {
	if n, ok := strategies.BlockOf(ev); ok {
		r.mu.Lock()
		r.blocks = append(r.blocks, n)
		r.mu.Unlock()
	}
	return nil, nil
}

func (r *recordingDetector) seen() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uint64(nil), r.blocks...)
}

func TestScanRunsOncePerHead(t *testing.T) {
	cfg := testConfig()
	cfg.Liquidation.Enabled = false
	cfg.ArbitrageScanInterval.Duration = 5 * time.Millisecond
	h := newHarness(t, cfg)
	rec := &recordingDetector{}
	h.bot.tickDetectors = append(h.bot.tickDetectors, rec)

	cancel, done := h.start(t)
	defer cancel()

	// No head yet: ticks find nothing to scan.
	time.Sleep(30 * time.Millisecond)
	assert.Empty(t, rec.seen())

	h.mock.PushHead(context.Background(), testutils.Header(101, 10e9))
	require.Eventually(t, func() bool { return len(rec.seen()) == 1 }, time.Second, time.Millisecond)
	// Many ticks pass on the same head.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, []uint64{101}, rec.seen())

	h.mock.PushHead(context.Background(), testutils.Header(102, 10e9))
	require.Eventually(t, func() bool { return len(rec.seen()) == 2 }, time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, []uint64{101, 102}, rec.seen())

	cancel()
	assert.NoError(t, wait(t, done))
}

func liquidationOpp(t *testing.T, who, pool string, profit *big.Int) *opportunity.Opportunity {
	t.Helper()
	opp, err := opportunity.New(opportunity.Liquidation{
		Protocol: "aave-v2",
		Borrower: common.HexToAddress(who),
	}, opportunity.Estimate{Profit: profit, Gas: 351000, GasPrice: big.NewInt(11e9)}, 100,
		[]opportunity.TxRequest{{To: common.HexToAddress(pool), Gas: 456300}})
	require.NoError(t, err)
	return opp
}

func TestBatchSubmitsGreatestNetProfitFirst(t *testing.T) {
	cfg := testConfig()
	cfg.Liquidation.Enabled = false
	h := newHarness(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	header := testutils.Header(100, 10e9)
	h.bot.heads.Observe(header)
	require.NoError(t, h.bot.gas.Observe(ctx, header))

	low := liquidationOpp(t, "0xb1", "0xa1", testutils.Ether(1))
	mid := liquidationOpp(t, "0xb2", "0xa2", testutils.Ether(2))
	high := liquidationOpp(t, "0xb3", "0xa3", testutils.Ether(3))
	h.bot.process(ctx, []*opportunity.Opportunity{low, high, mid})

	sent := h.mock.Submitted()
	require.Len(t, sent, 3)
	want := []string{"0xa3", "0xa2", "0xa1"}
	for i, tx := range sent {
		assert.Equal(t, common.HexToAddress(want[i]), *tx.To())
		assert.Equal(t, uint64(3+i), tx.Nonce(), "nonces follow net profit")
	}

	cancel()
	h.bot.outcomes.Wait()
	assert.Equal(t, 0, h.bot.ledger.InFlight.Len())
}

func TestNonceGapHealedOnNewHead(t *testing.T) {
	cfg := testConfig()
	cfg.Liquidation.Enabled = false
	h := newHarness(t, cfg)

	// A nonce handed out and abandoned without ever reaching the node.
	lost, err := h.bot.ledger.Nonces.Reserve(1)
	require.NoError(t, err)
	h.bot.ledger.Nonces.Settle(lost)
	require.Equal(t, uint64(4), h.bot.ledger.Nonces.Peek())

	cancel, done := h.start(t)
	defer cancel()
	h.mock.PushHead(context.Background(), testutils.Header(101, 10e9))
	require.Eventually(t, func() bool { return h.bot.ledger.Nonces.Peek() == 3 }, time.Second, time.Millisecond)

	cancel()
	assert.NoError(t, wait(t, done))
}
