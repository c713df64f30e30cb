// Package bot wires detectors, the ranker and the executor into the three
// monitoring loops and the single submission stage.
package bot

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/michaelpento.lv/mevsearcher/chain"
	"github.com/michaelpento.lv/mevsearcher/config"
	"github.com/michaelpento.lv/mevsearcher/dex"
	"github.com/michaelpento.lv/mevsearcher/dex/uniswap"
	"github.com/michaelpento.lv/mevsearcher/executor"
	"github.com/michaelpento.lv/mevsearcher/flashloan"
	"github.com/michaelpento.lv/mevsearcher/flashloan/aave"
	"github.com/michaelpento.lv/mevsearcher/flashloan/balancer"
	"github.com/michaelpento.lv/mevsearcher/gas"
	"github.com/michaelpento.lv/mevsearcher/ledger"
	"github.com/michaelpento.lv/mevsearcher/mempool"
	"github.com/michaelpento.lv/mevsearcher/opportunity"
	"github.com/michaelpento.lv/mevsearcher/profit"
	"github.com/michaelpento.lv/mevsearcher/ranker"
	"github.com/michaelpento.lv/mevsearcher/signer"
	"github.com/michaelpento.lv/mevsearcher/strategies"
	"github.com/michaelpento.lv/mevsearcher/strategies/arbitrage"
	"github.com/michaelpento.lv/mevsearcher/strategies/liquidation"
	"github.com/michaelpento.lv/mevsearcher/strategies/sandwich"
	"github.com/michaelpento.lv/mevsearcher/utils/metrics"
	"github.com/michaelpento.lv/mevsearcher/utils/monitor"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// MetricsNamespace prefixes every exported metric.
const MetricsNamespace = "mevsearcher"

// stallBlocks is how many block times may pass without a new head before the
// health monitor reports a stall.
const stallBlocks = 5

// Options carries the collaborators built outside the bot.
type Options struct {
	Source chain.Source
	Signer signer.Signer
	// Relay is optional. Without it bundles go out leg by leg.
	Relay executor.Relay
	// Registerer defaults to a private registry.
	Registerer   prometheus.Registerer
	ChainMetrics *metrics.ChainMetrics
	// Positions overrides the configured liquidation watch list.
	Positions liquidation.PositionSource
}

// Bot represents the searcher instance
type Bot struct {
	cfg    *config.Config
	source chain.Source

	heads    *chain.HeadTracker
	gas      *gas.Estimator
	ledger   *ledger.Ledger
	ranker   *ranker.Ranker
	executor *executor.Executor

	mempool    *mempool.Monitor
	headStream *chain.Stream[*types.Header]
	health     *monitor.Health

	pendingDetectors []strategies.Detector
	blockDetectors   []strategies.Detector
	// tickDetectors run at most once per head, from whichever of the block
	// and scan loops reaches it first.
	tickDetectors []strategies.Detector
	scanned       atomic.Uint64

	candidates chan *opportunity.Opportunity
	outcomes   sync.WaitGroup

	metrics      *metrics.PipelineMetrics
	chainMetrics *metrics.ChainMetrics
	logger       *zap.Logger
}

// New builds every component from cfg. It checks the node's chain id and
// seeds the nonce counter, so it talks to the node.
func New(ctx context.Context, cfg *config.Config, opts Options, logger *zap.Logger) (*Bot, error) {
	if opts.Source == nil || opts.Signer == nil {
		return nil, errors.New("bot: source and signer are required")
	}
	source := opts.Source
	account := opts.Signer.Address()

	id, err := source.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read chain id: %w", err)
	}
	if id.Uint64() != cfg.ChainID {
		return nil, fmt.Errorf("%w: node is on chain %s, configured for %d", config.ErrInvalidConfig, id, cfg.ChainID)
	}

	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	pm := metrics.NewPipelineMetrics(reg, MetricsNamespace)
	em := metrics.NewExecutorMetrics(reg, MetricsNamespace)

	heads := chain.NewHeadTracker()
	gasEstimator := gas.NewEstimator(source, cfg.MaxGasPrice.Value(), cfg.DefaultTip.Value(), logger)

	l, err := ledger.New(ctx, source, account, cfg.InFlightTimeout.Duration, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create ledger: %w", err)
	}

	registry, err := dex.NewRegistry(venues(cfg), uniswap.NewV2())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", config.ErrInvalidConfig, err)
	}

	lendingPool, err := aave.NewAaveProvider(source, flashloan.ProviderConfig{
		Pool:               cfg.Liquidation.Pool,
		FallbackPremiumBps: cfg.Liquidation.FallbackPremiumBps,
		CacheTTL:           cfg.Liquidation.PremiumCacheTTL.Duration,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create lending pool reader: %w", err)
	}
	lenders := []flashloan.PremiumSource{lendingPool}
	if cfg.Liquidation.BalancerVault != (common.Address{}) {
		vault, err := balancer.NewProvider(source, flashloan.ProviderConfig{
			Pool:               cfg.Liquidation.BalancerVault,
			FallbackPremiumBps: cfg.Liquidation.FallbackPremiumBps,
			CacheTTL:           cfg.Liquidation.PremiumCacheTTL.Duration,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create vault reader: %w", err)
		}
		lenders = append(lenders, vault)
	}
	premiums, err := flashloan.NewManager(logger, lenders...)
	if err != nil {
		return nil, err
	}

	estimator := profit.NewEstimator(gasEstimator, premiums, source, profit.Config{
		MaxFrontrun:         cfg.Sandwich.MaxFrontrun.Value(),
		MaxTradeSize:        cfg.Arbitrage.MaxTradeSize.Value(),
		CloseFactorBps:      cfg.Liquidation.CloseFactorBps,
		LiquidationBonusBps: cfg.Liquidation.LiquidationBonusBps,
		Simulate:            cfg.Liquidation.Simulate,
		From:                account,
	}, logger)

	rk, err := ranker.New(ranker.Config{
		MinProfitThreshold: cfg.MinProfitThreshold.Value(),
		StaleTolerance:     cfg.StaleTolerance,
	}, l.InFlight, gasEstimator, pm, logger)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", config.ErrInvalidConfig, err)
	}

	exec, err := executor.New(source, opts.Signer, l, gasEstimator, opts.Relay, executor.Config{
		ChainID:          new(big.Int).SetUint64(cfg.ChainID),
		WaitTimeout:      cfg.Execution.WaitTimeout.Duration,
		PollInterval:     cfg.Execution.PollInterval.Duration,
		LegAcceptTimeout: cfg.Execution.LegAcceptTimeout.Duration,
		SimulateBundles:  cfg.Execution.SimulateBundles,
	}, em, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create executor: %w", err)
	}

	streamCfg := chain.StreamConfig{
		InitialBackoff: cfg.ReconnectBackoff.Duration,
		MaxBackoff:     cfg.MaxReconnectWait.Duration,
		MaxRetries:     cfg.MaxReconnects,
	}

	b := &Bot{
		cfg:          cfg,
		source:       source,
		heads:        heads,
		gas:          gasEstimator,
		ledger:       l,
		ranker:       rk,
		executor:     exec,
		headStream:   chain.NewStream[*types.Header]("heads", source.SubscribeNewHeads, streamCfg, opts.ChainMetrics, logger),
		candidates:   make(chan *opportunity.Opportunity, cfg.CandidateBuffer),
		metrics:      pm,
		chainMetrics: opts.ChainMetrics,
		logger:       logger.Named("bot"),
	}
	b.health = monitor.NewHealth(b.snapshot, monitor.Config{
		Interval:   cfg.BlockTime.Duration,
		StallAfter: stallBlocks * cfg.BlockTime.Duration,
	}, reg, MetricsNamespace, logger)

	if cfg.Sandwich.Enabled {
		b.mempool, err = mempool.NewMonitor(source, mempool.Config{
			CacheSize: cfg.MempoolCacheSize,
			Stream:    streamCfg,
		}, opts.ChainMetrics, pm, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create mempool monitor: %w", err)
		}
		b.pendingDetectors = append(b.pendingDetectors, sandwich.NewDetector(registry, source, heads, estimator, sandwich.Config{
			BaseToken:      cfg.BaseToken,
			Account:        account,
			DeadlineWindow: cfg.DeadlineWindow.Duration,
		}, logger))
	}
	if cfg.Arbitrage.Enabled {
		d := arbitrage.NewDetector(registry, source, estimator, arbitrage.Config{
			BaseToken:      cfg.BaseToken,
			Tokens:         cfg.Arbitrage.Tokens,
			SafetyMargin:   cfg.Arbitrage.SafetyMargin,
			Account:        account,
			DeadlineWindow: cfg.DeadlineWindow.Duration,
		}, logger)
		b.tickDetectors = append(b.tickDetectors, d)
	}
	if cfg.Liquidation.Enabled {
		positions := opts.Positions
		if positions == nil {
			positions = watchList(cfg.Liquidation.Positions)
		}
		b.blockDetectors = append(b.blockDetectors, liquidation.NewDetector(positions, lendingPool, estimator, liquidation.Config{
			Protocol:  cfg.Liquidation.Protocol,
			BaseToken: cfg.BaseToken,
			Receiver:  cfg.Liquidation.FlashLoanReceiver,
		}, logger))
	}

	b.logger.Info("Searcher configured",
		zap.Stringer("account", account),
		zap.Uint64("chain_id", cfg.ChainID),
		zap.Int("venues", registry.Len()),
		zap.Uint64("next_nonce", l.Nonces.Peek()),
		zap.Bool("relay", opts.Relay != nil),
		zap.Bool("sandwich", cfg.Sandwich.Enabled),
		zap.Bool("arbitrage", cfg.Arbitrage.Enabled),
		zap.Bool("liquidation", cfg.Liquidation.Enabled),
	)
	return b, nil
}

func venues(cfg *config.Config) []dex.Venue {
	if len(cfg.Venues) == 0 {
		return uniswap.DefaultVenues()
	}
	out := make([]dex.Venue, 0, len(cfg.Venues))
	for _, v := range cfg.Venues {
		out = append(out, dex.Venue{
			Name:         v.Name,
			Protocol:     v.Protocol,
			Router:       v.Router,
			Factory:      v.Factory,
			InitCodeHash: v.InitCodeHash,
			FeeBps:       v.FeeBps,
		})
	}
	return out
}

func watchList(cfgs []config.PositionConfig) liquidation.StaticPositions {
	out := make(liquidation.StaticPositions, 0, len(cfgs))
	for _, p := range cfgs {
		out = append(out, liquidation.Position{Borrower: p.Borrower, Collateral: p.Collateral, Debt: p.Debt})
	}
	return out
}

// Run blocks until ctx is cancelled or a loop fails. Transactions already
// broadcast are not retracted; outcome waiters are given the chance to
// record their state before Run returns. A cancelled ctx is a clean exit.
func (b *Bot) Run(ctx context.Context) error {
	b.logger.Info("Starting searcher")
	defer b.close()

	g, gctx := errgroup.WithContext(ctx)
	if b.mempool != nil {
		g.Go(func() error { return b.mempoolLoop(gctx) })
	}
	g.Go(func() error { return b.blockLoop(gctx) })
	if len(b.tickDetectors) > 0 {
		g.Go(func() error { return b.scanLoop(gctx) })
	}
	g.Go(func() error { return b.submitLoop(gctx) })
	g.Go(func() error { return b.health.Run(gctx) })

	err := g.Wait()
	b.outcomes.Wait()

	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		b.logger.Info("Searcher stopped")
		return nil
	}
	b.logger.Error("Searcher failed", zap.Error(err))
	return err
}

func (b *Bot) close() {
	if b.mempool != nil {
		b.mempool.Close()
	}
	b.headStream.Close()
}

func (b *Bot) snapshot() monitor.Snapshot {
	s := monitor.Snapshot{
		InFlight:   b.ledger.InFlight.Len(),
		NextNonce:  b.ledger.Nonces.Peek(),
		QueueDepth: len(b.candidates),
	}
	if h := b.heads.Header(); h != nil {
		s.Head = h.Number.Uint64()
		s.HeadTime = time.Unix(int64(h.Time), 0)
	}
	return s
}

// mempoolLoop feeds unseen pending transactions to the pending detectors.
func (b *Bot) mempoolLoop(ctx context.Context) error {
	for {
		tx, err := b.mempool.Next(ctx)
		if err != nil {
			return fmt.Errorf("mempool loop: %w", err)
		}
		b.detect(ctx, b.pendingDetectors, strategies.PendingTx{Tx: tx.Transaction})
	}
}

// blockLoop advances the head, refreshes the gas oracle and runs the block
// detectors once per new head.
func (b *Bot) blockLoop(ctx context.Context) error {
	for {
		header, err := b.headStream.Next(ctx)
		if err != nil {
			return fmt.Errorf("block loop: %w", err)
		}
		b.metrics.Events.WithLabelValues("block").Inc()
		if !b.heads.Observe(header) {
			continue
		}
		if err := b.gas.Observe(ctx, header); err != nil {
			b.logger.Warn("Failed to refresh gas price", zap.Error(err))
		}
		if b.chainMetrics != nil {
			b.chainMetrics.Head.Set(float64(header.Number.Uint64()))
			if header.BaseFee != nil {
				b.chainMetrics.BaseFee.Set(float64(header.BaseFee.Uint64()))
			}
		}
		if n := b.ledger.InFlight.Sweep(); n > 0 {
			b.logger.Debug("Expired in-flight entries", zap.Int("count", n))
		}
		if _, err := b.ledger.Nonces.Heal(ctx); err != nil {
			b.logger.Warn("Failed to check nonce gap", zap.Error(err))
		}
		ev := strategies.NewBlock{Header: header}
		b.detect(ctx, b.blockDetectors, ev)
		if len(b.tickDetectors) > 0 && b.claimScan(header.Number.Uint64()) {
			b.detect(ctx, b.tickDetectors, ev)
		}
	}
}

// claimScan reports whether head has not been scanned by the tick detectors
// yet, and marks it scanned.
func (b *Bot) claimScan(head uint64) bool {
	for {
		last := b.scanned.Load()
		if head <= last {
			return false
		}
		if b.scanned.CompareAndSwap(last, head) {
			return true
		}
	}
}

// scanLoop runs the tick detectors as soon as a head they have not seen is
// known. Reads are pinned to the head, so rescanning it finds nothing new.
func (b *Bot) scanLoop(ctx context.Context) error {
	ticker := time.NewTicker(b.cfg.ArbitrageScanInterval.Duration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			head := b.heads.Number()
			if head == 0 || !b.claimScan(head) {
				continue
			}
			b.metrics.Events.WithLabelValues("scan").Inc()
			b.detect(ctx, b.tickDetectors, strategies.Tick{Head: head, At: now})
		}
	}
}

// detect runs every detector on ev and publishes what they find. Detector
// errors are logged; partial results are still published.
func (b *Bot) detect(ctx context.Context, detectors []strategies.Detector, ev strategies.Event) {
	for _, d := range detectors {
		start := time.Now()
		opps, err := d.Detect(ctx, ev)
		b.metrics.DetectLatency.WithLabelValues(d.Name()).Observe(time.Since(start).Seconds())
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			b.metrics.DetectErrors.WithLabelValues(d.Name()).Inc()
			b.logger.Warn("Detector failed", zap.String("detector", d.Name()), zap.Error(err))
		}
		for _, opp := range opps {
			b.metrics.Candidates.WithLabelValues(opp.Kind().Name()).Inc()
			select {
			case b.candidates <- opp:
			case <-ctx.Done():
				return
			}
		}
	}
}

// submitLoop is the only writer of submissions. Each wake-up drains what is
// queued so the best of a burst goes first.
func (b *Bot) submitLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case opp := <-b.candidates:
			b.process(ctx, b.drain(opp))
		}
	}
}

func (b *Bot) drain(first *opportunity.Opportunity) []*opportunity.Opportunity {
	batch := []*opportunity.Opportunity{first}
	for {
		select {
		case opp := <-b.candidates:
			batch = append(batch, opp)
		default:
			b.metrics.QueueDepth.Set(float64(len(b.candidates)))
			return batch
		}
	}
}

func (b *Bot) process(ctx context.Context, batch []*opportunity.Opportunity) {
	head := b.heads.Number()
	for _, opp := range b.ranker.Rank(batch) {
		if ctx.Err() != nil {
			return
		}
		d, ticket := b.ranker.Claim(opp, head)
		if d != ranker.Admit {
			continue
		}
		h, err := b.executor.Submit(ctx, opp, ticket)
		if err != nil {
			if errors.Is(err, executor.ErrOpportunityVoid) || ctx.Err() != nil {
				continue
			}
			b.logger.Warn("Submission failed", append(ranker.KindFields(opp.Kind()), zap.Error(err))...)
			continue
		}
		b.outcomes.Add(1)
		go func() {
			defer b.outcomes.Done()
			b.executor.AwaitOutcome(ctx, h)
		}()
	}
}
