package arbitrage

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/michaelpento.lv/mevsearcher/chain"
	"github.com/michaelpento.lv/mevsearcher/dex"
	"github.com/michaelpento.lv/mevsearcher/gas"
	"github.com/michaelpento.lv/mevsearcher/opportunity"
	"github.com/michaelpento.lv/mevsearcher/profit"
	"github.com/michaelpento.lv/mevsearcher/strategies"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Config struct {
	BaseToken common.Address
	Tokens    []common.Address
	// SafetyMargin is the fraction the spread must clear on top of fees
	// and gas.
	SafetyMargin   decimal.Decimal
	Account        common.Address
	DeadlineWindow time.Duration
}

// Detector compares base/token prices across every tradable venue at one
// block and emits two-leg round trips.
type Detector struct {
	registry  *dex.Registry
	view      chain.View
	estimator strategies.Estimator
	cfg       Config
	logger    *zap.Logger
	now       func() time.Time
}

var _ strategies.Detector = (*Detector)(nil)

func NewDetector(registry *dex.Registry, view chain.View, estimator strategies.Estimator, cfg Config, logger *zap.Logger) *Detector {
	if cfg.DeadlineWindow <= 0 {
		cfg.DeadlineWindow = time.Minute
	}
	return &Detector{
		registry:  registry,
		view:      view,
		estimator: estimator,
		cfg:       cfg,
		logger:    logger.Named("arbitrage"),
		now:       time.Now,
	}
}

func (d *Detector) Name() string { return opportunity.KindArbitrage }

// quote is one venue's base->token reserves at the snapshot block.
type quote struct {
	venue    dex.Venue
	adapter  dex.Adapter
	reserves *dex.Reserves
}

// Detect returns whatever it found together with any read failures joined
// into one error.
func (d *Detector) Detect(ctx context.Context, ev strategies.Event) ([]*opportunity.Opportunity, error) {
	if _, ok := ev.(strategies.PendingTx); ok {
		return nil, nil
	}
	block, ok := strategies.BlockOf(ev)
	if !ok {
		return nil, nil
	}
	at := new(big.Int).SetUint64(block)

	var (
		opps []*opportunity.Opportunity
		errs []error
	)
	for _, token := range d.cfg.Tokens {
		if token == d.cfg.BaseToken {
			continue
		}
		quotes, err := d.snapshot(ctx, token, at)
		if err != nil {
			errs = append(errs, err)
		}
		for _, buy := range quotes {
			for _, sell := range quotes {
				if buy.venue.Name == sell.venue.Name {
					continue
				}
				opp, err := d.evaluate(ctx, token, block, buy, sell)
				if err != nil {
					errs = append(errs, err)
					continue
				}
				if opp != nil {
					opps = append(opps, opp)
				}
			}
		}
	}
	return opps, errors.Join(errs...)
}

// snapshot reads every tradable venue's pool for token at block.
func (d *Detector) snapshot(ctx context.Context, token common.Address, block *big.Int) ([]quote, error) {
	var (
		quotes []quote
		errs   []error
	)
	for _, venue := range d.registry.Tradable() {
		adapter, err := d.registry.Adapter(venue)
		if err != nil {
			continue
		}
		r, err := adapter.Reserves(ctx, d.view, venue, d.cfg.BaseToken, token, block)
		if err != nil {
			if !errors.Is(err, dex.ErrNoLiquidity) {
				errs = append(errs, fmt.Errorf("%s %s: %w", venue.Name, token.Hex(), err))
			}
			continue
		}
		quotes = append(quotes, quote{venue: venue, adapter: adapter, reserves: r})
	}
	return quotes, errors.Join(errs...)
}

// Spread is the marginal round-trip gain of buying on buy and selling on
// sell, before fees: (buyOut/buyIn) * (sellIn/sellOut) - 1, where both
// reserves are oriented base->token.
func Spread(buy, sell *dex.Reserves) decimal.Decimal {
	num := new(big.Int).Mul(buy.Out, sell.In)
	den := new(big.Int).Mul(buy.In, sell.Out)
	if den.Sign() == 0 {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(num, 0).Div(decimal.NewFromBigInt(den, 0)).Sub(decimal.NewFromInt(1))
}

// FeeCost is the fraction lost to router fees over both legs.
func FeeCost(buy, sell dex.Venue) decimal.Decimal {
	scale := decimal.NewFromInt(10000)
	fa := scale.Sub(decimal.NewFromInt(int64(buy.FeeBps))).Div(scale)
	fb := scale.Sub(decimal.NewFromInt(int64(sell.FeeBps))).Div(scale)
	return decimal.NewFromInt(1).Sub(fa.Mul(fb))
}

func (d *Detector) evaluate(ctx context.Context, token common.Address, block uint64, buy, sell quote) (*opportunity.Opportunity, error) {
	spread := Spread(buy.reserves, sell.reserves)
	edge := spread.Sub(FeeCost(buy.venue, sell.venue))
	if !edge.GreaterThan(d.cfg.SafetyMargin) {
		return nil, nil
	}

	sellSide := &dex.Reserves{In: sell.reserves.Out, Out: sell.reserves.In, Block: sell.reserves.Block}
	res, err := d.estimator.Estimate(ctx, profit.ArbitrageCandidate{
		Buy:          buy.venue,
		BuyAdapter:   buy.adapter,
		BuyReserves:  buy.reserves,
		Sell:         sell.venue,
		SellAdapter:  sell.adapter,
		SellReserves: sellSide,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to estimate %s->%s: %w", buy.venue.Name, sell.venue.Name, err)
	}
	if !res.Profitable() || res.AmountIn.Sign() == 0 {
		return nil, nil
	}

	gasFraction := decimal.NewFromBigInt(res.GasCost(), 0).Div(decimal.NewFromBigInt(res.AmountIn, 0))
	if !edge.Sub(gasFraction).GreaterThan(d.cfg.SafetyMargin) {
		d.logger.Debug("Spread does not cover gas",
			zap.String("token", token.Hex()),
			zap.String("buy", buy.venue.Name),
			zap.String("sell", sell.venue.Name),
			zap.String("spread", spread.StringFixed(6)),
			zap.String("gas_fraction", gasFraction.StringFixed(6)),
		)
		return nil, nil
	}

	bundle, err := d.legs(token, buy, sell, res)
	if err != nil {
		return nil, err
	}
	kind := opportunity.NewArbitrage(d.cfg.BaseToken, token, []string{buy.venue.Name, sell.venue.Name})
	opp, err := opportunity.New(kind, res.Estimate, block, bundle)
	if err != nil {
		return nil, err
	}
	d.logger.Debug("Arbitrage candidate",
		zap.String("dedup_key", opp.DedupKey()),
		zap.String("spread", spread.StringFixed(6)),
		zap.String("amount_in", res.AmountIn.String()),
		zap.String("net", res.Net().String()),
	)
	return opp, nil
}

func (d *Detector) legs(token common.Address, buy, sell quote, res profit.Result) ([]opportunity.TxRequest, error) {
	deadline := strategies.Deadline(d.now(), d.cfg.DeadlineWindow)
	first, err := buy.adapter.EncodeSwap(dex.SwapRequest{
		AmountIn:     res.AmountIn,
		AmountOutMin: res.Intermediate,
		Path:         []common.Address{d.cfg.BaseToken, token},
		To:           d.cfg.Account,
		Deadline:     deadline,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode buy leg: %w", err)
	}
	second, err := sell.adapter.EncodeSwap(dex.SwapRequest{
		AmountIn:     res.Intermediate,
		AmountOutMin: res.AmountIn,
		Path:         []common.Address{token, d.cfg.BaseToken},
		To:           d.cfg.Account,
		Deadline:     deadline,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode sell leg: %w", err)
	}

	limit := gas.WithHeadroom(gas.SwapGas(1))
	return []opportunity.TxRequest{
		{To: buy.venue.Router, Data: first, Gas: limit},
		{To: sell.venue.Router, Data: second, Gas: limit},
	}, nil
}
