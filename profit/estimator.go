// Package profit sizes and prices candidates found by the detectors.
package profit

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/michaelpento.lv/mevsearcher/chain"
	"github.com/michaelpento.lv/mevsearcher/dex"
	"github.com/michaelpento.lv/mevsearcher/dex/uniswap"
	"github.com/michaelpento.lv/mevsearcher/flashloan"
	"github.com/michaelpento.lv/mevsearcher/gas"
	"github.com/michaelpento.lv/mevsearcher/opportunity"
	"go.uber.org/zap"
)

var (
	ErrSimulation       = errors.New("profit: simulation failed")
	ErrUnknownCandidate = errors.New("profit: unknown candidate")
)

// GasOracle supplies the current gas price in wei.
type GasOracle interface {
	GasPrice() (*big.Int, error)
}

type Config struct {
	// MaxFrontrun bounds the sandwich front leg.
	MaxFrontrun *big.Int
	// MaxTradeSize bounds an arbitrage round trip.
	MaxTradeSize *big.Int

	CloseFactorBps      uint32
	LiquidationBonusBps uint32

	// Simulate runs single-transaction bundles through EstimateGas from
	// From before pricing them.
	Simulate bool
	From     common.Address
}

type Estimator struct {
	gas      GasOracle
	premiums flashloan.Quoter
	view     chain.View
	cfg      Config
	logger   *zap.Logger
}

// NewEstimator builds an estimator. view may be nil when simulation is off.
func NewEstimator(gasOracle GasOracle, premiums flashloan.Quoter, view chain.View, cfg Config, logger *zap.Logger) *Estimator {
	if premiums == nil {
		premiums = flashloan.Fixed(0)
	}
	return &Estimator{
		gas:      gasOracle,
		premiums: premiums,
		view:     view,
		cfg:      cfg,
		logger:   logger.Named("profit"),
	}
}

// Estimate sizes c and prices it. Insufficient liquidity and failed
// simulations yield a zero profit, never a negative one.
func (e *Estimator) Estimate(ctx context.Context, c Candidate) (Result, error) {
	price, err := e.gas.GasPrice()
	if err != nil {
		return Result{}, fmt.Errorf("failed to get gas price: %w", err)
	}

	var res Result
	switch c := c.(type) {
	case SandwichCandidate:
		res, err = e.sandwich(c)
	case *SandwichCandidate:
		res, err = e.sandwich(*c)
	case ArbitrageCandidate:
		res, err = e.arbitrage(c)
	case *ArbitrageCandidate:
		res, err = e.arbitrage(*c)
	case LiquidationCandidate:
		res, err = e.liquidation(ctx, c)
	case *LiquidationCandidate:
		res, err = e.liquidation(ctx, *c)
	default:
		return Result{}, fmt.Errorf("%w: %T", ErrUnknownCandidate, c)
	}
	if err != nil {
		return Result{}, err
	}
	res.GasPrice = price
	return res, nil
}

func zeroResult(gasUnits uint64) Result {
	return Result{
		Estimate:     opportunity.Estimate{Profit: big.NewInt(0), Gas: gasUnits},
		AmountIn:     big.NewInt(0),
		Intermediate: big.NewInt(0),
		AmountOut:    big.NewInt(0),
	}
}

// sandwich finds the front-run size that maximises the round trip while the
// victim still clears its amountOutMin.
func (e *Estimator) sandwich(c SandwichCandidate) (Result, error) {
	gasUnits := uint64(2 * gas.SandwichLegGas)
	if c.Adapter == nil || c.Victim == nil || c.Reserves == nil {
		return Result{}, fmt.Errorf("incomplete sandwich candidate")
	}
	v := c.Victim
	if len(v.Path) != 2 || v.AmountIn == nil || v.AmountIn.Sign() <= 0 {
		return zeroResult(gasUnits), nil
	}
	bound := e.cfg.MaxFrontrun
	if bound == nil || bound.Sign() <= 0 {
		return zeroResult(gasUnits), nil
	}

	sim := func(x *big.Int) (front, victim, back *big.Int) {
		front = c.Adapter.AmountOut(c.Venue, x, c.Reserves)
		after := &dex.Reserves{
			In:  new(big.Int).Add(c.Reserves.In, x),
			Out: new(big.Int).Sub(c.Reserves.Out, front),
		}
		victim = c.Adapter.AmountOut(c.Venue, v.AmountIn, after)
		after.In.Add(after.In, v.AmountIn)
		after.Out.Sub(after.Out, victim)
		back = c.Adapter.AmountOut(c.Venue, front, &dex.Reserves{In: after.Out, Out: after.In})
		return front, victim, back
	}

	minOut := v.AmountOutMin
	if minOut == nil {
		minOut = big.NewInt(0)
	}
	feasible := largestFeasible(bound, func(x *big.Int) bool {
		_, victim, _ := sim(x)
		return victim.Cmp(minOut) >= 0
	})
	if feasible == nil || feasible.Sign() == 0 {
		return zeroResult(gasUnits), nil
	}

	x := maximize(big.NewInt(0), feasible, func(x *big.Int) *big.Int {
		_, _, back := sim(x)
		return new(big.Int).Sub(back, x)
	})
	front, _, back := sim(x)
	if x.Sign() == 0 || front.Sign() == 0 {
		return zeroResult(gasUnits), nil
	}
	return Result{
		Estimate:     opportunity.Estimate{Profit: clampSub(back, x), Gas: gasUnits},
		AmountIn:     x,
		Intermediate: front,
		AmountOut:    back,
	}, nil
}

// arbitrage sizes a two-venue round trip. Equal constant-product fees use
// the closed form; anything else searches the composed curve.
func (e *Estimator) arbitrage(c ArbitrageCandidate) (Result, error) {
	gasUnits := 2 * gas.SwapGas(1)
	if c.BuyAdapter == nil || c.SellAdapter == nil || c.BuyReserves == nil || c.SellReserves == nil {
		return Result{}, fmt.Errorf("incomplete arbitrage candidate")
	}
	bound := e.cfg.MaxTradeSize
	if bound == nil || bound.Sign() <= 0 {
		return zeroResult(gasUnits), nil
	}

	roundTrip := func(x *big.Int) (mid, out *big.Int) {
		mid = c.BuyAdapter.AmountOut(c.Buy, x, c.BuyReserves)
		out = c.SellAdapter.AmountOut(c.Sell, mid, c.SellReserves)
		return mid, out
	}

	var x *big.Int
	if c.Buy.Protocol == uniswap.Protocol && c.Sell.Protocol == uniswap.Protocol && c.Buy.FeeBps == c.Sell.FeeBps {
		x = uniswap.OptimalArbitrageInput(
			c.BuyReserves.In, c.BuyReserves.Out,
			c.SellReserves.In, c.SellReserves.Out,
			c.Buy.FeeBps,
		)
		x = minBig(x, bound)
	} else {
		x = maximize(big.NewInt(0), bound, func(x *big.Int) *big.Int {
			_, out := roundTrip(x)
			return out.Sub(out, x)
		})
	}
	if x.Sign() == 0 {
		return zeroResult(gasUnits), nil
	}

	mid, out := roundTrip(x)
	return Result{
		Estimate:     opportunity.Estimate{Profit: clampSub(out, x), Gas: gasUnits},
		AmountIn:     x,
		Intermediate: mid,
		AmountOut:    out,
	}, nil
}

// liquidation covers CloseFactor of the debt, capped so the seized
// collateral including the bonus does not exceed what the borrower has.
// Profit is the bonus, minus the premium on the covered debt when it is
// flash-loaned.
func (e *Estimator) liquidation(ctx context.Context, c LiquidationCandidate) (Result, error) {
	gasUnits := uint64(gas.LiquidationCallGas)
	if c.FlashLoan {
		gasUnits += gas.FlashLoanGas
	}
	if c.Collateral == nil || c.Debt == nil || c.Collateral.Sign() <= 0 || c.Debt.Sign() <= 0 {
		return zeroResult(gasUnits), nil
	}
	bonus := int64(e.cfg.LiquidationBonusBps)
	if bonus <= 10000 {
		return zeroResult(gasUnits), nil
	}

	debtToCover := new(big.Int).Mul(c.Debt, big.NewInt(int64(e.cfg.CloseFactorBps)))
	debtToCover.Div(debtToCover, feeScale)
	seized := new(big.Int).Mul(debtToCover, big.NewInt(bonus))
	seized.Div(seized, feeScale)
	if seized.Cmp(c.Collateral) > 0 {
		seized.Set(c.Collateral)
		debtToCover.Mul(c.Collateral, feeScale)
		debtToCover.Div(debtToCover, big.NewInt(bonus))
	}
	if debtToCover.Sign() == 0 {
		return zeroResult(gasUnits), nil
	}

	gross := new(big.Int).Sub(seized, debtToCover)
	var quote flashloan.Quote
	if c.FlashLoan {
		var err error
		quote, err = e.premiums.Quote(ctx)
		if err != nil {
			return Result{}, fmt.Errorf("failed to quote flash loan: %w", err)
		}
		gross = clampSub(gross, flashloan.Fee(debtToCover, quote.PremiumBps))
	}

	if c.Call != nil && e.cfg.Simulate {
		req, err := c.Call(debtToCover, quote.Lender)
		if err != nil {
			return Result{}, fmt.Errorf("failed to build liquidation call: %w", err)
		}
		sim := e.simulate(ctx, req)
		if !sim.Success {
			e.logger.Debug("Liquidation simulation failed", zap.Error(sim.Err))
			return zeroResult(gasUnits), nil
		}
		gasUnits = sim.GasUsed
	}

	return Result{
		Estimate:     opportunity.Estimate{Profit: gross, Gas: gasUnits},
		AmountIn:     debtToCover,
		Intermediate: seized,
		AmountOut:    new(big.Int).Set(seized),
		Lender:       quote.Lender,
	}, nil
}

var feeScale = big.NewInt(10000)
