package profit

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/michaelpento.lv/mevsearcher/dex"
	"github.com/michaelpento.lv/mevsearcher/opportunity"
)

// Candidate is a detector's raw finding before sizing and pricing.
type Candidate interface {
	candidate()
}

// SandwichCandidate is a victim swap on a single pool. Reserves are oriented
// along the victim's trade.
type SandwichCandidate struct {
	Venue    dex.Venue
	Adapter  dex.Adapter
	Victim   *dex.Swap
	Reserves *dex.Reserves
}

// ArbitrageCandidate buys the token with the base asset on Buy and sells it
// back on Sell. BuyReserves are base->token, SellReserves token->base.
type ArbitrageCandidate struct {
	Buy          dex.Venue
	BuyAdapter   dex.Adapter
	BuyReserves  *dex.Reserves
	Sell         dex.Venue
	SellAdapter  dex.Adapter
	SellReserves *dex.Reserves
}

// LiquidationCandidate carries a position's totals in the pool's base
// currency. Call, when set, builds the liquidation transaction for a given
// debt to cover and flash-loan lender so it can be simulated.
type LiquidationCandidate struct {
	Collateral *big.Int
	Debt       *big.Int
	// FlashLoan borrows the debt to cover from the cheapest lender and pays
	// its premium. Without it the searcher repays from its own balance.
	FlashLoan bool
	Call      func(debtToCover *big.Int, lender common.Address) (opportunity.TxRequest, error)
}

func (SandwichCandidate) candidate()    {}
func (ArbitrageCandidate) candidate()   {}
func (LiquidationCandidate) candidate() {}

// Result is a priced candidate.
type Result struct {
	opportunity.Estimate

	// AmountIn is the front-run size, the arbitrage trade size or the debt
	// to cover.
	AmountIn *big.Int
	// Intermediate is the token amount bought by the first leg, or the
	// collateral seized.
	Intermediate *big.Int
	// AmountOut is what the closing leg returns in the base asset.
	AmountOut *big.Int
	// Lender is the flash-loan lender a liquidation borrows from, if any.
	Lender common.Address
}

// Profitable reports whether the net profit is positive.
func (r Result) Profitable() bool {
	return r.Net().Sign() > 0
}
