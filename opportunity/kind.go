package opportunity

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Kind is the closed set of opportunity variants. Consumers branch on it
// through Accept so that a new variant fails to compile until every Visitor
// handles it.
type Kind interface {
	Name() string
	DedupKey() string
	Accept(v Visitor)

	sealed()
}

// Visitor must handle every Kind variant.
type Visitor interface {
	VisitArbitrage(a Arbitrage)
	VisitLiquidation(l Liquidation)
	VisitSandwich(s Sandwich)
}

const (
	KindArbitrage   = "arbitrage"
	KindLiquidation = "liquidation"
	KindSandwich    = "sandwich"
)

// Arbitrage buys TokenOut with TokenIn on the first venue of the path and
// sells it back along the remaining venues.
type Arbitrage struct {
	TokenIn  common.Address
	TokenOut common.Address
	path     []string
}

func NewArbitrage(tokenIn, tokenOut common.Address, path []string) Arbitrage {
	return Arbitrage{
		TokenIn:  tokenIn,
		TokenOut: tokenOut,
		path:     append([]string(nil), path...),
	}
}

// Path returns the venue names in trade order.
func (a Arbitrage) Path() []string {
	return append([]string(nil), a.path...)
}

func (a Arbitrage) Name() string { return KindArbitrage }

func (a Arbitrage) DedupKey() string {
	return fmt.Sprintf("%s:%s:%s:%s",
		KindArbitrage,
		strings.ToLower(a.TokenIn.Hex()),
		strings.ToLower(a.TokenOut.Hex()),
		strings.Join(a.path, ">"),
	)
}

func (a Arbitrage) Accept(v Visitor) { v.VisitArbitrage(a) }
func (Arbitrage) sealed()            {}

// Liquidation repays part of Borrower's Debt on Protocol in exchange for
// discounted Collateral.
type Liquidation struct {
	Protocol   string
	Borrower   common.Address
	Collateral common.Address
	Debt       common.Address
}

func (l Liquidation) Name() string { return KindLiquidation }

func (l Liquidation) DedupKey() string {
	return fmt.Sprintf("%s:%s:%s", KindLiquidation, l.Protocol, strings.ToLower(l.Borrower.Hex()))
}

func (l Liquidation) Accept(v Visitor) { v.VisitLiquidation(l) }
func (Liquidation) sealed()            {}

// Sandwich brackets the pending TargetTx with a buy before and a sell after.
type Sandwich struct {
	TargetTx common.Hash
	Token    common.Address
	amount   *big.Int
}

func NewSandwich(target common.Hash, token common.Address, amount *big.Int) Sandwich {
	s := Sandwich{TargetTx: target, Token: token, amount: new(big.Int)}
	if amount != nil {
		s.amount.Set(amount)
	}
	return s
}

// Amount is the victim's input amount.
func (s Sandwich) Amount() *big.Int {
	if s.amount == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(s.amount)
}

func (s Sandwich) Name() string { return KindSandwich }

func (s Sandwich) DedupKey() string {
	return fmt.Sprintf("%s:%s", KindSandwich, s.TargetTx.Hex())
}

func (s Sandwich) Accept(v Visitor) { v.VisitSandwich(s) }
func (Sandwich) sealed()            {}
