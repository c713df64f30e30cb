package flashloan

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// PremiumSource reports the fee a flash-loan provider charges, in basis
// points of the borrowed amount.
type PremiumSource interface {
	PremiumBps(ctx context.Context) (uint32, error)
	String() string
}

// Quote is what a flash loan costs and whom to borrow from.
type Quote struct {
	Provider   string
	Lender     common.Address
	PremiumBps uint32
}

// Quoter picks the lender for the next flash loan.
type Quoter interface {
	Quote(ctx context.Context) (Quote, error)
}

// Lender is implemented by providers that know their pool's address.
type Lender interface {
	Lender() common.Address
}

// Fee is the premium owed on amount.
func Fee(amount *big.Int, premiumBps uint32) *big.Int {
	if amount == nil || amount.Sign() <= 0 {
		return big.NewInt(0)
	}
	fee := new(big.Int).Mul(amount, big.NewInt(int64(premiumBps)))
	return fee.Div(fee, big.NewInt(10000))
}

// Fixed is a PremiumSource with a constant premium.
type Fixed uint32

func (f Fixed) PremiumBps(ctx context.Context) (uint32, error) { return uint32(f), nil }
func (f Fixed) String() string                                 { return "fixed" }

func (f Fixed) Quote(ctx context.Context) (Quote, error) {
	return Quote{Provider: f.String(), PremiumBps: uint32(f)}, nil
}
