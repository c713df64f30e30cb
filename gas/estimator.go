package gas

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
)

// Gas units per operation.
const (
	TxBaseGas = 21000
	// SwapHopGas covers storage reads, two token transfers and the swap.
	SwapHopGas = 152000
	// SandwichLegGas is one router swap sent from the searcher account.
	SandwichLegGas = 150000
	// LiquidationCallGas is a lending-pool liquidationCall including the
	// collateral transfer.
	LiquidationCallGas = TxBaseGas + 330000
	// FlashLoanGas is the lender's borrow and repay around a liquidation.
	FlashLoanGas = 120000
)

var ErrNoGasPrice = errors.New("gas: no block observed yet")

// SwapGas is the cost of one transaction routing through hops pools.
func SwapGas(hops int) uint64 {
	return TxBaseGas + SwapHopGas*uint64(hops)
}

// WithHeadroom pads an estimate into a transaction gas limit.
func WithHeadroom(units uint64) uint64 {
	return units + units*3/10
}

// TipSource suggests a priority fee.
type TipSource interface {
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
}

// Estimator tracks the base fee of the latest head and the node's
// suggested tip.
type Estimator struct {
	tips        TipSource
	maxGasPrice *big.Int
	logger      *zap.Logger

	mu      sync.RWMutex
	baseFee *big.Int
	tip     *big.Int
	block   uint64
}

// NewEstimator creates an oracle. defaultTip is used until the node answers.
func NewEstimator(tips TipSource, maxGasPrice, defaultTip *big.Int, logger *zap.Logger) *Estimator {
	e := &Estimator{
		tips:   tips,
		logger: logger.Named("gas"),
		tip:    big.NewInt(0),
	}
	if maxGasPrice != nil && maxGasPrice.Sign() > 0 {
		e.maxGasPrice = new(big.Int).Set(maxGasPrice)
	}
	if defaultTip != nil {
		e.tip = new(big.Int).Set(defaultTip)
	}
	return e
}

// Observe refreshes the oracle from a new head. The base fee is taken even
// when the tip query fails; the previous tip is kept in that case.
func (e *Estimator) Observe(ctx context.Context, header *types.Header) error {
	if header == nil || header.Number == nil {
		return fmt.Errorf("gas: nil header")
	}
	baseFee := big.NewInt(0)
	if header.BaseFee != nil {
		baseFee.Set(header.BaseFee)
	}

	e.mu.Lock()
	if header.Number.Uint64() >= e.block || e.baseFee == nil {
		e.baseFee = baseFee
		e.block = header.Number.Uint64()
	}
	e.mu.Unlock()

	tip, err := e.tips.SuggestGasTipCap(ctx)
	if err != nil {
		return fmt.Errorf("failed to get priority fee: %w", err)
	}
	e.mu.Lock()
	e.tip = new(big.Int).Set(tip)
	e.mu.Unlock()
	return nil
}

// GasPrice is base fee plus tip, capped at the configured maximum.
func (e *Estimator) GasPrice() (*big.Int, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.baseFee == nil {
		return nil, ErrNoGasPrice
	}
	return e.capped(new(big.Int).Add(e.baseFee, e.tip)), nil
}

// FeeCaps returns (tipCap, feeCap) for a dynamic-fee transaction. The fee
// cap leaves room for two base fee increases.
func (e *Estimator) FeeCaps() (*big.Int, *big.Int, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.baseFee == nil {
		return nil, nil, ErrNoGasPrice
	}
	feeCap := new(big.Int).Mul(e.baseFee, big.NewInt(2))
	feeCap = e.capped(feeCap.Add(feeCap, e.tip))
	tipCap := new(big.Int).Set(e.tip)
	if tipCap.Cmp(feeCap) > 0 {
		tipCap.Set(feeCap)
	}
	return tipCap, feeCap, nil
}

func (e *Estimator) capped(price *big.Int) *big.Int {
	if e.maxGasPrice != nil && price.Cmp(e.maxGasPrice) > 0 {
		return new(big.Int).Set(e.maxGasPrice)
	}
	return price
}
