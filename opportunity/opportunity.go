package opportunity

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrNoKind      = errors.New("opportunity: kind is required")
	ErrEmptyBundle = errors.New("opportunity: bundle is empty")
	ErrNoEstimate  = errors.New("opportunity: estimate is incomplete")
)

// Estimate is what the profit estimator hands back for a candidate. Profit is
// gross, before gas; Gas is in gas units and GasPrice is the wei/gas price the
// estimate was computed with.
type Estimate struct {
	Profit   *big.Int
	Gas      uint64
	GasPrice *big.Int
}

// GasCost returns Gas * GasPrice.
func (e Estimate) GasCost() *big.Int {
	if e.GasPrice == nil {
		return new(big.Int)
	}
	return new(big.Int).Mul(new(big.Int).SetUint64(e.Gas), e.GasPrice)
}

// Net returns Profit - GasCost, clamped at zero.
func (e Estimate) Net() *big.Int {
	return clampSub(e.Profit, e.GasCost())
}

// TxRequest is an unsigned transaction request. Nonce and fees are assigned
// by the executor.
type TxRequest struct {
	To    common.Address
	Data  []byte
	Value *big.Int
	Gas   uint64
}

func (r TxRequest) clone() TxRequest {
	out := TxRequest{
		To:   r.To,
		Data: append([]byte(nil), r.Data...),
		Gas:  r.Gas,
	}
	if r.Value != nil {
		out.Value = new(big.Int).Set(r.Value)
	}
	return out
}

// Opportunity is immutable once built. Every accessor hands back a copy.
type Opportunity struct {
	kind         Kind
	profit       *big.Int
	gas          uint64
	gasPrice     *big.Int
	triggerBlock uint64
	bundle       []TxRequest
	detectedAt   time.Time
}

// New builds an opportunity from a profit estimate. The bundle order is the
// submission order.
func New(kind Kind, est Estimate, triggerBlock uint64, bundle []TxRequest) (*Opportunity, error) {
	if kind == nil {
		return nil, ErrNoKind
	}
	if len(bundle) == 0 {
		return nil, ErrEmptyBundle
	}
	if est.Profit == nil || est.Profit.Sign() < 0 || est.GasPrice == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoEstimate, kind.DedupKey())
	}

	legs := make([]TxRequest, len(bundle))
	for i, r := range bundle {
		legs[i] = r.clone()
	}

	return &Opportunity{
		kind:         kind,
		profit:       new(big.Int).Set(est.Profit),
		gas:          est.Gas,
		gasPrice:     new(big.Int).Set(est.GasPrice),
		triggerBlock: triggerBlock,
		bundle:       legs,
		detectedAt:   time.Now(),
	}, nil
}

func (o *Opportunity) Kind() Kind       { return o.kind }
func (o *Opportunity) DedupKey() string { return o.kind.DedupKey() }

// ExpectedProfit is the gross profit in wei.
func (o *Opportunity) ExpectedProfit() *big.Int { return new(big.Int).Set(o.profit) }

// ExpectedGas is the total gas units across the bundle.
func (o *Opportunity) ExpectedGas() uint64 { return o.gas }

// GasPrice is the gas price the estimate was computed with.
func (o *Opportunity) GasPrice() *big.Int { return new(big.Int).Set(o.gasPrice) }

func (o *Opportunity) TriggerBlock() uint64  { return o.triggerBlock }
func (o *Opportunity) DetectedAt() time.Time { return o.detectedAt }

func (o *Opportunity) Bundle() []TxRequest {
	out := make([]TxRequest, len(o.bundle))
	for i, r := range o.bundle {
		out[i] = r.clone()
	}
	return out
}

// NetProfit recomputes the net profit at gasPrice. A nil gasPrice uses the
// price captured at estimation time.
func (o *Opportunity) NetProfit(gasPrice *big.Int) *big.Int {
	if gasPrice == nil {
		gasPrice = o.gasPrice
	}
	cost := new(big.Int).Mul(new(big.Int).SetUint64(o.gas), gasPrice)
	return clampSub(o.profit, cost)
}

// Stale reports whether head has moved past TriggerBlock + tolerance.
func (o *Opportunity) Stale(head, tolerance uint64) bool {
	return head > o.triggerBlock+tolerance
}

func clampSub(a, b *big.Int) *big.Int {
	if a == nil {
		return new(big.Int)
	}
	out := new(big.Int).Sub(a, b)
	if out.Sign() < 0 {
		return out.SetInt64(0)
	}
	return out
}
