// Package strategies defines the contract every opportunity detector
// implements and the events that drive them.
package strategies

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/michaelpento.lv/mevsearcher/opportunity"
	"github.com/michaelpento.lv/mevsearcher/profit"
)

// Event is what a monitoring loop hands a detector.
type Event interface {
	event()
}

// PendingTx is a transaction seen in the mempool.
type PendingTx struct {
	Tx *types.Transaction
}

// NewBlock is a freshly observed chain head.
type NewBlock struct {
	Header *types.Header
}

// Tick is a timer firing; Head is the latest known block.
type Tick struct {
	Head uint64
	At   time.Time
}

func (PendingTx) event() {}
func (NewBlock) event()  {}
func (Tick) event()      {}

// BlockOf returns the block an event pins state reads to.
func BlockOf(ev Event) (uint64, bool) {
	switch ev := ev.(type) {
	case NewBlock:
		if ev.Header == nil || ev.Header.Number == nil {
			return 0, false
		}
		return ev.Header.Number.Uint64(), true
	case Tick:
		return ev.Head, ev.Head > 0
	}
	return 0, false
}

// Detector turns an event into zero or more opportunities. Detectors keep
// no state shared with each other.
type Detector interface {
	Name() string
	Detect(ctx context.Context, ev Event) ([]*opportunity.Opportunity, error)
}

// Estimator prices a candidate.
type Estimator interface {
	Estimate(ctx context.Context, c profit.Candidate) (profit.Result, error)
}

// HeadSource reports the latest head the searcher has seen.
type HeadSource interface {
	Number() uint64
}

// Deadline is a router deadline window from now.
func Deadline(now time.Time, window time.Duration) *big.Int {
	return big.NewInt(now.Add(window).Unix())
}
