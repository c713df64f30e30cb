package executor

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/michaelpento.lv/mevsearcher/ledger"
	"github.com/michaelpento.lv/mevsearcher/opportunity"
)

// State is a submission's position in Built -> Submitted -> terminal.
type State int

const (
	StateBuilt State = iota
	StateSubmitted
	StateConfirmed
	StateReverted
	StateDropped
	StateTimedOut
)

func (s State) String() string {
	switch s {
	case StateBuilt:
		return "built"
	case StateSubmitted:
		return "submitted"
	case StateConfirmed:
		return "confirmed"
	case StateReverted:
		return "reverted"
	case StateDropped:
		return "dropped"
	case StateTimedOut:
		return "timed_out"
	}
	return "unknown"
}

func (s State) Terminal() bool {
	return s >= StateConfirmed
}

// Outcome is how a submission ended.
type Outcome int

const (
	Confirmed Outcome = iota + 1
	Reverted
	// Dropped means the node no longer knows the transaction when the wait
	// times out, or the bundle's target block passed without it.
	Dropped
	// TimedOut means the wait timed out while the transaction was still
	// pending.
	TimedOut
)

func (o Outcome) State() State {
	switch o {
	case Confirmed:
		return StateConfirmed
	case Reverted:
		return StateReverted
	case Dropped:
		return StateDropped
	}
	return StateTimedOut
}

func (o Outcome) String() string { return o.State().String() }

// Handle tracks one submitted opportunity.
type Handle struct {
	ID          uuid.UUID
	Opportunity *opportunity.Opportunity
	// TxHashes are our own transactions in bundle order.
	TxHashes []common.Hash
	Nonces   []uint64
	// BundleHash and TargetBlock are set when the bundle went through a
	// relay.
	BundleHash  common.Hash
	TargetBlock uint64
	SubmittedAt time.Time

	ticket ledger.Ticket

	mu      sync.Mutex
	state   State
	outcome Outcome
}

func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Outcome reports how h ended, once it has.
func (h *Handle) Outcome() (Outcome, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.outcome, h.state.Terminal()
}

func (h *Handle) setState(s State) {
	h.mu.Lock()
	h.state = s
	h.mu.Unlock()
}

// settle records o unless h already ended, in which case it returns the
// earlier outcome and false.
func (h *Handle) settle(o Outcome) (Outcome, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state.Terminal() {
		return h.outcome, false
	}
	h.state = o.State()
	h.outcome = o
	return o, true
}
